package extract

import (
	"fmt"
	"regexp"
	"strings"
)

const odfContentPath = "content.xml"

var (
	odfTextP    = regexp.MustCompile(`<text:p[^>]*>([^<]*)</text:p>`)
	odfTextSpan = regexp.MustCompile(`<text:span[^>]*>([^<]*)</text:span>`)
	odfTextH    = regexp.MustCompile(`<text:h[^>]*>([^<]*)</text:h>`)
)

func extractODP(content []byte) (string, error) {
	return extractODF(content, "ODP", odfTextP, odfTextSpan, odfTextH)
}

func extractODS(content []byte) (string, error) {
	return extractODF(content, "ODS", odfTextP, odfTextSpan)
}

// extractODF joins the text of the given element patterns in content.xml, pattern by pattern.
func extractODF(content []byte, format string, patterns ...*regexp.Regexp) (string, error) {
	zr, err := openZip(content, format)
	if err != nil {
		return "", err
	}
	data, err := readZipEntry(zr, odfContentPath)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", format, err)
	}
	if data == nil {
		return "", fmt.Errorf("extract %s: %s not found", format, odfContentPath)
	}
	s := string(data)
	var b strings.Builder
	for _, re := range patterns {
		joinMatches(&b, re.FindAllStringSubmatch(s, -1))
	}
	return b.String(), nil
}
