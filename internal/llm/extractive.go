package llm

import (
	"context"
	"regexp"
	"strings"

	"github.com/hyperjump/tanya/internal/embedding"
)

// NotFoundAnswer is returned when the context does not contain an answer.
const NotFoundAnswer = "Answer not found in uploaded documents."

// ContextMarker starts the context block of the final user message.
const ContextMarker = "Context:\n"

// QuestionMarker starts the question after the context block.
const QuestionMarker = "\n\nQuestion: "

var passageHeader = regexp.MustCompile(`^\[\d+\] .*\n`)

// ExtractiveGenerator answers offline by returning the context passage sharing the most
// words with the question. It reads the context block laid out by rag.BuildMessages.
type ExtractiveGenerator struct{}

// NewExtractiveGenerator returns an ExtractiveGenerator.
func NewExtractiveGenerator() *ExtractiveGenerator {
	return &ExtractiveGenerator{}
}

// Generate returns the best passage or NotFoundAnswer.
func (g *ExtractiveGenerator) Generate(ctx context.Context, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return NotFoundAnswer, nil
	}
	last := messages[len(messages)-1].Content
	ctxStart := strings.Index(last, ContextMarker)
	qStart := strings.LastIndex(last, QuestionMarker)
	if ctxStart < 0 || qStart < ctxStart {
		return NotFoundAnswer, nil
	}
	question := last[qStart+len(QuestionMarker):]
	passages := strings.Split(last[ctxStart+len(ContextMarker):qStart], "\n\n")

	qWords := make(map[string]bool)
	for _, w := range embedding.SplitWords(strings.ToLower(question)) {
		if len(w) > 2 {
			qWords[w] = true
		}
	}

	best, bestScore := "", 0
	for _, p := range passages {
		body := strings.TrimSpace(passageHeader.ReplaceAllString(p, ""))
		score := 0
		for _, w := range embedding.SplitWords(strings.ToLower(body)) {
			if qWords[w] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = body, score
		}
	}
	if bestScore == 0 {
		return NotFoundAnswer, nil
	}
	return best, nil
}

// Stream emits the Generate answer word by word.
func (g *ExtractiveGenerator) Stream(ctx context.Context, messages []Message, emit func(string) error) error {
	answer, err := g.Generate(ctx, messages)
	if err != nil {
		return err
	}
	return emitWords(ctx, answer, emit)
}

func emitWords(ctx context.Context, text string, emit func(string) error) error {
	for i, w := range strings.Fields(text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			w = " " + w
		}
		if err := emit(w); err != nil {
			return err
		}
	}
	return nil
}
