package rag

import (
	"fmt"
	"strings"

	"github.com/hyperjump/tanya/internal/llm"
	"github.com/hyperjump/tanya/internal/models"
)

const systemPrompt = `You answer questions using only the numbered context passages from the user's documents.
If the passages do not contain the answer, reply exactly: "` + llm.NotFoundAnswer + `"
Do not use outside knowledge. Keep answers short and cite passages by number when helpful.`

const noContext = "(no passages)"

// BuildMessages lays out the prompt: system rules, prior turns oldest first, then one
// user message holding the numbered context block and the question.
func BuildMessages(history []*models.Turn, retrieved []Retrieved, question string) []llm.Message {
	msgs := make([]llm.Message, 0, 2+2*len(history))
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	for _, t := range history {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: t.Question},
			llm.Message{Role: llm.RoleAssistant, Content: t.Answer},
		)
	}

	var b strings.Builder
	b.WriteString(llm.ContextMarker)
	if len(retrieved) == 0 {
		b.WriteString(noContext)
	}
	for i, r := range retrieved {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s (page %d)\n%s", i+1, r.Chunk.Filename, r.Chunk.PageNumber, r.Chunk.Content)
	}
	b.WriteString(llm.QuestionMarker)
	b.WriteString(question)

	return append(msgs, llm.Message{Role: llm.RoleUser, Content: b.String()})
}
