package rag

import (
	"fmt"
	"strings"

	"github.com/docmind/docmind/internal/models"
)

// BuildPrompt renders the user prompt for question over contexts.
// labels[i] names the source of contexts[i]; a missing label renders as "unknown".
func BuildPrompt(question string, contexts, labels []string, mode Mode) string {
	var block strings.Builder
	for i, text := range contexts {
		label := models.UnknownSource
		if i < len(labels) && labels[i] != "" {
			label = labels[i]
		}
		fmt.Fprintf(&block, models.ContextBlockTemplate, label, text)
	}

	tmpl := models.SinglePromptTemplate
	if mode == ModeCompare {
		tmpl = models.ComparePromptTemplate
	}
	return fmt.Sprintf(tmpl, block.String(), question)
}
