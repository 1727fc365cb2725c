package pipeline

import (
	"context"
	"strings"
)

// StaticKnowledge resolves knowledge sources from a fixed name-to-text map,
// for deployments whose knowledge is supplied in configuration. Unknown
// sources are skipped.
type StaticKnowledge map[string]string

func (k StaticKnowledge) Resolve(_ context.Context, sources []string) string {
	var parts []string
	for _, s := range sources {
		if text, ok := k[s]; ok && strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}
