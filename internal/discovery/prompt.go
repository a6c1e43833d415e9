package discovery

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/hyperjump/tsunagu/internal/models"
)

// response is the shape the provider is asked to return.
type response struct {
	Entities      []models.DiscoveredEntity       `json:"entities" jsonschema:"required"`
	Relationships []models.DiscoveredRelationship `json:"relationships,omitempty"`
	Summary       string                          `json:"summary,omitempty" jsonschema:"description=One sentence describing the content"`
}

var responseSchema = func() string {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	data, err := json.MarshalIndent(reflector.Reflect(&response{}), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}()

const promptTemplate = `You extract a knowledge graph from software project content.

Identify the named entities in the content below (services, components, modules, technologies,
concepts, people, organizations, rules, tasks) and the relationships between them.
%s
For every entity give a confidence between 0 and 1. Only report relationships between entities
you listed, referring to them by name.

Respond with a single JSON object matching this schema and nothing else:
%s

Content:
"""
%s
"""
`

// buildPrompt embeds content into the fixed extraction prompt.
func buildPrompt(content string, opts Options) string {
	var hints strings.Builder
	if !opts.AllowNewTypes {
		hints.WriteString("Use only these entity types: ")
		hints.WriteString(strings.Join(knownTypeNames, ", "))
		hints.WriteString(".\n")
	}
	if opts.MaxEntities > 0 {
		fmt.Fprintf(&hints, "Report at most %d entities.\n", opts.MaxEntities)
	}
	if !opts.IncludeRelationships {
		hints.WriteString("Leave the relationships list empty.\n")
	}
	return fmt.Sprintf(promptTemplate, hints.String(), responseSchema, content)
}

var knownTypeNames = []string{
	"function", "method", "class", "interface", "type", "component", "module",
	"service", "concept", "person", "organization", "technology", "rule", "task",
}
