package models

// DiscoveredEntity is raw discovery output. It is mapped into a Node and never stored in this shape.
type DiscoveredEntity struct {
	Name        string                 `json:"name" jsonschema:"required,description=Canonical entity name"`
	Type        string                 `json:"type" jsonschema:"required,description=Entity type such as Service or Concept"`
	Confidence  float64                `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
	Context     string                 `json:"context,omitempty" jsonschema:"description=Sentence the entity was found in"`
}

// DiscoveredRelationship links two discovered entities by name.
type DiscoveredRelationship struct {
	Source      string  `json:"source" jsonschema:"required"`
	Target      string  `json:"target" jsonschema:"required"`
	Type        string  `json:"type" jsonschema:"required"`
	Confidence  float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Description string  `json:"description,omitempty"`
}
