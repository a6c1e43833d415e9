package models

import (
	"encoding/json"
	"strings"
)

// EntityKind enumerates the well-known entity types. EntityOther carries a free-form name.
type EntityKind int

const (
	EntityNone EntityKind = iota
	EntityFunction
	EntityMethod
	EntityClass
	EntityInterface
	EntityTypeDecl
	EntityComponent
	EntityModule
	EntityImport
	EntityService
	EntityConcept
	EntityPerson
	EntityOrganization
	EntityTechnology
	EntityRule
	EntityTask
	EntityOther
)

var entityKindNames = map[EntityKind]string{
	EntityFunction:     "function",
	EntityMethod:       "method",
	EntityClass:        "class",
	EntityInterface:    "interface",
	EntityTypeDecl:     "type",
	EntityComponent:    "component",
	EntityModule:       "module",
	EntityImport:       "import",
	EntityService:      "service",
	EntityConcept:      "concept",
	EntityPerson:       "person",
	EntityOrganization: "organization",
	EntityTechnology:   "technology",
	EntityRule:         "rule",
	EntityTask:         "task",
}

var entityKindByName = func() map[string]EntityKind {
	m := make(map[string]EntityKind, len(entityKindNames))
	for k, v := range entityKindNames {
		m[v] = k
	}
	return m
}()

// EntityType is a tagged union: one of the well-known kinds, or Other with the name the
// discovery provider invented. The zero value means "no entity type".
type EntityType struct {
	kind  EntityKind
	other string
}

// KnownEntityType returns the EntityType for a well-known kind.
func KnownEntityType(k EntityKind) EntityType {
	if k == EntityOther {
		return EntityType{}
	}
	return EntityType{kind: k}
}

// OtherEntityType returns the fallback variant for a type name outside the well-known set.
func OtherEntityType(name string) EntityType {
	name = strings.TrimSpace(name)
	if name == "" {
		return EntityType{}
	}
	return EntityType{kind: EntityOther, other: name}
}

// ParseEntityType maps s (case-insensitive) to a well-known kind, or to Other.
func ParseEntityType(s string) EntityType {
	norm := strings.ToLower(strings.TrimSpace(s))
	if norm == "" {
		return EntityType{}
	}
	if k, ok := entityKindByName[norm]; ok {
		return EntityType{kind: k}
	}
	return OtherEntityType(s)
}

// Kind returns the variant tag.
func (t EntityType) Kind() EntityKind { return t.kind }

// IsZero reports whether no type is set.
func (t EntityType) IsZero() bool { return t.kind == EntityNone }

// IsOther reports whether t is the fallback variant.
func (t EntityType) IsOther() bool { return t.kind == EntityOther }

// OtherName returns the free-form name of an Other variant, or "".
func (t EntityType) OtherName() string { return t.other }

// String returns the canonical name.
func (t EntityType) String() string {
	switch t.kind {
	case EntityNone:
		return ""
	case EntityOther:
		return t.other
	default:
		return entityKindNames[t.kind]
	}
}

// MarshalJSON encodes the type as its string form.
func (t EntityType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a string into the matching variant.
func (t *EntityType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = ParseEntityType(s)
	return nil
}
