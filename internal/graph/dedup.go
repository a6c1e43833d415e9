package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hyperjump/tsunagu/internal/fileid"
	"github.com/hyperjump/tsunagu/internal/models"
)

// NormalizeName is the entity identity key: lowercased, trimmed, inner whitespace collapsed.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// EntityNodeID is the node id every entity with the given name resolves to.
func EntityNodeID(name string) string {
	return fileid.NameID(NormalizeName(name))
}

// MergeNodes combines two records of the same entity. Every field is merged with an
// order-independent rule, so the result is the same for any merge order:
// lowest id, lexicographically first label, best entity type, max confidence, union of sources,
// earliest creation, latest update, and per-key max for metadata.
func MergeNodes(a, b models.Node) models.Node {
	out := a.Clone()
	if b.ID < out.ID {
		out.ID = b.ID
	}
	if b.Label != "" && (out.Label == "" || b.Label < out.Label) {
		out.Label = b.Label
	}
	if out.Type == "" || (b.Type != "" && b.Type < out.Type) {
		out.Type = b.Type
	}
	out.EntityType = betterEntityType(a.EntityType, b.EntityType)
	if b.Confidence > out.Confidence {
		out.Confidence = b.Confidence
	}
	out.Sources = unionSorted(a.Sources, b.Sources)
	if !b.CreatedAt.IsZero() && (out.CreatedAt.IsZero() || b.CreatedAt.Before(out.CreatedAt)) {
		out.CreatedAt = b.CreatedAt
	}
	if b.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = b.UpdatedAt
	}
	out.Selected = a.Selected || b.Selected
	out.Highlighted = a.Highlighted || b.Highlighted
	out.Deleted = a.Deleted && b.Deleted
	out.Metadata = mergeMetadata(a.Metadata, b.Metadata)
	return out
}

// betterEntityType prefers known kinds over free-form ones, then the smaller name.
func betterEntityType(a, b models.EntityType) models.EntityType {
	rank := func(t models.EntityType) int {
		switch {
		case t.IsZero():
			return 2
		case t.IsOther():
			return 1
		}
		return 0
	}
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return a
		}
		return b
	}
	if b.String() < a.String() {
		return b
	}
	return a
}

func unionSorted(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func mergeMetadata(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		prev, ok := out[k]
		if !ok || fmt.Sprint(v) > fmt.Sprint(prev) {
			out[k] = v
		}
	}
	return out
}

// MergeEntity resolves candidate against the entity with the same normalized name and upserts
// the merged record. A deleted match is replaced rather than merged. Non-entity nodes are
// upserted unchanged.
func (s *Store) MergeEntity(ctx context.Context, candidate models.Node) (models.Node, error) {
	if candidate.Type != models.NodeTypeEntity {
		return s.UpsertNode(ctx, candidate)
	}
	key := NormalizeName(candidate.Label)
	if key == "" {
		return models.Node{}, models.NewValidationError("label", "entity name cannot be empty")
	}
	candidate = candidate.Clone()
	candidate.SetConfidence(candidate.Confidence)
	if candidate.ID == "" {
		candidate.ID = fileid.NameID(key)
	}
	if candidate.Metadata == nil {
		candidate.Metadata = map[string]interface{}{}
	}

	s.mu.Lock()
	merged := candidate
	if id, ok := s.byName[key]; ok {
		if existing := s.nodes[id]; existing != nil && !existing.Deleted {
			merged = MergeNodes(*existing, candidate)
			merged.ID = existing.ID
		} else if existing != nil {
			merged.ID = existing.ID
		}
	}
	stored := s.upsertNodeLocked(merged)
	s.mu.Unlock()
	return stored, s.persistNode(ctx, stored)
}

// FindEntity looks up an active entity by name.
func (s *Store) FindEntity(name string) (models.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[NormalizeName(name)]
	if !ok {
		return models.Node{}, false
	}
	n, ok := s.nodes[id]
	if !ok || n.Deleted {
		return models.Node{}, false
	}
	return n.Clone(), true
}
