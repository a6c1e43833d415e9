// Package discovery asks a text-completion provider for free-form entities and relationships
// and filters what comes back. It never returns an error: failures become an empty result
// whose summary starts with "error:".
package discovery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/tsunagu/internal/graph"
	"github.com/hyperjump/tsunagu/internal/llm"
	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/pkg/utils"
)

const defaultMaxContentChars = 12000

// Options control filtering of a single discovery call.
type Options struct {
	ConfidenceThreshold  float64 `json:"confidence_threshold"`
	MaxEntities          int     `json:"max_entities"`
	IncludeRelationships bool    `json:"include_relationships"`
	AllowNewTypes        bool    `json:"allow_new_types"`
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{ConfidenceThreshold: 0.5, MaxEntities: 50, IncludeRelationships: true, AllowNewTypes: true}
}

// Result is the filtered discovery output.
type Result struct {
	Entities      []models.DiscoveredEntity       `json:"entities"`
	Relationships []models.DiscoveredRelationship `json:"relationships"`
	Summary       string                          `json:"summary"`
	Error         bool                            `json:"error"`
}

// Discoverer is what the ingestion processor depends on.
type Discoverer interface {
	Discover(ctx context.Context, content string, opts Options) Result
}

// Service implements Discoverer on top of an llm.Provider.
type Service struct {
	provider        llm.Provider
	maxContentChars int
	logger          *zap.Logger // optional
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a logger for provider and parse failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMaxContentChars truncates content embedded in the prompt.
func WithMaxContentChars(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxContentChars = n
		}
	}
}

// NewService creates a discovery service. provider may be nil.
func NewService(provider llm.Provider, opts ...Option) *Service {
	s := &Service{provider: provider, maxContentChars: defaultMaxContentChars}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Discover calls the provider once and filters its answer.
func (s *Service) Discover(ctx context.Context, content string, opts Options) Result {
	if s.provider == nil {
		return failed("no provider configured")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Result{Entities: []models.DiscoveredEntity{}, Relationships: []models.DiscoveredRelationship{}, Summary: "no content"}
	}

	raw, err := s.provider.Generate(ctx, buildPrompt(utils.Truncate(content, s.maxContentChars), opts))
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return failed("cancelled")
		}
		s.warn("provider call failed", err)
		return failed(fmt.Sprintf("provider failed: %v", err))
	}

	parsed, err := parseResponse(raw)
	if err != nil {
		s.warn("unparseable discovery response", err)
		return failed(fmt.Sprintf("unparseable response: %v", err))
	}

	entities := filterEntities(parsed.Entities, opts)
	var rels []models.DiscoveredRelationship
	if opts.IncludeRelationships {
		rels = filterRelationships(parsed.Relationships, entities, opts.ConfidenceThreshold)
	}
	if rels == nil {
		rels = []models.DiscoveredRelationship{}
	}

	summary := strings.TrimSpace(parsed.Summary)
	if summary == "" {
		summary = fmt.Sprintf("discovered %d entities and %d relationships", len(entities), len(rels))
	}
	return Result{Entities: entities, Relationships: rels, Summary: summary}
}

func (s *Service) warn(msg string, err error) {
	if s.logger != nil {
		s.logger.Warn(msg, zap.Error(err))
	}
}

func failed(reason string) Result {
	return Result{
		Entities:      []models.DiscoveredEntity{},
		Relationships: []models.DiscoveredRelationship{},
		Summary:       "error: " + reason,
		Error:         true,
	}
}

// filterEntities drops empty names, low confidence, and (optionally) unknown types, merges
// duplicates by normalized name, and keeps the MaxEntities most confident.
func filterEntities(in []models.DiscoveredEntity, opts Options) []models.DiscoveredEntity {
	byName := make(map[string]int)
	out := make([]models.DiscoveredEntity, 0, len(in))
	for _, e := range in {
		e.Name = strings.TrimSpace(e.Name)
		key := graph.NormalizeName(e.Name)
		if key == "" {
			continue
		}
		e.Confidence = utils.Clamp01(e.Confidence)
		if e.Confidence < opts.ConfidenceThreshold {
			continue
		}
		e.Type = strings.TrimSpace(e.Type)
		if e.Type == "" {
			e.Type = "concept"
		}
		if !opts.AllowNewTypes && models.ParseEntityType(e.Type).IsOther() {
			continue
		}
		if i, dup := byName[key]; dup {
			if e.Confidence > out[i].Confidence {
				out[i] = e
			}
			continue
		}
		byName[key] = len(out)
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if opts.MaxEntities > 0 && len(out) > opts.MaxEntities {
		out = out[:opts.MaxEntities]
	}
	return out
}

// filterRelationships keeps relationships whose endpoints both survived entity filtering.
func filterRelationships(in []models.DiscoveredRelationship, kept []models.DiscoveredEntity, threshold float64) []models.DiscoveredRelationship {
	names := make(map[string]float64, len(kept))
	for _, e := range kept {
		names[graph.NormalizeName(e.Name)] = e.Confidence
	}
	out := make([]models.DiscoveredRelationship, 0, len(in))
	for _, r := range in {
		src, tgt := graph.NormalizeName(r.Source), graph.NormalizeName(r.Target)
		if src == "" || tgt == "" || src == tgt {
			continue
		}
		srcConf, ok := names[src]
		if !ok {
			continue
		}
		tgtConf, ok := names[tgt]
		if !ok {
			continue
		}
		// an omitted confidence inherits the weaker endpoint's
		if r.Confidence == 0 {
			r.Confidence = math.Min(srcConf, tgtConf)
		}
		r.Confidence = utils.Clamp01(r.Confidence)
		if r.Confidence < threshold {
			continue
		}
		r.Type = strings.TrimSpace(r.Type)
		if r.Type == "" {
			r.Type = string(models.EdgeRelatedTo)
		}
		out = append(out, r)
	}
	return out
}
