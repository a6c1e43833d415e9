// Package extraction turns source files into declaration, import, call, and component entities
// using tree-sitter grammars. Results are deterministic and content-addressed.
package extraction

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	sitter "github.com/smacker/go-tree-sitter"
	"go.uber.org/zap"

	"github.com/hyperjump/tsunagu/internal/fileid"
	"github.com/hyperjump/tsunagu/internal/models"
)

const (
	defaultCacheSize      = 512
	defaultMaxSourceBytes = 2 << 20
)

// Kind is the syntactic category of an extracted entity.
type Kind string

const (
	KindFunction  Kind = "function"
	KindMethod    Kind = "method"
	KindClass     Kind = "class"
	KindInterface Kind = "interface"
	KindType      Kind = "type"
	KindComponent Kind = "component"
	KindImport    Kind = "import"
	KindCall      Kind = "call"
)

// EntityType maps the syntactic kind onto the graph's entity taxonomy.
func (k Kind) EntityType() models.EntityType {
	switch k {
	case KindFunction:
		return models.KnownEntityType(models.EntityFunction)
	case KindMethod:
		return models.KnownEntityType(models.EntityMethod)
	case KindClass:
		return models.KnownEntityType(models.EntityClass)
	case KindInterface:
		return models.KnownEntityType(models.EntityInterface)
	case KindType:
		return models.KnownEntityType(models.EntityTypeDecl)
	case KindComponent:
		return models.KnownEntityType(models.EntityComponent)
	case KindImport:
		return models.KnownEntityType(models.EntityModule)
	case KindCall:
		return models.KnownEntityType(models.EntityFunction)
	}
	return models.OtherEntityType(string(k))
}

// ImportInfo describes an import statement.
type ImportInfo struct {
	Module     string   `json:"module"`
	External   bool     `json:"external"`
	Specifiers []string `json:"specifiers,omitempty"`
}

// Relation seeds an edge from the entity to a named symbol or module.
type Relation struct {
	Type   models.EdgeType `json:"type"`
	Target string          `json:"target"`
}

// Entity is a direct syntactic detection.
type Entity struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Kind          Kind        `json:"kind"`
	Exported      bool        `json:"exported"`
	Params        []string    `json:"params,omitempty"`
	Returns       string      `json:"returns,omitempty"`
	Container     string      `json:"container,omitempty"`
	Line          int         `json:"line"`
	EndLine       int         `json:"end_line"`
	Confidence    float64     `json:"confidence"`
	Import        *ImportInfo `json:"import,omitempty"`
	Relationships []Relation  `json:"relationships,omitempty"`
}

// Relationship is a flattened Relation. An empty Source means the file itself.
type Relationship struct {
	Source string          `json:"source"`
	Target string          `json:"target"`
	Type   models.EdgeType `json:"type"`
	Line   int             `json:"line"`
}

// Result is the output for one file. Diagnostics explain an empty or partial result.
type Result struct {
	Path          string         `json:"path"`
	Language      Language       `json:"language"`
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
	Diagnostics   []string       `json:"diagnostics,omitempty"`
}

// Engine parses files and caches results by content hash.
type Engine struct {
	cache          *lru.Cache[string, *Result]
	maxSourceBytes int
	modulePrefixes []string
	logger         *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger for parse diagnostics.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithCacheSize sets the result cache capacity. Zero disables caching.
func WithCacheSize(n int) EngineOption {
	return func(e *Engine) {
		if n <= 0 {
			e.cache = nil
			return
		}
		e.cache, _ = lru.New[string, *Result](n)
	}
}

// WithMaxSourceBytes skips files larger than n bytes.
func WithMaxSourceBytes(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxSourceBytes = n
		}
	}
}

// WithModulePrefixes marks imports starting with any prefix as internal (e.g. the Go module path).
func WithModulePrefixes(prefixes ...string) EngineOption {
	return func(e *Engine) { e.modulePrefixes = append(e.modulePrefixes, prefixes...) }
}

// NewEngine creates an extraction engine.
func NewEngine(opts ...EngineOption) *Engine {
	cache, _ := lru.New[string, *Result](defaultCacheSize)
	e := &Engine{cache: cache, maxSourceBytes: defaultMaxSourceBytes}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract parses source and returns its entities. It never fails: unsupported languages,
// oversized input, cancellation, and syntax errors all yield an empty result with a diagnostic.
func (e *Engine) Extract(ctx context.Context, path string, source []byte) *Result {
	lang := LanguageFromPath(path)
	res := &Result{Path: path, Language: lang, Entities: []Entity{}, Relationships: []Relationship{}}
	if lang == LangUnknown {
		res.Diagnostics = append(res.Diagnostics, "unsupported language")
		return res
	}
	if len(source) > e.maxSourceBytes {
		res.Diagnostics = append(res.Diagnostics, fmt.Sprintf("file too large: %d bytes", len(source)))
		return res
	}

	key := fileid.ContentHash(append([]byte(path+"\x00"), source...))
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			return cached.clone()
		}
	}

	parsed, err := e.parse(ctx, lang, path, source)
	if err != nil {
		res.Diagnostics = append(res.Diagnostics, err.Error())
		if e.logger != nil {
			e.logger.Debug("extraction failed", zap.String("path", path), zap.Error(err))
		}
		return res
	}
	if e.cache != nil {
		e.cache.Add(key, parsed.clone())
	}
	return parsed
}

func (e *Engine) parse(ctx context.Context, lang Language, path string, source []byte) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("parser panic: %v", r)
		}
	}()

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang.grammar())

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("parse error: empty tree")
	}
	if root.HasError() {
		return nil, fmt.Errorf("parse error: syntax errors in %s source", lang)
	}

	w := &walker{
		path:           path,
		lang:           lang,
		source:         source,
		seen:           make(map[string]struct{}),
		modulePrefixes: e.modulePrefixes,
	}
	w.walk(root, "")
	return &Result{
		Path:          path,
		Language:      lang,
		Entities:      w.entities,
		Relationships: w.flatten(),
	}, nil
}

func (r *Result) clone() *Result {
	out := *r
	out.Entities = make([]Entity, len(r.Entities))
	for i, ent := range r.Entities {
		ent.Params = append([]string(nil), ent.Params...)
		ent.Relationships = append([]Relation(nil), ent.Relationships...)
		if ent.Import != nil {
			imp := *ent.Import
			imp.Specifiers = append([]string(nil), imp.Specifiers...)
			ent.Import = &imp
		}
		out.Entities[i] = ent
	}
	out.Relationships = append([]Relationship{}, r.Relationships...)
	out.Diagnostics = append([]string(nil), r.Diagnostics...)
	return &out
}
