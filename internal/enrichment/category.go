package enrichment

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/tsunagu/internal/extraction"
	"github.com/hyperjump/tsunagu/internal/graph"
	"github.com/hyperjump/tsunagu/internal/models"
)

// Category is the semantic role inferred for an entity.
type Category string

const (
	CategoryComponent  Category = "component"
	CategoryService    Category = "service"
	CategoryUtility    Category = "utility"
	CategoryModel      Category = "model"
	CategoryTest       Category = "test"
	CategoryHook       Category = "hook"
	CategoryController Category = "controller"
	CategoryConfig     Category = "config"
	CategoryUnknown    Category = "unknown"
)

var (
	hookPattern    = regexp.MustCompile(`^use[A-Z0-9]`)
	testPattern    = regexp.MustCompile(`^(Test|Benchmark|Fuzz|Example)[A-Z_]|^test_|^(describe|it)$`)
	utilityVerbs   = []string{"format", "parse", "to", "is", "has", "convert", "normalize", "sanitize", "validate", "compute", "build", "make", "clamp", "escape", "split", "join", "merge"}
	splitCamelCase = regexp.MustCompile(`([a-z0-9])([A-Z])`)
)

// words splits an identifier into lowercase words: "AuthServiceClient" -> auth service client.
func words(name string) []string {
	name = splitCamelCase.ReplaceAllString(name, "$1 $2")
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hasWord(ws []string, candidates ...string) bool {
	for _, w := range ws {
		for _, c := range candidates {
			if w == c {
				return true
			}
		}
	}
	return false
}

func isTestFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	return strings.HasSuffix(base, "_test.go") ||
		strings.Contains(base, ".test.") ||
		strings.Contains(base, ".spec.") ||
		strings.HasPrefix(base, "test_") ||
		strings.HasSuffix(base, "_test.py")
}

func isUtilityPath(path string) bool {
	p := strings.ToLower(filepath.ToSlash(path))
	for _, seg := range []string{"util", "helper", "/lib/", "common"} {
		if strings.Contains(p, seg) {
			return true
		}
	}
	return false
}

// countCallers counts, per normalized callee name, the distinct entities that call it.
func countCallers(entities []EnrichedEntity) map[string]int {
	callers := make(map[string]map[string]struct{})
	note := func(callee, caller string) {
		ck := graph.NormalizeName(callee)
		if ck == "" || caller == "" || graph.NormalizeName(caller) == ck {
			return
		}
		if callers[ck] == nil {
			callers[ck] = make(map[string]struct{})
		}
		callers[ck][graph.NormalizeName(caller)] = struct{}{}
	}
	for _, e := range entities {
		if e.Kind == string(extraction.KindCall) {
			note(e.Name, e.Container)
		}
		for _, r := range e.Relations {
			if r.Type == models.EdgeCalls {
				note(r.Target, e.Name)
			}
		}
	}
	out := make(map[string]int, len(callers))
	for k, v := range callers {
		out[k] = len(v)
	}
	return out
}

func makesCalls(e EnrichedEntity) bool {
	for _, r := range e.Relations {
		if r.Type == models.EdgeCalls {
			return true
		}
	}
	return false
}

// inferCategory applies naming heuristics, then the entity type, then the call pattern:
// a function called from two or more places that calls nothing itself is a utility.
func inferCategory(e EnrichedEntity, filePath string, callerCount int) Category {
	ws := words(e.Name)
	kind := e.Type.Kind()
	callable := kind == models.EntityFunction || kind == models.EntityMethod
	r, _ := utf8.DecodeRuneInString(e.Name)
	capitalized := unicode.IsUpper(r)

	switch {
	case testPattern.MatchString(e.Name) || (callable && isTestFile(filePath)):
		return CategoryTest
	case hookPattern.MatchString(e.Name):
		return CategoryHook
	case kind == models.EntityComponent,
		hasWord(ws, "component", "view", "page", "screen", "widget"),
		callable && capitalized && isJSXPath(filePath):
		return CategoryComponent
	case hasWord(ws, "controller", "handler", "router", "route", "endpoint", "resolver"):
		return CategoryController
	case kind == models.EntityService,
		hasWord(ws, "service", "client", "repository", "repo", "provider", "manager", "store", "gateway"):
		return CategoryService
	case hasWord(ws, "config", "configuration", "settings", "options", "opts", "env"):
		return CategoryConfig
	case kind == models.EntityClass || kind == models.EntityInterface || kind == models.EntityTypeDecl,
		hasWord(ws, "model", "entity", "record", "dto", "schema", "props"):
		return CategoryModel
	case callable && len(ws) > 0 && hasWord(ws[:1], utilityVerbs...),
		callable && isUtilityPath(filePath),
		callable && callerCount >= 2 && !makesCalls(e):
		return CategoryUtility
	}
	return CategoryUnknown
}

func isJSXPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsx", ".tsx":
		return true
	}
	return false
}
