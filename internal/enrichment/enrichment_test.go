package enrichment

import (
	"context"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/tsunagu/internal/extraction"
	"github.com/hyperjump/tsunagu/internal/graph"
	"github.com/hyperjump/tsunagu/internal/models"
)

func fn(name string, line int) RawEntity {
	return RawEntity{
		Name:       name,
		Type:       models.KnownEntityType(models.EntityFunction),
		Kind:       string(extraction.KindFunction),
		Line:       line,
		Confidence: 1,
		Origin:     models.OriginAST,
	}
}

func findEnriched(t *testing.T, list []EnrichedEntity, name string) EnrichedEntity {
	t.Helper()
	for _, e := range list {
		if e.Name == name {
			return e
		}
	}
	t.Fatalf("entity %q not found", name)
	return EnrichedEntity{}
}

func hasRelation(e EnrichedEntity, typ models.EdgeType, target string) (Relation, bool) {
	for _, r := range e.Relationships {
		if r.Type == typ && r.Target == target {
			return r, true
		}
	}
	return Relation{}, false
}

const jsDocSource = `import { db } from './db';

/**
 * Loads a user by id.
 * @param {string} id - the user id
 * @returns {User} the user
 * @throws NotFoundError when missing
 */
export function loadUser(id) {
  return db.find(id);
}
`

func TestEnrich_LocationAndDocComment(t *testing.T) {
	raw := fn("loadUser", 9)
	raw.Confidence = 0.5
	got := Enrich([]RawEntity{raw}, jsDocSource, "src/users.js")
	if len(got) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(got))
	}
	e := got[0]
	if e.Location == nil || e.Location.Line != 9 || e.Location.FilePath != "src/users.js" || e.Location.Inferred {
		t.Fatalf("unexpected location %+v", e.Location)
	}
	if e.Doc == nil {
		t.Fatal("expected doc comment")
	}
	if e.Doc.Description != "Loads a user by id." {
		t.Errorf("description = %q", e.Doc.Description)
	}
	if !reflect.DeepEqual(e.Doc.Params, map[string]string{"id": "the user id"}) {
		t.Errorf("params = %v", e.Doc.Params)
	}
	if e.Doc.Returns != "the user" {
		t.Errorf("returns = %q", e.Doc.Returns)
	}
	if !reflect.DeepEqual(e.Doc.Throws, []string{"NotFoundError when missing"}) {
		t.Errorf("throws = %v", e.Doc.Throws)
	}
	if e.Description != "Loads a user by id." {
		t.Errorf("entity description not filled from doc: %q", e.Description)
	}
	// 0.5 base, documented, no relationships
	if e.StaticConfidence < 0.5999 || e.StaticConfidence > 0.6001 {
		t.Errorf("static confidence = %v, want 0.6", e.StaticConfidence)
	}
}

func TestParseDocComment(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		want string
	}{
		{"go line comments", "package x\n\n// NewServer builds a server.\n// It listens on addr.\nfunc NewServer(addr string) {}", 5, "NewServer builds a server. It listens on addr."},
		{"blank line breaks block", "// stale\n\nfunc f() {}", 3, ""},
		{"python with decorator", "# Compute totals.\n@cache\ndef total():\n    pass", 3, "Compute totals."},
		{"single line block", "/** Renders the header. */\nfunction Header() {}", 2, "Renders the header."},
		{"code above", "x := 1\nfunc f() {}", 2, ""},
		{"first line", "func f() {}", 1, ""},
		{"shebang is not a comment", "#!/usr/bin/env python\ndef main():\n    pass", 2, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := parseDocComment(strings.Split(tt.src, "\n"), tt.line)
			got := ""
			if doc != nil {
				got = doc.Description
			}
			if got != tt.want {
				t.Errorf("description = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInferCategory(t *testing.T) {
	function := models.KnownEntityType(models.EntityFunction)
	tests := []struct {
		name    string
		typ     models.EntityType
		path    string
		callers int
		want    Category
	}{
		{"TestLogin", function, "auth/login_test.go", 0, CategoryTest},
		{"useAuth", function, "src/hooks.ts", 0, CategoryHook},
		{"LoginForm", models.KnownEntityType(models.EntityComponent), "", 0, CategoryComponent},
		{"Header", function, "src/header.tsx", 0, CategoryComponent},
		{"UserController", models.KnownEntityType(models.EntityClass), "", 0, CategoryController},
		{"AuthService", models.KnownEntityType(models.EntityClass), "", 0, CategoryService},
		{"Postgres", models.KnownEntityType(models.EntityService), "", 0, CategoryService},
		{"AppConfig", models.KnownEntityType(models.EntityTypeDecl), "", 0, CategoryConfig},
		{"User", models.KnownEntityType(models.EntityClass), "", 0, CategoryModel},
		{"formatDate", function, "src/dates.js", 0, CategoryUtility},
		{"slugify", function, "pkg/utils/text.go", 0, CategoryUtility},
		{"render", function, "src/view.js", 2, CategoryUtility},
		{"render", function, "src/view.js", 1, CategoryUnknown},
		{"Auth Flow", models.OtherEntityType("workflow"), "", 0, CategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := EnrichedEntity{RawEntity: RawEntity{Name: tt.name, Type: tt.typ}}
			if got := inferCategory(e, tt.path, tt.callers); got != tt.want {
				t.Errorf("inferCategory(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestEnrich_CoOccurrence(t *testing.T) {
	entities := []RawEntity{fn("alpha", 2), fn("beta", 4), fn("gamma", 10), fn("delta", 2)}
	got := Enrich(entities, strings.Repeat("\n", 12), "x.go")

	alpha := findEnriched(t, got, "alpha")
	r, ok := hasRelation(alpha, models.EdgeCoOccurs, "beta")
	if !ok {
		t.Fatal("alpha should co-occur with beta")
	}
	if math.Abs(r.Confidence-coOccurBase) > 1e-9 || len(r.Evidence) == 0 {
		t.Errorf("unexpected relation %+v", r)
	}
	r, ok = hasRelation(alpha, models.EdgeCoOccurs, "delta")
	if !ok || math.Abs(r.Confidence-(coOccurBase+sameLineBonus)) > 1e-9 {
		t.Errorf("same-line co-occurrence = %+v, %v", r, ok)
	}
	if _, ok := hasRelation(findEnriched(t, got, "beta"), models.EdgeCoOccurs, "alpha"); !ok {
		t.Error("co-occurrence should be symmetric")
	}
	gamma := findEnriched(t, got, "gamma")
	if len(gamma.Relationships) != 0 {
		t.Errorf("gamma should have no relationships, got %+v", gamma.Relationships)
	}
	if gamma.StaticConfidence != 1 {
		t.Errorf("confidence should be clamped to 1, got %v", gamma.StaticConfidence)
	}
}

func TestEnrich_ReferencesWithEvidence(t *testing.T) {
	src := "func handler() {\n  return lookupUser(id)\n}\n\nfunc lookupUser(id string) {}\n"
	h := fn("handler", 1)
	h.EndLine = 3
	got := Enrich([]RawEntity{h, fn("lookupUser", 5)}, src, "h.go")

	r, ok := hasRelation(findEnriched(t, got, "handler"), models.EdgeRefersTo, "lookupUser")
	if !ok {
		t.Fatal("handler should refer to lookupUser")
	}
	if len(r.Evidence) != 1 || r.Evidence[0] != `line 2 mentions "lookupUser"` {
		t.Errorf("evidence = %v", r.Evidence)
	}
	if _, ok := hasRelation(findEnriched(t, got, "lookupUser"), models.EdgeRefersTo, "handler"); ok {
		t.Error("lookupUser does not mention handler")
	}
}

func TestEnrich_DiscoveredEntitiesAreLocated(t *testing.T) {
	raw := FromDiscovery(
		[]models.DiscoveredEntity{
			{Name: "Auth Service", Type: "service", Confidence: 0.8},
			{Name: "auth service", Type: "service", Confidence: 0.9},
			{Name: "Postgres", Type: "technology", Confidence: 0.7},
			{Name: "Kafka", Type: "technology", Confidence: 0.6},
		},
		[]models.DiscoveredRelationship{
			{Source: "Auth Service", Target: "Postgres", Type: "depends_on", Confidence: 0.9, Description: "stores users"},
			{Source: "Nobody", Target: "Postgres", Type: "depends_on", Confidence: 0.9},
		},
	)
	if len(raw) != 3 {
		t.Fatalf("duplicates should collapse, got %d entities", len(raw))
	}
	text := "The auth   service keeps users\nin Postgres.\n"
	got := Enrich(raw, text, "docs/arch.md")

	auth := findEnriched(t, got, "Auth Service")
	if auth.Location == nil || auth.Location.Line != 1 || !auth.Location.Inferred {
		t.Fatalf("expected inferred location on line 1, got %+v", auth.Location)
	}
	if auth.Category != CategoryService {
		t.Errorf("category = %q", auth.Category)
	}
	dep, ok := hasRelation(auth, models.EdgeDependsOn, "Postgres")
	if !ok || dep.Confidence != 0.9 || dep.Evidence[0] != "stores users" {
		t.Errorf("depends_on = %+v, %v", dep, ok)
	}
	if _, ok := hasRelation(auth, models.EdgeCoOccurs, "Postgres"); !ok {
		t.Error("adjacent lines should co-occur")
	}
	if kafka := findEnriched(t, got, "Kafka"); kafka.Location != nil {
		t.Errorf("unmentioned entity should have no location, got %+v", kafka.Location)
	}
}

func TestEnrich_IsPure(t *testing.T) {
	in := []RawEntity{fn("alpha", 1), fn("beta", 2)}
	in[0].Relations = []Relation{{Type: models.EdgeCalls, Target: "beta", Confidence: 1}}
	before := make([]RawEntity, len(in))
	for i := range in {
		before[i] = in[i]
		before[i].Relations = append([]Relation(nil), in[i].Relations...)
	}
	first := Enrich(in, "alpha beta\nbeta\n", "p.go")
	second := Enrich(in, "alpha beta\nbeta\n", "p.go")
	if !reflect.DeepEqual(in, before) {
		t.Error("Enrich mutated its input")
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("Enrich is not deterministic")
	}
}

func TestMergeRelations(t *testing.T) {
	got := mergeRelations([]Relation{
		{Type: models.EdgeCalls, Target: "b", Confidence: 0.4, Evidence: []string{"x"}},
		{Type: models.EdgeCalls, Target: "B", Confidence: 0.9, Evidence: []string{"y", "x"}},
		{Type: models.EdgeCalls, Target: "self", Confidence: 1},
		{Type: models.EdgeCalls, Target: "  ", Confidence: 1},
		{Type: models.EdgeRefersTo, Target: "a", Confidence: 2},
	}, "Self")
	want := []Relation{
		{Type: models.EdgeCalls, Target: "b", Confidence: 0.9, Evidence: []string{"x", "y"}},
		{Type: models.EdgeRefersTo, Target: "a", Confidence: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mergeRelations = %+v, want %+v", got, want)
	}
}

func TestToGraph(t *testing.T) {
	a := fn("Auth Service", 1)
	b := fn("auth  service", 2)
	b.Confidence = 0.4
	c := fn("Login", 3)
	c.Relations = []Relation{
		{Type: models.EdgeCalls, Target: "Postgres", Confidence: 0.8},
		{Type: models.EdgeCalls, Target: "login", Confidence: 1},
	}
	enriched := Enrich([]RawEntity{a, b, c}, "\n\n\n", "svc.go")
	nodes, edges := ToGraph(enriched, "file:doc")

	ids := make(map[string]models.Node)
	for _, n := range nodes {
		if _, dup := ids[n.ID]; dup {
			t.Fatalf("duplicate node %s", n.ID)
		}
		ids[n.ID] = n
	}
	if len(nodes) != 3 {
		t.Fatalf("expected auth, login and a Postgres placeholder, got %d nodes", len(nodes))
	}
	auth := ids[graph.EntityNodeID("auth service")]
	if auth.Label != "Auth Service" || !reflect.DeepEqual(auth.Sources, []string{"file:doc"}) {
		t.Errorf("merged node = %+v", auth)
	}

	coOccurs := 0
	for _, e := range edges {
		if e.Source == e.Target {
			t.Fatalf("self-loop %+v", e)
		}
		if _, ok := ids[e.Source]; !ok && e.Source != "file:doc" {
			t.Errorf("dangling source in %+v", e)
		}
		if _, ok := ids[e.Target]; !ok {
			t.Errorf("dangling target in %+v", e)
		}
		if e.Type == models.EdgeCoOccurs {
			coOccurs++
			if !e.Bidirectional || e.Source > e.Target {
				t.Errorf("co_occurs edge not canonical: %+v", e)
			}
		}
	}
	if coOccurs != 1 {
		t.Errorf("expected one co_occurs edge between auth and login, got %d", coOccurs)
	}
}

func TestFromExtraction(t *testing.T) {
	const src = `package demo

// Greeter says hello.
type Greeter interface {
	Greet(name string) string
}

type english struct{}

func (e *english) Greet(name string) string {
	return name
}
`
	res := extraction.NewEngine().Extract(context.Background(), "demo/greeter.go", []byte(src))
	raw := FromExtraction(res)
	if len(raw) == 0 {
		t.Fatalf("no entities: %v", res.Diagnostics)
	}
	got := Enrich(raw, src, "demo/greeter.go")

	greeter := findEnriched(t, got, "Greeter")
	if greeter.Doc == nil || greeter.Doc.Description != "Greeter says hello." {
		t.Errorf("doc = %+v", greeter.Doc)
	}
	if greeter.Category != CategoryModel {
		t.Errorf("category = %q", greeter.Category)
	}
	english := findEnriched(t, got, "english")
	r, ok := hasRelation(english, models.EdgeContains, "Greet")
	if !ok || r.Confidence != 1 || len(r.Evidence) == 0 {
		t.Errorf("english contains Greet = %+v, %v", r, ok)
	}
}
