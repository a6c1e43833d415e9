package extraction

import (
	"strings"
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/hyperjump/tsunagu/internal/fileid"
	"github.com/hyperjump/tsunagu/internal/models"
	"github.com/hyperjump/tsunagu/pkg/utils"
)

type walker struct {
	path           string
	lang           Language
	source         []byte
	modulePrefixes []string

	entities []Entity
	seen     map[string]struct{}
	owners   map[string]int // container name -> index of its class/type entity
}

// walk visits n and its named descendants. scope is the enclosing function or class name.
func (w *walker) walk(n *sitter.Node, scope string) {
	if n == nil {
		return
	}
	var next string
	switch {
	case w.lang == LangGo:
		next = w.visitGo(n, scope)
	case w.lang.isJS():
		next = w.visitJS(n, scope)
	case w.lang == LangPython:
		next = w.visitPython(n, scope)
	}
	if next == "" {
		next = scope
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.walk(n.NamedChild(i), next)
	}
}

func (w *walker) visitGo(n *sitter.Node, scope string) string {
	switch n.Type() {
	case "function_declaration":
		name := w.text(n.ChildByFieldName("name"))
		w.addCallable(n, KindFunction, name, "", isUpper(name))
		return name
	case "method_declaration":
		name := w.text(n.ChildByFieldName("name"))
		recv := w.text(firstOfType(n.ChildByFieldName("receiver"), "type_identifier"))
		w.addCallable(n, KindMethod, name, recv, isUpper(name))
		return name
	case "type_spec", "type_alias":
		name := w.text(n.ChildByFieldName("name"))
		kind := KindType
		if t := n.ChildByFieldName("type"); t != nil && t.Type() == "interface_type" {
			kind = KindInterface
		}
		w.add(n, Entity{Name: name, Kind: kind, Exported: isUpper(name)})
	case "import_spec":
		module := unquote(w.text(n.ChildByFieldName("path")))
		var specs []string
		if alias := w.text(n.ChildByFieldName("name")); alias != "" {
			specs = append(specs, alias)
		}
		w.addImport(n, module, specs)
	case "call_expression":
		w.addCall(n, w.calleeName(n.ChildByFieldName("function")), scope)
	}
	return ""
}

func (w *walker) visitJS(n *sitter.Node, scope string) string {
	switch n.Type() {
	case "function_declaration", "generator_function_declaration":
		name := w.text(n.ChildByFieldName("name"))
		w.addCallable(n, KindFunction, name, "", exportedJS(n))
		return name
	case "class_declaration", "abstract_class_declaration":
		name := w.text(n.ChildByFieldName("name"))
		w.add(n, Entity{Name: name, Kind: KindClass, Exported: exportedJS(n)})
		return name
	case "method_definition":
		name := w.text(n.ChildByFieldName("name"))
		w.addCallable(n, KindMethod, name, scope, !strings.HasPrefix(name, "#") && !strings.HasPrefix(name, "_"))
		return name
	case "interface_declaration":
		name := w.text(n.ChildByFieldName("name"))
		w.add(n, Entity{Name: name, Kind: KindInterface, Exported: exportedJS(n)})
	case "type_alias_declaration":
		name := w.text(n.ChildByFieldName("name"))
		w.add(n, Entity{Name: name, Kind: KindType, Exported: exportedJS(n)})
	case "variable_declarator":
		value := n.ChildByFieldName("value")
		if value == nil {
			return ""
		}
		switch value.Type() {
		case "arrow_function", "function_expression", "function":
			name := w.text(n.ChildByFieldName("name"))
			exported := false
			if decl := n.Parent(); decl != nil {
				exported = exportedJS(decl)
			}
			w.addCallableFrom(n, value, KindFunction, name, "", exported)
			return name
		}
	case "import_statement":
		module := unquote(w.text(n.ChildByFieldName("source")))
		w.addImport(n, module, w.jsSpecifiers(n))
	case "call_expression":
		fn := n.ChildByFieldName("function")
		if fn != nil && fn.Type() == "identifier" && w.text(fn) == "require" {
			if arg := firstOfType(n.ChildByFieldName("arguments"), "string"); arg != nil {
				w.addImport(n, unquote(w.text(arg)), nil)
				return ""
			}
		}
		w.addCall(n, w.calleeName(fn), scope)
	case "jsx_opening_element", "jsx_self_closing_element":
		name := w.text(n.ChildByFieldName("name"))
		if r, _ := utf8.DecodeRuneInString(name); unicode.IsUpper(r) {
			w.add(n, Entity{
				Name:          name,
				Kind:          KindComponent,
				Container:     scope,
				Relationships: []Relation{{Type: models.EdgeCalls, Target: name}},
			})
		}
	}
	return ""
}

func (w *walker) visitPython(n *sitter.Node, scope string) string {
	switch n.Type() {
	case "function_definition":
		name := w.text(n.ChildByFieldName("name"))
		kind, container := KindFunction, ""
		if _, ok := w.owners[scope]; ok {
			kind, container = KindMethod, scope
		}
		w.addCallable(n, kind, name, container, !strings.HasPrefix(name, "_"))
		return name
	case "class_definition":
		name := w.text(n.ChildByFieldName("name"))
		w.add(n, Entity{Name: name, Kind: KindClass, Exported: !strings.HasPrefix(name, "_")})
		return name
	case "import_statement":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			switch c.Type() {
			case "dotted_name":
				w.addImport(n, w.text(c), nil)
			case "aliased_import":
				w.addImport(n, w.text(c.ChildByFieldName("name")), []string{w.text(c.ChildByFieldName("alias"))})
			}
		}
	case "import_from_statement":
		mod := n.ChildByFieldName("module_name")
		var specs []string
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if mod != nil && c.StartByte() == mod.StartByte() && c.EndByte() == mod.EndByte() {
				continue
			}
			switch c.Type() {
			case "dotted_name":
				specs = append(specs, w.text(c))
			case "aliased_import":
				specs = append(specs, w.text(c.ChildByFieldName("name")))
			case "wildcard_import":
				specs = append(specs, "*")
			}
		}
		w.addImport(n, w.text(mod), specs)
	case "call":
		w.addCall(n, w.calleeName(n.ChildByFieldName("function")), scope)
	}
	return ""
}

func (w *walker) jsSpecifiers(n *sitter.Node) []string {
	clause := firstOfType(n, "import_clause")
	if clause == nil {
		return nil
	}
	var specs []string
	for i := 0; i < int(clause.NamedChildCount()); i++ {
		c := clause.NamedChild(i)
		switch c.Type() {
		case "identifier":
			specs = append(specs, w.text(c))
		case "namespace_import":
			specs = append(specs, "* as "+w.text(firstOfType(c, "identifier")))
		case "named_imports":
			for j := 0; j < int(c.NamedChildCount()); j++ {
				if s := c.NamedChild(j); s.Type() == "import_specifier" {
					specs = append(specs, w.text(s.ChildByFieldName("name")))
				}
			}
		}
	}
	return specs
}

// calleeName returns the last identifier of a call target: foo, a.b.foo, a?.foo.
func (w *walker) calleeName(fn *sitter.Node) string {
	if fn == nil {
		return ""
	}
	switch fn.Type() {
	case "identifier":
		return w.text(fn)
	case "selector_expression":
		return w.text(fn.ChildByFieldName("field"))
	case "member_expression":
		return w.text(fn.ChildByFieldName("property"))
	case "attribute":
		return w.text(fn.ChildByFieldName("attribute"))
	}
	return ""
}

func (w *walker) addCallable(n *sitter.Node, kind Kind, name, container string, exported bool) {
	w.addCallableFrom(n, n, kind, name, container, exported)
}

// addCallableFrom records a function whose signature lives on sig (which may differ from the
// declaring node, as with arrow functions bound to a variable).
func (w *walker) addCallableFrom(n, sig *sitter.Node, kind Kind, name, container string, exported bool) {
	var params []string
	if list := sig.ChildByFieldName("parameters"); list != nil {
		for i := 0; i < int(list.NamedChildCount()); i++ {
			c := list.NamedChild(i)
			if c.Type() == "comment" {
				continue
			}
			params = append(params, utils.CollapseWhitespace(w.text(c)))
		}
	} else if p := sig.ChildByFieldName("parameter"); p != nil {
		params = append(params, w.text(p))
	}
	returns := sig.ChildByFieldName("result")
	if returns == nil {
		returns = sig.ChildByFieldName("return_type")
	}
	ret := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(w.text(returns)), ":"))
	w.add(n, Entity{
		Name:      name,
		Kind:      kind,
		Exported:  exported,
		Params:    params,
		Returns:   utils.CollapseWhitespace(ret),
		Container: container,
	})
}

func (w *walker) addImport(n *sitter.Node, module string, specifiers []string) {
	if module == "" {
		return
	}
	w.add(n, Entity{
		Name:          module,
		Kind:          KindImport,
		Import:        &ImportInfo{Module: module, External: w.isExternal(module), Specifiers: specifiers},
		Relationships: []Relation{{Type: models.EdgeImports, Target: module}},
	})
}

func (w *walker) addCall(n *sitter.Node, callee, scope string) {
	if callee == "" {
		return
	}
	w.add(n, Entity{
		Name:          callee,
		Kind:          KindCall,
		Container:     scope,
		Relationships: []Relation{{Type: models.EdgeCalls, Target: callee}},
	})
}

func (w *walker) add(n *sitter.Node, ent Entity) {
	if ent.Name == "" {
		return
	}
	ent.Line = int(n.StartPoint().Row) + 1
	ent.EndLine = int(n.EndPoint().Row) + 1
	ent.Confidence = 1.0
	ent.ID = fileid.EntityID(w.path, string(ent.Kind), ent.Name, ent.Line)
	if _, dup := w.seen[ent.ID]; dup {
		return
	}
	w.seen[ent.ID] = struct{}{}

	if ent.Kind == KindMethod && ent.Container != "" {
		if idx, ok := w.owners[ent.Container]; ok {
			w.entities[idx].Relationships = append(w.entities[idx].Relationships,
				Relation{Type: models.EdgeContains, Target: ent.Name})
		}
	}
	w.entities = append(w.entities, ent)
	switch ent.Kind {
	case KindClass, KindType, KindInterface:
		if w.owners == nil {
			w.owners = make(map[string]int)
		}
		if _, ok := w.owners[ent.Name]; !ok {
			w.owners[ent.Name] = len(w.entities) - 1
		}
	}
}

// flatten lists every relationship with its source: the owning entity for contains, the
// enclosing scope for calls and components, and the file itself for imports.
func (w *walker) flatten() []Relationship {
	out := []Relationship{}
	for _, ent := range w.entities {
		for _, rel := range ent.Relationships {
			src := ent.Container
			switch rel.Type {
			case models.EdgeContains:
				src = ent.Name
			case models.EdgeImports:
				src = ""
			}
			if src == rel.Target {
				continue
			}
			out = append(out, Relationship{Source: src, Target: rel.Target, Type: rel.Type, Line: ent.Line})
		}
	}
	return out
}

func (w *walker) isExternal(module string) bool {
	if strings.HasPrefix(module, ".") || strings.HasPrefix(module, "/") {
		return false
	}
	for _, p := range w.modulePrefixes {
		if p != "" && strings.HasPrefix(module, p) {
			return false
		}
	}
	return true
}

func (w *walker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(w.source)
}

func exportedJS(n *sitter.Node) bool {
	p := n.Parent()
	return p != nil && p.Type() == "export_statement"
}

// firstOfType returns the first descendant of n (depth-first, n included) with one of types.
func firstOfType(n *sitter.Node, types ...string) *sitter.Node {
	if n == nil {
		return nil
	}
	for _, t := range types {
		if n.Type() == t {
			return n
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if found := firstOfType(n.NamedChild(i), types...); found != nil {
			return found
		}
	}
	return nil
}

func isUpper(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), "\"'`")
}
