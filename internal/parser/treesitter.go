package parser

import (
	"context"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/hyperjump/shiori/internal/contenthash"
	"github.com/hyperjump/shiori/internal/models"
)

// maxCallsPerUnit caps the "calls" metadata of one unit.
const maxCallsPerUnit = 64

type grammar struct {
	language func() *sitter.Language
	visit    func(w *walker, root *sitter.Node)
}

var grammars = map[string]grammar{
	"go":         {golang.GetLanguage, (*walker).visitGo},
	"python":     {python.GetLanguage, func(w *walker, root *sitter.Node) { w.pythonBlock(root, "") }},
	"javascript": {javascript.GetLanguage, (*walker).visitScript},
	"typescript": {typescript.GetLanguage, (*walker).visitScript},
	"tsx":        {tsx.GetLanguage, (*walker).visitScript},
	"java":       {java.GetLanguage, func(w *walker, root *sitter.Node) { w.javaDecls(root, "") }},
}

// calleeFields maps call node types to the field holding the callee.
var calleeFields = map[string]string{
	"call_expression":   "function",
	"call":              "function",
	"method_invocation": "name",
	"new_expression":    "constructor",
}

func (p *TreeSitterParser) parseSource(ctx context.Context, g grammar, lang, relPath string, src []byte) ([]models.ExtractedUnit, error) {
	sp := sitter.NewParser()
	defer sp.Close()
	sp.SetLanguage(g.language())

	tree, err := sp.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	w := &walker{relPath: relPath, lang: lang, src: src, noise: p.noiseFor(lang)}
	g.visit(w, tree.RootNode())
	return w.units, nil
}

func (p *TreeSitterParser) noiseFor(lang string) NoiseFilter {
	if lang == "tsx" {
		lang = "typescript"
	}
	return p.noise[lang]
}

type walker struct {
	relPath string
	lang    string
	src     []byte
	noise   NoiseFilter
	units   []models.ExtractedUnit
}

func (w *walker) emit(n *sitter.Node, kind, name, doc string, meta map[string]string) {
	if name == "" {
		return
	}
	start := int(n.StartPoint().Row) + 1
	if kind == models.UnitFunction || kind == models.UnitMethod {
		if calls := w.calls(n); calls != "" {
			if meta == nil {
				meta = map[string]string{}
			}
			meta["calls"] = calls
		}
	}
	w.units = append(w.units, models.ExtractedUnit{
		ID:        contenthash.UnitID(w.relPath, kind, name, start),
		FilePath:  w.relPath,
		Kind:      kind,
		Name:      name,
		Language:  w.lang,
		StartLine: start,
		EndLine:   int(n.EndPoint().Row) + 1,
		Docstring: doc,
		Content:   n.Content(w.src),
		Metadata:  meta,
	})
}

func (w *walker) field(n *sitter.Node, name string) string {
	if c := n.ChildByFieldName(name); c != nil {
		return c.Content(w.src)
	}
	return ""
}

// leadingComments joins the comment nodes directly above n.
func (w *walker) leadingComments(n *sitter.Node) string {
	var lines []string
	next := n
	for prev := n.PrevNamedSibling(); prev != nil && strings.HasSuffix(prev.Type(), "comment"); prev = prev.PrevNamedSibling() {
		if prev.EndPoint().Row+1 < next.StartPoint().Row {
			break
		}
		lines = append([]string{cleanComment(prev.Content(w.src))}, lines...)
		next = prev
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func cleanComment(c string) string {
	c = strings.TrimSpace(c)
	switch {
	case strings.HasPrefix(c, "//"):
		return strings.TrimSpace(strings.TrimPrefix(c, "//"))
	case strings.HasPrefix(c, "/*"):
		c = strings.TrimSuffix(strings.TrimPrefix(c, "/*"), "*/")
		lines := strings.Split(c, "\n")
		for i, l := range lines {
			lines[i] = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "*"))
		}
		return strings.TrimSpace(strings.Join(lines, "\n"))
	case strings.HasPrefix(c, "#"):
		return strings.TrimSpace(strings.TrimPrefix(c, "#"))
	}
	return c
}

// calls returns the sorted, de-duplicated callee names inside n after noise filtering.
func (w *walker) calls(n *sitter.Node) string {
	seen := map[string]bool{}
	stack := []*sitter.Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f, ok := calleeFields[cur.Type()]; ok {
			if callee := cur.ChildByFieldName(f); callee != nil {
				name := calleeName(callee.Content(w.src))
				if name != "" && (w.noise == nil || !w.noise.IsNoise(name)) {
					seen[name] = true
				}
			}
		}
		for i := int(cur.NamedChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, cur.NamedChild(i))
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > maxCallsPerUnit {
		names = names[:maxCallsPerUnit]
	}
	return strings.Join(names, ",")
}

// calleeName reduces a callee expression such as "pkg.Client.Do[T]" to "Do".
func calleeName(expr string) string {
	depth, last := 0, -1
	for i, r := range expr {
		switch r {
		case '(', '[', '<':
			depth++
		case ')', ']', '>':
			depth--
		case '.':
			if depth == 0 {
				last = i
			}
		}
	}
	expr = expr[last+1:]
	if i := strings.IndexAny(expr, "(<["); i >= 0 {
		expr = expr[:i]
	}
	return strings.TrimSpace(expr)
}

func (w *walker) visitGo(root *sitter.Node) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		switch n.Type() {
		case "import_declaration":
			w.emit(n, models.UnitImport, "imports", "", nil)
		case "function_declaration":
			w.emit(n, models.UnitFunction, w.field(n, "name"), w.leadingComments(n), nil)
		case "method_declaration":
			recv := goReceiver(w.field(n, "receiver"))
			w.emit(n, models.UnitMethod, w.field(n, "name"), w.leadingComments(n), map[string]string{"receiver": recv})
		case "type_declaration":
			doc := w.leadingComments(n)
			for j := 0; j < int(n.NamedChildCount()); j++ {
				spec := n.NamedChild(j)
				if spec.Type() != "type_spec" && spec.Type() != "type_alias" {
					continue
				}
				var meta map[string]string
				if t := spec.ChildByFieldName("type"); t != nil {
					meta = map[string]string{"type": t.Type()}
				}
				w.emit(spec, models.UnitType, w.field(spec, "name"), doc, meta)
			}
		}
	}
}

// goReceiver turns "(s *Server[T])" into "Server".
func goReceiver(recv string) string {
	recv = strings.Trim(recv, "() \t")
	fields := strings.Fields(recv)
	if len(fields) == 0 {
		return ""
	}
	t := strings.TrimLeft(fields[len(fields)-1], "*")
	if i := strings.Index(t, "["); i >= 0 {
		t = t[:i]
	}
	return t
}

func (w *walker) pythonBlock(block *sitter.Node, class string) {
	for i := 0; i < int(block.NamedChildCount()); i++ {
		n := block.NamedChild(i)
		def := n
		if n.Type() == "decorated_definition" {
			if def = n.ChildByFieldName("definition"); def == nil {
				continue
			}
		}
		switch def.Type() {
		case "import_statement", "import_from_statement":
			if class == "" {
				w.emit(n, models.UnitImport, strings.TrimSpace(n.Content(w.src)), "", nil)
			}
		case "function_definition":
			if class == "" {
				w.emit(n, models.UnitFunction, w.field(def, "name"), w.pythonDocstring(def), nil)
			} else {
				w.emit(n, models.UnitMethod, w.field(def, "name"), w.pythonDocstring(def), map[string]string{"class": class})
			}
		case "class_definition":
			name := w.field(def, "name")
			var meta map[string]string
			if class != "" {
				meta = map[string]string{"class": class}
			}
			w.emit(n, models.UnitClass, name, w.pythonDocstring(def), meta)
			if body := def.ChildByFieldName("body"); body != nil {
				w.pythonBlock(body, name)
			}
		}
	}
}

func (w *walker) pythonDocstring(def *sitter.Node) string {
	body := def.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	return trimPythonString(str.Content(w.src))
}

func trimPythonString(s string) string {
	s = strings.TrimLeft(s, "rRuUbBfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			s = s[len(q) : len(s)-len(q)]
			break
		}
	}
	return strings.TrimSpace(s)
}

func (w *walker) visitScript(root *sitter.Node) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		w.scriptStatement(n, n)
	}
}

// scriptStatement handles one top-level JavaScript or TypeScript statement. outer is the node
// whose span and leading comments describe the unit, such as the wrapping export statement.
func (w *walker) scriptStatement(n, outer *sitter.Node) {
	switch n.Type() {
	case "export_statement":
		if d := n.ChildByFieldName("declaration"); d != nil {
			w.scriptStatement(d, n)
		}
	case "import_statement":
		w.emit(outer, models.UnitImport, strings.TrimSpace(n.Content(w.src)), "", nil)
	case "function_declaration", "generator_function_declaration":
		w.emit(outer, models.UnitFunction, w.field(n, "name"), w.leadingComments(outer), nil)
	case "class_declaration", "abstract_class_declaration":
		name := w.field(n, "name")
		w.emit(outer, models.UnitClass, name, w.leadingComments(outer), nil)
		body := n.ChildByFieldName("body")
		if body == nil {
			return
		}
		for j := 0; j < int(body.NamedChildCount()); j++ {
			m := body.NamedChild(j)
			if m.Type() == "method_definition" {
				w.emit(m, models.UnitMethod, w.field(m, "name"), w.leadingComments(m), map[string]string{"class": name})
			}
		}
	case "interface_declaration", "type_alias_declaration", "enum_declaration":
		w.emit(outer, models.UnitType, w.field(n, "name"), w.leadingComments(outer), nil)
	case "lexical_declaration", "variable_declaration":
		for j := 0; j < int(n.NamedChildCount()); j++ {
			d := n.NamedChild(j)
			if d.Type() != "variable_declarator" {
				continue
			}
			v := d.ChildByFieldName("value")
			if v == nil {
				continue
			}
			switch v.Type() {
			case "arrow_function", "function_expression", "function":
				w.emit(outer, models.UnitFunction, w.field(d, "name"), w.leadingComments(outer), nil)
			}
		}
	}
}

func (w *walker) javaDecls(parent *sitter.Node, class string) {
	for i := 0; i < int(parent.NamedChildCount()); i++ {
		n := parent.NamedChild(i)
		switch n.Type() {
		case "import_declaration":
			if class == "" {
				w.emit(n, models.UnitImport, strings.TrimSuffix(strings.TrimSpace(n.Content(w.src)), ";"), "", nil)
			}
		case "class_declaration", "enum_declaration", "record_declaration", "interface_declaration":
			kind := models.UnitClass
			if n.Type() == "interface_declaration" {
				kind = models.UnitType
			}
			name := w.field(n, "name")
			var meta map[string]string
			if class != "" {
				meta = map[string]string{"class": class}
			}
			w.emit(n, kind, name, w.leadingComments(n), meta)
			if body := n.ChildByFieldName("body"); body != nil {
				w.javaDecls(body, name)
			}
		case "method_declaration", "constructor_declaration":
			if class != "" {
				w.emit(n, models.UnitMethod, w.field(n, "name"), w.leadingComments(n), map[string]string{"class": class})
			}
		}
	}
}
