package builder

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"github.com/forgeware/codeforge/internal/indexer"
	"github.com/forgeware/codeforge/internal/model"
)

// chunkNodeTypes are the top-level declaration kinds ExtractChunks splits
// on; everything else (package clause, comments between declarations) is
// left out of any chunk.
var chunkNodeTypes = map[string]bool{
	"function_declaration": true,
	"method_declaration": true,
	"type_declaration": true,
	"var_declaration": true,
	"const_declaration": true,
	"import_declaration": true,
}

// TreeSitterExtractor extracts top-level function and type declarations
// via an AST parse, preferred over RegexExtractor when a grammar is
// available. Only Go is wired today; unregistered extensions fall back
// to RegexExtractor.
type TreeSitterExtractor struct {
	lang *sitter.Language
}

func NewGoExtractor() *TreeSitterExtractor {
	return &TreeSitterExtractor{lang: golang.GetLanguage()}
}

func (t *TreeSitterExtractor) ExtractSymbols(source string) []string {
	tree, err := t.parse(source)
	if err != nil || tree == nil {
		return RegexExtractor{}.ExtractSymbols(source)
	}
	defer tree.Close()

	var names []string
	root := tree.RootNode()
	walk(root, func(n *sitter.Node) {
		switch n.Type() {
		case "function_declaration", "method_declaration":
			if name := n.ChildByFieldName("name"); name != nil {
				names = append(names, name.Content([]byte(source)))
			}
		case "type_spec":
			if name := n.ChildByFieldName("name"); name != nil {
				names = append(names, name.Content([]byte(source)))
			}
		}
	})
	if len(names) == 0 {
		return RegexExtractor{}.ExtractSymbols(source)
	}
	return dedup(names)
}

func (t *TreeSitterExtractor) ExtractImports(source string) ([]string, []string) {
	tree, err := t.parse(source)
	if err != nil || tree == nil {
		return RegexExtractor{}.ExtractImports(source)
	}
	defer tree.Close()

	var from []string
	root := tree.RootNode()
	walk(root, func(n *sitter.Node) {
		if n.Type() == "import_spec" {
			if path := n.ChildByFieldName("path"); path != nil {
				raw := path.Content([]byte(source))
				from = append(from, trimQuotes(raw))
			}
		}
	})
	return nil, from
}

// ExtractChunks splits source into one chunk per top-level declaration
// using the AST instead of character windows. It returns ok=false when
// parsing fails or the file has no qualifying top-level node, so the
// caller falls back to windowChunks.
func (t *TreeSitterExtractor) ExtractChunks(source string) ([]model.IndexChunk, bool) {
	tree, err := t.parse(source)
	if err != nil || tree == nil {
		return nil, false
	}
	defer tree.Close()

	root := tree.RootNode()
	src := []byte(source)

	var chunks []model.IndexChunk
	for i := 0; i < int(root.ChildCount()) && len(chunks) < maxChunksPerFile; i++ {
		n := root.Child(i)
		if n == nil || !chunkNodeTypes[n.Type()] {
			continue
		}
		text := n.Content(src)
		chunks = append(chunks, model.IndexChunk{
			Text: text,
			StartLine: int(n.StartPoint().Row) + 1,
			EndLine: int(n.EndPoint().Row) + 1,
			Tokens: indexer.Tokenize(text),
		})
	}
	if len(chunks) == 0 {
		return nil, false
	}
	return chunks, true
}

func (t *TreeSitterExtractor) parse(source string) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(t.lang)
	return parser.ParseCtx(context.Background(), nil, []byte(source))
}

func walk(n *sitter.Node, visit func(*sitter.Node)) {
	if n == nil {
		return
	}
	visit(n)
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), visit)
	}
}

func trimQuotes(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '`') {
		return s[1 : len(s)-1]
	}
	return s
}

func dedup(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
