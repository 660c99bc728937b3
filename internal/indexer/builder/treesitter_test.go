package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTreeSitterExtractor_ExtractSymbols(t *testing.T) {
	src := `package main

func Run(x int) int {
	return x
}

type Widget struct {
	Name string
}

func (w *Widget) Greet() string {
	return "hi " + w.Name
}
`
	ext := NewGoExtractor()
	syms := ext.ExtractSymbols(src)
	assert.Contains(t, syms, "Run")
	assert.Contains(t, syms, "Widget")
	assert.Contains(t, syms, "Greet")
}

func TestTreeSitterExtractor_ExtractImports(t *testing.T) {
	src := `package main

import (
	"fmt"
	"github.com/forgeware/codeforge/internal/model"
)

func main() {
	fmt.Println(model.OpCreate)
}
`
	ext := NewGoExtractor()
	_, from := ext.ExtractImports(src)
	assert.Contains(t, from, "fmt")
	assert.Contains(t, from, "github.com/forgeware/codeforge/internal/model")
}

func TestTreeSitterExtractor_FallsBackOnUnparseableSource(t *testing.T) {
	ext := NewGoExtractor()
	// tree-sitter is error-tolerant on malformed input: this non-Go source
	// parses into error nodes with no declarations, so it exercises the
	// zero-symbols regex fallback rather than a parse error directly.
	syms := ext.ExtractSymbols("def Foo():\n    pass\n")
	assert.Contains(t, syms, "Foo")
}
