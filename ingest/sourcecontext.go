package ingest

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// EnclosingCallable parses a Go source file and returns the name of the
// function or method declaration that encloses byteOffset, for backfilling
// an issue's callable when an upstream analyzer reported a location but no
// symbol name (a known gap for some third-party static analyzers whose
// output predates symbol-table support).
func EnclosingCallable(src []byte, byteOffset int) (string, bool) {
	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil || tree == nil {
		return "", false
	}

	var best *sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if int(n.StartByte()) <= byteOffset && byteOffset <= int(n.EndByte()) {
			switch n.Type() {
			case "function_declaration", "method_declaration":
				best = n
			}
			for i := 0; i < int(n.ChildCount()); i++ {
				walk(n.Child(i))
			}
		}
	}
	walk(tree.RootNode())

	if best == nil {
		return "", false
	}
	nameNode := best.ChildByFieldName("name")
	if nameNode == nil {
		return "", false
	}
	return string(src[nameNode.StartByte():nameNode.EndByte()]), true
}
