// Package parsersrc wraps github.com/tree-sitter/go-tree-sitter behind the
// internal/cst.ExternalNode capability interface spec.md §6.1 requires of
// an external parser collaborator, and selects a grammar per file
// extension the way the teacher's ast_store.go / parser_language_setup.go
// do.
package parsersrc

import (
	"fmt"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_zig "github.com/tree-sitter-grammars/tree-sitter-zig/bindings/go"
	tree_sitter_csharp "github.com/tree-sitter/tree-sitter-c-sharp/bindings/go"
	tree_sitter_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_php "github.com/tree-sitter/tree-sitter-php/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"github.com/standardbeagle/cstcache/internal/cst"
)

// LanguageForExtension returns the tree-sitter grammar registered for ext
// (including the leading dot, e.g. ".go"), mirroring the teacher's
// ASTStore.getLanguageForExtension switch. Returns (nil, false) for an
// unrecognized extension; the caller (cmd/cstcache-ingest) skips the file
// rather than failing the whole run.
func LanguageForExtension(ext string) (*tree_sitter.Language, bool) {
	switch ext {
	case ".go":
		return tree_sitter.NewLanguage(tree_sitter_go.Language()), true
	case ".js", ".jsx", ".mjs":
		return tree_sitter.NewLanguage(tree_sitter_javascript.Language()), true
	case ".ts":
		return tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript()), true
	case ".tsx":
		return tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTSX()), true
	case ".py":
		return tree_sitter.NewLanguage(tree_sitter_python.Language()), true
	case ".rs":
		return tree_sitter.NewLanguage(tree_sitter_rust.Language()), true
	case ".cpp", ".cc", ".cxx", ".c", ".h", ".hpp":
		return tree_sitter.NewLanguage(tree_sitter_cpp.Language()), true
	case ".java":
		return tree_sitter.NewLanguage(tree_sitter_java.Language()), true
	case ".cs":
		return tree_sitter.NewLanguage(tree_sitter_csharp.Language()), true
	case ".zig":
		return tree_sitter.NewLanguage(tree_sitter_zig.Language()), true
	case ".php", ".phtml":
		return tree_sitter.NewLanguage(tree_sitter_php.LanguagePHP()), true
	default:
		return nil, false
	}
}

// ParsedTree owns a tree-sitter Tree and the parser that produced it; both
// must be released via Close once the caller is done walking Root (the
// cst.Build walk in internal/pipeline.Store happens synchronously before
// Close, so a single short-lived ParsedTree per Store call is the expected
// usage).
type ParsedTree struct {
	tree   *tree_sitter.Tree
	parser *tree_sitter.Parser
	source []byte
}

// Parse parses source (extension ext selects the grammar) into a
// ParsedTree whose Root exposes the cst.ExternalNode capability set.
// tree-sitter's C library mutates the buffer it's handed, so Parse takes
// its own defensive copy (the same copy-on-parse discipline the teacher's
// parser.go documents), leaving the caller's source slice untouched.
func Parse(ext string, source []byte) (*ParsedTree, error) {
	lang, ok := LanguageForExtension(ext)
	if !ok {
		return nil, fmt.Errorf("parsersrc: no grammar registered for extension %q", ext)
	}

	parser := tree_sitter.NewParser()
	if err := parser.SetLanguage(lang); err != nil {
		parser.Close()
		return nil, fmt.Errorf("parsersrc: set language for %q: %w", ext, err)
	}

	buf := make([]byte, len(source))
	copy(buf, source)

	tree := parser.Parse(buf, nil)
	if tree == nil {
		parser.Close()
		return nil, fmt.Errorf("parsersrc: parse failed for extension %q", ext)
	}
	return &ParsedTree{tree: tree, parser: parser, source: buf}, nil
}

// Root returns the root node as a cst.ExternalNode, ready for cst.Build.
func (pt *ParsedTree) Root() cst.ExternalNode {
	return &node{n: pt.tree.RootNode()}
}

// Close releases the underlying tree-sitter tree and parser. Safe to call
// once; a nil receiver is a no-op.
func (pt *ParsedTree) Close() {
	if pt == nil {
		return
	}
	if pt.tree != nil {
		pt.tree.Close()
	}
	if pt.parser != nil {
		pt.parser.Close()
	}
}

// node adapts a *tree_sitter.Node to cst.ExternalNode. field/hasField are
// computed by the parent at Child(k) time, since tree-sitter exposes field
// names as "the k-th child of this node has field F", not as a property a
// node can report about itself.
type node struct {
	n        *tree_sitter.Node
	field    string
	hasField bool
}

func (n *node) Kind() string    { return n.n.Kind() }
func (n *node) IsNamed() bool   { return n.n.IsNamed() }
func (n *node) IsMissing() bool { return n.n.IsMissing() }
func (n *node) IsExtra() bool   { return n.n.IsExtra() }
func (n *node) IsError() bool   { return n.n.IsError() }
func (n *node) StartByte() int  { return int(n.n.StartByte()) }
func (n *node) EndByte() int    { return int(n.n.EndByte()) }
func (n *node) ChildCount() int { return int(n.n.ChildCount()) }

func (n *node) FieldName() (string, bool) { return n.field, n.hasField }

func (n *node) Child(k int) cst.ExternalNode {
	child := n.n.Child(uint(k))
	fieldName := n.n.FieldNameForChild(uint(k))
	return &node{n: child, field: fieldName, hasField: fieldName != ""}
}
