//go:build cgo

package syntax

import (
	"fmt"
	"sort"
	"strings"
	"unsafe"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_bash "github.com/tree-sitter/tree-sitter-bash/bindings/go"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// Validator checks code for syntax errors with tree-sitter grammars. It is
// stateless apart from the grammar table and safe for concurrent use; each
// call builds its own parser.
type Validator struct {
	languages map[string]unsafe.Pointer
}

// NewValidator creates a validator for bash, go, python and javascript/typescript.
func NewValidator() *Validator {
	return &Validator{
		languages: map[string]unsafe.Pointer{
			"bash":   tree_sitter_bash.Language(),
			"go":     tree_sitter_go.Language(),
			"python": tree_sitter_python.Language(),
			// The TypeScript grammar is a superset that also accepts plain JS.
			"javascript": tree_sitter_typescript.LanguageTypescript(),
			"typescript": tree_sitter_typescript.LanguageTypescript(),
		},
	}
}

// Available reports whether real parsing is compiled in.
func (v *Validator) Available() bool {
	return true
}

// SupportsLanguage checks if the validator has a grammar for language.
func (v *Validator) SupportsLanguage(language string) bool {
	_, ok := v.languages[NormalizeLanguage(language)]
	return ok
}

// Validate parses code and collects ERROR and MISSING nodes.
func (v *Validator) Validate(code string, language string) (*ValidationResult, error) {
	language = NormalizeLanguage(language)

	if strings.TrimSpace(code) == "" {
		return &ValidationResult{Valid: true, Language: language}, nil
	}

	lang, ok := v.languages[language]
	if !ok {
		return nil, fmt.Errorf("language not supported for validation: %s (supported: %s)",
			language, strings.Join(v.supported(), ", "))
	}

	parser := tree_sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(tree_sitter.NewLanguage(lang)); err != nil {
		return nil, fmt.Errorf("failed to set parser language: %w", err)
	}

	source := []byte(code)
	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("failed to parse %s source", language)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || !root.HasError() {
		return &ValidationResult{Valid: true, Language: language, ParsedBytes: len(source)}, nil
	}

	errs := collectErrors(root, source)
	return &ValidationResult{
		Valid:       false,
		Errors:      errs,
		Language:    language,
		ParsedBytes: len(source),
	}, nil
}

var unquoteCommand = strings.NewReplacer(`"`, "", `'`, "", `\`, "")

// CommandNames parses script as bash and returns the text of every
// command_name node with quoting removed, in source order.
func (v *Validator) CommandNames(script string) ([]string, error) {
	parser := tree_sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(tree_sitter.NewLanguage(v.languages["bash"])); err != nil {
		return nil, fmt.Errorf("failed to set parser language: %w", err)
	}

	source := []byte(script)
	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("failed to parse bash source")
	}
	defer tree.Close()

	var names []string
	var walk func(n *tree_sitter.Node)
	walk = func(n *tree_sitter.Node) {
		if n == nil {
			return
		}
		if n.Kind() == "command_name" {
			if start, end := n.StartByte(), n.EndByte(); start < end && end <= uint(len(source)) {
				names = append(names, unquoteCommand.Replace(string(source[start:end])))
			}
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			walk(n.Child(i))
		}
	}
	walk(tree.RootNode())
	return names, nil
}

func (v *Validator) supported() []string {
	names := make([]string, 0, len(v.languages))
	for name := range v.languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func collectErrors(root *tree_sitter.Node, source []byte) []SyntaxError {
	var errs []SyntaxError

	var walk func(n *tree_sitter.Node)
	walk = func(n *tree_sitter.Node) {
		if n == nil {
			return
		}
		switch {
		case n.IsMissing():
			errs = append(errs, newSyntaxError(n, "MISSING", fmt.Sprintf("missing %s", n.Kind())))
		case n.IsError():
			errs = append(errs, newSyntaxError(n, "ERROR", errorMessage(n, source)))
		}
		if !n.HasError() {
			return
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)

	if len(errs) == 0 {
		// Error recovery hid the offending node; report the tree as a whole.
		errs = append(errs, newSyntaxError(root, "ERROR", "syntax error"))
	}
	return errs
}

func newSyntaxError(n *tree_sitter.Node, kind, message string) SyntaxError {
	pos := n.StartPosition()
	return SyntaxError{
		Line:      int(pos.Row) + 1,
		Column:    int(pos.Column) + 1,
		Message:   message,
		ErrorNode: kind,
	}
}

func errorMessage(n *tree_sitter.Node, source []byte) string {
	start, end := n.StartByte(), n.EndByte()
	if start >= end || end > uint(len(source)) {
		return "syntax error"
	}
	text := string(source[start:end])
	if len(text) > 40 {
		text = text[:40] + "..."
	}
	return fmt.Sprintf("syntax error near %q", text)
}
