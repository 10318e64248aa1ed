package parser

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unsafe"

	tree_sitter_zig "github.com/tree-sitter-grammars/tree-sitter-zig/bindings/go"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_csharp "github.com/tree-sitter/tree-sitter-c-sharp/bindings/go"
	tree_sitter_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_php "github.com/tree-sitter/tree-sitter-php/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// Language is the registry name of a grammar
type Language string

const (
	LanguageGo         Language = "go"
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguageTSX        Language = "tsx"
	LanguageRust       Language = "rust"
	LanguageJava       Language = "java"
	LanguageCpp        Language = "cpp"
	LanguageCSharp     Language = "csharp"
	LanguageZig        Language = "zig"
	LanguagePHP        Language = "php"
)

// languageSpec ties a grammar to its file extensions and to the query that
// marks semantic chunks. Chunk queries capture the chunk node as @chunk and
// optionally its identifier as @name.
type languageSpec struct {
	name       Language
	aliases    []string
	extensions []string
	grammar    func() unsafe.Pointer
	chunkQuery string

	once sync.Once
	lang *tree_sitter.Language
}

var languageSpecs = []*languageSpec{
	{
		name:       LanguageGo,
		aliases:    []string{"golang"},
		extensions: []string{".go"},
		grammar:    tree_sitter_go.Language,
		chunkQuery: `
        (function_declaration name: (identifier) @name) @chunk
        (method_declaration name: (field_identifier) @name) @chunk
        (type_declaration (type_spec name: (type_identifier) @name)) @chunk
    `,
	},
	{
		name:       LanguagePython,
		aliases:    []string{"py"},
		extensions: []string{".py"},
		grammar:    tree_sitter_python.Language,
		chunkQuery: `
        (function_definition name: (identifier) @name) @chunk
    `,
	},
	{
		name:       LanguageJavaScript,
		aliases:    []string{"js", "jsx"},
		extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
		grammar:    tree_sitter_javascript.Language,
		chunkQuery: `
        (function_declaration name: (identifier) @name) @chunk
        (generator_function_declaration name: (identifier) @name) @chunk
        (method_definition name: (property_identifier) @name) @chunk
        (lexical_declaration
            (variable_declarator
                name: (identifier) @name
                value: [(arrow_function) (function_expression)])) @chunk
    `,
	},
	{
		name:       LanguageTypeScript,
		aliases:    []string{"ts"},
		extensions: []string{".ts", ".mts", ".cts"},
		grammar:    tree_sitter_typescript.LanguageTypescript,
		chunkQuery: typescriptChunkQuery,
	},
	{
		name:       LanguageTSX,
		extensions: []string{".tsx"},
		grammar:    tree_sitter_typescript.LanguageTSX,
		chunkQuery: typescriptChunkQuery,
	},
	{
		name:       LanguageRust,
		aliases:    []string{"rs"},
		extensions: []string{".rs"},
		grammar:    tree_sitter_rust.Language,
		chunkQuery: `
        (function_item name: (identifier) @name) @chunk
        (struct_item name: (type_identifier) @name) @chunk
        (enum_item name: (type_identifier) @name) @chunk
        (trait_item name: (type_identifier) @name) @chunk
    `,
	},
	{
		name:       LanguageJava,
		extensions: []string{".java"},
		grammar:    tree_sitter_java.Language,
		chunkQuery: `
        (method_declaration name: (identifier) @name) @chunk
        (constructor_declaration name: (identifier) @name) @chunk
    `,
	},
	{
		name:       LanguageCpp,
		aliases:    []string{"c", "c++", "cxx"},
		extensions: []string{".cpp", ".cc", ".cxx", ".c", ".h", ".hpp"},
		grammar:    tree_sitter_cpp.Language,
		chunkQuery: `
        (function_definition declarator: (function_declarator declarator: (_) @name)) @chunk
    `,
	},
	{
		name:       LanguageCSharp,
		aliases:    []string{"c#", "cs"},
		extensions: []string{".cs"},
		grammar:    tree_sitter_csharp.Language,
		chunkQuery: `
        (method_declaration name: (identifier) @name) @chunk
        (constructor_declaration name: (identifier) @name) @chunk
    `,
	},
	{
		name:       LanguageZig,
		extensions: []string{".zig"},
		grammar:    tree_sitter_zig.Language,
		chunkQuery: `
        (function_declaration (identifier) @name) @chunk
    `,
	},
	{
		name:       LanguagePHP,
		extensions: []string{".php", ".phtml"},
		grammar:    tree_sitter_php.LanguagePHP,
		chunkQuery: `
        (function_definition name: (name) @name) @chunk
        (method_declaration name: (name) @name) @chunk
    `,
	},
}

const typescriptChunkQuery = `
        (function_declaration name: (identifier) @name) @chunk
        (generator_function_declaration name: (identifier) @name) @chunk
        (method_definition name: (property_identifier) @name) @chunk
        (interface_declaration name: (type_identifier) @name) @chunk
        (type_alias_declaration name: (type_identifier) @name) @chunk
        (enum_declaration name: (identifier) @name) @chunk
        (lexical_declaration
            (variable_declarator
                name: (identifier) @name
                value: [(arrow_function) (function_expression)])) @chunk
    `

var (
	byName      = map[string]*languageSpec{}
	byExtension = map[string]*languageSpec{}
)

func init() {
	for _, spec := range languageSpecs {
		byName[string(spec.name)] = spec
		for _, alias := range spec.aliases {
			byName[alias] = spec
		}
		for _, ext := range spec.extensions {
			byExtension[ext] = spec
		}
	}
}

func (s *languageSpec) language() *tree_sitter.Language {
	s.once.Do(func() {
		s.lang = tree_sitter.NewLanguage(s.grammar())
	})
	return s.lang
}

// DetectLanguage maps a file path to its grammar by extension.
func DetectLanguage(path string) (Language, bool) {
	spec, ok := byExtension[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return "", false
	}
	return spec.name, true
}

// ResolveLanguage accepts a language name, an alias or an extension with or
// without the leading dot ("go", "golang", ".go", "ts").
func ResolveLanguage(nameOrExt string) (Language, bool) {
	key := strings.ToLower(strings.TrimSpace(nameOrExt))
	if key == "" {
		return "", false
	}
	if spec, ok := byName[key]; ok {
		return spec.name, true
	}
	if !strings.HasPrefix(key, ".") {
		key = "." + key
	}
	if spec, ok := byExtension[key]; ok {
		return spec.name, true
	}
	return "", false
}

// Grammar returns the tree-sitter language for a registry name.
func Grammar(lang Language) (*tree_sitter.Language, bool) {
	spec, ok := byName[string(lang)]
	if !ok {
		return nil, false
	}
	return spec.language(), true
}

// SupportedLanguages lists registry names in sorted order.
func SupportedLanguages() []Language {
	out := make([]Language, 0, len(languageSpecs))
	for _, spec := range languageSpecs {
		out = append(out, spec.name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SupportedExtensions lists every extension with a grammar, sorted.
func SupportedExtensions() []string {
	out := make([]string, 0, len(byExtension))
	for ext := range byExtension {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
