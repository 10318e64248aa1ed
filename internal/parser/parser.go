// Package parser turns source files into tree-sitter syntax trees and splits
// them into semantic chunks.
package parser

import (
	"fmt"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// ParsedFile is one file's content and syntax tree. The tree is owned by the
// ParsedFile; Close releases it.
type ParsedFile struct {
	Path     string
	Language Language
	Content  []byte
	Tree     *tree_sitter.Tree
}

// Close frees the syntax tree
func (f *ParsedFile) Close() {
	if f != nil && f.Tree != nil {
		f.Tree.Close()
		f.Tree = nil
	}
}

// Parsers are not safe for concurrent use, so each language keeps a pool and
// every goroutine borrows its own.
var (
	poolsMu sync.Mutex
	pools   = map[Language]*sync.Pool{}
)

func poolFor(lang Language) (*sync.Pool, error) {
	grammar, ok := Grammar(lang)
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", lang)
	}

	poolsMu.Lock()
	defer poolsMu.Unlock()
	if p, ok := pools[lang]; ok {
		return p, nil
	}
	p := &sync.Pool{
		New: func() any {
			tsParser := tree_sitter.NewParser()
			if err := tsParser.SetLanguage(grammar); err != nil {
				tsParser.Close()
				return nil
			}
			return tsParser
		},
	}
	pools[lang] = p
	return p, nil
}

// ParseAs parses content with an explicit grammar.
func ParseAs(path string, lang Language, content []byte) (*ParsedFile, error) {
	pool, err := poolFor(lang)
	if err != nil {
		return nil, err
	}
	tsParser, _ := pool.Get().(*tree_sitter.Parser)
	if tsParser == nil {
		return nil, fmt.Errorf("grammar %s is incompatible with the tree-sitter runtime", lang)
	}
	defer pool.Put(tsParser)

	tree := tsParser.Parse(content, nil)
	if tree == nil {
		return nil, fmt.Errorf("parse %s: parser returned no tree", path)
	}
	return &ParsedFile{Path: path, Language: lang, Content: content, Tree: tree}, nil
}

// Parse picks the grammar from the path's extension.
func Parse(path string, content []byte) (*ParsedFile, error) {
	lang, ok := DetectLanguage(path)
	if !ok {
		return nil, fmt.Errorf("no grammar for %s", path)
	}
	return ParseAs(path, lang, content)
}
