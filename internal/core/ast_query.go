// Package core runs tree-sitter pattern queries over already-parsed files.
package core

import (
	"fmt"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/standardbeagle/semidx/internal/debug"
	"github.com/standardbeagle/semidx/internal/errors"
	"github.com/standardbeagle/semidx/internal/parser"
	"github.com/standardbeagle/semidx/internal/types"
)

const opTreeSitterQuery = "tree_sitter_query"

// QueryTarget is one parsed file to run a query against. The caller keeps
// Tree and Content alive and unmodified for the duration of the call.
type QueryTarget struct {
	Path     string
	Language parser.Language
	Content  []byte
	Tree     *tree_sitter.Tree
}

// ExecuteQuery compiles queryStr once for each distinct language among
// targets, then runs it over every target in order.
//
// Compilation happens for all languages before any execution. If it fails for
// any language the call returns an invalid_query error and no matches, even
// when other languages compiled. Compiled queries are not kept between calls.
// Matches without captures are dropped.
func ExecuteQuery(queryStr string, targets []QueryTarget) ([]types.QueryMatch, error) {
	queries := make(map[parser.Language]*tree_sitter.Query)
	defer func() {
		for _, q := range queries {
			q.Close()
		}
	}()

	for _, target := range targets {
		if _, done := queries[target.Language]; done {
			continue
		}
		query, err := compile(queryStr, target.Language)
		if err != nil {
			return nil, err
		}
		queries[target.Language] = query
	}

	var results []types.QueryMatch
	for _, target := range targets {
		if target.Tree == nil {
			continue
		}
		results = append(results, runQuery(queries[target.Language], target)...)
	}
	return results, nil
}

// ValidateQuery compiles queryStr for lang and discards it. It lets a caller
// report a malformed query even when no file of lang is indexed.
func ValidateQuery(queryStr string, lang parser.Language) error {
	query, err := compile(queryStr, lang)
	if err != nil {
		return err
	}
	query.Close()
	return nil
}

func compile(queryStr string, lang parser.Language) (*tree_sitter.Query, error) {
	grammar, ok := parser.Grammar(lang)
	if !ok {
		return nil, errors.Internal(opTreeSitterQuery, fmt.Errorf("no grammar for %s", lang))
	}
	query, qerr := tree_sitter.NewQuery(grammar, queryStr)
	if qerr != nil {
		debug.LogQuery("query does not compile for %s: %s", lang, qerr.Message)
		return nil, errors.InvalidQuery(opTreeSitterQuery,
			fmt.Sprintf("query does not compile for %s at row %d, column %d: %s", lang, qerr.Row, qerr.Column, qerr.Message))
	}
	return query, nil
}

// runQuery works on a copy of the tree: copies are cheap and let concurrent
// readers query the same file.
func runQuery(query *tree_sitter.Query, target QueryTarget) []types.QueryMatch {
	tree := target.Tree.Clone()
	defer tree.Close()

	qc := tree_sitter.NewQueryCursor()
	defer qc.Close()

	captureNames := query.CaptureNames()
	content := target.Content
	matches := qc.Matches(query, tree.RootNode(), content)

	var out []types.QueryMatch
	for {
		match := matches.Next()
		if match == nil {
			break
		}
		if len(match.Captures) == 0 {
			continue
		}

		captures := make([]types.QueryCapture, 0, len(match.Captures))
		for _, capture := range match.Captures {
			node := capture.Node
			var name string
			if int(capture.Index) < len(captureNames) {
				name = captureNames[capture.Index]
			}
			start, end := node.StartPosition(), node.EndPosition()
			captures = append(captures, types.QueryCapture{
				Name:        name,
				Kind:        node.Kind(),
				Text:        string(content[node.StartByte():node.EndByte()]),
				StartByte:   node.StartByte(),
				EndByte:     node.EndByte(),
				StartLine:   int(start.Row) + 1,
				EndLine:     int(end.Row) + 1,
				StartColumn: int(start.Column),
				EndColumn:   int(end.Column),
			})
		}

		out = append(out, types.QueryMatch{
			FilePath:     target.Path,
			Language:     string(target.Language),
			PatternIndex: int(match.PatternIndex),
			Captures:     captures,
		})
	}
	return out
}
