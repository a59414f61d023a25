package engine

import (
	"net/http"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
)

// operationInfo is what the engine needs to know about a document before
// handing it to the executor.
type operationInfo struct {
	Name  string
	Kind  ast.Operation
	Depth int
}

// inspectOperation parses query and describes the operation that would run.
func inspectOperation(query, operationName string) (*operationInfo, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return nil, &requestError{status: http.StatusBadRequest, errs: gqlerror.List{fromParseError(err)}}
	}

	op := selectOperation(doc, operationName)
	if op == nil {
		msg := "Must provide operation name if query contains multiple operations."
		if len(doc.Operations) == 0 {
			msg = "Document contains no operations."
		} else if operationName != "" {
			msg = `Unknown operation named "` + operationName + `".`
		}
		return nil, newRequestError(http.StatusBadRequest, CodeValidationFailed, msg)
	}

	fragments := make(map[string]*ast.FragmentDefinition, len(doc.Fragments))
	for _, fragment := range doc.Fragments {
		fragments[fragment.Name] = fragment
	}

	return &operationInfo{
		Name:  op.Name,
		Kind:  op.Operation,
		Depth: newDepthWalker(fragments).selectionSetDepth(op.SelectionSet),
	}, nil
}

func selectOperation(doc *ast.QueryDocument, operationName string) *ast.OperationDefinition {
	if len(doc.Operations) == 0 {
		return nil
	}
	if operationName != "" {
		for _, op := range doc.Operations {
			if op.Name == operationName {
				return op
			}
		}
		return nil
	}
	if len(doc.Operations) == 1 {
		return doc.Operations[0]
	}
	return nil
}

// depthWalker counts nested field levels. Each fragment is measured once and
// cached by name; a spread already on the current path contributes nothing.
type depthWalker struct {
	fragments map[string]*ast.FragmentDefinition
	depths    map[string]int
	visiting  map[string]bool
}

func newDepthWalker(fragments map[string]*ast.FragmentDefinition) *depthWalker {
	return &depthWalker{
		fragments: fragments,
		depths:    make(map[string]int, len(fragments)),
		visiting:  make(map[string]bool),
	}
}

func (w *depthWalker) selectionSetDepth(set ast.SelectionSet) int {
	maxDepth := 0
	for _, sel := range set {
		var childDepth int
		switch s := sel.(type) {
		case *ast.Field:
			childDepth = 1
			if len(s.SelectionSet) > 0 {
				childDepth += w.selectionSetDepth(s.SelectionSet)
			}
		case *ast.InlineFragment:
			childDepth = w.selectionSetDepth(s.SelectionSet)
		case *ast.FragmentSpread:
			childDepth = w.fragmentDepth(s.Name)
		}
		if childDepth > maxDepth {
			maxDepth = childDepth
		}
	}
	return maxDepth
}

func (w *depthWalker) fragmentDepth(name string) int {
	if depth, ok := w.depths[name]; ok {
		return depth
	}
	fragment := w.fragments[name]
	if fragment == nil || w.visiting[name] {
		return 0
	}
	w.visiting[name] = true
	depth := w.selectionSetDepth(fragment.SelectionSet)
	delete(w.visiting, name)
	w.depths[name] = depth
	return depth
}
