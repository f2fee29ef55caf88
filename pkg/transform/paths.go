package transform

import "strings"

type leafFunc func(value any) (any, error)

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// visit applies fn to every value addressed by segments below node, updating
// node in place.
func visit(node any, segments []string, fn leafFunc) (any, error) {
	switch n := node.(type) {
	case []any:
		for i, elem := range n {
			out, err := visit(elem, segments, fn)
			if err != nil {
				return nil, err
			}
			n[i] = out
		}
		return n, nil
	case map[string]any:
		child, ok := n[segments[0]]
		if !ok {
			return n, nil
		}
		var (
			out any
			err error
		)
		if len(segments) == 1 {
			out, err = eachLeaf(child, fn)
		} else {
			out, err = visit(child, segments[1:], fn)
		}
		if err != nil {
			return nil, err
		}
		n[segments[0]] = out
		return n, nil
	default:
		return node, nil
	}
}

// eachLeaf applies fn to value, or to each element when value is an array.
// Nulls are left alone.
func eachLeaf(value any, fn leafFunc) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			converted, err := eachLeaf(elem, fn)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	default:
		return fn(v)
	}
}
