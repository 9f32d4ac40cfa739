package conditions

import "fmt"

// Validate reports authoring problems in a condition tree: unknown
// predicates, malformed composites and unusable leaf values. An empty
// result means the tree is well formed.
func Validate(raw any) []string {
	return Problems(Parse(raw))
}

// Problems reports the authoring problems of an already parsed tree.
func Problems(node Node) []string {
	var problems []string

	walk(node, "$", &problems, 0)

	return problems
}

func walk(node Node, path string, problems *[]string, depth int) {
	if depth > MaxDepth {
		*problems = append(*problems, fmt.Sprintf("%s: condition tree deeper than %d levels", path, MaxDepth))

		return
	}

	switch n := node.(type) {
	case *And:
		if n != nil {
			walk(*n, path, problems, depth)
		}
	case *Or:
		if n != nil {
			walk(*n, path, problems, depth)
		}
	case *Not:
		if n != nil {
			walk(*n, path, problems, depth)
		}
	case *Leaf:
		if n != nil {
			walk(*n, path, problems, depth)
		}
	case *Invalid:
		if n != nil {
			walk(*n, path, problems, depth)
		}
	case And:
		for i, child := range n.Children {
			walk(child, fmt.Sprintf("%s.and[%d]", path, i), problems, depth+1)
		}
	case Or:
		for i, child := range n.Children {
			walk(child, fmt.Sprintf("%s.or[%d]", path, i), problems, depth+1)
		}
	case Not:
		if n.Child == nil {
			*problems = append(*problems, path+`.not: "not" expects a condition`)

			return
		}

		walk(n.Child, path+".not", problems, depth+1)
	case Invalid:
		*problems = append(*problems, path+": "+n.Reason)
	case Leaf:
		if problem := checkLeaf(n); problem != "" {
			*problems = append(*problems, fmt.Sprintf("%s.%s: %s", path, n.Kind, problem))
		}
	}
}

func checkLeaf(leaf Leaf) string {
	if !leaf.Kind.Known() {
		return "unknown predicate"
	}

	if leaf.Kind == KindTimeRange {
		if _, err := parseTimeWindow(leaf.Value); err != nil {
			return err.Error()
		}

		return ""
	}

	values, ok := stringValues(leaf.Value)
	if !ok {
		return "value must be a string or a list of strings"
	}

	for _, value := range values {
		if value == "" {
			return "value must not be empty"
		}
	}

	return ""
}
