package workflow

import "strings"

// FindStartNodes returns nodes without incoming edges, in declaration order.
func FindStartNodes(nodes []Node, edges []Edge) []Node {
	targeted := make(map[string]struct{}, len(edges))
	for _, e := range edges {
		targeted[e.Target] = struct{}{}
	}
	var out []Node
	for _, n := range nodes {
		if _, ok := targeted[n.ID]; !ok {
			out = append(out, n)
		}
	}
	return out
}

// FindChildNodes returns the targets of edges leaving nodeID in edge order.
// A target reached by several edges is returned once.
func FindChildNodes(nodes []Node, edges []Edge, nodeID string) []Node {
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	seen := map[string]struct{}{}
	var out []Node
	for _, e := range edges {
		if e.Source != nodeID {
			continue
		}
		if _, dup := seen[e.Target]; dup {
			continue
		}
		child, ok := byID[e.Target]
		if !ok {
			continue
		}
		seen[e.Target] = struct{}{}
		out = append(out, child)
	}
	return out
}

// EdgeBetween returns the first edge from source to target.
func EdgeBetween(edges []Edge, source, target string) (Edge, bool) {
	for _, e := range edges {
		if e.Source == source && e.Target == target {
			return e, true
		}
	}
	return Edge{}, false
}

// BranchAllowed applies True/False label gating against a parent output.
func BranchAllowed(edge Edge, output map[string]any) bool {
	var want bool
	switch strings.ToLower(strings.TrimSpace(edge.Label)) {
	case "true":
		want = true
	case "false":
		want = false
	default:
		return true
	}
	got, ok := output["conditionResult"].(bool)
	return ok && got == want
}
