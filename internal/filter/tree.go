// Package filter prunes the schema tree down to the nodes matching a search query.
package filter

import (
	"strings"

	"github.com/rebeliceyang/dataops/internal/models"
)

// SearchQuery represents a parsed search query
type SearchQuery struct {
	Pattern    string // The search pattern (after removing the type prefix)
	TypeFilter string // Normalized type filter (e.g., "table", "column")
}

// Type prefix mappings
var typePrefixes = []struct {
	prefix   string
	typeName string
}{
	// Long prefixes first so "table:" is not read as "t:" + "able:"
	{"table:", "table"},
	{"column:", "column"},
	{"index:", "index"},
	{"col:", "column"},
	{"idx:", "index"},
	{"t:", "table"},
}

// nodeTypeMapping maps type filter strings to TreeNodeTypes
var nodeTypeMapping = map[string]models.TreeNodeType{
	"table":  models.TreeNodeTypeTable,
	"column": models.TreeNodeTypeColumn,
	"index":  models.TreeNodeTypeIndex,
}

// Options controls how patterns are compared against node labels
type Options struct {
	CaseInsensitive bool
}

// ParseQuery parses a search query string into structured form.
// Only lowercase prefixes select a type; a leading backslash makes the rest
// of the query literal.
// Examples:
//   - "ord" → {Pattern: "ord", TypeFilter: ""}
//   - "t:ord" → {Pattern: "ord", TypeFilter: "table"}
//   - "col:id" → {Pattern: "id", TypeFilter: "column"}
//   - "T:ord" → {Pattern: "T:ord", TypeFilter: ""}
//   - `\t:ord` → {Pattern: "t:ord", TypeFilter: ""}
func ParseQuery(query string) SearchQuery {
	q := SearchQuery{}

	if literal, ok := strings.CutPrefix(query, `\`); ok {
		q.Pattern = literal
		return q
	}

	for _, p := range typePrefixes {
		if strings.HasPrefix(query, p.prefix) {
			q.TypeFilter = p.typeName
			query = query[len(p.prefix):]
			break
		}
	}

	q.Pattern = query
	return q
}

// Matches reports whether a single node satisfies the query, ignoring descendants
func (q SearchQuery) Matches(node *models.TreeNode, opts Options) bool {
	if q.TypeFilter != "" {
		if want, ok := nodeTypeMapping[q.TypeFilter]; !ok || node.Type != want {
			return false
		}
	}

	if opts.CaseInsensitive {
		return strings.Contains(strings.ToLower(node.Label), strings.ToLower(q.Pattern))
	}
	return strings.Contains(node.Label, q.Pattern)
}

// Tree returns the nodes of tree that match query, plus the ancestors needed
// to reach them. An empty query returns tree itself.
//
// The input is never modified; every returned node is a fresh copy, so the
// same canonical tree can be filtered again with any other query.
func Tree(tree []*models.TreeNode, query string, opts Options) []*models.TreeNode {
	if query == "" {
		return tree
	}

	q := ParseQuery(query)
	out := make([]*models.TreeNode, 0)
	for _, node := range tree {
		if kept := prune(node, q, opts); kept != nil {
			out = append(out, kept)
		}
	}
	return out
}

// prune copies node keeping only matching descendants; nil when nothing in
// the subtree matches
func prune(node *models.TreeNode, q SearchQuery, opts Options) *models.TreeNode {
	if node == nil {
		return nil
	}

	var kept []*models.TreeNode
	for _, child := range node.Children {
		if c := prune(child, q, opts); c != nil {
			kept = append(kept, c)
		}
	}

	if len(kept) == 0 && !q.Matches(node, opts) {
		return nil
	}

	cp := models.NewTreeNode(node.ID, node.Type, node.Label)
	for _, c := range kept {
		cp.AddChild(c)
	}
	return cp
}
