package models

import (
	"fmt"
)

// TreeNodeType represents the type of tree node
type TreeNodeType string

const (
	TreeNodeTypeTable       TreeNodeType = "table"
	TreeNodeTypeColumnGroup TreeNodeType = "column-group"
	TreeNodeTypeIndexGroup  TreeNodeType = "index-group"
	TreeNodeTypeColumn      TreeNodeType = "column"
	TreeNodeTypeIndex       TreeNodeType = "index"
)

// Group labels shown under every table node.
const (
	ColumnGroupLabel = "Columns"
	IndexGroupLabel  = "Indexes"
)

// TreeNode represents a node in the schema tree
type TreeNode struct {
	ID       string       `json:"id"`       // Unique identifier (e.g., "table:orders", "column:orders.id")
	Type     TreeNodeType `json:"type"`     // Type of node
	Label    string       `json:"label"`    // Display text
	Parent   *TreeNode    `json:"-"`        // Parent node (nil for tables)
	Children []*TreeNode  `json:"children"` // Child nodes, in display order
}

// NewTreeNode creates a new tree node
func NewTreeNode(id string, nodeType TreeNodeType, label string) *TreeNode {
	return &TreeNode{
		ID:       id,
		Type:     nodeType,
		Label:    label,
		Children: make([]*TreeNode, 0),
	}
}

// Accepts reports whether a node of the given type may be a child of n.
// Tables hold the two groups, groups hold their leaves, leaves hold nothing.
func (n *TreeNode) Accepts(child TreeNodeType) bool {
	switch n.Type {
	case TreeNodeTypeTable:
		return child == TreeNodeTypeColumnGroup || child == TreeNodeTypeIndexGroup
	case TreeNodeTypeColumnGroup:
		return child == TreeNodeTypeColumn
	case TreeNodeTypeIndexGroup:
		return child == TreeNodeTypeIndex
	default:
		return false
	}
}

// AddChild adds a child node to this node
func (n *TreeNode) AddChild(child *TreeNode) {
	child.Parent = n
	n.Children = append(n.Children, child)
}

// Child returns the first direct child of the given type
func (n *TreeNode) Child(nodeType TreeNodeType) *TreeNode {
	for _, c := range n.Children {
		if c != nil && c.Type == nodeType {
			return c
		}
	}
	return nil
}

// Validate walks the subtree and reports the first kind violation
func (n *TreeNode) Validate() error {
	for _, c := range n.Children {
		if c == nil {
			return fmt.Errorf("node %s has a nil child", n.ID)
		}
		if !n.Accepts(c.Type) {
			return fmt.Errorf("node %s (%s) cannot contain %s (%s)", n.ID, n.Type, c.ID, c.Type)
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy of the subtree rooted at n.
// The copy's root has no parent.
func (n *TreeNode) Clone() *TreeNode {
	cp := &TreeNode{
		ID:       n.ID,
		Type:     n.Type,
		Label:    n.Label,
		Children: make([]*TreeNode, 0, len(n.Children)),
	}
	for _, c := range n.Children {
		cp.AddChild(c.Clone())
	}
	return cp
}

// GetPath returns the labels from the table down to this node
// For example: ["orders", "Columns", "id"]
func (n *TreeNode) GetPath() []string {
	path := make([]string, 0)
	for current := n; current != nil; current = current.Parent {
		path = append([]string{current.Label}, path...)
	}
	return path
}

// ColumnMetadata describes one column of a table
type ColumnMetadata struct {
	Name     string `json:"name"`
	DataType string `json:"dataType"`
	Nullable bool   `json:"nullable"`
}

// IndexMetadata describes one index of a table
type IndexMetadata struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
	IsUnique   bool   `json:"isUnique"`
	IsPrimary  bool   `json:"isPrimary"`
}

// TableMetadata is the table-level catalog record the schema service returns
type TableMetadata struct {
	Schema  string           `json:"schema"`
	Name    string           `json:"name"`
	Columns []ColumnMetadata `json:"columns"`
	Indexes []IndexMetadata  `json:"indexes"`
}

// QualifiedName returns "schema.name", or just the name for the public schema
func (t TableMetadata) QualifiedName() string {
	if t.Schema == "" || t.Schema == "public" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// BuildTableNodes creates table nodes with their column and index groups
func BuildTableNodes(tables []TableMetadata) []*TreeNode {
	nodes := make([]*TreeNode, 0, len(tables))

	for _, t := range tables {
		name := t.QualifiedName()
		table := NewTreeNode(fmt.Sprintf("table:%s", name), TreeNodeTypeTable, name)

		columns := NewTreeNode(fmt.Sprintf("columns:%s", name), TreeNodeTypeColumnGroup, ColumnGroupLabel)
		for _, col := range t.Columns {
			columns.AddChild(NewTreeNode(
				fmt.Sprintf("column:%s.%s", name, col.Name),
				TreeNodeTypeColumn,
				col.Name,
			))
		}

		indexes := NewTreeNode(fmt.Sprintf("indexes:%s", name), TreeNodeTypeIndexGroup, IndexGroupLabel)
		for _, idx := range t.Indexes {
			indexes.AddChild(NewTreeNode(
				fmt.Sprintf("index:%s.%s", name, idx.Name),
				TreeNodeTypeIndex,
				idx.Name,
			))
		}

		table.AddChild(columns)
		table.AddChild(indexes)
		nodes = append(nodes, table)
	}

	return nodes
}
