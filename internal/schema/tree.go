package schema

import (
	"github.com/rebeliceyang/dataops/internal/models"
)

// BuildTree builds the table-level schema tree from catalog metadata.
// Each table gets a column group and an index group, in that order.
func BuildTree(tables []models.TableMetadata) []*models.TreeNode {
	return models.BuildTableNodes(tables)
}

// Validate checks the kind invariant of every table in the tree
func Validate(tree []*models.TreeNode) error {
	for _, node := range tree {
		if node == nil {
			continue
		}
		if err := node.Validate(); err != nil {
			return err
		}
	}
	return nil
}
