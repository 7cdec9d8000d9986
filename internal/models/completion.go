package models

// SuggestionKind tags what a completion item refers to
type SuggestionKind string

const (
	SuggestionKeyword    SuggestionKind = "keyword"
	SuggestionTableName  SuggestionKind = "table"
	SuggestionColumnName SuggestionKind = "column"
)

// CompletionItemKind mirrors the host editor's item kinds.
// Only the values this server emits are listed.
type CompletionItemKind int

const (
	CompletionItemKindConstant CompletionItemKind = 14
	CompletionItemKindEnum     CompletionItemKind = 15
)

// CompletionItem is one suggestion handed to the host editor
type CompletionItem struct {
	Kind       SuggestionKind `json:"kind"`
	Label      string         `json:"label"`
	InsertText string         `json:"insertText"`
}

// EditorKind maps the suggestion to the kind the editor renders:
// names are constants, keywords are enums.
func (c CompletionItem) EditorKind() CompletionItemKind {
	if c.Kind == SuggestionKeyword {
		return CompletionItemKindEnum
	}
	return CompletionItemKindConstant
}
