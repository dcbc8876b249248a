package models

// TokenKind is the value type annotation carried by a placeholder.
type TokenKind string

const (
	TokenKindStr   TokenKind = "str"
	TokenKindML    TokenKind = "ml"
	TokenKindInt   TokenKind = "int"
	TokenKindFloat TokenKind = "float"
)

// TokenSpec describes one placeholder discovered in a graph.
type TokenSpec struct {
	Name      string    `json:"name"`
	Raw       string    `json:"raw"` // first occurrence, e.g. "%%SEED:int%%"
	Kind      TokenKind `json:"kind"`
	Multiline bool      `json:"multiline"`
}
