// Package sqltext tokenizes BigQuery Standard SQL text and reduces it to a
// canonical form used for query similarity.
package sqltext

import (
	"fmt"
	"strings"
)

// TokenType represents the type of a lexical token.
type TokenType int

//nolint:revive // TOKEN_* names are intentionally ALL_CAPS for SQL token conventions
const (
	TOKEN_EOF TokenType = iota
	TOKEN_ILLEGAL

	TOKEN_IDENT   // name, `project.dataset.table`
	TOKEN_KEYWORD // select, where, ...
	TOKEN_NUMBER  // 123, 4.5, 1e10, 0x1F
	TOKEN_STRING  // 'a', "a", '''a''', r'a', b"a"
	TOKEN_PARAM   // @name, @@system_var, ?

	TOKEN_OPERATOR  // + - * / % = != <> < > <= >= || << >> & | ^ ~ =>
	TOKEN_DOT       // .
	TOKEN_COMMA     // ,
	TOKEN_SEMICOLON // ;
	TOKEN_COLON     // :
	TOKEN_LPAREN    // (
	TOKEN_RPAREN    // )
	TOKEN_LBRACKET  // [
	TOKEN_RBRACKET  // ]
)

var tokenNames = map[TokenType]string{
	TOKEN_EOF:       "EOF",
	TOKEN_ILLEGAL:   "ILLEGAL",
	TOKEN_IDENT:     "IDENT",
	TOKEN_KEYWORD:   "KEYWORD",
	TOKEN_NUMBER:    "NUMBER",
	TOKEN_STRING:    "STRING",
	TOKEN_PARAM:     "PARAM",
	TOKEN_OPERATOR:  "OPERATOR",
	TOKEN_DOT:       ".",
	TOKEN_COMMA:     ",",
	TOKEN_SEMICOLON: ";",
	TOKEN_COLON:     ":",
	TOKEN_LPAREN:    "(",
	TOKEN_RPAREN:    ")",
	TOKEN_LBRACKET:  "[",
	TOKEN_RBRACKET:  "]",
}

// String returns a human-readable representation of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TOKEN(%d)", int(t))
}

// Token represents a lexical token with position information.
// For strings Literal holds the body without quotes or prefix; for
// backtick identifiers it holds the body and Quoted is set.
type Token struct {
	Type    TokenType
	Literal string
	Quoted  bool
	Pos     Position
}

// Position represents a location in the source text.
type Position struct {
	Line   int // 1-based line number
	Column int // 1-based column number
	Offset int // 0-based byte offset
}

// keywords holds the reserved words of BigQuery Standard SQL plus the
// statement and type words that commonly appear in transformation queries.
var keywords = map[string]struct{}{
	"all": {}, "and": {}, "any": {}, "array": {}, "as": {}, "asc": {},
	"assert_rows_modified": {}, "at": {}, "between": {}, "by": {}, "case": {},
	"cast": {}, "collate": {}, "contains": {}, "create": {}, "cross": {},
	"cube": {}, "current": {}, "default": {}, "define": {}, "desc": {},
	"distinct": {}, "else": {}, "end": {}, "enum": {}, "escape": {},
	"except": {}, "exclude": {}, "exists": {}, "extract": {}, "false": {},
	"fetch": {}, "following": {}, "for": {}, "from": {}, "full": {},
	"group": {}, "grouping": {}, "groups": {}, "hash": {}, "having": {},
	"if": {}, "ignore": {}, "in": {}, "inner": {}, "intersect": {},
	"interval": {}, "into": {}, "is": {}, "join": {}, "lateral": {},
	"left": {}, "like": {}, "limit": {}, "lookup": {}, "merge": {},
	"natural": {}, "new": {}, "no": {}, "not": {}, "null": {}, "nulls": {},
	"of": {}, "offset": {}, "on": {}, "or": {}, "order": {}, "outer": {},
	"over": {}, "partition": {}, "preceding": {}, "proto": {}, "qualify": {},
	"range": {}, "recursive": {}, "respect": {}, "right": {}, "rollup": {},
	"rows": {}, "select": {}, "set": {}, "some": {}, "struct": {},
	"tablesample": {}, "then": {}, "to": {}, "treat": {}, "true": {},
	"unbounded": {}, "union": {}, "unnest": {}, "using": {}, "when": {},
	"where": {}, "window": {}, "with": {}, "within": {},

	// statements
	"insert": {}, "update": {}, "delete": {}, "replace": {}, "table": {},
	"view": {}, "values": {}, "matched": {}, "truncate": {}, "options": {},
	"temp": {}, "temporary": {}, "materialized": {}, "declare": {},
	"begin": {}, "commit": {}, "rollback": {}, "transaction": {},

	// types
	"int64": {}, "float64": {}, "numeric": {}, "bignumeric": {}, "bool": {},
	"string": {}, "bytes": {}, "date": {}, "datetime": {}, "time": {},
	"timestamp": {}, "geography": {}, "json": {},
}

// IsKeyword reports whether word (any case) is a keyword.
func IsKeyword(word string) bool {
	_, ok := keywords[strings.ToLower(word)]
	return ok
}
