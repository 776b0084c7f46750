package sqltext

import (
	"strings"
)

// Placeholder replaces every numeric and string literal in normalized text.
const Placeholder = "?"

// Normalize returns the canonical form of sql: comments dropped, keywords
// lower-cased, identifiers kept as written, literals replaced by
// Placeholder, trailing semicolons removed and whitespace collapsed.
// Identical queries that differ only in layout or literal values
// normalize to the same string.
func Normalize(sql string) string {
	tokens := Tokenize(sql)

	end := len(tokens) - 1 // drop EOF
	for end > 0 && tokens[end-1].Type == TOKEN_SEMICOLON {
		end--
	}

	var b strings.Builder
	var prev TokenType = TOKEN_EOF
	for i := 0; i < end; i++ {
		tok := tokens[i]
		if i > 0 && needsSpace(prev, tok.Type) {
			b.WriteByte(' ')
		}
		b.WriteString(render(tok))
		prev = tok.Type
	}
	return b.String()
}

func render(tok Token) string {
	switch tok.Type {
	case TOKEN_KEYWORD:
		return strings.ToLower(tok.Literal)
	case TOKEN_NUMBER, TOKEN_STRING:
		return Placeholder
	case TOKEN_IDENT:
		if tok.Quoted {
			return "`" + tok.Literal + "`"
		}
		return tok.Literal
	default:
		return tok.Literal
	}
}

// needsSpace decides the separator between two adjacent tokens. Paths,
// calls and subscripts are kept tight so that a.b.c and f(x) survive intact.
func needsSpace(prev, next TokenType) bool {
	switch prev {
	case TOKEN_DOT, TOKEN_LPAREN, TOKEN_LBRACKET:
		return false
	}
	switch next {
	case TOKEN_DOT, TOKEN_COMMA, TOKEN_RPAREN, TOKEN_RBRACKET, TOKEN_SEMICOLON:
		return false
	case TOKEN_LPAREN, TOKEN_LBRACKET:
		return prev != TOKEN_IDENT
	}
	return true
}

// shapeExcluded are the punctuation tokens that carry no similarity signal.
var shapeExcluded = map[TokenType]bool{
	TOKEN_EOF:       true,
	TOKEN_COMMA:     true,
	TOKEN_LPAREN:    true,
	TOKEN_RPAREN:    true,
	TOKEN_DOT:       true,
	TOKEN_SEMICOLON: true,
}

// Shape splits normalized text into the tokens compared by similarity
// scorers. Punctuation is excluded; duplicates are preserved.
func Shape(normalized string) []string {
	var out []string
	for _, tok := range Tokenize(normalized) {
		if shapeExcluded[tok.Type] {
			continue
		}
		out = append(out, render(tok))
	}
	return out
}
