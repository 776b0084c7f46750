package sqltext

import (
	"strings"
)

// Lexer tokenizes BigQuery SQL input.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
	line    int  // current line number (1-based)
	col     int  // current column number (1-based)
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
	}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++

	if l.ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
}

func (l *Lexer) peekChar() byte {
	return l.peekAt(0)
}

// peekAt returns the byte n positions after the next one.
func (l *Lexer) peekAt(n int) byte {
	if l.readPos+n >= len(l.input) {
		return 0
	}
	return l.input[l.readPos+n]
}

func (l *Lexer) currentPos() Position {
	return Position{Line: l.line, Column: l.col, Offset: l.pos}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.currentPos()

	switch ch := l.ch; {
	case ch == 0:
		return Token{Type: TOKEN_EOF, Pos: pos}
	case ch == '\'' || ch == '"':
		return Token{Type: TOKEN_STRING, Literal: l.readString(false), Pos: pos}
	case ch == '`':
		return Token{Type: TOKEN_IDENT, Literal: l.readQuotedIdentifier(), Quoted: true, Pos: pos}
	case ch == '@':
		return Token{Type: TOKEN_PARAM, Literal: l.readParam(), Pos: pos}
	case ch == '?':
		l.readChar()
		return Token{Type: TOKEN_PARAM, Literal: "?", Pos: pos}
	case isDigit(ch) || (ch == '.' && isDigit(l.peekChar())):
		return Token{Type: TOKEN_NUMBER, Literal: l.readNumber(), Pos: pos}
	case isLetter(ch) || ch == '_':
		if raw, ok := l.stringPrefix(); ok {
			return Token{Type: TOKEN_STRING, Literal: l.readString(raw), Pos: pos}
		}
		lit := l.readIdentifier()
		if IsKeyword(lit) {
			return Token{Type: TOKEN_KEYWORD, Literal: lit, Pos: pos}
		}
		return Token{Type: TOKEN_IDENT, Literal: lit, Pos: pos}
	}

	if tt, ok := punctuation[l.ch]; ok {
		lit := string(l.ch)
		l.readChar()
		return Token{Type: tt, Literal: lit, Pos: pos}
	}

	if op := l.readOperator(); op != "" {
		return Token{Type: TOKEN_OPERATOR, Literal: op, Pos: pos}
	}

	lit := string(l.ch)
	l.readChar()
	return Token{Type: TOKEN_ILLEGAL, Literal: lit, Pos: pos}
}

var punctuation = map[byte]TokenType{
	'.': TOKEN_DOT,
	',': TOKEN_COMMA,
	';': TOKEN_SEMICOLON,
	':': TOKEN_COLON,
	'(': TOKEN_LPAREN,
	')': TOKEN_RPAREN,
	'[': TOKEN_LBRACKET,
	']': TOKEN_RBRACKET,
}

// Longest operators first.
var operators = []string{
	"!=", "<>", "<=", ">=", "||", "<<", ">>", "=>",
	"+", "-", "*", "/", "%", "=", "<", ">", "&", "|", "^", "~",
}

func (l *Lexer) readOperator() string {
	rest := l.input[l.pos:]
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			for range op {
				l.readChar()
			}
			return op
		}
	}
	return ""
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f' || l.ch == '\v' {
			l.readChar()
		}

		switch {
		case l.ch == '-' && l.peekChar() == '-', l.ch == '#':
			l.skipLineComment()
			continue
		case l.ch == '/' && l.peekChar() == '*':
			l.skipBlockComment()
			continue
		}

		break
	}
}

func (l *Lexer) skipLineComment() {
	for l.ch != '\n' && l.ch != 0 {
		l.readChar()
	}
}

func (l *Lexer) skipBlockComment() {
	l.readChar() // skip '/'
	l.readChar() // skip '*'

	for {
		if l.ch == 0 {
			return // unterminated
		}
		if l.ch == '*' && l.peekChar() == '/' {
			l.readChar()
			l.readChar()
			return
		}
		l.readChar()
	}
}

// stringPrefix consumes an r/b/rb/br prefix when it is immediately
// followed by a quote and reports whether the string is raw.
func (l *Lexer) stringPrefix() (raw bool, ok bool) {
	isPrefix := func(c byte) bool {
		return c == 'r' || c == 'R' || c == 'b' || c == 'B'
	}
	isQuote := func(c byte) bool { return c == '\'' || c == '"' }

	n := 0
	switch c0, c1 := l.ch, l.peekChar(); {
	case isPrefix(c0) && isQuote(c1):
		n = 1
	case isPrefix(c0) && isPrefix(c1) && c0|0x20 != c1|0x20 && isQuote(l.peekAt(1)):
		n = 2
	default:
		return false, false
	}
	for range n {
		raw = raw || l.ch == 'r' || l.ch == 'R'
		l.readChar()
	}
	return raw, true
}

// readString reads a single, double or triple quoted string body.
// Backslash escapes are skipped unless raw is set.
func (l *Lexer) readString(raw bool) string {
	quote := l.ch
	triple := l.peekChar() == quote && l.peekAt(1) == quote
	if triple {
		l.readChar()
		l.readChar()
	}
	l.readChar() // opening quote

	var result strings.Builder
	for l.ch != 0 {
		if l.ch == '\\' && !raw && l.peekChar() != 0 {
			result.WriteByte(l.ch)
			l.readChar()
			result.WriteByte(l.ch)
			l.readChar()
			continue
		}
		if l.ch == quote {
			if !triple {
				l.readChar()
				break
			}
			if l.peekChar() == quote && l.peekAt(1) == quote {
				l.readChar()
				l.readChar()
				l.readChar()
				break
			}
		}
		if l.ch == '\n' && !triple {
			break // unterminated single-line string
		}
		result.WriteByte(l.ch)
		l.readChar()
	}
	return result.String()
}

// readQuotedIdentifier reads a backtick identifier body.
func (l *Lexer) readQuotedIdentifier() string {
	l.readChar() // skip opening backtick

	var result strings.Builder
	for l.ch != 0 && l.ch != '`' {
		if l.ch == '\\' && l.peekChar() != 0 {
			result.WriteByte(l.ch)
			l.readChar()
		}
		result.WriteByte(l.ch)
		l.readChar()
	}
	if l.ch == '`' {
		l.readChar()
	}
	return result.String()
}

func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readParam reads @name or @@name.
func (l *Lexer) readParam() string {
	start := l.pos
	l.readChar()
	if l.ch == '@' {
		l.readChar()
	}
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readNumber reads integer, decimal, scientific and hex literals.
func (l *Lexer) readNumber() string {
	start := l.pos

	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar()
		l.readChar()
		for isHexDigit(l.ch) {
			l.readChar()
		}
		return l.input[start:l.pos]
	}

	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if (l.ch == 'e' || l.ch == 'E') &&
		(isDigit(l.peekChar()) || ((l.peekChar() == '+' || l.peekChar() == '-') && isDigit(l.peekAt(1)))) {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[start:l.pos]
}

// isLetter treats every non-ASCII byte as a letter so UTF-8 identifiers stay whole.
func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch >= 0x80
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isHexDigit(ch byte) bool {
	return isDigit(ch) || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

// Tokenize returns all tokens from the input, ending with TOKEN_EOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TOKEN_EOF {
			break
		}
	}
	return tokens
}
