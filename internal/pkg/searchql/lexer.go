package searchql

import (
	"fmt"
	"strings"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIdent
	TokenString
	TokenColon
	TokenLParen
	TokenRParen
	TokenAnd
	TokenOr
	TokenNot
	TokenMinus
)

// Token represents a lexical token. Pos is the byte offset of the token's
// first character in the input.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

// describe renders a token for error messages.
func describe(t Token) string {
	if t.Type == TokenEOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", t.Value)
}

// Lexer tokenizes search query input.
type Lexer struct {
	input string
	pos   int
	prev  TokenType // last token emitted, for the '-' shorthand rule
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// NextToken returns the next token from the input. The only lexical failure
// is an unterminated quoted string.
func (l *Lexer) NextToken() (Token, error) {
	tok, err := l.next()
	if err != nil {
		return tok, err
	}
	l.prev = tok.Type
	return tok, nil
}

func (l *Lexer) next() (Token, error) {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.pos}, nil
	}

	start := l.pos
	switch ch := l.input[l.pos]; ch {
	case ':':
		l.pos++
		return Token{Type: TokenColon, Value: ":", Pos: start}, nil
	case '(':
		l.pos++
		return Token{Type: TokenLParen, Value: "(", Pos: start}, nil
	case ')':
		l.pos++
		return Token{Type: TokenRParen, Value: ")", Pos: start}, nil
	case '"':
		return l.readString()
	case '-':
		// A '-' directly in front of an atom is the NOT shorthand, unless it
		// follows a ':' where it is value text (port:-1). Anywhere else, '-'
		// is ordinary identifier text ("order-service", "a-b").
		if l.prev != TokenColon && l.pos+1 < len(l.input) && startsAtomChar(l.input[l.pos+1]) {
			l.pos++
			return Token{Type: TokenMinus, Value: "-", Pos: start}, nil
		}
	}

	return l.readIdent(), nil
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) && isSpace(l.input[l.pos]) {
		l.pos++
	}
}

// readString consumes a quoted string and resolves its escape sequences. The
// only recognized escapes are \\ and \"; any other backslash stays literal.
func (l *Lexer) readString() (Token, error) {
	start := l.pos
	l.pos++ // opening quote

	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case ch == '\\' && l.pos+1 < len(l.input) && (l.input[l.pos+1] == '\\' || l.input[l.pos+1] == '"'):
			sb.WriteByte(l.input[l.pos+1])
			l.pos += 2
		case ch == '"':
			l.pos++
			return Token{Type: TokenString, Value: sb.String(), Pos: start}, nil
		default:
			sb.WriteByte(ch)
			l.pos++
		}
	}

	return Token{}, &SyntaxError{Pos: start, Msg: "unterminated quoted string"}
}

func (l *Lexer) readIdent() Token {
	start := l.pos
	for l.pos < len(l.input) && isIdentChar(l.input[l.pos]) {
		l.pos++
	}
	value := l.input[start:l.pos]

	// Reserved words are matched case-sensitively; "and", "Or" and the like
	// are ordinary terms.
	switch value {
	case "AND":
		return Token{Type: TokenAnd, Value: value, Pos: start}
	case "OR":
		return Token{Type: TokenOr, Value: value, Pos: start}
	case "NOT":
		return Token{Type: TokenNot, Value: value, Pos: start}
	}

	return Token{Type: TokenIdent, Value: value, Pos: start}
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

// isIdentChar reports whether ch can appear in a bare identifier: anything
// except whitespace and the four structural characters. Multi-byte UTF-8
// sequences pass through untouched.
func isIdentChar(ch byte) bool {
	return !isSpace(ch) && ch != ':' && ch != '(' && ch != ')' && ch != '"'
}

// startsAtomChar reports whether ch can begin an atom (a group, a quoted
// string, or a bare identifier).
func startsAtomChar(ch byte) bool {
	return ch == '(' || ch == '"' || isIdentChar(ch)
}
