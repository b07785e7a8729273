// Package parser lexes SQL just enough to validate and paginate it: it
// finds statement boundaries, the leading keyword, and top-level clauses,
// leaving full parsing to the engine.
package parser

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenError
	TokenWord        // keyword or bare identifier
	TokenQuotedIdent // "identifier"
	TokenString      // 'literal'
	TokenNumber
	TokenLParen    // (
	TokenRParen    // )
	TokenComma     // ,
	TokenSemicolon // ;
	TokenOperator  // any other punctuation
)

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int // byte offset in input
}

// String returns a string representation of the token.
func (t Token) String() string {
	return fmt.Sprintf("Token{%s, %q, %d}", t.Type, t.Literal, t.Pos)
}

// Upper returns the upper-cased literal of a word token.
func (t Token) Upper() string {
	return strings.ToUpper(t.Literal)
}

// String returns the string representation of a TokenType.
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenError:
		return "ERROR"
	case TokenWord:
		return "WORD"
	case TokenQuotedIdent:
		return "QUOTED_IDENT"
	case TokenString:
		return "STRING"
	case TokenNumber:
		return "NUMBER"
	case TokenLParen:
		return "("
	case TokenRParen:
		return ")"
	case TokenComma:
		return ","
	case TokenSemicolon:
		return ";"
	case TokenOperator:
		return "OPERATOR"
	default:
		return "UNKNOWN"
	}
}

// Lexer tokenizes SQL input. Comments and whitespace are skipped.
type Lexer struct {
	input string
	pos   int
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// Offset returns the byte offset just past the last token read.
func (l *Lexer) Offset() int {
	return l.pos
}

func (l *Lexer) peek(offset int) byte {
	if l.pos+offset >= len(l.input) {
		return 0
	}
	return l.input[l.pos+offset]
}

// skipSpaceAndComments advances past whitespace, "--" line comments and
// "/* */" block comments. It reports false on an unterminated block comment.
func (l *Lexer) skipSpaceAndComments() bool {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f':
			l.pos++
		case ch == '-' && l.peek(1) == '-':
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.pos++
			}
		case ch == '/' && l.peek(1) == '*':
			end := strings.Index(l.input[l.pos+2:], "*/")
			if end < 0 {
				l.pos = len(l.input)
				return false
			}
			l.pos += end + 4
		default:
			return true
		}
	}
	return true
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	if !l.skipSpaceAndComments() {
		return Token{Type: TokenError, Literal: "unterminated comment", Pos: l.pos}
	}
	start := l.pos
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: start}
	}

	ch := l.input[l.pos]
	switch ch {
	case '(':
		l.pos++
		return Token{Type: TokenLParen, Literal: "(", Pos: start}
	case ')':
		l.pos++
		return Token{Type: TokenRParen, Literal: ")", Pos: start}
	case ',':
		l.pos++
		return Token{Type: TokenComma, Literal: ",", Pos: start}
	case ';':
		l.pos++
		return Token{Type: TokenSemicolon, Literal: ";", Pos: start}
	case '\'':
		return l.readQuoted('\'', TokenString, "unterminated string")
	case '"':
		return l.readQuoted('"', TokenQuotedIdent, "unterminated quoted identifier")
	}

	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	switch {
	case isDigit(ch):
		return l.readNumber()
	case r == '_' || unicode.IsLetter(r):
		return l.readWord()
	default:
		l.pos += size
		return Token{Type: TokenOperator, Literal: l.input[start:l.pos], Pos: start}
	}
}

// readWord reads a keyword or bare identifier.
func (l *Lexer) readWord() Token {
	start := l.pos
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if r != '_' && r != '$' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		l.pos += size
	}
	return Token{Type: TokenWord, Literal: l.input[start:l.pos], Pos: start}
}

// readNumber reads a numeric literal, including decimals and exponents.
func (l *Lexer) readNumber() Token {
	start := l.pos
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if isDigit(ch) || ch == '.' || ch == '_' {
			l.pos++
			continue
		}
		if (ch == 'e' || ch == 'E') && (isDigit(l.peek(1)) || ((l.peek(1) == '+' || l.peek(1) == '-') && isDigit(l.peek(2)))) {
			l.pos += 2
			continue
		}
		break
	}
	return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: start}
}

// readQuoted reads a literal enclosed in quote; a doubled quote escapes it.
func (l *Lexer) readQuoted(quote byte, typ TokenType, unterminated string) Token {
	start := l.pos
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == quote {
			if l.peek(1) == quote {
				b.WriteByte(quote)
				l.pos += 2
				continue
			}
			l.pos++
			return Token{Type: typ, Literal: b.String(), Pos: start}
		}
		b.WriteByte(ch)
		l.pos++
	}
	return Token{Type: TokenError, Literal: unterminated, Pos: start}
}

// Tokenize returns all tokens from the input, ending with EOF or an error.
func (l *Lexer) Tokenize() []Token {
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			break
		}
	}
	return tokens
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
