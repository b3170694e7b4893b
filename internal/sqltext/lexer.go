// Package sqltext is a lightweight SQL tokenizer with best-effort structural
// helpers. It never builds an AST; it only finds the relation names, aliases
// and column references the validator and table extractor need.
package sqltext

import "strings"

type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenWord
	TokenQuoted // `ident` or "ident"
	TokenString // 'literal'
	TokenNumber
	TokenParam // @name, $1, ?
	TokenPunct
)

type Token struct {
	Kind TokenKind
	// Text is the semantic value: identifier without quotes, punctuation as-is,
	// string literals with their quotes.
	Text string
	// Quote is the quoting byte of a TokenQuoted.
	Quote byte
	// Pos and End delimit the token in the input, quotes included.
	Pos int
	End int
}

func (t Token) Upper() string { return strings.ToUpper(t.Text) }

// IsWord reports whether t is the bare word w, case-insensitively.
func (t Token) IsWord(w string) bool {
	return t.Kind == TokenWord && strings.EqualFold(t.Text, w)
}

func (t Token) IsPunct(p string) bool {
	return t.Kind == TokenPunct && t.Text == p
}

// IsIdent reports whether t can name a relation or column.
func (t Token) IsIdent() bool {
	return t.Kind == TokenWord || t.Kind == TokenQuoted
}

type lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
}

// Tokenize splits sql into tokens, skipping whitespace and comments. The
// returned slice always ends with a TokenEOF.
func Tokenize(sql string) []Token {
	l := &lexer{input: sql}
	l.readChar()
	var out []Token
	for {
		tok := l.next()
		tok.End = min(l.pos, len(sql))
		out = append(out, tok)
		if tok.Kind == TokenEOF {
			return out
		}
	}
}

func (l *lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *lexer) next() Token {
	l.skipWhitespaceAndComments()
	start := l.pos

	switch {
	case l.ch == 0:
		return Token{Kind: TokenEOF, Pos: start}
	case l.ch == '\'':
		return Token{Kind: TokenString, Text: l.readQuoted('\'', true), Pos: start}
	case l.ch == '`' || l.ch == '"':
		quote := l.ch
		return Token{Kind: TokenQuoted, Text: l.readQuoted(quote, false), Quote: quote, Pos: start}
	case l.ch == '@' || l.ch == '$':
		l.readChar()
		for isWordChar(l.ch) {
			l.readChar()
		}
		return Token{Kind: TokenParam, Text: l.input[start:l.pos], Pos: start}
	case l.ch == '?':
		l.readChar()
		return Token{Kind: TokenParam, Text: "?", Pos: start}
	case isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())):
		return Token{Kind: TokenNumber, Text: l.readNumber(), Pos: start}
	case isWordStart(l.ch):
		for isWordChar(l.ch) {
			l.readChar()
		}
		return Token{Kind: TokenWord, Text: l.input[start:l.pos], Pos: start}
	}

	for _, op := range []string{"<=", ">=", "<>", "!=", "||", "::", "=>"} {
		if strings.HasPrefix(l.input[l.pos:], op) {
			l.readChar()
			l.readChar()
			return Token{Kind: TokenPunct, Text: op, Pos: start}
		}
	}
	ch := l.ch
	l.readChar()
	return Token{Kind: TokenPunct, Text: string(ch), Pos: start}
}

func (l *lexer) skipWhitespaceAndComments() {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f':
			l.readChar()
		case l.ch == '-' && l.peekChar() == '-':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			l.readChar()
			l.readChar()
			for l.ch != 0 && !(l.ch == '*' && l.peekChar() == '/') {
				l.readChar()
			}
			if l.ch != 0 {
				l.readChar()
				l.readChar()
			}
		default:
			return
		}
	}
}

// readQuoted consumes a quoted run starting at the opening quote. Doubled
// quotes and backslash escapes stay part of the value. Unterminated runs end
// at EOF.
func (l *lexer) readQuoted(quote byte, keepQuotes bool) string {
	start := l.pos
	l.readChar()
	for l.ch != 0 {
		if l.ch == '\\' && quote == '\'' {
			l.readChar()
			if l.ch != 0 {
				l.readChar()
			}
			continue
		}
		if l.ch == quote {
			if l.peekChar() == quote {
				l.readChar()
				l.readChar()
				continue
			}
			break
		}
		l.readChar()
	}
	end := l.pos
	if l.ch == quote {
		l.readChar()
	}
	if keepQuotes {
		return l.input[start:l.pos]
	}
	return l.input[start+1 : end]
}

func (l *lexer) readNumber() string {
	start := l.pos
	for isDigit(l.ch) || l.ch == '.' {
		l.readChar()
	}
	if l.ch == 'e' || l.ch == 'E' {
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

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func isWordStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch >= 0x80
}

func isWordChar(ch byte) bool {
	return isWordStart(ch) || isDigit(ch)
}
