package expressions

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenKind classifies a lexed token.
type TokenKind int

const (
	TokenEOF      TokenKind = iota
	TokenIdent              // name or dotted path; true/false/always/null are idents too
	TokenString             // 'text' or "text"
	TokenNumber             // 42, 0.8, -3
	TokenCompare            // ==, !=, >, <, >=, <=
	TokenAnd                // AND, &&
	TokenOr                 // OR, ||
	TokenNot                // NOT, !
	TokenLParen             // (
	TokenRParen             // )
	TokenLBracket           // [
	TokenRBracket           // ]
	TokenComma              // ,
)

func (k TokenKind) String() string {
	switch k {
	case TokenEOF:
		return "end of input"
	case TokenIdent:
		return "identifier"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenCompare:
		return "comparison operator"
	case TokenAnd:
		return "AND"
	case TokenOr:
		return "OR"
	case TokenNot:
		return "NOT"
	case TokenLParen:
		return "'('"
	case TokenRParen:
		return "')'"
	case TokenLBracket:
		return "'['"
	case TokenRBracket:
		return "']'"
	case TokenComma:
		return "','"
	}
	return "unknown"
}

// Token is a lexeme with its rune offset in the source.
type Token struct {
	Kind TokenKind
	Text string
	Pos  int
}

// ParseError reports malformed condition text. It is distinct from a
// condition that evaluates to false.
type ParseError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d in %q: %s", e.Pos, e.Expr, e.Msg)
}

// Tokenize splits condition text into tokens. The returned slice always ends
// with a TokenEOF.
func Tokenize(src string) ([]Token, error) {
	var tokens []Token
	runes := []rune(src)
	i := 0

	fail := func(pos int, format string, args ...any) ([]Token, error) {
		return nil, &ParseError{Expr: src, Pos: pos, Msg: fmt.Sprintf(format, args...)}
	}

	for i < len(runes) {
		ch := runes[i]

		if unicode.IsSpace(ch) {
			i++
			continue
		}

		switch ch {
		case '(':
			tokens = append(tokens, Token{TokenLParen, "(", i})
			i++
			continue
		case ')':
			tokens = append(tokens, Token{TokenRParen, ")", i})
			i++
			continue
		case '[':
			tokens = append(tokens, Token{TokenLBracket, "[", i})
			i++
			continue
		case ']':
			tokens = append(tokens, Token{TokenRBracket, "]", i})
			i++
			continue
		case ',':
			tokens = append(tokens, Token{TokenComma, ",", i})
			i++
			continue
		case '"', '\'':
			s, next, ok := readString(runes, i)
			if !ok {
				return fail(i, "unterminated string")
			}
			tokens = append(tokens, Token{TokenString, s, i})
			i = next
			continue
		}

		if i+1 < len(runes) {
			two := string(runes[i : i+2])
			switch two {
			case "==", "!=", ">=", "<=":
				tokens = append(tokens, Token{TokenCompare, two, i})
				i += 2
				continue
			case "&&":
				tokens = append(tokens, Token{TokenAnd, two, i})
				i += 2
				continue
			case "||":
				tokens = append(tokens, Token{TokenOr, two, i})
				i += 2
				continue
			}
		}

		switch ch {
		case '>', '<':
			tokens = append(tokens, Token{TokenCompare, string(ch), i})
			i++
			continue
		case '!':
			tokens = append(tokens, Token{TokenNot, "!", i})
			i++
			continue
		case '=':
			return fail(i, "single '=' is not an operator, use '=='")
		}

		if isDigit(ch) || (ch == '-' && i+1 < len(runes) && isDigit(runes[i+1]) && numberMayStart(tokens)) {
			num, next := readNumber(runes, i)
			tokens = append(tokens, Token{TokenNumber, num, i})
			i = next
			continue
		}

		if isIdentStart(ch) {
			ident, next := readIdent(runes, i)
			if strings.HasSuffix(ident, ".") || strings.Contains(ident, "..") {
				return fail(i, "malformed path %q", ident)
			}
			tokens = append(tokens, Token{keywordKind(ident), ident, i})
			i = next
			continue
		}

		return fail(i, "unexpected character %q", string(ch))
	}

	tokens = append(tokens, Token{TokenEOF, "", len(runes)})
	return tokens, nil
}

func keywordKind(ident string) TokenKind {
	switch strings.ToUpper(ident) {
	case "AND":
		return TokenAnd
	case "OR":
		return TokenOr
	case "NOT":
		return TokenNot
	}
	return TokenIdent
}

// readString reads a quoted literal starting at the opening quote. A
// backslash escapes the following rune.
func readString(runes []rune, start int) (string, int, bool) {
	quote := runes[start]
	var sb strings.Builder
	for i := start + 1; i < len(runes); i++ {
		if runes[i] == '\\' && i+1 < len(runes) {
			sb.WriteRune(runes[i+1])
			i++
			continue
		}
		if runes[i] == quote {
			return sb.String(), i + 1, true
		}
		sb.WriteRune(runes[i])
	}
	return "", 0, false
}

func readNumber(runes []rune, start int) (string, int) {
	i := start
	if runes[i] == '-' {
		i++
	}
	for i < len(runes) && isDigit(runes[i]) {
		i++
	}
	if i+1 < len(runes) && runes[i] == '.' && isDigit(runes[i+1]) {
		i++
		for i < len(runes) && isDigit(runes[i]) {
			i++
		}
	}
	return string(runes[start:i]), i
}

func readIdent(runes []rune, start int) (string, int) {
	i := start
	for i < len(runes) && isIdentPart(runes[i]) {
		i++
	}
	return string(runes[start:i]), i
}

func isDigit(ch rune) bool      { return ch >= '0' && ch <= '9' }
func isIdentStart(ch rune) bool { return unicode.IsLetter(ch) || ch == '_' }
func isIdentPart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.'
}

// numberMayStart reports whether a '-' begins a negative literal: at the
// start of input or after an operator, '(' , '[' or ','.
func numberMayStart(preceding []Token) bool {
	if len(preceding) == 0 {
		return true
	}
	switch preceding[len(preceding)-1].Kind {
	case TokenIdent, TokenString, TokenNumber, TokenRParen, TokenRBracket:
		return false
	}
	return true
}
