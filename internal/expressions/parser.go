package expressions

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse turns condition text into an AST. Blank text parses to the literal
// true, the same as "always". Malformed text returns a *ParseError.
//
// Grammar, lowest precedence first:
//
//	Or      := And (OR And)*
//	And     := Not (AND Not)*
//	Not     := NOT Not | Primary
//	Primary := '(' Or ')' | Operand [CMP Operand]
//	Operand := literal | path | array | contains '(' Or ',' Or ')'
func Parse(src string) (Node, error) {
	if strings.TrimSpace(src) == "" {
		return &Literal{Value: true}, nil
	}

	tokens, err := Tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &parser{src: src, tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Kind != TokenEOF {
		return nil, p.errorf(tok, "unexpected %s %q", tok.Kind, tok.Text)
	}
	return node, nil
}

type parser struct {
	src    string
	tokens []Token
	pos    int
}

func (p *parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *parser) next() Token {
	tok := p.tokens[p.pos]
	if tok.Kind != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind TokenKind) (Token, error) {
	tok := p.next()
	if tok.Kind != kind {
		return tok, p.errorf(tok, "expected %s, found %s", kind, describe(tok))
	}
	return tok, nil
}

func (p *parser) errorf(tok Token, format string, args ...any) *ParseError {
	return &ParseError{Expr: p.src, Pos: tok.Pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().Kind == TokenOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().Kind == TokenAnd {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.peek().Kind == TokenNot {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Not{Expr: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	if p.peek().Kind == TokenLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return inner, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.peek().Kind != TokenCompare {
		return left, nil
	}

	op := CompareOp(p.next().Text)
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &Comparison{Op: op, Left: left, Right: right}, nil
}

func (p *parser) parseOperand() (Node, error) {
	tok := p.next()
	switch tok.Kind {
	case TokenString:
		return &Literal{Value: tok.Text}, nil
	case TokenNumber:
		return p.number(tok)
	case TokenLBracket:
		return p.parseArray(tok)
	case TokenIdent:
		if p.peek().Kind == TokenLParen {
			return p.parseCall(tok)
		}
		if lit, ok := keywordLiteral(tok.Text); ok {
			return lit, nil
		}
		return &Path{Segments: strings.Split(tok.Text, ".")}, nil
	}
	return nil, p.errorf(tok, "expected a value, found %s", describe(tok))
}

func (p *parser) number(tok Token) (*Literal, error) {
	f, err := strconv.ParseFloat(tok.Text, 64)
	if err != nil {
		return nil, p.errorf(tok, "invalid number %q", tok.Text)
	}
	return &Literal{Value: f}, nil
}

func (p *parser) parseCall(name Token) (Node, error) {
	if !strings.EqualFold(name.Text, "contains") {
		return nil, p.errorf(name, "unknown function %q", name.Text)
	}
	p.next() // (

	var args []Node
	if p.peek().Kind != TokenRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().Kind != TokenComma {
				break
			}
			p.next()
		}
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	if len(args) != 2 {
		return nil, p.errorf(name, "contains expects 2 arguments, got %d", len(args))
	}
	return &Call{Fn: "contains", Args: args}, nil
}

// parseArray reads a bracketed list of scalar literals.
func (p *parser) parseArray(open Token) (Node, error) {
	items := []any{}
	if p.peek().Kind == TokenRBracket {
		p.next()
		return &Literal{Value: items}, nil
	}
	for {
		tok := p.next()
		switch tok.Kind {
		case TokenString:
			items = append(items, tok.Text)
		case TokenNumber:
			lit, err := p.number(tok)
			if err != nil {
				return nil, err
			}
			items = append(items, lit.Value)
		case TokenIdent:
			lit, ok := keywordLiteral(tok.Text)
			if !ok {
				return nil, p.errorf(tok, "array elements must be literals, found %q", tok.Text)
			}
			items = append(items, lit.Value)
		default:
			return nil, p.errorf(tok, "expected an array element, found %s", describe(tok))
		}

		sep := p.next()
		if sep.Kind == TokenRBracket {
			return &Literal{Value: items}, nil
		}
		if sep.Kind != TokenComma {
			return nil, p.errorf(sep, "unterminated array starting at position %d", open.Pos)
		}
	}
}

// keywordLiteral maps the case-insensitive keywords to literals.
func keywordLiteral(ident string) (*Literal, bool) {
	switch strings.ToLower(ident) {
	case "true", "always":
		return &Literal{Value: true}, true
	case "false":
		return &Literal{Value: false}, true
	case "null":
		return &Literal{Value: nil}, true
	}
	return nil, false
}

func describe(tok Token) string {
	if tok.Kind == TokenEOF {
		return tok.Kind.String()
	}
	return fmt.Sprintf("%s %q", tok.Kind, tok.Text)
}
