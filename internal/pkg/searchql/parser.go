package searchql

import "fmt"

// Parser parses search queries into an expression tree.
type Parser struct {
	lexer   *Lexer
	current Token
}

// Parse parses the input and returns the root of the expression tree. It
// returns a *SyntaxError when the input does not follow the grammar; no
// partial tree is ever returned.
func Parse(input string) (Expr, error) {
	p := &Parser{lexer: NewLexer(input)}
	if err := p.advance(); err != nil {
		return nil, err
	}

	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TokenEOF {
		return nil, &SyntaxError{
			Pos: p.current.Pos,
			Msg: fmt.Sprintf("expected end of input, found %s", describe(p.current)),
		}
	}
	return root, nil
}

func (p *Parser) advance() error {
	tok, err := p.lexer.NextToken()
	if err != nil {
		return err
	}
	p.current = tok
	return nil
}

// parseOr handles OR expressions (loosest precedence).
func (p *Parser) parseOr() (Expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	children := []Expr{first}
	for p.current.Type == TokenOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}

	if len(children) == 1 {
		return first, nil
	}
	return OrExpr{Children: children}, nil
}

// parseAnd handles AND expressions. Adjacent atoms with no operator between
// them are joined as if AND had been written.
func (p *Parser) parseAnd() (Expr, error) {
	first, err := p.parseNot()
	if err != nil {
		return nil, err
	}

	children := []Expr{first}
	for {
		if p.current.Type == TokenAnd {
			if err := p.advance(); err != nil {
				return nil, err
			}
		} else if !startsAtom(p.current.Type) {
			break
		}
		next, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}

	if len(children) == 1 {
		return first, nil
	}
	return AndExpr{Children: children}, nil
}

// parseNot handles NOT and its '-' shorthand. NOT chains are
// right-associative.
func (p *Parser) parseNot() (Expr, error) {
	if p.current.Type == TokenNot || p.current.Type == TokenMinus {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return NotExpr{Operand: operand}, nil
	}
	return p.parsePrimary()
}

// parsePrimary handles atoms: (expr), key:value, "phrase", term.
func (p *Parser) parsePrimary() (Expr, error) {
	switch p.current.Type {
	case TokenLParen:
		open := p.current
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.current.Type != TokenRParen {
			return nil, &SyntaxError{Pos: open.Pos, Msg: "unbalanced parentheses: missing ')'"}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return GroupExpr{Operand: inner}, nil

	case TokenString, TokenIdent:
		quoted := p.current.Type == TokenString
		text := p.current.Value
		if err := p.advance(); err != nil {
			return nil, err
		}

		// A colon after the atom turns it into a key:value pair. The value
		// is a single token; multi-word values require quoting.
		if p.current.Type == TokenColon {
			if err := p.advance(); err != nil {
				return nil, err
			}
			switch p.current.Type {
			case TokenString, TokenIdent:
				value := p.current.Value
				if err := p.advance(); err != nil {
					return nil, err
				}
				return KeyValueExpr{Key: text, Value: value}, nil
			default:
				return nil, &SyntaxError{
					Pos: p.current.Pos,
					Msg: fmt.Sprintf("expected a value after ':', found %s", describe(p.current)),
				}
			}
		}

		if quoted {
			return PhraseExpr{Text: text}, nil
		}
		return TermExpr{Text: text}, nil

	case TokenEOF:
		return nil, &SyntaxError{Pos: p.current.Pos, Msg: "expected an expression, found end of input"}

	default:
		return nil, &SyntaxError{
			Pos: p.current.Pos,
			Msg: fmt.Sprintf("expected an expression, found %s", describe(p.current)),
		}
	}
}

// startsAtom reports whether a token can begin an atom, which is what makes
// adjacency the implicit-AND signal in parseAnd.
func startsAtom(t TokenType) bool {
	switch t {
	case TokenIdent, TokenString, TokenLParen, TokenNot, TokenMinus:
		return true
	}
	return false
}
