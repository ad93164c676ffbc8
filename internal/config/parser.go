package config

import "github.com/gil0mendes/Initium-sub000/internal/bootlog"

// Parser wraps a lexer with one token of lookahead.
type Parser struct {
	lex  *lexer
	tok  token
	peek *token
}

// Parse parses src (the contents of a configuration file named file, used
// only in error messages) as a top-level command list. No partial command
// list is ever returned: a syntax error anywhere aborts the whole parse.
func Parse(file, src string) (*CommandList, error) {
	p := &Parser{lex: newLexer(file, src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	list, err := p.parseCommandList(false)
	if err != nil {
		bootlog.Log.WithError(err).WithField("file", file).Debug("config: parse failed")
		return nil, err
	}
	return list, nil
}

func (p *Parser) advance() error {
	if p.peek != nil {
		p.tok = *p.peek
		p.peek = nil
		return nil
	}
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *Parser) peekTok() (token, error) {
	if p.peek == nil {
		tok, err := p.lex.next()
		if err != nil {
			return token{}, err
		}
		p.peek = &tok
	}
	return *p.peek, nil
}

// parseCommandList parses commands until EOF (nested=false) or a matching
// '}' (nested=true), skipping blank lines between commands.
func (p *Parser) parseCommandList(nested bool) (*CommandList, error) {
	list := &CommandList{}
	for {
		for p.tok.kind == tokNewline {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if p.tok.kind == tokEOF {
			if nested {
				return nil, p.lex.errorf(p.tok.line, p.tok.col, "unexpected end of file, expected '}'")
			}
			return list, nil
		}
		if p.tok.kind == tokRBrace {
			if !nested {
				return nil, p.lex.errorf(p.tok.line, p.tok.col, "unexpected '}'")
			}
			return list, nil
		}

		cmd, err := p.parseCommand()
		if err != nil {
			return nil, err
		}
		list.Commands = append(list.Commands, *cmd)

		// A command must be followed by a newline, EOF, or the '}' that
		// closes the enclosing list. parseCommand stops at one of those
		// unless the command ended with a nested command list, so any
		// other token after that list's '}' is rejected here.
		if p.tok.kind == tokNewline {
			if err := p.advance(); err != nil {
				return nil, err
			}
		} else if p.tok.kind != tokEOF && p.tok.kind != tokRBrace {
			return nil, p.lex.errorf(p.tok.line, p.tok.col, "expected newline after command")
		}
	}
}

// parseCommand parses "name arg1 arg2 ... [{ nested commands }]".
func (p *Parser) parseCommand() (*Command, error) {
	if p.tok.kind != tokWord && p.tok.kind != tokString {
		return nil, p.lex.errorf(p.tok.line, p.tok.col, "expected command name, got %v", p.tok.kind)
	}
	cmd := &Command{Name: p.tok.text, Line: p.tok.line}
	if err := p.advance(); err != nil {
		return nil, err
	}

	for {
		switch p.tok.kind {
		case tokNewline, tokEOF, tokRBrace:
			return cmd, nil
		case tokLBrace:
			nested, err := p.parseBracedCommandList()
			if err != nil {
				return nil, err
			}
			cmd.Args = append(cmd.Args, CommandsValue(nested))
			return cmd, nil
		default:
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			cmd.Args = append(cmd.Args, v)
		}
	}
}

func (p *Parser) parseBracedCommandList() (*CommandList, error) {
	// current token is '{'
	if err := p.advance(); err != nil {
		return nil, err
	}
	list, err := p.parseCommandList(true)
	if err != nil {
		return nil, err
	}
	// current token is '}': consume it.
	if err := p.advance(); err != nil {
		return nil, err
	}
	return list, nil
}

func (p *Parser) parseValue() (Value, error) {
	switch p.tok.kind {
	case tokString:
		v := StringValue(p.tok.text)
		return v, p.advance()
	case tokLBracket:
		return p.parseList()
	case tokLBrace:
		nested, err := p.parseBracedCommandList()
		if err != nil {
			return Value{}, err
		}
		return CommandsValue(nested), nil
	case tokWord:
		return p.parseWordValue()
	default:
		return Value{}, p.lex.errorf(p.tok.line, p.tok.col, "unexpected token in value position")
	}
}

func (p *Parser) parseWordValue() (Value, error) {
	text := p.tok.text
	line, col := p.tok.line, p.tok.col
	if err := p.advance(); err != nil {
		return Value{}, err
	}

	switch text {
	case "true":
		return BoolValue(true), nil
	case "false":
		return BoolValue(false), nil
	}
	if n, ok := parseIntegerWord(text); ok {
		return IntValue(n), nil
	}
	// A bare word that is neither a boolean nor an integer literal names
	// an environment entry. It reaches command handlers unresolved, as a
	// KindReference; each handler resolves it or uses the word itself.
	_ = line
	_ = col
	return ReferenceValue(text), nil
}

func (p *Parser) parseList() (Value, error) {
	// current token '['
	if err := p.advance(); err != nil {
		return Value{}, err
	}
	var values []Value
	for {
		if p.tok.kind == tokRBracket {
			if err := p.advance(); err != nil {
				return Value{}, err
			}
			return ListValue(values), nil
		}
		if p.tok.kind == tokEOF {
			return Value{}, p.lex.errorf(p.tok.line, p.tok.col, "unterminated list, expected ']'")
		}
		v, err := p.parseValue()
		if err != nil {
			return Value{}, err
		}
		values = append(values, v)
	}
}
