package gcode

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errDivByZero = errors.New("division by zero")

// exprParser evaluates bracketed arithmetic: + - * /, unary signs
// and nested brackets.
type exprParser struct {
	s string
	i int
}

func (p *exprParser) skipSpace() {
	for p.i < len(p.s) && (p.s[p.i] == ' ' || p.s[p.i] == '\t') {
		p.i++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.i >= len(p.s) {
		return 0
	}
	return p.s[p.i]
}

func (p *exprParser) expr() (float64, error) {
	v, err := p.term()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.i++
			r, err := p.term()
			if err != nil {
				return 0, err
			}
			v += r
		case '-':
			p.i++
			r, err := p.term()
			if err != nil {
				return 0, err
			}
			v -= r
		default:
			return v, nil
		}
	}
}

func (p *exprParser) term() (float64, error) {
	v, err := p.factor()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.i++
			r, err := p.factor()
			if err != nil {
				return 0, err
			}
			v *= r
		case '/':
			p.i++
			r, err := p.factor()
			if err != nil {
				return 0, err
			}
			if r == 0 {
				return 0, errDivByZero
			}
			v /= r
		default:
			return v, nil
		}
	}
}

func (p *exprParser) factor() (float64, error) {
	switch c := p.peek(); {
	case c == '+':
		p.i++
		return p.factor()
	case c == '-':
		p.i++
		v, err := p.factor()
		return -v, err
	case c == '[':
		p.i++
		v, err := p.expr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ']' {
			return 0, errors.New("unbalanced brackets")
		}
		p.i++
		return v, nil
	case c == '.' || (c >= '0' && c <= '9'):
		start := p.i
		for p.i < len(p.s) && (p.s[p.i] == '.' || (p.s[p.i] >= '0' && p.s[p.i] <= '9')) {
			p.i++
		}
		return strconv.ParseFloat(p.s[start:p.i], 64)
	case c == 0:
		return 0, errors.New("unexpected end of expression")
	default:
		return 0, fmt.Errorf("unexpected %q in expression", c)
	}
}

// evalExpr evaluates a bracketed expression, including the outer brackets.
func evalExpr(s string) (float64, error) {
	p := &exprParser{s: s}
	v, err := p.factor()
	if err != nil {
		return 0, err
	}
	if p.peek() != 0 {
		return 0, fmt.Errorf("unexpected %q after expression", p.peek())
	}
	return v, nil
}

// resolveExpressions replaces every top-level [...] in s with its value.
func resolveExpressions(s string) (string, error) {
	if !strings.ContainsAny(s, "[]") {
		return s, nil
	}

	var sb strings.Builder
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			if depth == 0 {
				start = i
			}
			depth++
		case ']':
			depth--
			if depth < 0 {
				return "", errors.New("unbalanced brackets")
			}
			if depth > 0 {
				continue
			}
			v, err := evalExpr(s[start : i+1])
			if err != nil {
				return "", err
			}
			sb.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		default:
			if depth == 0 {
				sb.WriteByte(s[i])
			}
		}
	}
	if depth != 0 {
		return "", errors.New("unbalanced brackets")
	}

	return sb.String(), nil
}
