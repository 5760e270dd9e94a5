package gcode

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
)

type Parser struct {
	br   *bufio.Reader
	line int
}

func NewParser(r io.Reader) *Parser {
	if br, ok := r.(*bufio.Reader); ok {
		return &Parser{br: br}
	}

	return &Parser{br: bufio.NewReader(r)}
}

// Read returns the next non-empty block. Comment-only and blank
// lines are skipped.
func (p *Parser) Read() (Block, error) {
	for {
		s, err := p.br.ReadString('\n')
		if err == io.EOF && s != "" {
			err = nil
		}
		if err != nil {
			return Block{}, err
		}
		p.line++

		b, err := ParseLine(p.line, s)
		if err != nil {
			return Block{}, err
		}
		if b.Empty() {
			continue
		}

		return b, nil
	}
}

// ParseLine parses a single line of text. Line n is recorded
// in the block and any error.
func ParseLine(n int, line string) (Block, error) {
	b := Block{Line: n, Source: strings.TrimRight(line, "\r\n")}
	fail := func(err error) (Block, error) {
		return Block{}, &BlockError{Err: ErrMalformedBlock, Line: n, Source: b.Source, Reason: err.Error()}
	}

	s := strings.TrimSpace(b.Source)
	if strings.HasPrefix(s, "/") {
		b.Delete = true
		s = strings.TrimSpace(s[1:])
	}
	if strings.HasPrefix(s, "%") {
		b.Directive = s
		return b, nil
	}

	code, comment, err := splitComments(s)
	if err != nil {
		return fail(err)
	}
	b.Comment = comment
	code = strings.TrimSpace(code)

	if strings.HasPrefix(code, "$") {
		b.System = code
		return b, nil
	}

	code, err = resolveExpressions(code)
	if err != nil {
		return fail(err)
	}

	b.Words, err = scanWords(code)
	if err != nil {
		return fail(err)
	}

	return b, nil
}

// splitComments separates executable text from () and ; comments.
func splitComments(s string) (code, comment string, err error) {
	var c, cm strings.Builder
	addComment := func(text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		if cm.Len() > 0 {
			cm.WriteByte(' ')
		}
		cm.WriteString(text)
	}

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			end := strings.IndexByte(s[i:], ')')
			if end == -1 {
				return "", "", errors.New("unterminated comment")
			}
			addComment(s[i+1 : i+end])
			i += end
		case ')':
			return "", "", errors.New("unexpected ')'")
		case ';':
			addComment(s[i+1:])
			return c.String(), cm.String(), nil
		default:
			c.WriteByte(s[i])
		}
	}

	return c.String(), cm.String(), nil
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' }
func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func scanWords(s string) ([]Word, error) {
	var words []Word
	i := 0
	for i < len(s) {
		c := s[i]
		if isSpace(c) {
			i++
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c < 'A' || c > 'Z' {
			return nil, errors.New("unexpected character " + strconv.Quote(string(s[i])))
		}
		i++
		for i < len(s) && isSpace(s[i]) {
			i++
		}

		start := i
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		digits := 0
		for i < len(s) && (isDigit(s[i]) || s[i] == '.') {
			if s[i] != '.' {
				digits++
			}
			i++
		}
		if digits == 0 {
			return nil, errors.New("letter " + string(c) + " not followed by a number")
		}
		val, err := strconv.ParseFloat(s[start:i], 64)
		if err != nil {
			return nil, errors.New("bad number for " + string(c) + ": " + s[start:i])
		}
		words = append(words, Word{W: c, Arg: val})
	}

	return words, nil
}
