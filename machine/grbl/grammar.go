package grbl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mastercactapus/gsend/coord"
	"github.com/mastercactapus/gsend/gcode"
)

type reportParser struct {
	line string
	toks []token
	pos  int
}

type field struct {
	key  string
	vals []string
}

func newReportParser(line string) *reportParser {
	return &reportParser{line: line, toks: tokenize(line)}
}

func (p *reportParser) peekN(n int) token {
	if p.pos+n >= len(p.toks) {
		return token{kind: tokEOF, pos: len(p.line)}
	}
	return p.toks[p.pos+n]
}
func (p *reportParser) peek() token { return p.peekN(0) }

func (p *reportParser) next() token {
	t := p.peek()
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *reportParser) errorf(format string, args ...interface{}) error {
	return unknownReport(p.line, fmt.Sprintf(format, args...))
}

func (p *reportParser) expect(k tokenKind) (token, error) {
	t := p.next()
	if t.kind != k {
		return t, p.errorf("expected %s at %d, got %s", k, t.pos, t.kind)
	}
	return t, nil
}

func (p *reportParser) expectInt() (int, error) {
	t, err := p.expect(tokText)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(t.text)
	if err != nil {
		return 0, p.errorf("bad integer %q", t.text)
	}
	return n, nil
}

// end consumes the closing delimiter, which must end the line.
func (p *reportParser) end() error {
	_, err := p.expect(tokClose)
	if err != nil {
		return err
	}
	_, err = p.expect(tokEOF)
	return err
}

// values reads a comma separated list. With stopAtKey set, a value
// followed by ':' is left for the caller as the next key.
func (p *reportParser) values(stopAtKey bool) ([]string, error) {
	if p.peek().kind != tokText {
		return nil, nil
	}
	vals := []string{p.next().text}
	for p.peek().kind == tokComma && p.peekN(1).kind == tokText {
		if stopAtKey && p.peekN(2).kind == tokColon {
			break
		}
		p.next()
		vals = append(vals, p.next().text)
	}
	return vals, nil
}

// fields reads `sep key:values` pairs.
func (p *reportParser) fields(sep tokenKind) ([]field, error) {
	var res []field
	for p.peek().kind == sep {
		p.next()
		key, err := p.expect(tokText)
		if err != nil {
			return nil, err
		}
		_, err = p.expect(tokColon)
		if err != nil {
			return nil, err
		}
		vals, err := p.values(sep == tokComma)
		if err != nil {
			return nil, err
		}
		res = append(res, field{key: key.text, vals: vals})
	}
	return res, nil
}

func parseFloats(vals []string, n int) ([]float64, error) {
	if len(vals) < n {
		return nil, fmt.Errorf("want %d values, got %d", n, len(vals))
	}
	res := make([]float64, len(vals))
	for i, s := range vals {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		res[i] = v
	}
	return res, nil
}

func parsePoint(vals []string) (coord.Point, error) {
	v, err := parseFloats(vals, 3)
	if err != nil {
		return coord.Point{}, err
	}
	return coord.Point{X: v[0], Y: v[1], Z: v[2]}, nil
}

func parseInts(vals []string, n int) ([]int, error) {
	if len(vals) != n {
		return nil, fmt.Errorf("want %d values, got %d", n, len(vals))
	}
	res := make([]int, n)
	for i, s := range vals {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, err
		}
		res[i] = v
	}
	return res, nil
}

// status parses `<State[:N]|Key:v,v|...>` and the GRBL 0.9 form
// `<State,Key:v,v,Key:v>`.
func (p *reportParser) status() (Report, error) {
	_, err := p.expect(tokOpen)
	if err != nil {
		return nil, err
	}
	st, err := p.expect(tokText)
	if err != nil {
		return nil, err
	}
	r := StatusReport{State: st.text}
	if p.peek().kind == tokColon {
		p.next()
		n, err := p.expectInt()
		if err != nil {
			return nil, err
		}
		r.SubState = Some(n)
	}

	sep := p.peek().kind
	var fields []field
	if sep == tokPipe || sep == tokComma {
		fields, err = p.fields(sep)
		if err != nil {
			return nil, err
		}
	}
	err = p.end()
	if err != nil {
		return nil, err
	}

	for _, f := range fields {
		err = r.set(f)
		if err != nil {
			return nil, p.errorf("field %s: %v", f.key, err)
		}
	}

	return r, nil
}

func (r *StatusReport) set(f field) error {
	switch f.key {
	case "MPos", "WPos", "WCO":
		pt, err := parsePoint(f.vals)
		if err != nil {
			return err
		}
		switch f.key {
		case "MPos":
			r.MPos = Some(pt)
		case "WPos":
			r.WPos = Some(pt)
		default:
			r.WCO = Some(pt)
		}
	case "Bf":
		v, err := parseInts(f.vals, 2)
		if err != nil {
			return err
		}
		r.Planner, r.RX = Some(v[0]), Some(v[1])
	case "Buf", "RX", "Ln":
		v, err := parseInts(f.vals, 1)
		if err != nil {
			return err
		}
		switch f.key {
		case "Buf":
			r.Planner = Some(v[0])
		case "RX":
			r.RX = Some(v[0])
		default:
			r.Line = Some(v[0])
		}
	case "F", "FS":
		v, err := parseFloats(f.vals, 1)
		if err != nil {
			return err
		}
		r.Feed = Some(v[0])
		if f.key == "FS" {
			if len(v) < 2 {
				return fmt.Errorf("want 2 values, got %d", len(v))
			}
			r.Speed = Some(v[1])
		}
	case "Ov":
		v, err := parseInts(f.vals, 3)
		if err != nil {
			return err
		}
		r.Overrides = Some([3]int{v[0], v[1], v[2]})
	case "Pn", "Lim":
		r.Pins = Some(strings.Join(f.vals, ","))
	case "A":
		r.Accessories = Some(strings.Join(f.vals, ","))
	}

	// unknown fields are ignored so newer firmware still parses
	return nil
}

// bracket parses the `[KEY:...]` frames.
func (p *reportParser) bracket() (Report, error) {
	_, err := p.expect(tokOpen)
	if err != nil {
		return nil, err
	}
	key, err := p.expect(tokText)
	if err != nil {
		return nil, err
	}

	if p.peek().kind != tokColon {
		// GRBL 0.9 prints bare feedback messages like ['$H'|'$X' to unlock]
		if p.line[len(p.line)-1] != ']' {
			return nil, p.errorf("unterminated message")
		}
		return MessageReport{Kind: "MSG", Text: p.line[1 : len(p.line)-1]}, nil
	}
	colon := p.next()

	switch key.text {
	case "PRB":
		return p.probe()
	case "GC":
		return p.parserState()
	case "G54", "G55", "G56", "G57", "G58", "G59", "G28", "G30", "G92":
		vals, _ := p.values(false)
		pt, err := parsePoint(vals)
		if err != nil {
			return nil, p.errorf("%s: %v", key.text, err)
		}
		err = p.end()
		if err != nil {
			return nil, err
		}
		return ParamReport{Name: key.text, Point: pt}, nil
	case "TLO":
		vals, _ := p.values(false)
		v, err := parseFloats(vals, 1)
		if err != nil {
			return nil, p.errorf("TLO: %v", err)
		}
		err = p.end()
		if err != nil {
			return nil, err
		}
		return ParamReport{Name: key.text, Value: Some(v[0])}, nil
	case "MSG", "VER", "OPT", "echo", "HLP":
		if p.line[len(p.line)-1] != ']' {
			return nil, p.errorf("unterminated message")
		}
		return MessageReport{Kind: key.text, Text: p.line[colon.pos+1 : len(p.line)-1]}, nil
	}

	return nil, p.errorf("unknown frame %q", key.text)
}

// probe parses `v1,v2,v3[,v4][,v5][,v6][:N]]`.
func (p *reportParser) probe() (Report, error) {
	vals, _ := p.values(false)
	if len(vals) < 3 || len(vals) > 6 {
		return nil, p.errorf("probe frame has %d values", len(vals))
	}

	var r ProbeReport
	for i, v := range vals {
		_, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, p.errorf("probe value %q", v)
		}
		r.Fields[i] = Some(v)
	}
	if p.peek().kind == tokColon {
		p.next()
		n, err := p.expectInt()
		if err != nil {
			return nil, err
		}
		r.Flag = Some(n)
	}

	err := p.end()
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (p *reportParser) parserState() (Report, error) {
	t, err := p.expect(tokText)
	if err != nil {
		return nil, err
	}
	err = p.end()
	if err != nil {
		return nil, err
	}
	b, err := gcode.ParseLine(0, t.text)
	if err != nil {
		return nil, p.errorf("parser state: %v", err)
	}
	return ParserStateReport{Words: b.Words}, nil
}
