package grbl

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokText
	tokOpen
	tokClose
	tokColon
	tokComma
	tokPipe
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of line"
	case tokText:
		return "text"
	case tokOpen:
		return "open delimiter"
	case tokClose:
		return "close delimiter"
	case tokColon:
		return "':'"
	case tokComma:
		return "','"
	case tokPipe:
		return "'|'"
	}
	return "unknown"
}

type token struct {
	kind tokenKind
	text string

	// pos is the byte offset of the token in the line.
	pos int
}

func tokenize(s string) []token {
	var toks []token
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		toks = append(toks, token{kind: tokText, text: s[start:end], pos: start})
		start = -1
	}
	for i := 0; i < len(s); i++ {
		var k tokenKind
		switch s[i] {
		case '<', '[':
			k = tokOpen
		case '>', ']':
			k = tokClose
		case ':':
			k = tokColon
		case ',':
			k = tokComma
		case '|':
			k = tokPipe
		default:
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
		toks = append(toks, token{kind: k, text: s[i : i+1], pos: i})
	}
	flush(len(s))

	return toks
}
