package gcode

import (
	"strings"
)

// Block is a single line of a program.
//
// Blocks are treated as immutable; methods that change a block
// return a modified copy.
type Block struct {
	// Line is the 1-based source line number, 0 for generated blocks.
	Line int

	Words   []Word
	Comment string

	// Delete is set when the line started with the block-delete marker '/'.
	Delete bool

	// Directive holds a '%'-prefixed sender directive verbatim (e.g. "%wait").
	Directive string

	// System holds a '$'-prefixed firmware system command verbatim (e.g. "$H").
	System string

	// Source is the original text, without the line terminator.
	Source string
}

// NewBlock creates a generated block from words.
func NewBlock(words ...Word) Block {
	return Block{Words: words}
}

func (b Block) Arg(w byte) (bool, float64) {
	for _, g := range b.Words {
		if g.W == w {
			return true, g.Arg
		}
	}
	return false, 0
}

// Has reports whether b contains the code c (e.g. G53).
func (b Block) Has(c Word) bool {
	c = c.Code()
	for _, g := range b.Words {
		if g.W == c.W && g.Code() == c {
			return true
		}
	}
	return false
}

// SetArg returns a copy of b with the first w word set to val,
// appending the word if it is missing.
func (b Block) SetArg(w byte, val float64) Block {
	b = b.Clone()
	for i, g := range b.Words {
		if g.W == w {
			b.Words[i].Arg = val
			return b
		}
	}
	b.Words = append(b.Words, Word{W: w, Arg: val})
	return b
}

// Args returns the parameter words of b (those without a modal group).
func (b Block) Args() []Word {
	res := make([]Word, 0, len(b.Words))
	for _, g := range b.Words {
		if g.ModalGroup() == ModalGroupNone {
			res = append(res, g)
		}
	}
	return res
}

func (b Block) Clone() Block {
	b.Words = append([]Word(nil), b.Words...)
	return b
}

func (b Block) HasModal() bool {
	for _, g := range b.Words {
		if g.ModalGroup() != ModalGroupNone {
			return true
		}
	}
	return false
}

// Empty reports whether b has nothing to send or execute.
func (b Block) Empty() bool {
	return len(b.Words) == 0 && b.Directive == "" && b.System == ""
}

func (b Block) Validate() error {
	var checkWord [256]bool
	var checkModal [numModalGroups]bool

	var m ModalGroup
	for _, g := range b.Words {
		if !g.IsValid() {
			return b.errorf(ErrMalformedBlock, "invalid word %q", g.W)
		}
		if g.W != 'G' && g.W != 'M' && checkWord[g.W] {
			return b.errorf(ErrInvalidModalCombination, "word %c repeated", g.W)
		}
		checkWord[g.W] = true
		m = g.ModalGroup()
		if m == ModalGroupNone {
			continue
		}
		if checkModal[m] {
			return b.errorf(ErrInvalidModalCombination, "multiple %s codes", m)
		}
		checkModal[m] = true
	}

	return nil
}

// String returns the text sent to the controller, without a line terminator.
func (b Block) String() string {
	if b.System != "" {
		return b.System
	}
	if b.Directive != "" {
		return b.Directive
	}
	var sb strings.Builder
	for _, w := range b.Words {
		sb.WriteString(w.String())
	}
	return sb.String()
}
