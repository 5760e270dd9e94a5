package gcode

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseLine(t *testing.T) {
	b, err := ParseLine(3, "G1 X10 (move) y-2.5 ; done\r\n")
	require.NoError(t, err)
	assert.Equal(t, 3, b.Line)
	assert.Equal(t, []Word{{W: 'G', Arg: 1}, {W: 'X', Arg: 10}, {W: 'Y', Arg: -2.5}}, b.Words)
	assert.Equal(t, "move done", b.Comment)
	assert.Equal(t, "G1 X10 (move) y-2.5 ; done", b.Source)
	assert.False(t, b.Delete)
}

func TestParseLine_Special(t *testing.T) {
	b, err := ParseLine(1, "/G0 X1")
	require.NoError(t, err)
	assert.True(t, b.Delete)
	assert.Equal(t, []Word{{W: 'G', Arg: 0}, {W: 'X', Arg: 1}}, b.Words)

	b, err = ParseLine(1, "%wait")
	require.NoError(t, err)
	assert.Equal(t, "%wait", b.Directive)
	assert.Empty(t, b.Words)
	assert.False(t, b.Empty())

	b, err = ParseLine(1, "$H (home)")
	require.NoError(t, err)
	assert.Equal(t, "$H", b.System)
	assert.Equal(t, "home", b.Comment)
	assert.Equal(t, "$H", b.String())

	b, err = ParseLine(1, "   ")
	require.NoError(t, err)
	assert.True(t, b.Empty())

	b, err = ParseLine(1, "(just a note)")
	require.NoError(t, err)
	assert.True(t, b.Empty())
	assert.Equal(t, "just a note", b.Comment)

	b, err = ParseLine(1, "G 1 X 2.")
	require.NoError(t, err)
	assert.Equal(t, []Word{{W: 'G', Arg: 1}, {W: 'X', Arg: 2}}, b.Words)
}

func TestParseLine_Expressions(t *testing.T) {
	b, err := ParseLine(1, "G1 X[1+2*3] Y[ [1+1] / 4 ] Z-[2]")
	require.NoError(t, err)
	assert.Equal(t, []Word{{W: 'G', Arg: 1}, {W: 'X', Arg: 7}, {W: 'Y', Arg: 0.5}, {W: 'Z', Arg: -2}}, b.Words)
}

func TestParseLine_Errors(t *testing.T) {
	for _, line := range []string{
		"G1 X1 (oops",
		"G1 X1 oops)",
		"G1 X[1+2",
		"G1 X1]",
		"G1 X[1/0]",
		"G1 X",
		"G1 X-",
		"G1 X1 #5",
	} {
		t.Run(line, func(t *testing.T) {
			_, err := ParseLine(7, line)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedBlock)

			var be *BlockError
			require.True(t, errors.As(err, &be))
			assert.Equal(t, 7, be.Line)
			assert.Equal(t, line, be.Source)
			assert.Contains(t, err.Error(), line)
		})
	}
}

func TestEvalExpr(t *testing.T) {
	cases := map[string]float64{
		"[1]":           1,
		"[1+2]":         3,
		"[2*3+4]":       10,
		"[2*[3+4]]":     14,
		"[-1 - -2]":     1,
		"[10/4]":        2.5,
		"[.5 * 4]":      2,
		"[1 - 2 - 3]":   -4,
		"[8 / 2 / 2]":   2,
		"[ +3 * [2] ]":  6,
		"[[[1]] + [1]]": 2,
	}
	for expr, exp := range cases {
		v, err := evalExpr(expr)
		if assert.NoError(t, err, expr) {
			assert.InDelta(t, exp, v, 1e-12, expr)
		}
	}

	_, err := evalExpr("[1+]")
	assert.Error(t, err)
	_, err = evalExpr("[1 2]")
	assert.Error(t, err)
}

func TestParser(t *testing.T) {
	p := NewParser(strings.NewReader("G21\n\n; header\nG0 X1\nG1 Y[2*2] F100"))

	b, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, 1, b.Line)

	b, err = p.Read()
	require.NoError(t, err)
	assert.Equal(t, 4, b.Line)
	assert.Equal(t, "G0X1", b.String())

	b, err = p.Read()
	require.NoError(t, err)
	assert.Equal(t, 5, b.Line)
	assert.Equal(t, "G1Y4F100", b.String())

	_, err = p.Read()
	assert.Equal(t, io.EOF, err)
}

func TestBlock_RoundTrip(t *testing.T) {
	letters := []byte("GMXYZIJKRFSTPLN")
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "n")
		words := make([]Word, n)
		for i := range words {
			words[i] = Word{
				W:   rapid.SampledFrom(letters).Draw(t, "letter"),
				Arg: rapid.Float64Range(-1e9, 1e9).Draw(t, "arg"),
			}
		}

		text := NewBlock(words...).String()
		b, err := ParseLine(1, text)
		if err != nil {
			t.Fatalf("parse %q: %v", text, err)
		}
		if len(b.Words) != len(words) {
			t.Fatalf("parse %q: got %d words, want %d", text, len(b.Words), len(words))
		}
		for i := range words {
			if b.Words[i] != words[i] {
				t.Fatalf("parse %q: word %d is %v, want %v", text, i, b.Words[i], words[i])
			}
		}
	})
}

func TestBlock_Precision(t *testing.T) {
	b, err := ParseLine(1, "G1 X0.12345 Y-0.00004 Z[1/3]")
	require.NoError(t, err)
	assert.Equal(t, "G1X0.12345Y-0.00004Z0.3333333333333333", b.String())

	again, err := ParseLine(1, b.String())
	require.NoError(t, err)
	assert.Equal(t, b.Words, again.Words)

	assert.Equal(t, "X-1.8", Word{W: 'X', Arg: Round(-2 + 0.2)}.String())
	assert.Equal(t, "X0.1235", Word{W: 'X', Arg: Round(0.123456)}.String())
}

func TestBlock_SetArg(t *testing.T) {
	b := MustParse("G1 X1 Y2")[0]

	c := b.SetArg('Z', 3)
	assert.Equal(t, "G1X1Y2", b.String())
	assert.Equal(t, "G1X1Y2Z3", c.String())

	c = b.SetArg('X', 5)
	assert.Equal(t, "G1X1Y2", b.String())
	assert.Equal(t, "G1X5Y2", c.String())
}

func TestBlock_Validate(t *testing.T) {
	assert.NoError(t, NewBlock(Word{W: 'G', Arg: 1}, Word{W: 'G', Arg: 91}, Word{W: 'X', Arg: 1}).Validate())
	assert.ErrorIs(t, NewBlock(Word{W: 'G', Arg: 0}, Word{W: 'G', Arg: 1}).Validate(), ErrInvalidModalCombination)
	assert.ErrorIs(t, NewBlock(Word{W: 'X', Arg: 0}, Word{W: 'X', Arg: 1}).Validate(), ErrInvalidModalCombination)
	assert.ErrorIs(t, NewBlock(Word{W: '#', Arg: 0}).Validate(), ErrMalformedBlock)
}
