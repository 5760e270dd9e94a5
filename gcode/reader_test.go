package gcode

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlocksReader(t *testing.T) {
	blocks := []Block{
		NewBlock(Word{W: 'G', Arg: 1}, Word{W: 'G', Arg: 2}),
		NewBlock(Word{W: 'M', Arg: 2}),
	}

	gr := &BlocksReader{Blocks: blocks}

	b, err := gr.Read()
	assert.NoError(t, err)
	assert.Equal(t, NewBlock(Word{W: 'G', Arg: 1}, Word{W: 'G', Arg: 2}), b)

	b, err = gr.Read()
	assert.NoError(t, err)
	assert.Equal(t, NewBlock(Word{W: 'M', Arg: 2}), b)

	b, err = gr.Read()
	assert.Error(t, err)
	assert.Equal(t, io.EOF, err)
	assert.True(t, b.Empty())
}

func TestReadAll(t *testing.T) {
	blocks, err := ReadAll(NewParser(strings.NewReader("G0 X1\n\n(comment)\nG1 Y2\n")))
	assert.NoError(t, err)
	assert.Len(t, blocks, 2)
	assert.Equal(t, 4, blocks[1].Line)
}
