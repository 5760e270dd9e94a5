package meshlevel

import (
	"io"
	"math"
	"testing"

	"github.com/mastercactapus/gsend/coord"
	"github.com/mastercactapus/gsend/gcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeshLeveler(t *testing.T) {

	// probes indicate a rise
	// of 30mm over 100mm or .3mmZ for every 1mm X
	probes := []coord.Point{
		{X: -700, Y: -450, Z: -80},
		{X: -700, Y: -550, Z: -80},

		{X: -600, Y: -450, Z: -50},
		{X: -600, Y: -550, Z: -50},
	}

	mesh, err := NewMesh(probes)
	require.NoError(t, err)

	// the head is floating above the bed, we're just checking that
	// moving to the right results in Z being adjusted properly
	cfg := Config{
		ZOffsetter: mesh,

		MPos:        coord.Point{X: -650, Y: -500, Z: -60},
		WCO:         coord.Point{X: -600, Y: -750, Z: -1},
		Granularity: 1,

		Reader: &gcode.BlocksReader{Blocks: gcode.MustParse(`G91 G0 X3`)},
	}

	m := New(cfg)

	for i := 0; i < 3; i++ {
		b, err := m.Read()
		require.NoError(t, err)
		assert.Equal(t, "G91G0X1Z0.3", b.String())
	}

	_, err = m.Read()
	assert.Equal(t, io.EOF, err)
}

type slope float64

func (s slope) OffsetZ(x, y float64) (bool, float64) { return true, x * float64(s) }

func TestMeshLeveler_Absolute(t *testing.T) {
	m := New(Config{
		ZOffsetter:  slope(0.1),
		Granularity: 1,
		Reader:      &gcode.BlocksReader{Blocks: gcode.MustParse("G90 G1 X2 Y0 Z1 F100\nG0 Z5")},
	})

	blocks, err := gcode.ReadAll(m)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, "G90G1X1Y0Z0.6F100", blocks[0].String())
	assert.Equal(t, "G90G1X2Y0Z1.2F100", blocks[1].String())

	// short moves are not split but still follow the surface
	assert.Equal(t, "G0Z5.2", blocks[2].String())
}

func TestMeshLeveler_Arc(t *testing.T) {
	m := New(Config{
		ZOffsetter:  flatSurface{},
		Granularity: 100,
		Reader:      &gcode.BlocksReader{Blocks: gcode.MustParse("G17 G2 X10 Y0 I5 J0")},
	})

	blocks, err := gcode.ReadAll(m)
	require.NoError(t, err)
	require.Greater(t, len(blocks), 10)

	center := coord.Point{X: 5}
	for _, b := range blocks {
		assert.True(t, b.Has(gcode.G1), b.String())
		assert.False(t, b.Has(gcode.G2), b.String())
		ok, _ := b.Arg('I')
		assert.False(t, ok, b.String())

		_, x := b.Arg('X')
		_, y := b.Arg('Y')
		// coordinates are rounded to 4 decimals
		assert.InDelta(t, 5, math.Hypot(x-center.X, y-center.Y), 1e-4)
	}
	assert.Equal(t, "G1G17X10Y0Z0", blocks[len(blocks)-1].String())
}

func TestMeshLeveler_NonModal(t *testing.T) {
	m := New(Config{
		ZOffsetter:  slope(1),
		Granularity: 1,
		Reader:      &gcode.BlocksReader{Blocks: gcode.MustParse("G53 G0 X50")},
	})

	blocks, err := gcode.ReadAll(m)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "G53G0X50", blocks[0].String())
}

func TestOffsetFrom(t *testing.T) {
	pts := []coord.Point{{X: 1, Z: -3}, {X: 2, Z: -2}}
	assert.Equal(t, []coord.Point{{X: 1, Z: -1}, {X: 2}}, OffsetFrom(-2, pts))
	assert.Equal(t, -3.0, pts[0].Z)
}
