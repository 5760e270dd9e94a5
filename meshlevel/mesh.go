package meshlevel

import (
	"errors"
	"fmt"

	"github.com/fogleman/delaunay"
	"github.com/mastercactapus/gsend/coord"
)

// Mesh interpolates Z over a delaunay triangulation of probed points.
type Mesh struct {
	min, max  coord.Point
	triangles []coord.Triangle
}

var _ ZOffsetter = (*Mesh)(nil)

func NewMesh(points []coord.Point) (*Mesh, error) {
	if len(points) < 3 {
		return nil, errors.New("need at least 3 points to create a mesh")
	}

	flat := make([]delaunay.Point, len(points))
	byXY := make(map[delaunay.Point]coord.Point, len(points))
	for i, p := range points {
		flat[i] = delaunay.Point{X: p.X, Y: p.Y}
		byXY[flat[i]] = p
	}

	tri, err := delaunay.Triangulate(flat)
	if err != nil {
		return nil, fmt.Errorf("triangulate: %w", err)
	}
	if len(tri.Triangles) == 0 {
		return nil, errors.New("probe points are collinear")
	}

	mesh := &Mesh{triangles: make([]coord.Triangle, 0, len(tri.Triangles)/3)}
	for i := 0; i < len(tri.Triangles); i += 3 {
		t := coord.Triangle{
			A: byXY[tri.Points[tri.Triangles[i]]],
			B: byXY[tri.Points[tri.Triangles[i+1]]],
			C: byXY[tri.Points[tri.Triangles[i+2]]],
		}
		min, max := t.Bounds()
		if len(mesh.triangles) == 0 {
			mesh.min, mesh.max = min, max
		} else {
			mesh.min = coord.Point{X: minf(mesh.min.X, min.X), Y: minf(mesh.min.Y, min.Y)}
			mesh.max = coord.Point{X: maxf(mesh.max.X, max.X), Y: maxf(mesh.max.Y, max.Y)}
		}
		mesh.triangles = append(mesh.triangles, t)
	}

	return mesh, nil
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// OffsetZ returns the interpolated Z at x,y, or false outside the mesh.
func (m *Mesh) OffsetZ(x, y float64) (bool, float64) {
	if x < m.min.X || m.max.X < x || y < m.min.Y || m.max.Y < y {
		return false, 0
	}
	for _, t := range m.triangles {
		if t.ContainsXY(x, y) {
			return true, t.Z(x, y)
		}
	}

	return false, 0
}
