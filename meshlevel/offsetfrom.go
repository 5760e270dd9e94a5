package meshlevel

import (
	"github.com/mastercactapus/gsend/coord"
)

// OffsetFrom returns a copy of points with z subtracted, so a mesh
// built from them reports heights relative to z.
func OffsetFrom(z float64, points []coord.Point) []coord.Point {
	res := make([]coord.Point, 0, len(points))
	for _, p := range points {
		p.Z -= z
		res = append(res, p)
	}
	return res
}
