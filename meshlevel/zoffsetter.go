package meshlevel

// A ZOffsetter reports the surface height at a machine XY position.
type ZOffsetter interface {
	OffsetZ(x, y float64) (bool, float64)
}

type flatSurface struct{}

func (flatSurface) OffsetZ(x, y float64) (bool, float64) { return false, 0 }
