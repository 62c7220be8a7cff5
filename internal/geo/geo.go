package geo

import (
	"github.com/go-gl/mathgl/mgl32"
	geom "github.com/peterstace/simplefeatures/geom"
)

// Points are stored in body-local or scene world space, never geodetic; there is
// no SRID. Geometry columns are written as WKB through geom's driver.Valuer.

// PointFromVec3 creates an XYZ point.
func PointFromVec3(v mgl32.Vec3) geom.Point {
	return geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: float64(v[0]), Y: float64(v[1])},
			Z:    float64(v[2]),
			Type: geom.DimXYZ,
		},
	)
}
