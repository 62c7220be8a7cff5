package geo

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/OCAP2/bodytrack/pkg/core"
)

// LineStringFromPoints builds an XYZ line string from a segment polyline.
// At least two points are required.
func LineStringFromPoints(points []mgl32.Vec3) (geom.LineString, error) {
	if len(points) < 2 {
		return geom.LineString{}, fmt.Errorf("polyline must have at least 2 points, got %d", len(points))
	}

	flatCoords := make([]float64, 0, len(points)*3)
	for _, p := range points {
		flatCoords = append(flatCoords, float64(p[0]), float64(p[1]), float64(p[2]))
	}

	seq := geom.NewSequence(flatCoords, geom.DimXYZ)
	return geom.NewLineString(seq), nil
}

// PointsFromLineString returns the line string's vertices.
func PointsFromLineString(ls geom.LineString) []mgl32.Vec3 {
	seq := ls.Coordinates()
	points := make([]mgl32.Vec3, seq.Length())
	for i := range points {
		c := seq.Get(i)
		points[i] = mgl32.Vec3{float32(c.XY.X), float32(c.XY.Y), float32(c.Z)}
	}
	return points
}

// SegmentsGeometry packs every segment into one MULTILINESTRING Z in segment order.
func SegmentsGeometry(segments []core.SegmentPoints) (geom.Geometry, error) {
	lines := make([]geom.LineString, 0, len(segments))
	for _, s := range segments {
		ls, err := LineStringFromPoints(s.Points)
		if err != nil {
			return geom.Geometry{}, fmt.Errorf("segment %s: %w", s.Name, err)
		}
		lines = append(lines, ls)
	}
	return geom.NewMultiLineString(lines).AsGeometry(), nil
}

// SegmentsFromGeometry unpacks a geometry written by SegmentsGeometry. names
// labels the line strings in order; missing names are left empty.
func SegmentsFromGeometry(g geom.Geometry, names []string) ([]core.SegmentPoints, error) {
	mls, ok := g.AsMultiLineString()
	if !ok {
		return nil, fmt.Errorf("expected MULTILINESTRING, got %s", g.Type())
	}
	out := make([]core.SegmentPoints, mls.NumLineStrings())
	for i := range out {
		if i < len(names) {
			out[i].Name = names[i]
		}
		out[i].Points = PointsFromLineString(mls.LineStringN(i))
	}
	return out, nil
}
