// Package mesh extracts the boundary surface of a region as a closed,
// outward-oriented triangle mesh and measures the volume and area it encloses.
//
// Each grid cell is split into six tetrahedra sharing the cell diagonal, and
// the iso-surface is cut from every tetrahedron by linear interpolation along
// its edges. Neighbouring cells split their shared faces the same way, so the
// triangles of adjacent cells meet edge to edge and the mesh has no holes.
package mesh

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"roistats/internal/models"
	"roistats/pkg/roistats"
)

// Triangle is one facet of a surface. The vertices are ordered
// counter-clockwise when seen from outside, matching Normal.
type Triangle struct {
	Normal  r3.Vec
	Vertex1 r3.Vec
	Vertex2 r3.Vec
	Vertex3 r3.Vec
}

// cellTetrahedra lists the corners of the six tetrahedra of a cell. Corner c
// sits at offset (c&1, c>>1&1, c>>2&1) in (column, row, slice).
var cellTetrahedra = [6][4]int{
	{0, 1, 3, 7},
	{0, 1, 5, 7},
	{0, 2, 3, 7},
	{0, 2, 6, 7},
	{0, 4, 5, 7},
	{0, 4, 6, 7},
}

// Surface extracts the iso-surface of a scalar grid stored in row-major order
// (columns fastest). Samples outside the grid read as zero, so a region
// touching the border is still closed.
type Surface struct {
	data     []float64
	width    int
	height   int
	depth    int
	isoLevel float64

	scale  r3.Vec
	offset r3.Vec
}

// NewSurface creates a surface extractor. Samples above isoLevel are inside.
func NewSurface(data []float64, width, height, depth int, isoLevel float64) *Surface {
	return &Surface{
		data:     data,
		width:    width,
		height:   height,
		depth:    depth,
		isoLevel: isoLevel,
		scale:    r3.Vec{X: 1, Y: 1, Z: 1},
	}
}

// SetScale sets the physical size of one grid step along each axis.
func (s *Surface) SetScale(x, y, z float64) {
	s.scale = r3.Vec{X: x, Y: y, Z: z}
}

// SetOffset sets the grid position of sample (0,0,0), applied before scaling.
func (s *Surface) SetOffset(column, row, slice int) {
	s.offset = r3.Vec{X: float64(column), Y: float64(row), Z: float64(slice)}
}

func (s *Surface) value(x, y, z int) float64 {
	if x < 0 || y < 0 || z < 0 || x >= s.width || y >= s.height || z >= s.depth {
		return 0
	}
	return s.data[z*s.width*s.height+y*s.width+x]
}

func (s *Surface) position(x, y, z int) r3.Vec {
	return r3.Vec{
		X: (float64(x) + s.offset.X) * s.scale.X,
		Y: (float64(y) + s.offset.Y) * s.scale.Y,
		Z: (float64(z) + s.offset.Z) * s.scale.Z,
	}
}

// GenerateTriangles returns the closed surface separating samples above the
// iso level from the rest.
func (s *Surface) GenerateTriangles() []Triangle {
	var triangles []Triangle

	var values [8]float64
	var points [8]r3.Vec

	// Cells start one step before the grid so the zero border is included
	for z := -1; z < s.depth; z++ {
		for y := -1; y < s.height; y++ {
			for x := -1; x < s.width; x++ {
				inside := 0
				for c := 0; c < 8; c++ {
					cx, cy, cz := x+c&1, y+c>>1&1, z+c>>2&1
					values[c] = s.value(cx, cy, cz)
					points[c] = s.position(cx, cy, cz)
					if values[c] > s.isoLevel {
						inside++
					}
				}
				if inside == 0 || inside == 8 {
					continue
				}

				for _, tet := range cellTetrahedra {
					triangles = s.appendTetrahedron(triangles, tet, &values, &points)
				}
			}
		}
	}

	return triangles
}

// appendTetrahedron appends the part of the surface crossing one tetrahedron.
func (s *Surface) appendTetrahedron(triangles []Triangle, tet [4]int, values *[8]float64, points *[8]r3.Vec) []Triangle {
	var in, out []int
	for _, c := range tet {
		if values[c] > s.isoLevel {
			in = append(in, c)
		} else {
			out = append(out, c)
		}
	}
	if len(in) == 0 || len(out) == 0 {
		return triangles
	}

	// Direction from the inside corners towards the outside ones
	var inCentre, outCentre r3.Vec
	for _, c := range in {
		inCentre = r3.Add(inCentre, points[c])
	}
	for _, c := range out {
		outCentre = r3.Add(outCentre, points[c])
	}
	outward := r3.Sub(
		r3.Scale(1/float64(len(out)), outCentre),
		r3.Scale(1/float64(len(in)), inCentre),
	)

	edge := func(i, o int) r3.Vec {
		t := (s.isoLevel - values[i]) / (values[o] - values[i])
		return r3.Add(points[i], r3.Scale(t, r3.Sub(points[o], points[i])))
	}

	switch {
	case len(in) == 1:
		return append(triangles, orient(outward, edge(in[0], out[0]), edge(in[0], out[1]), edge(in[0], out[2])))

	case len(out) == 1:
		return append(triangles, orient(outward, edge(in[0], out[0]), edge(in[1], out[0]), edge(in[2], out[0])))

	default:
		// The cut is a quad; consecutive corners share a tetrahedron face
		q0, q1 := edge(in[0], out[0]), edge(in[0], out[1])
		q2, q3 := edge(in[1], out[1]), edge(in[1], out[0])
		return append(triangles, orient(outward, q0, q1, q2), orient(outward, q0, q2, q3))
	}
}

// orient builds a triangle whose normal points along outward.
func orient(outward, a, b, c r3.Vec) Triangle {
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
	if r3.Dot(n, outward) < 0 {
		b, c = c, b
		n = r3.Scale(-1, n)
	}
	if norm := r3.Norm(n); norm > 0 {
		n = r3.Scale(1/norm, n)
	}
	return Triangle{Normal: n, Vertex1: a, Vertex2: b, Vertex3: c}
}

// FromRegion returns the surface of the voxels at indices in physical
// coordinates, with voxel centres at index times spacing. The region is
// treated as a binary volume cut at 0.5. An empty region has no surface.
func FromRegion(indices []models.Index, spacing models.Spacing) []Triangle {
	box, err := roistats.ExtractBoundingBox(indices)
	if err != nil {
		return nil
	}

	start, size := box.Start(), box.Size()
	data := make([]float64, size.Column*size.Row*size.Slice)
	for _, idx := range indices {
		x, y, z := idx.Column-start.Column, idx.Row-start.Row, idx.Slice-start.Slice
		data[z*size.Column*size.Row+y*size.Column+x] = 1
	}

	surface := NewSurface(data, size.Column, size.Row, size.Slice, 0.5)
	surface.SetOffset(start.Column, start.Row, start.Slice)
	surface.SetScale(spacing.X, spacing.Y, spacing.Z)
	return surface.GenerateTriangles()
}

// Volume returns the volume enclosed by a closed mesh as the sum of the
// signed tetrahedra spanned by the origin and each triangle.
func Volume(triangles []Triangle) float64 {
	var sum float64
	for _, t := range triangles {
		sum += r3.Dot(t.Vertex1, r3.Cross(t.Vertex2, t.Vertex3))
	}
	return math.Abs(sum) / 6
}

// SurfaceArea returns the total area of the triangles.
func SurfaceArea(triangles []Triangle) float64 {
	var sum float64
	for _, t := range triangles {
		sum += r3.Norm(r3.Cross(r3.Sub(t.Vertex2, t.Vertex1), r3.Sub(t.Vertex3, t.Vertex1)))
	}
	return sum / 2
}
