package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/stat"

	"roistats/internal/models"
	"roistats/pkg/mesh"
	"roistats/pkg/roistats"
)

// NewShape returns an extractor of region shape features. Positions are
// the physical coordinates of voxel centres; VoxelVolume counts every masked
// voxel as a full cell, while MeshVolume and SurfaceArea measure the surface
// cut through the mask at 0.5.
func NewShape(image, mask *models.Volume) *Extractor {
	return newExtractor(ClassShape, image, mask, map[string]featureFunc{
		"VoxelVolume":             shapeVoxelVolume,
		"MeshVolume":              func(r *region) float64 { return mesh.Volume(r.surface()) },
		"SurfaceArea":             func(r *region) float64 { return mesh.SurfaceArea(r.surface()) },
		"SurfaceVolumeRatio":      shapeSurfaceVolumeRatio,
		"Sphericity":              shapeSphericity,
		"MajorAxisLength":         func(r *region) float64 { return 4 * math.Sqrt(r.principalMoments()[2]) },
		"MinorAxisLength":         func(r *region) float64 { return 4 * math.Sqrt(r.principalMoments()[1]) },
		"LeastAxisLength":         func(r *region) float64 { return 4 * math.Sqrt(r.principalMoments()[0]) },
		"Elongation":              shapeElongation,
		"Flatness":                shapeFlatness,
		"Maximum2DDiameterSlice":  shapeMaximum2DDiameterSlice,
		"Maximum2DDiameterColumn": shapeMaximum2DDiameterColumn,
		"Maximum2DDiameterRow":    shapeMaximum2DDiameterRow,
	})
}

func shapeVoxelVolume(r *region) float64 {
	return roistats.RegionVolume(len(r.indices), r.spacing)
}

func shapeSurfaceVolumeRatio(r *region) float64 {
	v := mesh.Volume(r.surface())
	if v == 0 {
		return 0
	}
	return mesh.SurfaceArea(r.surface()) / v
}

// shapeSphericity is the area of the sphere with the mesh volume divided by
// the mesh area; 1 for a sphere.
func shapeSphericity(r *region) float64 {
	area := mesh.SurfaceArea(r.surface())
	if area == 0 {
		return 0
	}
	v := mesh.Volume(r.surface())
	return math.Cbrt(36*math.Pi*v*v) / area
}

// surface returns the region's triangle mesh, built on first use.
func (r *region) surface() []mesh.Triangle {
	if r.triangles == nil {
		r.triangles = mesh.FromRegion(r.indices, r.spacing)
	}
	return r.triangles
}

func shapeElongation(r *region) float64 {
	ev := r.principalMoments()
	if ev[2] == 0 {
		return 0
	}
	return math.Sqrt(ev[1] / ev[2])
}

func shapeFlatness(r *region) float64 {
	ev := r.principalMoments()
	if ev[2] == 0 {
		return 0
	}
	return math.Sqrt(ev[0] / ev[2])
}

// principalMoments returns the eigenvalues of the population covariance of
// the physical voxel coordinates in ascending order. Rounding noise below
// zero is clamped.
func (r *region) principalMoments() [3]float64 {
	if r.eigen != nil {
		return *r.eigen
	}

	var ev [3]float64
	n := len(r.indices)
	if n > 1 {
		coords := mat.NewDense(n, 3, nil)
		for i, idx := range r.indices {
			coords.Set(i, 0, float64(idx.Column)*r.spacing.X)
			coords.Set(i, 1, float64(idx.Row)*r.spacing.Y)
			coords.Set(i, 2, float64(idx.Slice)*r.spacing.Z)
		}

		// CovarianceMatrix divides by n-1
		var cov mat.SymDense
		stat.CovarianceMatrix(&cov, coords, nil)
		cov.ScaleSym(float64(n-1)/float64(n), &cov)

		var eig mat.EigenSym
		if eig.Factorize(&cov, false) {
			values := eig.Values(nil)
			sort.Float64s(values)
			for i := range ev {
				ev[i] = math.Max(0, values[i])
			}
		}
	}

	r.eigen = &ev
	return ev
}

func shapeMaximum2DDiameterSlice(r *region) float64 {
	return maximumPlaneDiameter(r.indices, planeAxes{
		plane: func(i models.Index) int { return i.Slice },
		u:     func(i models.Index) int { return i.Column },
		v:     func(i models.Index) int { return i.Row },
		su:    r.spacing.X,
		sv:    r.spacing.Y,
	})
}

func shapeMaximum2DDiameterColumn(r *region) float64 {
	return maximumPlaneDiameter(r.indices, planeAxes{
		plane: func(i models.Index) int { return i.Column },
		u:     func(i models.Index) int { return i.Row },
		v:     func(i models.Index) int { return i.Slice },
		su:    r.spacing.Y,
		sv:    r.spacing.Z,
	})
}

func shapeMaximum2DDiameterRow(r *region) float64 {
	return maximumPlaneDiameter(r.indices, planeAxes{
		plane: func(i models.Index) int { return i.Row },
		u:     func(i models.Index) int { return i.Column },
		v:     func(i models.Index) int { return i.Slice },
		su:    r.spacing.X,
		sv:    r.spacing.Z,
	})
}

// planeAxes selects the fixed axis of a family of planes and the two
// in-plane axes with their spacings.
type planeAxes struct {
	plane func(models.Index) int
	u, v  func(models.Index) int
	su    float64
	sv    float64
}

type lineKey struct {
	plane, v int
}

// maximumPlaneDiameter returns the largest distance between two voxel
// centres sharing a plane. Only the two ends of every scan line can lie on
// the convex hull, so each line contributes at most two points.
func maximumPlaneDiameter(indices []models.Index, axes planeAxes) float64 {
	lines := make(map[lineKey]roistats.Range)
	for _, idx := range indices {
		key := lineKey{plane: axes.plane(idx), v: axes.v(idx)}
		u := axes.u(idx)
		if rng, ok := lines[key]; ok {
			lines[key] = roistats.Range{Min: min(rng.Min, u), Max: max(rng.Max, u)}
		} else {
			lines[key] = roistats.Range{Min: u, Max: u}
		}
	}

	planes := make(map[int][]r2.Vec)
	for key, rng := range lines {
		y := float64(key.v) * axes.sv
		planes[key.plane] = append(planes[key.plane],
			r2.Vec{X: float64(rng.Min) * axes.su, Y: y},
			r2.Vec{X: float64(rng.Max) * axes.su, Y: y},
		)
	}

	var diameter float64
	for _, points := range planes {
		diameter = math.Max(diameter, hullDiameter(convexHull(points)))
	}
	return diameter
}

// convexHull returns the hull of points in counter-clockwise order using
// Andrew's monotone chain. Collinear points are dropped.
func convexHull(points []r2.Vec) []r2.Vec {
	sort.Slice(points, func(i, j int) bool {
		if points[i].X != points[j].X {
			return points[i].X < points[j].X
		}
		return points[i].Y < points[j].Y
	})

	if len(points) < 3 {
		return points
	}

	hull := make([]r2.Vec, 0, 2*len(points))
	turn := func(o, a, b r2.Vec) float64 {
		return r2.Cross(r2.Sub(a, o), r2.Sub(b, o))
	}

	// Lower chain
	for _, p := range points {
		for len(hull) >= 2 && turn(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	// Upper chain
	lower := len(hull) + 1
	for i := len(points) - 2; i >= 0; i-- {
		p := points[i]
		for len(hull) >= lower && turn(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	return hull[:len(hull)-1]
}

func hullDiameter(hull []r2.Vec) float64 {
	var diameter float64
	for i := range hull {
		for j := i + 1; j < len(hull); j++ {
			diameter = math.Max(diameter, r2.Norm(r2.Sub(hull[i], hull[j])))
		}
	}
	return diameter
}
