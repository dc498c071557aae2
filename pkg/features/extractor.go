// Package features computes named first-order and shape features of a masked
// region. Features are selected by name before execution, and only the
// enabled ones are computed.
package features

import (
	"errors"
	"fmt"
	"sort"

	"roistats/internal/models"
	"roistats/pkg/mesh"
	"roistats/pkg/roistats"
)

// ErrUnknownFeature is returned when enabling a name the extractor does not provide.
var ErrUnknownFeature = errors.New("unknown feature")

// Class identifies a feature family.
type Class string

const (
	ClassFirstOrder Class = "firstorder"
	ClassShape      Class = "shape"
)

type featureFunc func(r *region) float64

// Extractor computes one class of features over the voxels selected by mask.
type Extractor struct {
	class    Class
	image    *models.Volume
	mask     *models.Volume
	features map[string]featureFunc
	enabled  map[string]bool
}

func newExtractor(class Class, image, mask *models.Volume, features map[string]featureFunc) *Extractor {
	return &Extractor{
		class:    class,
		image:    image,
		mask:     mask,
		features: features,
		enabled:  make(map[string]bool),
	}
}

// Class returns the feature family of the extractor.
func (e *Extractor) Class() Class {
	return e.class
}

// FeatureNames returns every feature the extractor provides, sorted.
func (e *Extractor) FeatureNames() []string {
	names := make([]string, 0, len(e.features))
	for name := range e.features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnableFeatureByName enables or disables a single feature.
func (e *Extractor) EnableFeatureByName(name string, enabled bool) error {
	if _, ok := e.features[name]; !ok {
		return fmt.Errorf("%w: %s has no feature %q", ErrUnknownFeature, e.class, name)
	}

	if enabled {
		e.enabled[name] = true
	} else {
		delete(e.enabled, name)
	}
	return nil
}

// EnableAllFeatures enables every feature of the class.
func (e *Extractor) EnableAllFeatures() {
	for name := range e.features {
		e.enabled[name] = true
	}
}

// DisableAllFeatures clears the selection.
func (e *Extractor) DisableAllFeatures() {
	e.enabled = make(map[string]bool)
}

// Execute computes the enabled features. With no feature enabled, all of
// them are computed.
func (e *Extractor) Execute() (map[string]float64, error) {
	r, err := newRegion(e.image, e.mask)
	if err != nil {
		return nil, fmt.Errorf("cannot compute %s features: %w", e.class, err)
	}

	selected := e.enabled
	if len(selected) == 0 {
		selected = make(map[string]bool, len(e.features))
		for name := range e.features {
			selected[name] = true
		}
	}

	result := make(map[string]float64, len(selected))
	for name := range selected {
		result[name] = e.features[name](r)
	}
	return result, nil
}

// region holds the masked voxels shared by all feature functions of one
// Execute call.
type region struct {
	indices []models.Index
	values  []float64
	sorted  []float64
	spacing models.Spacing

	eigen     *[3]float64
	triangles []mesh.Triangle
}

func newRegion(image, mask *models.Volume) (*region, error) {
	if image == nil {
		return nil, fmt.Errorf("nil image: %w", roistats.ErrShapeMismatch)
	}

	spacing := image.VoxelSize
	if err := roistats.Validate(image, mask, spacing); err != nil {
		return nil, err
	}

	indices := roistats.ScanMask(mask)
	if len(indices) == 0 {
		return nil, roistats.ErrEmptyRegion
	}

	values := roistats.GatherIntensities(image, indices)
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return &region{
		indices: indices,
		values:  values,
		sorted:  sorted,
		spacing: spacing,
	}, nil
}
