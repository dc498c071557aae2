// Package analysis runs the full region-of-interest pipeline: it loads an
// image and its mask, optionally renders a slice comparison, extracts the
// configured features, computes the direct statistics and optionally exports
// the cropped region and its surface mesh.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"

	"roistats/internal/logging"
	"roistats/internal/models"
	"roistats/pkg/config"
	"roistats/pkg/features"
	"roistats/pkg/mesh"
	"roistats/pkg/nrrd"
	"roistats/pkg/roistats"
	"roistats/pkg/visualization"
)

const component = "analysis"

// spacingTolerance is the largest per-axis difference between image and mask
// spacing that goes unreported.
const spacingTolerance = 1e-6

// Params holds the pipeline inputs and outputs.
type Params struct {
	// ImagePath is the NRRD scan whose intensities are measured.
	ImagePath string

	// MaskPath is the NRRD label volume selecting the region.
	MaskPath string

	// FirstOrderFeatures and ShapeFeatures name the features to extract.
	// An empty list skips the class.
	FirstOrderFeatures []string
	ShapeFeatures      []string

	// Extended adds bounding-box extents and region volume to the direct
	// statistics.
	Extended bool

	// ComparisonOutput, when set, receives an image of ComparisonSlice
	// next to the same mask slice.
	ComparisonOutput string
	ComparisonSlice  int
	Comparison       visualization.ComparisonOptions

	// CropOutput, when set, receives the bounding-box crop of the image as NRRD.
	CropOutput string

	// MeshOutput, when set, receives the region surface as binary STL.
	MeshOutput string
}

// ParamsFromConfig maps a loaded configuration onto pipeline parameters.
func ParamsFromConfig(cfg *config.Config) Params {
	params := Params{
		ImagePath:          cfg.Input.Image,
		MaskPath:           cfg.Input.Mask,
		FirstOrderFeatures: cfg.Features.FirstOrder,
		ShapeFeatures:      cfg.Features.Shape,
		Extended:           cfg.Statistics.Extended,
		ComparisonSlice:    cfg.Visualization.Slice,
		Comparison: visualization.ComparisonOptions{
			Scale:      cfg.Visualization.Scale,
			ImageTitle: cfg.Visualization.ImageTitle,
			MaskTitle:  cfg.Visualization.MaskTitle,
		},
		CropOutput: cfg.Output.CropOutput,
		MeshOutput: cfg.Output.MeshOutput,
	}
	if cfg.Visualization.Enabled {
		params.ComparisonOutput = cfg.Visualization.Output
	}
	return params
}

// Results holds everything a completed run produced.
type Results struct {
	FirstOrder map[string]float64
	Shape      map[string]float64
	Statistics roistats.Result

	// BoundingBox is the voxel-index box of the region
	BoundingBox roistats.BoundingBox

	// Spacing is the image spacing the statistics were computed with
	Spacing models.Spacing
}

// Analyzer runs the pipeline once per Process call.
type Analyzer struct {
	params Params
	logger logging.Logger

	image       *models.Volume
	imageHeader *nrrd.Header
	mask        *models.Volume
	results     Results
}

// NewAnalyzer creates an analyzer. A nil logger discards all entries.
func NewAnalyzer(params Params, logger logging.Logger) *Analyzer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Analyzer{params: params, logger: logger}
}

// Results returns the outcome of the last successful Process call.
func (a *Analyzer) Results() Results {
	return a.results
}

// Image returns the scan loaded by the last Process call.
func (a *Analyzer) Image() *models.Volume {
	return a.image
}

// Process runs the complete pipeline. The context is checked between steps.
func (a *Analyzer) Process(ctx context.Context) error {
	a.results = Results{}

	// Step 1: Load image and mask
	a.logger.Info(component, "Step 1: Loading volumes", map[string]interface{}{
		"image": a.params.ImagePath,
		"mask":  a.params.MaskPath,
	})
	if err := a.loadVolumes(ctx); err != nil {
		return fmt.Errorf("failed to load volumes: %w", err)
	}
	a.checkSpacing()

	// Step 2: Render the slice comparison
	if a.params.ComparisonOutput != "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.logger.Info(component, "Step 2: Rendering slice comparison", map[string]interface{}{
			"slice":  a.params.ComparisonSlice,
			"output": a.params.ComparisonOutput,
		})
		if err := a.renderComparison(); err != nil {
			return fmt.Errorf("failed to render comparison: %w", err)
		}
	}

	// Step 3: Extract features
	if err := ctx.Err(); err != nil {
		return err
	}
	a.logger.Info(component, "Step 3: Extracting features", map[string]interface{}{
		"firstOrder": len(a.params.FirstOrderFeatures),
		"shape":      len(a.params.ShapeFeatures),
	})
	firstOrder, err := a.extract(features.NewFirstOrder(a.image, a.mask), a.params.FirstOrderFeatures)
	if err != nil {
		return err
	}
	shape, err := a.extract(features.NewShape(a.image, a.mask), a.params.ShapeFeatures)
	if err != nil {
		return err
	}

	// Step 4: Direct statistics
	if err := ctx.Err(); err != nil {
		return err
	}
	a.logger.Info(component, "Step 4: Computing region statistics", map[string]interface{}{
		"extended": a.params.Extended,
	})
	spacing := a.image.VoxelSize
	summary, err := roistats.Summarize(a.image, a.mask, spacing)
	if err != nil {
		return fmt.Errorf("failed to compute statistics: %w", err)
	}
	box := summary.Box

	// Step 5: Export the region crop
	if a.params.CropOutput != "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.logger.Info(component, "Step 5: Exporting region crop", map[string]interface{}{
			"output": a.params.CropOutput,
			"start":  box.Start(),
			"size":   box.Size(),
		})
		if err := a.exportCrop(box); err != nil {
			return fmt.Errorf("failed to export crop: %w", err)
		}
	}

	// Step 6: Export the region surface
	if a.params.MeshOutput != "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		triangles := mesh.FromRegion(summary.Indices, spacing)
		a.logger.Info(component, "Step 6: Exporting region surface", map[string]interface{}{
			"output":    a.params.MeshOutput,
			"triangles": len(triangles),
		})
		if err := mesh.SaveToSTL(a.params.MeshOutput, triangles); err != nil {
			return fmt.Errorf("failed to export surface: %w", err)
		}
	}

	a.results = Results{
		FirstOrder:  firstOrder,
		Shape:       shape,
		Statistics:  summary.Result(a.params.Extended),
		BoundingBox: box,
		Spacing:     spacing,
	}
	return nil
}

// loadVolumes reads the image and mask concurrently.
func (a *Analyzer) loadVolumes(ctx context.Context) error {
	type loadResult struct {
		role   string
		vol    *models.Volume
		header *nrrd.Header
		err    error
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Buffered so the loaders never block after a cancellation
	resultChan := make(chan loadResult, 2)

	for role, path := range map[string]string{"image": a.params.ImagePath, "mask": a.params.MaskPath} {
		go func(role, path string) {
			vol, header, err := nrrd.ReadFile(path)
			if err == nil {
				a.logger.Debug(component, "Volume loaded", map[string]interface{}{
					"role":     role,
					"shape":    vol.Shape(),
					"type":     header.Type,
					"encoding": header.Encoding,
					"spacing":  vol.VoxelSize.String(),
				})
			}
			resultChan <- loadResult{role: role, vol: vol, header: header, err: err}
		}(role, path)
	}

	var errs []error
	for completed := 0; completed < 2; completed++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-resultChan:
			if res.err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", res.role, res.err))
				continue
			}
			if res.role == "image" {
				a.image, a.imageHeader = res.vol, res.header
			} else {
				a.mask = res.vol
			}
		}
	}

	return errors.Join(errs...)
}

// checkSpacing reports a mask whose spacing disagrees with the image. The
// image spacing is used either way.
func (a *Analyzer) checkSpacing() {
	img, msk := a.image.VoxelSize, a.mask.VoxelSize
	if math.Abs(img.X-msk.X) > spacingTolerance ||
		math.Abs(img.Y-msk.Y) > spacingTolerance ||
		math.Abs(img.Z-msk.Z) > spacingTolerance {
		a.logger.Warning(component, "Mask spacing differs from image spacing", map[string]interface{}{
			"image": img.String(),
			"mask":  msk.String(),
		})
	}
}

func (a *Analyzer) renderComparison() error {
	img, err := visualization.RenderComparison(a.image, a.mask, a.params.ComparisonSlice, a.params.Comparison)
	if err != nil {
		return err
	}
	return visualization.SaveImage(img, a.params.ComparisonOutput)
}

// extract runs one extractor over the named features. No names means the
// class is skipped.
func (a *Analyzer) extract(extractor *features.Extractor, names []string) (map[string]float64, error) {
	if len(names) == 0 {
		return nil, nil
	}

	for _, name := range names {
		if err := extractor.EnableFeatureByName(name, true); err != nil {
			return nil, err
		}
	}

	result, err := extractor.Execute()
	if err != nil {
		return nil, err
	}

	a.logger.Debug(component, "Features extracted", map[string]interface{}{
		"class": string(extractor.Class()),
		"count": len(result),
	})
	return result, nil
}

// exportCrop writes the box of the image, placed where it sits in the
// source's physical space.
func (a *Analyzer) exportCrop(box roistats.BoundingBox) error {
	crop, err := a.image.Crop(box.Start(), box.Size())
	if err != nil {
		return err
	}

	return nrrd.WriteFile(a.params.CropOutput, crop, nrrd.WriteOptions{
		Type:       nrrd.TypeDouble,
		Encoding:   nrrd.EncodingGzip,
		Space:      a.imageHeader.Space,
		Origin:     a.imageHeader.OriginAt(box.Start()),
		Directions: a.imageHeader.Directions(),
		KeyValues: map[string]string{
			"roistats_source": a.params.ImagePath,
			"roistats_start":  fmt.Sprintf("%d %d %d", box.Start().Column, box.Start().Row, box.Start().Slice),
		},
	})
}
