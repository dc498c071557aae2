package features

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"roistats/internal/models"
	"roistats/pkg/roistats"
)

// NewFirstOrder returns an extractor of intensity distribution features.
// Moments are population moments (divisor n).
func NewFirstOrder(image, mask *models.Volume) *Extractor {
	return newExtractor(ClassFirstOrder, image, mask, map[string]featureFunc{
		"Mean":                  firstOrderMean,
		"StandardDeviation":     firstOrderStandardDeviation,
		"Median":                firstOrderMedian,
		"Minimum":               func(r *region) float64 { return floats.Min(r.values) },
		"Maximum":               func(r *region) float64 { return floats.Max(r.values) },
		"Range":                 func(r *region) float64 { return floats.Max(r.values) - floats.Min(r.values) },
		"Variance":              firstOrderVariance,
		"Energy":                firstOrderEnergy,
		"RootMeanSquared":       firstOrderRootMeanSquared,
		"MeanAbsoluteDeviation": firstOrderMeanAbsoluteDeviation,
		"Skewness":              firstOrderSkewness,
		"Kurtosis":              firstOrderKurtosis,
		"10Percentile":          func(r *region) float64 { return percentile(r.sorted, 0.10) },
		"90Percentile":          func(r *region) float64 { return percentile(r.sorted, 0.90) },
		"InterquartileRange":    func(r *region) float64 { return percentile(r.sorted, 0.75) - percentile(r.sorted, 0.25) },
	})
}

func firstOrderMean(r *region) float64 {
	return stat.Mean(r.values, nil)
}

func firstOrderStandardDeviation(r *region) float64 {
	_, std := stat.PopMeanStdDev(r.values, nil)
	return std
}

func firstOrderMedian(r *region) float64 {
	return roistats.Median(r.values)
}

func firstOrderVariance(r *region) float64 {
	_, variance := stat.PopMeanVariance(r.values, nil)
	return variance
}

func firstOrderEnergy(r *region) float64 {
	return floats.Dot(r.values, r.values)
}

func firstOrderRootMeanSquared(r *region) float64 {
	return math.Sqrt(firstOrderEnergy(r) / float64(len(r.values)))
}

func firstOrderMeanAbsoluteDeviation(r *region) float64 {
	mean := stat.Mean(r.values, nil)
	var sum float64
	for _, v := range r.values {
		sum += math.Abs(v - mean)
	}
	return sum / float64(len(r.values))
}

// Flat regions have no defined shape of distribution; they report 0.
func firstOrderSkewness(r *region) float64 {
	m2 := stat.Moment(2, r.values, nil)
	if m2 == 0 {
		return 0
	}
	return stat.Moment(3, r.values, nil) / math.Pow(m2, 1.5)
}

func firstOrderKurtosis(r *region) float64 {
	m2 := stat.Moment(2, r.values, nil)
	if m2 == 0 {
		return 0
	}
	return stat.Moment(4, r.values, nil) / (m2 * m2)
}

// percentile linearly interpolates between the closest ranks of sorted,
// placing p=0 at the first value and p=1 at the last.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}

	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
