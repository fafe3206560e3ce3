package stats

import "math"

// VariantData is the per-variant input to analysis: raw view and
// conversion counts as reported by the analytics sink.
type VariantData struct {
	ID          string
	Name        string
	Views       int
	Conversions int
}

// Result represents statistical analysis of an experiment
type Result struct {
	Variants        []VariantResult
	Confident       bool    // >= 95% confidence
	ConfidenceLevel float64 // 0-1
	LeadingVariant  int
}

// VariantResult contains statistics for a single variant
type VariantResult struct {
	Index       int
	ID          string
	Name        string
	Views       int
	Conversions int
	Rate        float64
	CILower     float64
	CIUpper     float64
}

// SignificanceTest performs a two-proportion z-test.
// Returns confidence level (0-1) that variant A beats variant B.
func SignificanceTest(aConv, aViews, bConv, bViews int) float64 {
	// Handle edge cases
	if aViews == 0 && bViews == 0 {
		return 0.5 // No data, can't determine
	}
	if aViews == 0 || bViews == 0 {
		return 0.5 // Need data from both variants
	}

	// Calculate proportions
	pA := float64(aConv) / float64(aViews)
	pB := float64(bConv) / float64(bViews)

	// Pooled proportion under null hypothesis (pA = pB)
	pooledP := float64(aConv+bConv) / float64(aViews+bViews)

	// Standard error of the difference
	se := math.Sqrt(pooledP * (1 - pooledP) * (1/float64(aViews) + 1/float64(bViews)))

	if se == 0 {
		if pA > pB {
			return 1.0
		} else if pA < pB {
			return 0.0
		}
		return 0.5
	}

	// Z-statistic
	z := (pA - pB) / se

	// Convert to confidence level using standard normal CDF
	// P(Z < z) gives us confidence that A > B
	confidence := normalCDF(z)

	return confidence
}

// ZStat returns the absolute pooled two-proportion z-statistic for two
// variants. Zero when either variant has no views or the pooled standard
// error degenerates.
func ZStat(aConv, aViews, bConv, bViews int) float64 {
	if aViews == 0 || bViews == 0 {
		return 0
	}

	pA := float64(aConv) / float64(aViews)
	pB := float64(bConv) / float64(bViews)
	pooledP := float64(aConv+bConv) / float64(aViews+bViews)

	se := math.Sqrt(pooledP * (1 - pooledP) * (1/float64(aViews) + 1/float64(bViews)))
	if se == 0 {
		return 0
	}

	return math.Abs(pA-pB) / se
}

// ConfidencePercent maps a z-statistic to an approximate confidence
// percentage via fixed breakpoints, matching how the marketplace reports
// significance on dashboards.
func ConfidencePercent(z float64) float64 {
	switch {
	case z >= 3.29:
		return 99.9
	case z >= 2.58:
		return 99
	case z >= 1.96:
		return 95
	case z >= 1.64:
		return 90
	default:
		return math.Min(z*30, 89)
	}
}

// normalCDF approximates the cumulative distribution function
// of the standard normal distribution
func normalCDF(x float64) float64 {
	// Use the approximation from Abramowitz and Stegun
	// Handbook of Mathematical Functions, formula 7.1.26
	a1 := 0.254829592
	a2 := -0.284496736
	a3 := 1.421413741
	a4 := -1.453152027
	a5 := 1.061405429
	p := 0.3275911

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt(2)

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}

// Analyze calculates full statistics across an experiment's variants.
// Variant 0 is treated as control.
func Analyze(variants []VariantData) *Result {
	results := make([]VariantResult, len(variants))
	maxRate := 0.0
	leadingVariant := 0

	for i, v := range variants {
		rate := 0.0
		if v.Views > 0 {
			rate = float64(v.Conversions) / float64(v.Views)
		}

		ciLower, ciUpper := WilsonInterval(v.Conversions, v.Views, 0.95)

		results[i] = VariantResult{
			Index:       i,
			ID:          v.ID,
			Name:        v.Name,
			Views:       v.Views,
			Conversions: v.Conversions,
			Rate:        rate,
			CILower:     ciLower,
			CIUpper:     ciUpper,
		}

		if rate > maxRate {
			maxRate = rate
			leadingVariant = i
		}
	}

	// Calculate significance between leading variant and control (variant 0)
	var confidenceLevel float64
	if len(results) >= 2 {
		if leadingVariant == 0 {
			// Control is leading, compare against best challenger
			bestChallenger := 1
			bestRate := 0.0
			for i := 1; i < len(results); i++ {
				if results[i].Rate > bestRate {
					bestRate = results[i].Rate
					bestChallenger = i
				}
			}
			confidenceLevel = SignificanceTest(
				results[0].Conversions, results[0].Views,
				results[bestChallenger].Conversions, results[bestChallenger].Views,
			)
		} else {
			// Challenger is leading, compare against control
			confidenceLevel = SignificanceTest(
				results[leadingVariant].Conversions, results[leadingVariant].Views,
				results[0].Conversions, results[0].Views,
			)
		}
	}

	return &Result{
		Variants:        results,
		Confident:       confidenceLevel >= 0.95,
		ConfidenceLevel: confidenceLevel,
		LeadingVariant:  leadingVariant,
	}
}
