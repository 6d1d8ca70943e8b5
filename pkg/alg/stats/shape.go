package stats

import "math"

// NormalizedEntropy returns the Shannon entropy of the given counts,
// normalized to [0, 1] by the maximum entropy log2(k) for k categories.
// Returns 0 when there are fewer than two non-zero categories.
func NormalizedEntropy(counts []float64) float64 {
	var total float64

	categories := 0

	for _, c := range counts {
		if c > 0 {
			total += c
			categories++
		}
	}

	if categories < 2 || total == 0 {
		return 0
	}

	var entropy float64

	for _, c := range counts {
		if c <= 0 {
			continue
		}

		p := c / total
		entropy -= p * math.Log2(p)
	}

	return entropy / math.Log2(float64(categories))
}

// Sigmoid returns the logistic function 1 / (1 + e^(-x)).
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// LinearRegression fits y = slope*x + intercept by least squares and returns
// the slope, intercept and Pearson correlation coefficient r.
// Returns zeros for fewer than two points or degenerate x.
func LinearRegression(xs, ys []float64) (slope, intercept, r float64) {
	count := len(xs)
	if count < 2 || len(ys) != count {
		return 0, 0, 0
	}

	meanX := Mean(xs)
	meanY := Mean(ys)

	var sxx, syy, sxy float64

	for i := range count {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		sxx += dx * dx
		syy += dy * dy
		sxy += dx * dy
	}

	if sxx == 0 {
		return 0, meanY, 0
	}

	slope = sxy / sxx
	intercept = meanY - slope*meanX

	if syy == 0 {
		return slope, intercept, 0
	}

	r = sxy / math.Sqrt(sxx*syy)

	return slope, intercept, r
}
