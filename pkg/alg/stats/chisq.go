package stats

import "math"

// ChiSquareCDF returns the cumulative distribution function of the chi-square
// distribution with df degrees of freedom, evaluated at x.
// Returns 0 for x <= 0 or df < 1.
func ChiSquareCDF(x float64, df int) float64 {
	if x <= 0 || df < 1 {
		return 0
	}

	return regularizedGammaP(float64(df)/2, x/2)
}

// ChiSquareSF returns the survival function (1 - CDF) of the chi-square
// distribution with df degrees of freedom, evaluated at x.
func ChiSquareSF(x float64, df int) float64 {
	return 1 - ChiSquareCDF(x, df)
}

// ChiSquareCritical returns the critical value c such that
// ChiSquareCDF(c, df) = p, found by bisection. p must be in (0, 1).
func ChiSquareCritical(p float64, df int) float64 {
	if p <= 0 || p >= 1 || df < 1 {
		return 0
	}

	lo, hi := 0.0, float64(df)*10+100

	for range 200 {
		mid := (lo + hi) / 2
		if ChiSquareCDF(mid, df) < p {
			lo = mid
		} else {
			hi = mid
		}
	}

	return (lo + hi) / 2
}

// ChiSquareGoodnessOfFit computes the chi-square statistic and p-value for
// observed counts against expected counts. Zero expected cells are skipped.
func ChiSquareGoodnessOfFit(observed, expected []float64) (statistic, pValue float64) {
	df := 0

	for i, exp := range expected {
		if i >= len(observed) || exp <= 0 {
			continue
		}

		diff := observed[i] - exp
		statistic += diff * diff / exp
		df++
	}

	if df < 2 {
		return statistic, 1
	}

	return statistic, ChiSquareSF(statistic, df-1)
}

// maxGammaIterations bounds the series and continued-fraction loops.
const maxGammaIterations = 200

// gammaEpsilon is the relative convergence tolerance for the gamma routines.
const gammaEpsilon = 1e-14

// regularizedGammaP computes the regularized lower incomplete gamma function
// P(a, x), choosing the series expansion for x < a+1 and the continued
// fraction otherwise.
func regularizedGammaP(a, x float64) float64 {
	if x <= 0 {
		return 0
	}

	if x < a+1 {
		return gammaSeries(a, x)
	}

	return 1 - gammaContinuedFraction(a, x)
}

func gammaSeries(a, x float64) float64 {
	lg, _ := math.Lgamma(a)

	ap := a
	sum := 1 / a
	del := sum

	for range maxGammaIterations {
		ap++
		del *= x / ap
		sum += del

		if math.Abs(del) < math.Abs(sum)*gammaEpsilon {
			break
		}
	}

	return sum * math.Exp(-x+a*math.Log(x)-lg)
}

func gammaContinuedFraction(a, x float64) float64 {
	lg, _ := math.Lgamma(a)

	const tiny = 1e-300

	b := x + 1 - a
	c := 1 / tiny
	d := 1 / b
	h := d

	for i := 1; i <= maxGammaIterations; i++ {
		an := -float64(i) * (float64(i) - a)
		b += 2

		d = an*d + b
		if math.Abs(d) < tiny {
			d = tiny
		}

		c = b + an/c
		if math.Abs(c) < tiny {
			c = tiny
		}

		d = 1 / d
		del := d * c
		h *= del

		if math.Abs(del-1) < gammaEpsilon {
			break
		}
	}

	return math.Exp(-x+a*math.Log(x)-lg) * h
}
