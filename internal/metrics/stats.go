// Package metrics aggregates settled paired-trade outcomes into
// confidence-bounded go/no-go statistics.
package metrics

import "math"

// WilsonCI returns the Wilson score interval for a proportion. Unlike the
// normal approximation it stays well-behaved at small samples and at rates
// near 0 or 1. z is the standard-normal critical value (1.96 for 95%).
func WilsonCI(successes, trials int, z float64) (lower, upper float64) {
	if trials <= 0 {
		return 0, 0
	}
	n := float64(trials)
	p := float64(successes) / n
	z2 := z * z

	denom := 1 + z2/n
	center := p + z2/(2*n)
	spread := z * math.Sqrt(p*(1-p)/n+z2/(4*n*n))

	lower = (center - spread) / denom
	upper = (center + spread) / denom
	if lower < 0 {
		lower = 0
	}
	if upper > 1 {
		upper = 1
	}
	return lower, upper
}

// ProfitTTest runs a one-sample t-test of the mean against zero and returns
// the t statistic with a two-sided p-value. With fewer than two samples, or
// zero variance, there is no test: it returns (0, 1).
//
// The p-value uses the standard normal CDF as the approximation to the t
// distribution, which is conservative enough at the sample sizes the
// production gate requires.
func ProfitTTest(samples []float64) (tStat, pValue float64) {
	n := len(samples)
	if n < 2 {
		return 0, 1
	}
	mean := 0.0
	for _, v := range samples {
		mean += v
	}
	mean /= float64(n)

	variance := 0.0
	for _, v := range samples {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n - 1)
	if variance == 0 {
		return 0, 1
	}

	se := math.Sqrt(variance / float64(n))
	tStat = mean / se
	pValue = 2 * (1 - normalCDF(math.Abs(tStat)))
	return tStat, pValue
}

// normalCDF is the standard normal cumulative distribution function.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
