// Package acquisition scores candidate points from a surrogate's posterior.
package acquisition

import (
	"gonum.org/v1/gonum/stat/distuv"
)

// minSigma is the posterior standard deviation below which a prediction is
// treated as certain.
const minSigma = 1e-10

// ExpectedImprovement implements the Expected Improvement acquisition
// function for minimization.
type ExpectedImprovement struct {
	// Best (lowest) observed value so far
	bestObserved float64
	// Exploration-exploitation trade-off parameter (xi)
	xi float64
}

// NewExpectedImprovement creates a new ExpectedImprovement acquisition function
func NewExpectedImprovement(bestObserved, xi float64) *ExpectedImprovement {
	return &ExpectedImprovement{
		bestObserved: bestObserved,
		xi:           xi,
	}
}

// Compute returns the expected improvement of a point whose posterior has
// mean mu and standard deviation sigma. The result is never negative.
//
//	EI = d * Φ(d/σ) + σ * φ(d/σ),  d = best - mu - xi
func (ei *ExpectedImprovement) Compute(mu, sigma float64) float64 {
	improvement := ei.bestObserved - mu - ei.xi

	if sigma <= minSigma {
		if improvement <= 0 {
			return 0
		}
		return improvement
	}

	z := improvement / sigma
	v := improvement*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)
	if v < 0 {
		return 0
	}
	return v
}

// Gradient returns dEI given the derivatives dmu and dsigma of the
// posterior mean and standard deviation.
func (ei *ExpectedImprovement) Gradient(mu, dmu, sigma, dsigma float64) float64 {
	improvement := ei.bestObserved - mu - ei.xi

	if sigma <= minSigma {
		if improvement <= 0 {
			return 0
		}
		return -dmu
	}

	z := improvement / sigma
	// dEI/dmu = -Φ(z), dEI/dsigma = φ(z)
	return -distuv.UnitNormal.CDF(z)*dmu + distuv.UnitNormal.Prob(z)*dsigma
}

// UpdateBest updates the best observed value
func (ei *ExpectedImprovement) UpdateBest(best float64) {
	ei.bestObserved = best
}

// SetXi sets the exploration-exploitation trade-off parameter
func (ei *ExpectedImprovement) SetXi(xi float64) {
	ei.xi = xi
}

// BestObserved returns the best observed value
func (ei *ExpectedImprovement) BestObserved() float64 {
	return ei.bestObserved
}
