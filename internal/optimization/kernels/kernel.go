// Package kernels provides covariance functions for the Gaussian process
// surrogate.
package kernels

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Kernel represents a kernel function for Gaussian Processes
type Kernel interface {
	// Eval computes the covariance between two points x1 and x2
	Eval(x1, x2 []float64) float64

	// Hyperparameters returns the current hyperparameters
	Hyperparameters() []float64

	// SetHyperparameters sets the kernel's hyperparameters
	SetHyperparameters(params []float64) error
}

// Name identifies a kernel in configuration.
type Name string

const (
	// RBF is the squared exponential kernel.
	RBF Name = "rbf"
	// Matern52 is the Matérn 5/2 kernel.
	Matern52 Name = "matern52"
)

// New returns the kernel called name.
func New(name Name, lengthScale, signalVar float64) (Kernel, error) {
	switch name {
	case RBF:
		return NewRBFKernel(lengthScale, signalVar)
	case Matern52, "":
		return NewMatern52Kernel(lengthScale, signalVar)
	}
	return nil, fmt.Errorf("unknown kernel %q", name)
}

// stationary holds the hyperparameters shared by the stationary kernels.
type stationary struct {
	// Length scale parameter (larger = smoother function)
	lengthScale float64
	// Signal variance (controls the amplitude of the function)
	signalVar float64
}

func newStationary(lengthScale, signalVar float64) (stationary, error) {
	s := stationary{}
	if err := s.SetHyperparameters([]float64{lengthScale, signalVar}); err != nil {
		return s, err
	}
	return s, nil
}

// Hyperparameters returns the length scale and the signal variance.
func (s *stationary) Hyperparameters() []float64 {
	return []float64{s.lengthScale, s.signalVar}
}

// SetHyperparameters sets the length scale and the signal variance.
func (s *stationary) SetHyperparameters(params []float64) error {
	if len(params) != 2 {
		return fmt.Errorf("expected 2 hyperparameters, got %d", len(params))
	}
	for _, p := range params {
		if !(p > 0) || math.IsInf(p, 0) {
			return fmt.Errorf("hyperparameters must be positive, got %v", params)
		}
	}
	s.lengthScale = params[0]
	s.signalVar = params[1]
	return nil
}

// scaledDistance returns |x1-x2| / lengthScale.
func (s *stationary) scaledDistance(x1, x2 []float64) float64 {
	return floats.Distance(x1, x2, 2) / s.lengthScale
}

// RBFKernel implements the Radial Basis Function (squared exponential) kernel
type RBFKernel struct {
	stationary
}

// NewRBFKernel creates a new RBF kernel with the given parameters
func NewRBFKernel(lengthScale, signalVar float64) (*RBFKernel, error) {
	s, err := newStationary(lengthScale, signalVar)
	if err != nil {
		return nil, err
	}
	return &RBFKernel{stationary: s}, nil
}

// Eval computes signalVar * exp(-r²/2).
func (k *RBFKernel) Eval(x1, x2 []float64) float64 {
	r := k.scaledDistance(x1, x2)
	return k.signalVar * math.Exp(-0.5*r*r)
}

// Matern52Kernel implements the Matérn 5/2 kernel
type Matern52Kernel struct {
	stationary
}

// NewMatern52Kernel creates a new Matérn 5/2 kernel with the given parameters
func NewMatern52Kernel(lengthScale, signalVar float64) (*Matern52Kernel, error) {
	s, err := newStationary(lengthScale, signalVar)
	if err != nil {
		return nil, err
	}
	return &Matern52Kernel{stationary: s}, nil
}

// Eval computes signalVar * (1 + √5r + 5r²/3) * exp(-√5r).
func (k *Matern52Kernel) Eval(x1, x2 []float64) float64 {
	r := k.scaledDistance(x1, x2)
	sqrt5r := math.Sqrt(5) * r
	return k.signalVar * (1 + sqrt5r + (5.0/3.0)*r*r) * math.Exp(-sqrt5r)
}
