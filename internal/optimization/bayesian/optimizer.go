// Package bayesian implements a Gaussian process sampler with an expected
// improvement acquisition.
package bayesian

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
	"github.com/copyleftdev/episim-calibrate/internal/optimization"
	"github.com/copyleftdev/episim-calibrate/internal/optimization/acquisition"
	"github.com/copyleftdev/episim-calibrate/internal/optimization/kernels"
)

// Config configures a Sampler.
type Config struct {
	// StartupTrials is the number of completed trials sampled by Latin
	// hypercube strata before the GP is used.
	StartupTrials int
	// Seed for the random number generator. Zero uses the current time.
	Seed int64
	// Kernel selects the covariance function.
	Kernel kernels.Name
	// LengthScale of the kernel in the unit parameter space.
	LengthScale float64
	// NoiseVar is the observation noise of the standardized objective.
	NoiseVar float64
	// Xi is the exploration parameter of expected improvement.
	Xi float64
}

// DefaultConfig returns the sampler defaults.
func DefaultConfig() Config {
	return Config{
		StartupTrials: 5,
		Kernel:        kernels.Matern52,
		LengthScale:   0.2,
		NoiseVar:      1e-4,
		Xi:            0.01,
	}
}

// Sampler models each parameter independently: the completed trials that
// used the same distribution for a parameter are mapped to [0, 1], a GP is
// fitted to their standardized values and the next value maximizes the
// expected improvement. Until StartupTrials observations exist, values come
// from a Latin hypercube over the unit interval.
type Sampler struct {
	mu     sync.Mutex
	cfg    Config
	rng    *rand.Rand
	logger *zap.Logger
	// strata holds the Latin hypercube permutation per parameter.
	strata map[string][]int
}

// NewSampler creates a GP sampler. A nil logger discards output.
func NewSampler(cfg Config, logger *zap.Logger) (*Sampler, error) {
	const op = "bayesian.NewSampler"

	def := DefaultConfig()
	if cfg.StartupTrials < 1 {
		cfg.StartupTrials = def.StartupTrials
	}
	if cfg.Kernel == "" {
		cfg.Kernel = def.Kernel
	}
	if cfg.LengthScale == 0 {
		cfg.LengthScale = def.LengthScale
	}
	if cfg.NoiseVar == 0 {
		cfg.NoiseVar = def.NoiseVar
	}
	if cfg.Xi == 0 {
		cfg.Xi = def.Xi
	}
	if _, err := kernels.New(cfg.Kernel, cfg.LengthScale, 1); err != nil {
		return nil, errors.Wrap(err, errors.KindConfig, op, "kernel")
	}
	if cfg.NoiseVar < 0 || cfg.Xi < 0 {
		return nil, errors.Errorf(errors.KindConfig, op, "noise %g and xi %g must not be negative", cfg.NoiseVar, cfg.Xi)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sampler{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger.Named("gp_sampler"),
		strata: map[string][]int{},
	}, nil
}

// observation is a completed trial projected onto one parameter.
type observation struct {
	x, y float64
}

// Sample implements optimization.Sampler.
func (s *Sampler) Sample(history []optimization.TrialRecord, name string, dist optimization.Distribution) (float64, error) {
	if err := dist.Validate(); err != nil {
		return 0, err
	}
	if dist.Low == dist.High {
		return dist.Low, nil
	}

	obs, started := collect(history, name, dist)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(obs) < s.cfg.StartupTrials {
		u := s.startupPoint(name, started)
		s.logger.Debug("Startup sample",
			zap.String("param", name),
			zap.Int("observations", len(obs)),
			zap.Float64("unit_value", u),
		)
		return dist.FromUnit(u), nil
	}

	u, err := s.suggest(obs)
	if err != nil {
		s.logger.Warn("GP suggestion failed, sampling uniformly",
			zap.String("param", name),
			zap.Error(err),
		)
		return optimization.SampleUniform(s.rng, dist), nil
	}
	return dist.FromUnit(u), nil
}

// collect returns the completed observations of name under dist and the
// number of trials that sampled name at all.
func collect(history []optimization.TrialRecord, name string, dist optimization.Distribution) ([]observation, int) {
	var obs []observation
	started := 0
	for _, t := range history {
		v, ok := t.Params[name]
		if !ok || t.Distributions[name] != dist {
			continue
		}
		started++
		if t.State != optimization.TrialComplete || t.Value == nil {
			continue
		}
		obs = append(obs, observation{x: dist.ToUnit(v), y: *t.Value})
	}
	return obs, started
}

// startupPoint returns a point in stratum perm[i] of StartupTrials equal
// strata, so that the first StartupTrials trials cover the unit interval.
func (s *Sampler) startupPoint(name string, i int) float64 {
	n := s.cfg.StartupTrials
	perm, ok := s.strata[name]
	if !ok {
		perm = s.rng.Perm(n)
		s.strata[name] = perm
	}
	return (float64(perm[i%n]) + s.rng.Float64()) / float64(n)
}

// suggest fits the GP to obs and maximizes expected improvement over [0, 1].
func (s *Sampler) suggest(obs []observation) (float64, error) {
	n := len(obs)
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, o := range obs {
		xs[i] = o.x
		ys[i] = o.y
	}

	// Standardize so that the kernel signal variance of 1 fits any scale.
	mean, std := stat.MeanStdDev(ys, nil)
	if !(std > 0) {
		std = 1
	}
	bestIdx := 0
	y := mat.NewVecDense(n, nil)
	for i, v := range ys {
		y.SetVec(i, (v-mean)/std)
		if v < ys[bestIdx] {
			bestIdx = i
		}
	}

	kernel, err := kernels.New(s.cfg.Kernel, s.cfg.LengthScale, 1)
	if err != nil {
		return 0, err
	}
	gp := NewGP(kernel, s.cfg.NoiseVar, s.logger)
	if err := gp.Fit(mat.NewDense(n, 1, xs), y); err != nil {
		return 0, err
	}

	ei := acquisition.NewExpectedImprovement(y.AtVec(bestIdx), s.cfg.Xi)
	x, value := s.maximizeAcquisition(gp, ei, xs[bestIdx])

	s.logger.Debug("GP suggestion",
		zap.Int("observations", n),
		zap.Float64("best_observed", ys[bestIdx]),
		zap.Float64("unit_value", x),
		zap.Float64("expected_improvement", value),
	)
	return x, nil
}

// maximizeAcquisition finds the point in [0, 1] that maximizes the
// acquisition function. A grid scan seeds Nelder-Mead runs from the best
// grid point, the incumbent and random starts.
func (s *Sampler) maximizeAcquisition(gp *GP, ei *acquisition.ExpectedImprovement, incumbent float64) (float64, float64) {
	clamp := func(x float64) float64 { return math.Max(0, math.Min(1, x)) }

	point := mat.NewDense(1, 1, nil)
	negEI := func(x []float64) float64 {
		point.Set(0, 0, clamp(x[0]))
		mu, variance, err := gp.Predict(point)
		if err != nil {
			return math.Inf(1)
		}
		return -ei.Compute(mu.AtVec(0), math.Sqrt(variance.AtVec(0)))
	}

	const gridSize = 101
	bestX, bestVal := incumbent, negEI([]float64{incumbent})
	for i := 0; i < gridSize; i++ {
		x := float64(i) / (gridSize - 1)
		if v := negEI([]float64{x}); v < bestVal {
			bestX, bestVal = x, v
		}
	}

	starts := []float64{bestX, incumbent}
	for i := 0; i < 3; i++ {
		starts = append(starts, s.rng.Float64())
	}

	problem := optimize.Problem{Func: negEI}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-9,
			Relative:   1e-9,
			Iterations: 50,
		},
	}

	for _, start := range starts {
		method := &optimize.NelderMead{SimplexSize: 0.05}
		result, err := optimize.Minimize(problem, []float64{start}, settings, method)
		if err != nil || result == nil {
			continue
		}
		if result.F < bestVal {
			bestX, bestVal = clamp(result.X[0]), result.F
		}
	}
	return bestX, -bestVal
}
