package bayesian

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
	"github.com/copyleftdev/episim-calibrate/internal/optimization/kernels"
)

// maxJitterAttempts bounds how often Fit retries the Cholesky factorization
// with a larger diagonal jitter.
const maxJitterAttempts = 10

// GP implements a zero-mean Gaussian Process regression model.
type GP struct {
	// Kernel function
	kernel kernels.Kernel

	// Noise variance added to the diagonal of the kernel matrix
	noiseVar float64

	// Training inputs (n_samples, n_features)
	X *mat.Dense

	// K⁻¹y and the factorization of K
	alpha *mat.VecDense
	chol  *mat.Cholesky

	// Logger for structured logging
	logger *zap.Logger
}

// NewGP creates a new Gaussian Process model. A nil logger discards output.
func NewGP(kernel kernels.Kernel, noiseVar float64, logger *zap.Logger) *GP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GP{
		kernel:   kernel,
		noiseVar: noiseVar,
		logger:   logger.Named("gaussian_process"),
	}
}

// Fit conditions the GP on the observations y at X.
func (gp *GP) Fit(X *mat.Dense, y *mat.VecDense) error {
	const op = "GP.Fit"

	if X == nil || y == nil {
		return errors.New(errors.KindDegenerateInput, op, "input matrices must not be nil")
	}
	if X.IsEmpty() || y.IsEmpty() {
		return errors.New(errors.KindDegenerateInput, op, "input matrix X must not be empty")
	}

	nSamples, nFeatures := X.Dims()
	if nSamples != y.Len() {
		return errors.Errorf(errors.KindLengthMismatch, op,
			"dimension mismatch: X has %d samples but y has length %d", nSamples, y.Len())
	}

	gp.logger.Debug("Fitting GP model",
		zap.Int("samples", nSamples),
		zap.Int("features", nFeatures),
		zap.Float64("noise_var", gp.noiseVar),
	)

	K := gp.kernelMatrix(X)
	chol, jitter, err := gp.factorize(K)
	if err != nil {
		return err
	}

	alpha := mat.NewVecDense(nSamples, nil)
	if err := chol.SolveVecTo(alpha, y); err != nil {
		return errors.Wrap(err, errors.KindDegenerateInput, op, "solve for alpha")
	}

	gp.X = mat.DenseCopyOf(X)
	gp.alpha = alpha
	gp.chol = chol

	gp.logger.Debug("Successfully fitted GP model",
		zap.Int("samples", nSamples),
		zap.Float64("jitter", jitter),
		zap.Float64("condition_number", chol.Cond()),
	)
	return nil
}

// kernelMatrix returns K(X, X) + noiseVar*I.
func (gp *GP) kernelMatrix(X *mat.Dense) *mat.SymDense {
	n, _ := X.Dims()
	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		xi := X.RawRowView(i)
		for j := i; j < n; j++ {
			K.SetSym(i, j, gp.kernel.Eval(xi, X.RawRowView(j)))
		}
		K.SetSym(i, i, K.At(i, i)+gp.noiseVar)
	}
	return K
}

// factorize computes the Cholesky factor of K, adding a growing jitter to
// the diagonal until K is numerically positive definite.
func (gp *GP) factorize(K *mat.SymDense) (*mat.Cholesky, float64, error) {
	n := K.SymmetricDim()
	jitter := 0.0
	next := 1e-12 * math.Max(1, mat.Trace(K)/float64(n))

	for attempt := 0; attempt < maxJitterAttempts; attempt++ {
		Kj := K
		if jitter > 0 {
			Kj = mat.NewSymDense(n, nil)
			Kj.CopySym(K)
			for i := 0; i < n; i++ {
				Kj.SetSym(i, i, Kj.At(i, i)+jitter)
			}
		}

		var chol mat.Cholesky
		if chol.Factorize(Kj) {
			return &chol, jitter, nil
		}
		gp.logger.Debug("Cholesky factorization failed, increasing jitter",
			zap.Int("attempt", attempt+1),
			zap.Float64("jitter", next))
		jitter = next
		next *= 10
	}
	return nil, jitter, errors.Errorf(errors.KindDegenerateInput, "GP.factorize",
		"kernel matrix is not positive definite after jitter %g", jitter)
}

// Predict returns the posterior mean and variance at the rows of X. The
// variance includes the observation noise.
func (gp *GP) Predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	const op = "GP.Predict"

	if X == nil {
		return nil, nil, errors.New(errors.KindDegenerateInput, op, "input matrix X is nil")
	}
	if gp.X == nil || gp.alpha == nil {
		return nil, nil, errors.New(errors.KindInternal, op, "model not trained or no training data")
	}

	nTest, nFeatures := X.Dims()
	nTrain, nTrainFeatures := gp.X.Dims()
	if nFeatures != nTrainFeatures {
		return nil, nil, errors.Errorf(errors.KindLengthMismatch, op,
			"test points have %d features, training points %d", nFeatures, nTrainFeatures)
	}

	mean := mat.NewVecDense(nTest, nil)
	variance := mat.NewVecDense(nTest, nil)
	kStar := mat.NewVecDense(nTrain, nil)
	v := mat.NewVecDense(nTrain, nil)

	for i := 0; i < nTest; i++ {
		x := X.RawRowView(i)
		for j := 0; j < nTrain; j++ {
			kStar.SetVec(j, gp.kernel.Eval(x, gp.X.RawRowView(j)))
		}
		mean.SetVec(i, mat.Dot(kStar, gp.alpha))

		// var = k(x, x) + noise - k*ᵀ K⁻¹ k*
		if err := gp.chol.SolveVecTo(v, kStar); err != nil {
			return nil, nil, errors.Wrap(err, errors.KindDegenerateInput, op, "solve for variance")
		}
		s := gp.kernel.Eval(x, x) + gp.noiseVar - mat.Dot(kStar, v)
		if s < 0 {
			gp.logger.Debug("Negative variance detected, clamping to zero",
				zap.Float64("variance", s),
				zap.Int("test_point", i),
			)
			s = 0
		}
		variance.SetVec(i, s)
	}

	return mean, variance, nil
}
