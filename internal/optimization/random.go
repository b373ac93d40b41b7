package optimization

import (
	"math/rand"
	"sync"
	"time"
)

// RandomSampler draws every parameter independently and uniformly from its
// distribution.
type RandomSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSampler returns a RandomSampler. A zero seed uses the current
// time.
func NewRandomSampler(seed int64) *RandomSampler {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomSampler{rng: rand.New(rand.NewSource(seed))}
}

// Sample implements Sampler.
func (s *RandomSampler) Sample(_ []TrialRecord, _ string, dist Distribution) (float64, error) {
	if err := dist.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return SampleUniform(s.rng, dist), nil
}

// SampleUniform draws one value from dist with rng.
func SampleUniform(rng *rand.Rand, dist Distribution) float64 {
	if dist.Kind == IntKind {
		n := int64(dist.High-dist.Low) + 1
		return dist.Low + float64(rng.Int63n(n))
	}
	return dist.Low + rng.Float64()*(dist.High-dist.Low)
}
