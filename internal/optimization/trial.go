package optimization

import (
	"time"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
)

// TrialState is the lifecycle state of a trial.
type TrialState string

const (
	// TrialRunning is set while the objective is being evaluated.
	TrialRunning TrialState = "running"
	// TrialComplete means the objective returned a finite value.
	TrialComplete TrialState = "complete"
	// TrialFail means the objective returned an error or panicked.
	TrialFail TrialState = "fail"
)

// TrialRecord is the persisted form of a trial.
type TrialRecord struct {
	Number        int                     `json:"number"`
	State         TrialState              `json:"state"`
	Params        map[string]float64      `json:"params"`
	Distributions map[string]Distribution `json:"distributions"`
	UserAttrs     map[string]interface{}  `json:"user_attrs"`
	Value         *float64                `json:"value,omitempty"`
	Error         string                  `json:"error,omitempty"`
	ErrorKind     errors.Kind             `json:"error_kind,omitempty"`
	StartedAt     time.Time               `json:"started_at"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
}

// Duration returns the evaluation time of a finished trial, or zero.
func (r TrialRecord) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

func (r TrialRecord) clone() TrialRecord {
	c := r
	c.Params = make(map[string]float64, len(r.Params))
	for k, v := range r.Params {
		c.Params[k] = v
	}
	c.Distributions = make(map[string]Distribution, len(r.Distributions))
	for k, v := range r.Distributions {
		c.Distributions[k] = v
	}
	c.UserAttrs = cloneAttrs(r.UserAttrs)
	if r.Value != nil {
		v := *r.Value
		c.Value = &v
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

func cloneAttrs(attrs map[string]interface{}) map[string]interface{} {
	c := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		c[k] = v
	}
	return c
}

// Trial is the handle an objective uses while it is evaluated.
type Trial struct {
	study  *Study
	number int
}

// Number returns the trial number, unique within the study.
func (t *Trial) Number() int {
	return t.number
}

// Study returns the study the trial belongs to.
func (t *Trial) Study() *Study {
	return t.study
}

// SuggestFloat samples a float parameter uniformly from [low, high].
// Suggesting the same name again returns the first value.
func (t *Trial) SuggestFloat(name string, low, high float64) (float64, error) {
	return t.suggest(name, FloatDistribution(low, high))
}

// SuggestInt samples an integer parameter uniformly from [low, high].
// Suggesting the same name again returns the first value.
func (t *Trial) SuggestInt(name string, low, high int) (int, error) {
	v, err := t.suggest(name, IntDistribution(low, high))
	return int(v), err
}

func (t *Trial) suggest(name string, dist Distribution) (float64, error) {
	const op = "optimization.Trial.Suggest"

	if err := dist.Validate(); err != nil {
		return 0, errors.Wrapf(err, errors.KindConfig, op, "parameter %q", name)
	}

	s := t.study
	s.mu.Lock()
	rec := s.trialLocked(t.number)
	if v, ok := rec.Params[name]; ok {
		prev := rec.Distributions[name]
		s.mu.Unlock()
		if prev != dist {
			return 0, errors.Errorf(errors.KindConfig, op,
				"parameter %q already suggested with %+v, now %+v", name, prev, dist)
		}
		return v, nil
	}
	history := s.historyLocked()
	s.mu.Unlock()

	v, err := s.sampler.Sample(history, name, dist)
	if err != nil {
		return 0, errors.Wrapf(err, errors.KindOf(err), op, "parameter %q", name)
	}
	if !dist.Contains(v) {
		return 0, errors.Errorf(errors.KindInternal, op,
			"sampler returned %g outside %+v for %q", v, dist, name)
	}

	s.mu.Lock()
	rec = s.trialLocked(t.number)
	rec.Params[name] = v
	rec.Distributions[name] = dist
	s.mu.Unlock()
	return v, nil
}

// SetUserAttr records a trial attribute. Values must be JSON encodable.
func (t *Trial) SetUserAttr(key string, value interface{}) {
	s := t.study
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trialLocked(t.number).UserAttrs[key] = value
}

// UserAttr returns a trial attribute.
func (t *Trial) UserAttr(key string) (interface{}, bool) {
	s := t.study
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.trialLocked(t.number).UserAttrs[key]
	return v, ok
}

// Params returns a copy of the parameters suggested so far.
func (t *Trial) Params() map[string]float64 {
	s := t.study
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trialLocked(t.number).clone().Params
}
