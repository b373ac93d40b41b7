package optimization

import (
	"context"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
	"github.com/copyleftdev/episim-calibrate/internal/logging"
)

// Study is a named, persisted sequence of trials.
type Study struct {
	mu  sync.RWMutex
	rec StudyRecord

	storage   Storage
	sampler   Sampler
	logger    *logging.Logger
	callbacks []Callback
	failFast  bool
}

// StudyOption configures a Study.
type StudyOption func(*Study)

// WithSampler sets the sampler. The default is a time-seeded RandomSampler.
func WithSampler(s Sampler) StudyOption {
	return func(st *Study) { st.sampler = s }
}

// WithLogger sets the study logger.
func WithLogger(l *logging.Logger) StudyOption {
	return func(st *Study) { st.logger = l }
}

// WithCallbacks registers callbacks run after every finished trial.
func WithCallbacks(cbs ...Callback) StudyOption {
	return func(st *Study) { st.callbacks = append(st.callbacks, cbs...) }
}

// WithFailFast makes Optimize return the first objective error instead of
// recording it and moving on.
func WithFailFast(failFast bool) StudyOption {
	return func(st *Study) { st.failFast = failFast }
}

// CreateOrLoad opens the study called name, creating it when storage has no
// record of it. Trial numbering continues from the stored trials. Trials
// left running by an earlier process are marked failed.
func CreateOrLoad(name string, storage Storage, opts ...StudyOption) (*Study, error) {
	const op = "optimization.CreateOrLoad"

	if name == "" {
		return nil, errors.New(errors.KindConfig, op, "study name must not be empty")
	}
	if storage == nil {
		return nil, errors.New(errors.KindConfig, op, "storage must not be nil")
	}

	s := &Study{
		storage: storage,
		logger:  logging.New(logging.InfoLevel, os.Stderr),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sampler == nil {
		s.sampler = NewRandomSampler(0)
	}

	rec, err := storage.Load(name)
	switch {
	case errors.IsKind(err, errors.KindNotFound):
		now := time.Now().UTC()
		s.rec = StudyRecord{
			Name:      name,
			Direction: Minimize,
			UserAttrs: map[string]interface{}{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := storage.Save(&s.rec); err != nil {
			return nil, errors.Wrapf(err, errors.KindOf(err), op, "create study %q", name)
		}
		s.logger.Info("Created study", map[string]interface{}{"study": name})
		return s, nil
	case err != nil:
		return nil, errors.Wrapf(err, errors.KindOf(err), op, "load study %q", name)
	}

	s.rec = *rec
	if s.rec.UserAttrs == nil {
		s.rec.UserAttrs = map[string]interface{}{}
	}
	if err := s.rec.validate(); err != nil {
		return nil, errors.Wrapf(err, errors.KindOf(err), op, "load study %q", name)
	}

	stale := s.failStaleLocked()
	if stale > 0 {
		if err := storage.Save(&s.rec); err != nil {
			return nil, errors.Wrapf(err, errors.KindOf(err), op, "save study %q", name)
		}
	}
	s.logger.Info("Loaded study", map[string]interface{}{
		"study":          name,
		"trials":         len(s.rec.Trials),
		"stale_trials":   stale,
		"next_trial_num": len(s.rec.Trials),
	})
	return s, nil
}

func (s *Study) failStaleLocked() int {
	n := 0
	now := time.Now().UTC()
	for i := range s.rec.Trials {
		t := &s.rec.Trials[i]
		if t.State != TrialRunning {
			continue
		}
		t.State = TrialFail
		t.Error = "trial was still running when the study was reopened"
		t.ErrorKind = errors.KindInternal
		t.CompletedAt = &now
		n++
	}
	return n
}

// Name returns the study name.
func (s *Study) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.Name
}

// Direction returns the optimization direction.
func (s *Study) Direction() Direction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.Direction
}

// SetUserAttr sets a study attribute, overwriting any previous value, and
// persists the study.
func (s *Study) SetUserAttr(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.UserAttrs[key] = value
	s.rec.UpdatedAt = time.Now().UTC()
	return s.persistLocked()
}

// UserAttr returns a study attribute.
func (s *Study) UserAttr(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.rec.UserAttrs[key]
	return v, ok
}

// StringAttr returns a study attribute that must be a non-empty string.
func (s *Study) StringAttr(key string) (string, error) {
	const op = "optimization.Study.StringAttr"
	v, ok := s.UserAttr(key)
	if !ok {
		return "", errors.Errorf(errors.KindConfig, op, "study attribute %q is not set", key)
	}
	str, ok := v.(string)
	if !ok || str == "" {
		return "", errors.Errorf(errors.KindConfig, op, "study attribute %q must be a non-empty string, got %v", key, v)
	}
	return str, nil
}

// Trials returns a snapshot of all trials in number order.
func (s *Study) Trials() []TrialRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.historyLocked()
}

// Record returns a snapshot of the whole study.
func (s *Study) Record() StudyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.clone()
}

// BestTrial returns the completed trial with the lowest value. Ties go to
// the earlier trial.
func (s *Study) BestTrial() (TrialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.BestTrial()
}

// Optimize evaluates objective for nTrials new trials, one after another.
//
// An objective error or panic fails only that trial: it is recorded,
// persisted and logged, and the loop continues unless the study is fail
// fast. Cancelling ctx stops the loop after the current trial has been
// recorded; ctx.Err() is returned. Storage failures end the loop.
func (s *Study) Optimize(ctx context.Context, objective ObjectiveFunction, nTrials int) error {
	const op = "optimization.Study.Optimize"

	if objective == nil {
		return errors.New(errors.KindConfig, op, "objective must not be nil")
	}
	if nTrials < 0 {
		return errors.Errorf(errors.KindConfig, op, "number of trials must not be negative, got %d", nTrials)
	}

	for i := 0; i < nTrials; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		out, err := s.runTrial(ctx, objective)
		if err != nil {
			return errors.Wrapf(err, errors.KindOf(err), op, "trial %d", out.record.Number)
		}
		if out.err == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if s.failFast {
			return errors.Wrapf(out.err, errors.KindOf(out.err), op, "trial %d", out.record.Number)
		}
	}
	return nil
}

// trialOutcome is a finished trial and the objective error that failed it.
type trialOutcome struct {
	record TrialRecord
	err    error
}

// runTrial evaluates one new trial. The returned error is a storage
// failure; objective failures are reported in the outcome.
func (s *Study) runTrial(ctx context.Context, objective ObjectiveFunction) (trialOutcome, error) {
	const op = "optimization.Study.runTrial"

	s.mu.Lock()
	number := len(s.rec.Trials)
	s.rec.Trials = append(s.rec.Trials, TrialRecord{
		Number:        number,
		State:         TrialRunning,
		Params:        map[string]float64{},
		Distributions: map[string]Distribution{},
		UserAttrs:     map[string]interface{}{},
		StartedAt:     time.Now().UTC(),
	})
	err := s.persistLocked()
	name := s.rec.Name
	s.mu.Unlock()
	if err != nil {
		return trialOutcome{record: TrialRecord{Number: number}}, err
	}

	log := s.logger.WithFields(map[string]interface{}{
		"study": name,
		"trial": number,
	})
	log.Debug("Trial started")

	trial := &Trial{study: s, number: number}
	value, objErr := s.evaluate(ctx, objective, trial)
	if objErr == nil && (math.IsNaN(value) || math.IsInf(value, 0)) {
		objErr = errors.Errorf(errors.KindDegenerateInput, op, "objective returned %g", value)
	}

	s.mu.Lock()
	rec := s.trialLocked(number)
	now := time.Now().UTC()
	rec.CompletedAt = &now
	if objErr != nil {
		rec.State = TrialFail
		rec.Error = objErr.Error()
		rec.ErrorKind = errors.KindOf(objErr)
	} else {
		rec.State = TrialComplete
		rec.Value = &value
	}
	s.rec.UpdatedAt = now
	snapshot := rec.clone()
	err = s.persistLocked()
	best, bestErr := s.rec.BestTrial()
	s.mu.Unlock()

	fields := map[string]interface{}{
		"params":   snapshot.Params,
		"duration": snapshot.Duration().String(),
	}
	if bestErr == nil {
		fields["best_trial"] = best.Number
		fields["best_value"] = *best.Value
	}
	if objErr != nil {
		fields["error_kind"] = string(snapshot.ErrorKind)
		log.WithError(objErr).Warn("Trial failed", fields)
	} else {
		fields["value"] = value
		log.Info("Trial finished", fields)
	}

	for _, cb := range s.callbacks {
		cb(s, snapshot)
	}
	return trialOutcome{record: snapshot, err: objErr}, err
}

func (s *Study) evaluate(ctx context.Context, objective ObjectiveFunction, trial *Trial) (value float64, err error) {
	defer errors.Recover("optimization.Study.evaluate", &err)
	return objective(ctx, trial)
}

func (s *Study) trialLocked(number int) *TrialRecord {
	return &s.rec.Trials[number]
}

func (s *Study) historyLocked() []TrialRecord {
	out := make([]TrialRecord, len(s.rec.Trials))
	for i, t := range s.rec.Trials {
		out[i] = t.clone()
	}
	return out
}

func (s *Study) persistLocked() error {
	if err := s.storage.Save(&s.rec); err != nil {
		return errors.Wrapf(err, errors.KindOf(err), "optimization.Study.persist", "study %q", s.rec.Name)
	}
	return nil
}

// StudyRecord is the persisted form of a study.
type StudyRecord struct {
	Name      string                 `json:"name"`
	Direction Direction              `json:"direction"`
	UserAttrs map[string]interface{} `json:"user_attrs"`
	Trials    []TrialRecord          `json:"trials"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// BestTrial returns the completed trial with the lowest value.
func (r *StudyRecord) BestTrial() (TrialRecord, error) {
	best := -1
	for i, t := range r.Trials {
		if t.State != TrialComplete || t.Value == nil {
			continue
		}
		if best < 0 || *t.Value < *r.Trials[best].Value {
			best = i
		}
	}
	if best < 0 {
		return TrialRecord{}, errors.Errorf(errors.KindNotFound, "optimization.BestTrial",
			"study %q has no completed trials", r.Name)
	}
	return r.Trials[best].clone(), nil
}

// Count returns the number of trials per state.
func (r *StudyRecord) Count() map[TrialState]int {
	counts := map[TrialState]int{}
	for _, t := range r.Trials {
		counts[t.State]++
	}
	return counts
}

func (r *StudyRecord) clone() StudyRecord {
	c := *r
	c.UserAttrs = cloneAttrs(r.UserAttrs)
	c.Trials = make([]TrialRecord, len(r.Trials))
	for i, t := range r.Trials {
		c.Trials[i] = t.clone()
	}
	return c
}

func (r *StudyRecord) validate() error {
	const op = "optimization.StudyRecord"
	if r.Direction != Minimize {
		return errors.Errorf(errors.KindConfig, op, "unsupported direction %q", r.Direction)
	}
	sort.SliceStable(r.Trials, func(i, j int) bool { return r.Trials[i].Number < r.Trials[j].Number })
	for i, t := range r.Trials {
		if t.Number != i {
			return errors.Errorf(errors.KindParse, op, "trial numbers are not contiguous at %d", t.Number)
		}
		if r.Trials[i].Params == nil {
			r.Trials[i].Params = map[string]float64{}
		}
		if r.Trials[i].Distributions == nil {
			r.Trials[i].Distributions = map[string]Distribution{}
		}
		if r.Trials[i].UserAttrs == nil {
			r.Trials[i].UserAttrs = map[string]interface{}{}
		}
	}
	return nil
}
