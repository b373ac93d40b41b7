package optimization

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
	"github.com/copyleftdev/episim-calibrate/internal/logging"
)

func newTestStudy(t *testing.T, store Storage, opts ...StudyOption) *Study {
	t.Helper()
	opts = append([]StudyOption{
		WithSampler(NewRandomSampler(42)),
		WithLogger(logging.New(logging.DebugLevel, &bytes.Buffer{})),
	}, opts...)
	s, err := CreateOrLoad("unconstrained", store, opts...)
	require.NoError(t, err)
	return s
}

func quadratic(ctx context.Context, trial *Trial) (float64, error) {
	x, err := trial.SuggestFloat("x", -2, 2)
	if err != nil {
		return 0, err
	}
	trial.SetUserAttr("x_squared", x*x)
	return (x - 0.5) * (x - 0.5), nil
}

func TestStudyOptimizeRecordsTrials(t *testing.T) {
	s := newTestStudy(t, NewMemoryStorage())

	require.NoError(t, s.Optimize(context.Background(), quadratic, 20))

	trials := s.Trials()
	require.Len(t, trials, 20)
	for i, tr := range trials {
		assert.Equal(t, i, tr.Number)
		assert.Equal(t, TrialComplete, tr.State)
		require.NotNil(t, tr.Value)
		x := tr.Params["x"]
		assert.True(t, x >= -2 && x <= 2, "x=%v", x)
		assert.Equal(t, FloatDistribution(-2, 2), tr.Distributions["x"])
		assert.InDelta(t, x*x, tr.UserAttrs["x_squared"], 1e-12)
		assert.NotNil(t, tr.CompletedAt)
	}

	best, err := s.BestTrial()
	require.NoError(t, err)
	for _, tr := range trials {
		assert.LessOrEqual(t, *best.Value, *tr.Value)
	}
}

func TestStudyNumberingContinuesAfterReload(t *testing.T) {
	store := NewMemoryStorage()
	s := newTestStudy(t, store)
	require.NoError(t, s.SetUserAttr("district", "Berlin"))
	require.NoError(t, s.Optimize(context.Background(), quadratic, 3))

	reopened := newTestStudy(t, store)
	assert.Len(t, reopened.Trials(), 3)
	district, err := reopened.StringAttr("district")
	require.NoError(t, err)
	assert.Equal(t, "Berlin", district)

	require.NoError(t, reopened.Optimize(context.Background(), quadratic, 2))
	trials := reopened.Trials()
	require.Len(t, trials, 5)
	assert.Equal(t, 3, trials[3].Number)
	assert.Equal(t, 4, trials[4].Number)

	// Setting an attribute again overwrites it.
	require.NoError(t, reopened.SetUserAttr("district", "Hamburg"))
	v, ok := reopened.UserAttr("district")
	assert.True(t, ok)
	assert.Equal(t, "Hamburg", v)
}

func TestStudyFailedTrialsAreRecorded(t *testing.T) {
	s := newTestStudy(t, NewMemoryStorage())

	calls := 0
	objective := func(ctx context.Context, trial *Trial) (float64, error) {
		calls++
		if _, err := trial.SuggestInt("offset", -8, 8); err != nil {
			return 0, err
		}
		switch trial.Number() {
		case 1:
			return 0, errors.New(errors.KindSimulationFailed, "test", "simulation exited with status 1")
		case 2:
			panic("boom")
		case 3:
			return math.NaN(), nil
		}
		return float64(trial.Number()), nil
	}

	require.NoError(t, s.Optimize(context.Background(), objective, 5))
	assert.Equal(t, 5, calls)

	trials := s.Trials()
	require.Len(t, trials, 5)
	assert.Equal(t, TrialComplete, trials[0].State)

	assert.Equal(t, TrialFail, trials[1].State)
	assert.Equal(t, errors.KindSimulationFailed, trials[1].ErrorKind)
	assert.Contains(t, trials[1].Error, "status 1")
	assert.Nil(t, trials[1].Value)

	assert.Equal(t, TrialFail, trials[2].State)
	assert.Equal(t, errors.KindInternal, trials[2].ErrorKind)
	assert.Contains(t, trials[2].Error, "panic: boom")

	assert.Equal(t, errors.KindDegenerateInput, trials[3].ErrorKind)
	assert.Equal(t, TrialComplete, trials[4].State)

	offset := trials[0].Params["offset"]
	assert.Equal(t, math.Trunc(offset), offset)

	best, err := s.BestTrial()
	require.NoError(t, err)
	assert.Equal(t, 0, best.Number)

	rec := s.Record()
	assert.Equal(t, map[TrialState]int{TrialComplete: 2, TrialFail: 3}, rec.Count())
}

func TestStudyFailFast(t *testing.T) {
	s := newTestStudy(t, NewMemoryStorage(), WithFailFast(true))

	err := s.Optimize(context.Background(), func(ctx context.Context, trial *Trial) (float64, error) {
		return 0, errors.New(errors.KindDataAlignment, "test", "no row for day 25")
	}, 5)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindDataAlignment))
	assert.Len(t, s.Trials(), 1)
	assert.Equal(t, TrialFail, s.Trials()[0].State)
}

func TestStudyCancellation(t *testing.T) {
	s := newTestStudy(t, NewMemoryStorage())
	ctx, cancel := context.WithCancel(context.Background())

	err := s.Optimize(ctx, func(ctx context.Context, trial *Trial) (float64, error) {
		if trial.Number() == 1 {
			cancel()
			return 0, ctx.Err()
		}
		return 1, nil
	}, 10)
	assert.ErrorIs(t, err, context.Canceled)

	trials := s.Trials()
	require.Len(t, trials, 2)
	assert.Equal(t, TrialFail, trials[1].State)
}

func TestStudyCallbacks(t *testing.T) {
	var seen []TrialRecord
	s := newTestStudy(t, NewMemoryStorage(), WithCallbacks(func(study *Study, tr TrialRecord) {
		assert.Equal(t, "unconstrained", study.Name())
		seen = append(seen, tr)
	}))

	require.NoError(t, s.Optimize(context.Background(), quadratic, 3))
	require.Len(t, seen, 3)
	assert.Equal(t, 2, seen[2].Number)
	assert.Equal(t, TrialComplete, seen[2].State)
}

func TestTrialSuggestSameNameTwice(t *testing.T) {
	s := newTestStudy(t, NewMemoryStorage())

	err := s.Optimize(context.Background(), func(ctx context.Context, trial *Trial) (float64, error) {
		first, err := trial.SuggestFloat("calibrationParameter", 0.5e-6, 3e-6)
		require.NoError(t, err)
		second, err := trial.SuggestFloat("calibrationParameter", 0.5e-6, 3e-6)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		_, err = trial.SuggestFloat("calibrationParameter", 0, 1)
		assert.True(t, errors.IsKind(err, errors.KindConfig))

		_, err = trial.SuggestInt("bad", 3, 1)
		assert.True(t, errors.IsKind(err, errors.KindConfig))

		assert.Equal(t, map[string]float64{"calibrationParameter": first}, trial.Params())
		return first, nil
	}, 1)
	require.NoError(t, err)
}

func TestStudyStaleRunningTrialsFailOnLoad(t *testing.T) {
	store := NewMemoryStorage()
	s := newTestStudy(t, store)
	require.NoError(t, s.Optimize(context.Background(), quadratic, 1))

	rec, err := store.Load("unconstrained")
	require.NoError(t, err)
	rec.Trials = append(rec.Trials, TrialRecord{Number: 1, State: TrialRunning})
	require.NoError(t, store.Save(rec))

	reopened := newTestStudy(t, store)
	trials := reopened.Trials()
	require.Len(t, trials, 2)
	assert.Equal(t, TrialFail, trials[1].State)
	assert.Equal(t, errors.KindInternal, trials[1].ErrorKind)
}

func TestBestTrialWithoutCompletedTrials(t *testing.T) {
	s := newTestStudy(t, NewMemoryStorage())
	_, err := s.BestTrial()
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestStringAttr(t *testing.T) {
	s := newTestStudy(t, NewMemoryStorage())

	_, err := s.StringAttr("scenario")
	assert.True(t, errors.IsKind(err, errors.KindConfig))

	require.NoError(t, s.SetUserAttr("scenario", 3))
	_, err = s.StringAttr("scenario")
	assert.True(t, errors.IsKind(err, errors.KindConfig))
}

func TestCreateOrLoadValidation(t *testing.T) {
	_, err := CreateOrLoad("", NewMemoryStorage())
	assert.True(t, errors.IsKind(err, errors.KindConfig))

	_, err = CreateOrLoad("x", nil)
	assert.True(t, errors.IsKind(err, errors.KindConfig))

	s := newTestStudy(t, NewMemoryStorage())
	assert.True(t, errors.IsKind(s.Optimize(context.Background(), nil, 1), errors.KindConfig))
	assert.True(t, errors.IsKind(s.Optimize(context.Background(), quadratic, -1), errors.KindConfig))
}
