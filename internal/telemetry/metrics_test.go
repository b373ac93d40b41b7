package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/episim-calibrate/internal/errors"
	"github.com/copyleftdev/episim-calibrate/internal/logging"
	"github.com/copyleftdev/episim-calibrate/internal/optimization"
)

func runStudy(t *testing.T, storage optimization.Storage, m *Metrics, values []float64) *optimization.Study {
	t.Helper()
	study, err := optimization.CreateOrLoad("unconstrained", storage,
		optimization.WithLogger(logging.New(logging.ErrorLevel, io.Discard)),
		optimization.WithSampler(optimization.NewRandomSampler(1)),
		optimization.WithCallbacks(m.Callback()),
	)
	require.NoError(t, err)

	i := 0
	err = study.Optimize(context.Background(), func(ctx context.Context, trial *optimization.Trial) (float64, error) {
		v := values[i]
		i++
		trial.SetUserAttr(exitCodeAttr, 0)
		if v < 0 {
			trial.SetUserAttr(exitCodeAttr, 1)
			return 0, errors.New(errors.KindSimulationFailed, "test", "exited with status 1")
		}
		return v, nil
	}, len(values))
	require.NoError(t, err)
	return study
}

func TestMetricsCallback(t *testing.T) {
	m := New()
	runStudy(t, optimization.NewMemoryStorage(), m, []float64{3, 1.5, -1, 2})

	assert.Equal(t, 3.0, testutil.ToFloat64(m.trials.WithLabelValues("unconstrained", "complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.trials.WithLabelValues("unconstrained", "fail")))
	assert.Equal(t, 1.5, testutil.ToFloat64(m.bestValue.WithLabelValues("unconstrained")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.lastValue.WithLabelValues("unconstrained")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.exitCodes.WithLabelValues("unconstrained", "0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exitCodes.WithLabelValues("unconstrained", "1")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestStorageCollector(t *testing.T) {
	storage := optimization.NewMemoryStorage()
	runStudy(t, storage, New(), []float64{4, -1, 0.25})

	m := New()
	require.NoError(t, m.Register(NewStorageCollector(storage)))

	expected := `
# HELP episim_calibration_stored_best_value Lowest persisted objective value of the study.
# TYPE episim_calibration_stored_best_value gauge
episim_calibration_stored_best_value{study="unconstrained"} 0.25
# HELP episim_calibration_stored_trials Persisted trials by study and state.
# TYPE episim_calibration_stored_trials gauge
episim_calibration_stored_trials{state="complete",study="unconstrained"} 2
episim_calibration_stored_trials{state="fail",study="unconstrained"} 1
episim_calibration_stored_trials{state="running",study="unconstrained"} 0
`
	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"episim_calibration_stored_trials", "episim_calibration_stored_best_value")
	assert.NoError(t, err)
}

func TestHandler(t *testing.T) {
	m := New()
	m.SetBest("offset", 42)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `episim_calibration_best_value{study="offset"} 42`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
		ok   bool
	}{
		{in: 0, want: "0", ok: true},
		{in: 137.0, want: "137", ok: true},
		{in: "1", ok: false},
		{in: nil, ok: false},
	}
	for _, tt := range tests {
		got, ok := exitCode(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}
