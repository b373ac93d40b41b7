package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/copyleftdev/episim-calibrate/internal/optimization"
)

// Lister is the part of a study storage the collector reads.
type Lister interface {
	List() ([]string, error)
	Load(name string) (*optimization.StudyRecord, error)
}

// StorageCollector reports the persisted state of every study on each
// scrape. It lets a status server expose studies run by other processes.
type StorageCollector struct {
	storage Lister

	trials *prometheus.Desc
	best   *prometheus.Desc
}

// NewStorageCollector returns a collector over storage.
func NewStorageCollector(storage Lister) *StorageCollector {
	return &StorageCollector{
		storage: storage,
		trials: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "stored_trials"),
			"Persisted trials by study and state.",
			[]string{"study", "state"}, nil,
		),
		best: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "stored_best_value"),
			"Lowest persisted objective value of the study.",
			[]string{"study"}, nil,
		),
	}
}

// Register adds the collector to the metrics registry.
func (m *Metrics) Register(c prometheus.Collector) error {
	return m.registry.Register(c)
}

// Describe implements prometheus.Collector.
func (c *StorageCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.trials
	ch <- c.best
}

// Collect implements prometheus.Collector.
func (c *StorageCollector) Collect(ch chan<- prometheus.Metric) {
	names, err := c.storage.List()
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.trials, err)
		return
	}
	for _, name := range names {
		rec, err := c.storage.Load(name)
		if err != nil {
			ch <- prometheus.NewInvalidMetric(c.trials, err)
			continue
		}
		counts := rec.Count()
		for _, state := range []optimization.TrialState{
			optimization.TrialRunning,
			optimization.TrialComplete,
			optimization.TrialFail,
		} {
			ch <- prometheus.MustNewConstMetric(c.trials, prometheus.GaugeValue,
				float64(counts[state]), name, string(state))
		}
		if best, err := rec.BestTrial(); err == nil {
			ch <- prometheus.MustNewConstMetric(c.best, prometheus.GaugeValue, *best.Value, name)
		}
	}
}

// exitCode formats an exit code attribute, which is an int while the study
// is live and a float64 after a JSON round trip.
func exitCode(v interface{}) (string, bool) {
	switch code := v.(type) {
	case int:
		return strconv.Itoa(code), true
	case float64:
		return strconv.Itoa(int(code)), true
	default:
		return "", false
	}
}

var _ prometheus.Collector = (*StorageCollector)(nil)
