package calibration

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/copyleftdev/episim-calibrate/internal/optimization"
)

// WriteReport prints the study attributes, one row per trial and the best
// trial.
func WriteReport(w io.Writer, rec optimization.StudyRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Study:\t%s\n", rec.Name)
	for _, k := range sortedKeys(rec.UserAttrs) {
		fmt.Fprintf(tw, "%s:\t%v\n", k, rec.UserAttrs[k])
	}
	counts := rec.Count()
	fmt.Fprintf(tw, "Trials:\t%d (%d complete, %d failed, %d running)\n\n", len(rec.Trials),
		counts[optimization.TrialComplete], counts[optimization.TrialFail], counts[optimization.TrialRunning])

	fmt.Fprintln(tw, "NUMBER\tSTATE\tVALUE\tPARAMS\tATTRS\tDURATION")
	for _, t := range rec.Trials {
		value := "-"
		if t.Value != nil {
			value = fmt.Sprintf("%.6g", *t.Value)
		}
		attrs := formatMap(t.UserAttrs)
		if t.Error != "" {
			attrs = strings.TrimSpace(attrs + " error=" + string(t.ErrorKind))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			t.Number, t.State, value, formatParams(t.Params), attrs, t.Duration().Round(time.Second))
	}

	if best, err := rec.BestTrial(); err == nil {
		fmt.Fprintf(tw, "\nBest trial:\t%d\n", best.Number)
		fmt.Fprintf(tw, "Value:\t%g\n", *best.Value)
		fmt.Fprintf(tw, "Params:\t%s\n", formatParams(best.Params))
	} else {
		fmt.Fprintln(tw, "\nNo completed trials.")
	}
	return tw.Flush()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatParams(params map[string]float64) string {
	parts := make([]string, 0, len(params))
	for _, k := range sortedKeys(params) {
		parts = append(parts, fmt.Sprintf("%s=%.12g", k, params[k]))
	}
	return strings.Join(parts, " ")
}

func formatMap(attrs map[string]interface{}) string {
	parts := make([]string, 0, len(attrs))
	for _, k := range sortedKeys(attrs) {
		v := attrs[k]
		if f, ok := v.(float64); ok {
			parts = append(parts, fmt.Sprintf("%s=%.6g", k, f))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, " ")
}
