package errors

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/copyleftdev/episim-calibrate/internal/logging"
)

// Recover converts a panic in the current goroutine into a KindInternal
// error stored in *errp. It must be called directly via defer.
//
//	defer errors.Recover("objective.Evaluate", &err)
func Recover(op string, errp *error) {
	if rec := recover(); rec != nil {
		e := Errorf(KindInternal, op, "panic: %v", rec)
		e.Stack = append(e.Stack, string(debug.Stack()))
		*errp = e
	}
}

// RecoveryMiddleware returns a middleware that recovers from panics.
func RecoveryMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					fields := map[string]interface{}{
						"error": fmt.Sprintf("%v", rec),
						"stack": string(debug.Stack()),
					}

					if r != nil {
						fields["method"] = r.Method
						fields["path"] = r.URL.Path
						fields["query"] = r.URL.RawQuery
					}

					logger.Error("Recovered from panic", fields)

					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
