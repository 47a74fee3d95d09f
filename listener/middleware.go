package listener

import (
	"errors"
	"log"
	"net/http"
	"time"

	"tlsgate/hellogate"
	"tlsgate/internal/ratelimit"
)

// Middleware runs the gate for every request before next. Requests whose
// connection was not accepted through a Listener pass straight through.
// ErrClosed is expected during shutdown and not logged.
func Middleware(gate *hellogate.Gate[*http.Request], logger *log.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	errLog := ratelimit.NewCounter(time.Minute, nil)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hc, ok := FromContext(r.Context()); ok {
			if err := gate.Invoke(hc.ID(), r, Perform); err != nil && !errors.Is(err, hellogate.ErrClosed) {
				if total, ok := errLog.Inc(); ok {
					logger.Printf("Listener: gate invoke failed for conn=%d (total=%d): %v", hc.ID(), total, err)
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}
