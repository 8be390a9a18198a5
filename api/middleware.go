package api

import (
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/gorilla/handlers"
	"github.com/ulule/limiter"
	"github.com/ulule/limiter/drivers/middleware/stdlib"
	"github.com/ulule/limiter/drivers/store/memory"

	"github.com/EFForg/availability-backend/logger"
)

func middleware(mux *http.ServeMux, allowedOrigins []string, log logger.Logger) http.Handler {
	originsOk := handlers.AllowedOrigins(allowedOrigins)

	return handlers.LoggingHandler(accessLog{log},
		recoveryHandler(
			throttleHandler(time.Minute, 60, handlers.CORS(originsOk)(mux)),
		),
	)
}

// accessLog forwards the combined access log lines to the structured logger.
type accessLog struct {
	log logger.Logger
}

func (a accessLog) Write(p []byte) (int, error) {
	a.log.Info("request", logger.String("access", strings.TrimSpace(string(p))))
	return len(p), nil
}

func throttleHandler(period time.Duration, limit int64, f http.Handler) http.Handler {
	if flag.Lookup("test.v") != nil {
		// Don't throttle tests
		return f
	}
	return newThrottle(period, limit, f)
}

// newThrottle limits requests per client IP to limit per period.
func newThrottle(period time.Duration, limit int64, f http.Handler) http.Handler {
	rateLimitStore := memory.NewStore()
	rate := limiter.Rate{
		Period: period,
		Limit:  limit,
	}
	rateLimiter := stdlib.NewMiddleware(limiter.New(rateLimitStore, rate))
	return rateLimiter.Handler(f)
}

func recoveryHandler(f http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rval := recover()
			if rval == nil {
				return
			}
			err, ok := rval.(error)
			if !ok {
				err = fmt.Errorf("%v", rval)
			}
			packet := raven.NewPacket(err.Error(),
				raven.NewException(err, raven.GetOrNewStacktrace(err, 2, 3, nil)),
				raven.NewHttp(r))
			raven.Capture(packet, nil)
			w.WriteHeader(http.StatusInternalServerError)
		}()

		f.ServeHTTP(w, r)
	})
}
