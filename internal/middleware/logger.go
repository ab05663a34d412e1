package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Logger записывает в журнал метод, путь, код ответа, размер и длительность каждого запроса.
func Logger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)

			next.ServeHTTP(rec, r)

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Int("size", rec.bytes),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
