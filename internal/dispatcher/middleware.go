package dispatcher

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Azure/azsecret/internal/apperrors"
	"github.com/Azure/azsecret/pkg/logger"
)

// withRecovery recovers from panics in next, logging the stack trace
// and answering Internal rather than letting the connection die,
// adapted from the teacher's infrastructure/middleware RecoveryMiddleware.
func withRecovery(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.WithFields(map[string]interface{}{
					"panic": fmt.Sprintf("%v", rec),
					"stack": string(debug.Stack()),
					"path":  r.URL.Path,
					"method": r.Method,
				}).Error("panic recovered in dispatcher")
				writeError(w, apperrors.Internal("internal server error", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withTimeout enforces the dispatcher's per-request wall-clock cap
// (spec §5), cancelling the request context on expiry, adapted from the
// teacher's infrastructure/middleware TimeoutMiddleware.
func withTimeout(timeout time.Duration, next http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		done := make(chan struct{})
		tw := &timeoutWriter{ResponseWriter: w}

		go func() {
			next.ServeHTTP(tw, r.WithContext(ctx))
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			tw.mu.Lock()
			wrote := tw.wroteHeader
			tw.mu.Unlock()
			if !wrote && ctx.Err() == context.DeadlineExceeded {
				writeError(w, apperrors.New(apperrors.CodeInternal, "request timed out"))
			}
		}
	})
}

type timeoutWriter struct {
	http.ResponseWriter
	mu          sync.Mutex
	wroteHeader bool
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if !tw.wroteHeader {
		tw.wroteHeader = true
		tw.ResponseWriter.WriteHeader(code)
	}
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	if !tw.wroteHeader {
		tw.wroteHeader = true
	}
	tw.mu.Unlock()
	return tw.ResponseWriter.Write(b)
}

// withAdmission bounds concurrent in-flight requests at maxInflight,
// rejecting excess with TooBusy rather than queueing unboundedly (spec
// §5 backpressure).
func withAdmission(sem *semaphore.Weighted, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sem.TryAcquire(1) {
			writeError(w, apperrors.TooBusy())
			return
		}
		defer sem.Release(1)
		next.ServeHTTP(w, r)
	})
}

// writeError writes the dispatcher's plain-text error envelope; bodies
// are short descriptions and MUST NOT contain plaintext secret material
// nor key handles (spec §6), which holds because apperrors messages are
// static strings defined in this module, never derived from record
// contents.
func writeError(w http.ResponseWriter, err *apperrors.Error) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(err.HTTPStatus())
	fmt.Fprintln(w, err.Message)
}
