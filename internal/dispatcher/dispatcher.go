// Package dispatcher implements the Request dispatcher (C7): it parses
// requests off the daemon's Unix domain socket, extracts kernel-reported
// peer credentials, resolves a principal, and invokes the Store
// operation corresponding to the method/path pair in spec §6.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/semaphore"

	"github.com/Azure/azsecret/internal/apperrors"
	"github.com/Azure/azsecret/internal/metrics"
	"github.com/Azure/azsecret/internal/record"
	"github.com/Azure/azsecret/internal/store"
	"github.com/Azure/azsecret/pkg/logger"
)

type connKeyType struct{}

var connKey connKeyType

// Dispatcher wires the Unix-domain HTTP server to a Store: it resolves
// a principal from socket peer credentials, enforces per-request
// timeout and concurrency bounds, and translates Store errors into the
// wire-level status/body pairs spec §6/§7 define.
type Dispatcher struct {
	store    *store.Store
	resolver *PrincipalResolver
	log      *logger.Logger

	socketPath     string
	requestTimeout time.Duration
	maxInflight    int64
	maxSecretBytes int64

	listener *net.UnixListener
	server   *http.Server
}

// New builds a Dispatcher. It does not bind the socket; call ListenAndServe.
func New(st *store.Store, resolver *PrincipalResolver, log *logger.Logger, socketPath string, requestTimeout time.Duration, maxInflight, maxSecretBytes int) *Dispatcher {
	if maxInflight <= 0 {
		maxInflight = 128
	}
	if maxSecretBytes <= 0 {
		maxSecretBytes = store.DefaultMaxSecretBytes
	}
	return &Dispatcher{
		store:          st,
		resolver:       resolver,
		log:            log,
		socketPath:     socketPath,
		requestTimeout: requestTimeout,
		maxInflight:    int64(maxInflight),
		maxSecretBytes: int64(maxSecretBytes),
	}
}

// ListenAndServe binds the configured Unix domain socket and serves
// until ctx is cancelled, at which point it shuts down gracefully.
func (d *Dispatcher) ListenAndServe(ctx context.Context) error {
	ul, err := listen(d.socketPath)
	if err != nil {
		return err
	}
	d.listener = ul

	sem := semaphore.NewWeighted(d.maxInflight)
	handler := d.router()
	handler = withAdmission(sem, handler)
	handler = withTimeout(d.requestTimeout, handler)
	handler = withRecovery(d.log, handler)

	d.server = &http.Server{
		Handler: handler,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			if uc, ok := c.(*net.UnixConn); ok {
				return context.WithValue(ctx, connKey, uc)
			}
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.server.Serve(ul)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = d.server.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (d *Dispatcher) router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/{id}", d.withCaller(d.handleGet)).Methods(http.MethodGet)
	r.HandleFunc("/{id}", d.withCaller(d.handleSet)).Methods(http.MethodPut)
	r.HandleFunc("/{id}", d.withCaller(d.handleDelete)).Methods(http.MethodDelete)
	r.HandleFunc("/{id}", d.withCaller(d.handlePull)).Methods(http.MethodPost)
	return r
}

// withCaller resolves the authenticated caller from the connection's
// peer credentials before invoking next; unresolvable credentials
// answer 401 without ever consulting the Store, per spec §6.
func (d *Dispatcher) withCaller(next func(w http.ResponseWriter, r *http.Request, caller record.CallerContext)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uc, ok := r.Context().Value(connKey).(*net.UnixConn)
		if !ok {
			writeError(w, apperrors.Unauthorized("peer credentials unavailable"))
			return
		}
		uid, gid, pid, ok := peerCredentials(uc)
		if !ok {
			writeError(w, apperrors.Unauthorized("peer credentials unavailable"))
			return
		}
		principal, ok := d.resolver.Resolve(uid, gid)
		if !ok {
			writeError(w, apperrors.Unauthorized("no principal mapping for caller"))
			return
		}
		caller := record.CallerContext{UID: uid, GID: gid, PID: pid, Principal: principal}
		start := time.Now()
		op := operationForRequest(r)
		mg := metrics.InflightGauge()
		mg.Inc()
		defer mg.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r, caller)
		metrics.RecordRequest(op, rec.status, time.Since(start))
	}
}

func operationForRequest(r *http.Request) record.Operation {
	switch r.Method {
	case http.MethodGet:
		return record.OpGet
	case http.MethodPut:
		return record.OpSet
	case http.MethodDelete:
		return record.OpDelete
	case http.MethodPost:
		return record.OpPull
	default:
		return record.Operation(strings.ToLower(r.Method))
	}
}

func (d *Dispatcher) handleGet(w http.ResponseWriter, r *http.Request, caller record.CallerContext) {
	id := mux.Vars(r)["id"]
	plaintext, err := d.store.Get(r.Context(), caller, id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSONString(w, http.StatusOK, string(plaintext))
}

func (d *Dispatcher) handleSet(w http.ResponseWriter, r *http.Request, caller record.CallerContext) {
	id := mux.Vars(r)["id"]
	plaintext, ok := d.decodeJSONString(w, r)
	if !ok {
		return
	}
	if err := d.store.Set(r.Context(), caller, id, plaintext); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dispatcher) handleDelete(w http.ResponseWriter, r *http.Request, caller record.CallerContext) {
	id := mux.Vars(r)["id"]
	if err := d.store.Delete(r.Context(), caller, id); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dispatcher) handlePull(w http.ResponseWriter, r *http.Request, caller record.CallerContext) {
	id := mux.Vars(r)["id"]
	body, ok := d.decodeJSONString(w, r)
	if !ok {
		return
	}
	vaultRef := string(body)

	authToken := bearerToken(r)
	if err := d.store.Pull(r.Context(), caller, id, vaultRef, authToken); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return h
}

// decodeJSONString reads and JSON-decodes the request body as a single
// string, matching the wire framing of PUT/POST bodies in spec §6. The
// body is capped at maxSecretBytes plus slack for JSON quoting/escaping
// so an oversize body is rejected before ever reaching the Store.
func (d *Dispatcher) decodeJSONString(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	limit := d.maxSecretBytes*2 + 64
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var s string
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, apperrors.BadRequest("request body exceeds maximum size"))
			return nil, false
		}
		writeError(w, apperrors.BadRequest("malformed request body"))
		return nil, false
	}
	return []byte(s), true
}

func writeJSONString(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(s)
}

func writeStoreErr(w http.ResponseWriter, err error) {
	ae, ok := apperrors.As(err)
	if !ok {
		ae = apperrors.Internal("internal server error", err)
	}
	writeError(w, ae)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
