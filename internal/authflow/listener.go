package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/halcyonic/drivectl/internal/observability/middleware"
)

const redirectPath = "/callback"

// callback holds the parameters the provider's redirect carried.
type callback struct {
	code    string
	state   string
	errCode string
}

// redirectListener is the loopback endpoint that intercepts the provider's
// redirect during interactive consent. It binds 127.0.0.1 with a
// kernel-assigned port, so concurrent invocations never collide, and
// accepts exactly one redirect.
type redirectListener struct {
	listener net.Listener
	server   *http.Server

	// Buffered so the handler never blocks; only the first result is kept.
	results  chan callback
	serveErr chan error
}

// newRedirectListener binds the loopback listener and starts serving.
// The caller must Close it on every exit path.
func newRedirectListener(logger *slog.Logger) (*redirectListener, error) {
	// Create the listener synchronously to catch bind errors immediately.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to bind loopback listener: %w", err)
	}

	l := &redirectListener{
		listener: ln,
		results:  make(chan callback, 1),
		serveErr: make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+redirectPath, l.handleRedirect)

	l.server = &http.Server{
		Handler:      middleware.Apply(mux, middleware.Logging(logger), middleware.Recovery),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		err := l.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.serveErr <- err
		}
		close(l.serveErr)
	}()

	return l, nil
}

// RedirectURI returns the redirect_uri the consent URL must carry,
// including the kernel-assigned port.
func (l *redirectListener) RedirectURI() string {
	return "http://" + l.listener.Addr().String() + redirectPath
}

// Wait blocks until a redirect arrives, the timeout elapses, the context
// is cancelled, or the server fails.
func (l *redirectListener) Wait(ctx context.Context, timeout time.Duration) (callback, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case cb := <-l.results:
		return cb, nil
	case err := <-l.serveErr:
		return callback{}, fmt.Errorf("redirect listener failed: %w", err)
	case <-timer.C:
		return callback{}, ErrAuthorizationTimeout
	case <-ctx.Done():
		return callback{}, ctx.Err()
	}
}

// Close releases the loopback listener. Safe to call on every exit path.
func (l *redirectListener) Close() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.server.Shutdown(shutdownCtx); err != nil {
		// Graceful shutdown failed - force close so no bound socket is orphaned
		_ = l.server.Close()
		return fmt.Errorf("redirect listener shutdown failed: %w", err)
	}
	return nil
}

// handleRedirect records the one redirect and tells the user to return to
// the terminal. Later requests (browser refreshes, favicons) are dropped.
func (l *redirectListener) handleRedirect(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	cb := callback{
		code:    query.Get("code"),
		state:   query.Get("state"),
		errCode: query.Get("error"),
	}

	select {
	case l.results <- cb:
	default:
		http.Error(w, "authorization response already received", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if cb.errCode != "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprintf(w, "<html><body><h1>Authorization failed</h1><p>%s. You can close this window.</p></body></html>", cb.errCode)
		return
	}
	_, _ = fmt.Fprint(w, "<html><body><h1>Authorization complete</h1><p>You can close this window and return to the terminal.</p></body></html>")
}
