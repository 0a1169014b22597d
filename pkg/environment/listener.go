// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

package environment

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/liftcv/liftcv/pkg/logger"
)

// CallbackListener is a loopback HTTP server that receives the hosted-UI
// OAuth redirect, validates the state parameter, and deposits the callback
// parameters for the session layer to consume.
type CallbackListener struct {
	env      *Local
	port     int
	state    string
	verifier string

	server   *http.Server
	addr     net.Addr
	paramsCh chan *RedirectParams
	errCh    chan error
}

// NewCallbackListener creates a listener for a flow started with the given
// state and PKCE verifier. Port 0 selects an ephemeral port.
func NewCallbackListener(env *Local, port int, state, verifier string) *CallbackListener {
	return &CallbackListener{
		env:      env,
		port:     port,
		state:    state,
		verifier: verifier,
	}
}

// Start binds the loopback listener and begins serving the callback
// endpoint. It returns the redirect URL to register with the identity
// provider. Port 0 in the constructor selects an ephemeral port.
func (l *CallbackListener) Start(ctx context.Context) (string, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", l.port))
	if err != nil {
		return "", fmt.Errorf("failed to start callback listener: %w", err)
	}
	l.addr = listener.Addr()

	l.paramsCh = make(chan *RedirectParams, 1)
	l.errCh = make(chan error, 1)

	r := chi.NewRouter()
	r.Get("/callback", l.handleCallback(ctx))
	r.Get("/", handleRoot)

	l.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Debugf("callback listener serving on %s", l.addr)
		if err := l.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.errCh <- fmt.Errorf("callback listener failed: %w", err)
		}
	}()

	return fmt.Sprintf("http://%s/callback", l.addr), nil
}

// Wait blocks until the redirect arrives or ctx is cancelled, then shuts the
// server down. The received parameters are deposited through the environment
// before Wait returns them, so an interrupted process can still resolve the
// sign-in at next startup.
func (l *CallbackListener) Wait(ctx context.Context) (*RedirectParams, error) {
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.server.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("failed to shut down callback listener: %v", err)
		}
	}()

	select {
	case params := <-l.paramsCh:
		return params, nil
	case err := <-l.errCh:
		return nil, err
	case <-ctx.Done():
		return nil, fmt.Errorf("sign-in flow cancelled: %w", ctx.Err())
	}
}

func (l *CallbackListener) handleCallback(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		if errParam := query.Get("error"); errParam != "" {
			params := &RedirectParams{Err: errParam}
			if err := l.env.SaveRedirectParams(ctx, params); err != nil {
				logger.Warnf("failed to deposit callback error: %v", err)
			}
			writeErrorPage(w, fmt.Errorf("%s: %s", errParam, query.Get("error_description")))
			l.paramsCh <- params
			return
		}

		if query.Get("state") != l.state {
			err := errors.New("invalid state parameter")
			writeErrorPage(w, err)
			l.errCh <- err
			return
		}

		code := query.Get("code")
		if code == "" {
			err := errors.New("missing authorization code")
			writeErrorPage(w, err)
			l.errCh <- err
			return
		}

		params := &RedirectParams{Code: code, Verifier: l.verifier}
		if err := l.env.SaveRedirectParams(ctx, params); err != nil {
			// The in-process flow can still finish; only crash recovery is lost.
			logger.Warnf("failed to deposit callback parameters: %v", err)
		}

		writeSuccessPage(w)
		l.paramsCh <- params
	}
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'; script-src 'none'; object-src 'none';")
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	setSecurityHeaders(w)
	_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>LiftCV Sign-In</title><meta charset="utf-8"></head>
<body>
  <h1>LiftCV Sign-In</h1>
  <p>The sign-in listener is running. Please complete authentication in your browser.</p>
</body>
</html>`))
}

func writeSuccessPage(w http.ResponseWriter) {
	setSecurityHeaders(w)
	_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Signed In</title><meta charset="utf-8"></head>
<body>
  <h1>Signed in to LiftCV</h1>
  <p>You can close this window and return to the terminal.</p>
</body>
</html>`))
}

func writeErrorPage(w http.ResponseWriter, err error) {
	setSecurityHeaders(w)
	w.WriteHeader(http.StatusBadRequest)
	// HTML escape the error message to prevent XSS
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Sign-In Failed</title><meta charset="utf-8"></head>
<body>
  <h1>Sign-in failed</h1>
  <p>%s</p>
  <p>Please try again from the terminal.</p>
</body>
</html>`, html.EscapeString(err.Error()))
}
