package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

const callbackHTML = `<!DOCTYPE html>
<html>
<head><title>Sign-in complete</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4em;">
<h1>Signed in</h1>
<p>You may close this window and return to the launcher.</p>
<script>window.close();</script>
</body>
</html>`

const callbackFailHTML = `<!DOCTYPE html>
<html>
<head><title>Sign-in failed</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 4em;">
<h1>Sign-in failed</h1>
<p>You may close this window and try again from the launcher.</p>
</body>
</html>`

// CallbackServer is a one-shot loopback listener for the browser
// redirect of the authorization-code flow. It accepts exactly one
// callback request, validates its state nonce, and shuts down on every
// exit path so the port is never left open.
type CallbackServer struct {
	listener net.Listener
	srv      *http.Server
	state    string

	result    chan callbackResult
	closeOnce sync.Once
}

type callbackResult struct {
	code string
	err  error
}

// StartCallbackServer binds 127.0.0.1:port and begins serving. The
// port must match the redirect URI registered with the identity app.
func StartCallbackServer(port int, expectedState string) (*CallbackServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind callback listener: %w", err)
	}

	s := &CallbackServer{
		listener: listener,
		state:    expectedState,
		result:   make(chan callbackResult, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", s.handleCallback)
	s.srv = &http.Server{Handler: mux}

	go func() {
		err := s.srv.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.deliver(callbackResult{err: networkError(err)})
		}
	}()

	return s, nil
}

// Port returns the bound port (useful when port 0 was requested)
func (s *CallbackServer) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if errMsg := q.Get("error"); errMsg != "" {
		desc := q.Get("error_description")
		if desc == "" {
			desc = "sign-in was declined in the browser"
		}
		fmt.Fprint(w, callbackFailHTML)
		s.deliver(callbackResult{err: tokenExchangeFailed(desc, errors.New(errMsg))})
		return
	}

	if q.Get("state") != s.state {
		fmt.Fprint(w, callbackFailHTML)
		s.deliver(callbackResult{err: stateMismatch()})
		return
	}

	code := q.Get("code")
	if code == "" {
		fmt.Fprint(w, callbackFailHTML)
		s.deliver(callbackResult{err: tokenExchangeFailed("no authorization code received", errors.New("missing code"))})
		return
	}

	fmt.Fprint(w, callbackHTML)
	s.deliver(callbackResult{code: code})
}

// deliver records the first outcome; later requests are ignored
func (s *CallbackServer) deliver(r callbackResult) {
	select {
	case s.result <- r:
	default:
	}
}

// Await blocks until the browser redirect arrives, the timeout
// elapses, or ctx is cancelled. The listener is closed before Await
// returns, on every path.
func (s *CallbackServer) Await(ctx context.Context, timeout time.Duration) (string, error) {
	defer s.Close()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-s.result:
		return res.code, res.err
	case <-timer.C:
		return "", callbackTimeout()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close releases the listening socket immediately. Safe to call more
// than once.
func (s *CallbackServer) Close() {
	s.closeOnce.Do(func() {
		s.srv.Close()
	})
}
