package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/CK-Technology/ghostpanel/internal/observability"
	"github.com/CK-Technology/ghostpanel/internal/pool"
	"github.com/CK-Technology/ghostpanel/internal/util"
)

// hopHeaders are never forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// forward sends the request to the pool, retrying failed attempts
// against other instances up to the pool's retry budget. It returns
// nil once a backend response has been relayed; otherwise the error
// that exhausted the budget, or a pool-level unavailability the
// caller may escalate.
func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, pl *pool.Pool) error {
	body, err := bufferBody(r)
	if err != nil {
		return util.NewBackendError(pl.Name(), "", "reading request body", err)
	}

	var lastErr error
	budget := pl.RetryBudget()

	for attempt := 0; attempt < budget; attempt++ {
		inst, err := pl.Acquire()
		if err != nil {
			// No routable instance or open circuit. Nothing further
			// to try in this pool.
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		if attempt > 0 {
			p.metrics.RecordRetry(pl.Name())
			p.logger.Debug("retrying request",
				observability.String("pool", pl.Name()),
				observability.String("instance", inst.Address),
				observability.Int("attempt", attempt+1),
			)
		}

		err = p.attempt(w, r, pl, inst, body)
		pl.Release(inst)
		if err == nil {
			pl.RecordSuccess(inst)
			return nil
		}
		// An open breaker rejected the attempt before the instance
		// was dialed; that says nothing about this instance.
		var circuitErr *util.CircuitOpenError
		if !errors.As(err, &circuitErr) {
			pl.RecordFailure(inst, err)
		}
		lastErr = err
	}

	return lastErr
}

// attempt performs one forward exchange against one instance. The
// per-attempt deadline covers the whole exchange including the
// response body relay.
func (p *Proxy) attempt(w http.ResponseWriter, r *http.Request, pl *pool.Pool, inst *pool.Instance, body []byte) error {
	ctx, cancel := util.NewTimeoutContext(r.Context(), pl.RequestTimeout())
	defer cancel()

	outReq := buildRequest(ctx, r, pl.Scheme(), inst.Address, body)

	result, err := pl.Execute(func() (interface{}, error) {
		return pl.Client().Do(outReq)
	})
	if err != nil {
		var circuitErr *util.CircuitOpenError
		if errors.As(err, &circuitErr) {
			return err
		}
		return classifyForwardError(err, pl, inst)
	}

	resp := result.(*http.Response)
	defer resp.Body.Close()

	relayResponse(w, resp)
	return nil
}

// buildRequest clones the inbound request for one instance: target
// rewritten, hop headers stripped, X-Forwarded-* appended.
func buildRequest(ctx context.Context, r *http.Request, scheme, address string, body []byte) *http.Request {
	outReq := r.Clone(ctx)
	outReq.URL.Scheme = scheme
	outReq.URL.Host = address
	outReq.Host = address
	outReq.RequestURI = ""

	if body != nil {
		outReq.Body = io.NopCloser(bytes.NewReader(body))
		outReq.ContentLength = int64(len(body))
	} else {
		outReq.Body = http.NoBody
		outReq.ContentLength = 0
	}

	for _, h := range hopHeaders {
		outReq.Header.Del(h)
	}

	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}
	if r.TLS != nil {
		outReq.Header.Set("X-Forwarded-Proto", "https")
	} else {
		outReq.Header.Set("X-Forwarded-Proto", "http")
	}
	outReq.Header.Set("X-Forwarded-Host", r.Host)

	observability.InjectTraceContext(ctx, outReq)

	return outReq
}

// relayResponse copies the backend response to the client, flushing
// as bytes arrive so streamed responses are not buffered.
func relayResponse(w http.ResponseWriter, resp *http.Response) {
	header := w.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}

	w.WriteHeader(resp.StatusCode)

	var dst io.Writer = w
	if flusher, ok := w.(http.Flusher); ok {
		dst = &flushWriter{w: w, flusher: flusher}
	}
	_, _ = io.Copy(dst, resp.Body)
}

// flushWriter flushes after every write.
type flushWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func (f *flushWriter) Write(b []byte) (int, error) {
	n, err := f.w.Write(b)
	if n > 0 {
		f.flusher.Flush()
	}
	return n, err
}

// bufferBody reads the request body into memory so retried attempts
// can replay it. Bodyless requests return nil.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return nil, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	return body, nil
}

// classifyForwardError distinguishes timeouts (504) from transport
// failures (502, retried first).
func classifyForwardError(err error, pl *pool.Pool, inst *pool.Instance) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return util.NewTimeoutError(pl.Name(), inst.Address, pl.RequestTimeout(), err)
	}
	return util.NewBackendError(pl.Name(), inst.Address, "backend request failed", err)
}

// isPoolUnavailable reports whether the error means the pool as a
// whole cannot serve, which is what fallback escalation is for.
func isPoolUnavailable(err error) bool {
	return errors.Is(err, util.ErrPoolExhausted) || errors.Is(err, util.ErrCircuitOpen)
}
