package source

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// httpAdapter bundles the client, rate limiter and error classification
// shared by the HTTP-backed adapters.
type httpAdapter struct {
	name    string
	client  *http.Client
	limiter *rate.Limiter
}

func newHTTPAdapter(name string, timeout time.Duration, rps float64) httpAdapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return httpAdapter{
		name:    name,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// do executes the request and returns the response body, classifying
// transport and status failures into the source error taxonomy.
func (h *httpAdapter) do(req *http.Request) ([]byte, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(req.Context()); err != nil {
			return nil, NewError(h.name, KindTimeout, err)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		kind := KindTransient
		if req.Context().Err() == context.DeadlineExceeded || isTimeout(err) {
			kind = KindTimeout
		}
		return nil, NewError(h.name, kind, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(h.name, KindTransient, eris.Wrap(err, "read response body"))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(h.name, kindForStatus(resp.StatusCode),
			eris.Errorf("unexpected status %d", resp.StatusCode))
	}
	return body, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var te timeouter
	return eris.As(err, &te) && te.Timeout()
}
