package moderation

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/discord-voice-lab/active-speakers/internal/logging"
)

// postWithRetries posts JSON to url, retrying transport errors with
// exponential backoff. Caller must close resp.Body.
func postWithRetries(ctx context.Context, client *http.Client, url string, body []byte, authToken string, timeout time.Duration, attempts int, requestID string) (*http.Response, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		ctxReq, cancelReq := context.WithTimeout(ctx, timeout)
		req, rerr := http.NewRequestWithContext(ctxReq, http.MethodPost, url, bytes.NewReader(body))
		if rerr != nil {
			cancelReq()
			return nil, rerr
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-ID", requestID)
		if authToken != "" {
			req.Header.Set("Authorization", "Bearer "+authToken)
		}

		resp, err := client.Do(req)
		if err != nil {
			cancelReq()
			lastErr = err
			logging.Debugw("moderation: POST attempt failed", "attempt", i+1, "err", err, "request_id", requestID)
			if i < attempts-1 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(200*(1<<i)) * time.Millisecond):
				}
				continue
			}
			return nil, err
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancelReq}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no response")
	}
	return nil, lastErr
}

// cancelOnClose releases the per-attempt context once the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
