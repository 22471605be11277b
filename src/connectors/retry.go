package connectors

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
	defaultHTTPTimeout     = 15 * time.Second
)

func isRetryableResp(r *resty.Response, err error) bool {
	// A 5xx on an order placement may still have been accepted by the venue.
	if err == nil && r != nil && r.Request != nil && r.Request.Method == http.MethodPost {
		code := r.StatusCode()
		return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
	}

	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

// newRetryingClient builds the resty client shared by the REST venues.
func newRetryingClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(defaultHTTPTimeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)
}
