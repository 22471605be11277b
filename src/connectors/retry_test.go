package connectors

import (
	"net/http"
	"testing"

	"github.com/go-resty/resty/v2"
)

type assertError struct{}

func (assertError) Error() string { return "boom" }

func fakeResponse(status int) *resty.Response {
	return &resty.Response{RawResponse: &http.Response{StatusCode: status}}
}

func fakePostResponse(status int) *resty.Response {
	r := fakeResponse(status)
	r.Request = &resty.Request{Method: http.MethodPost}
	return r
}

// TestIsRetryableResp verifies retry decisions for assorted errors and HTTP responses.
func TestIsRetryableResp(t *testing.T) {
	cases := []struct {
		name string
		resp *resty.Response
		err  error
		want bool
	}{
		{name: "error present", err: assertError{}, want: true},
		{name: "server error", resp: fakeResponse(500), want: true},
		{name: "too many requests", resp: fakeResponse(429), want: true},
		{name: "timeout", resp: fakeResponse(408), want: true},
		{name: "ok response", resp: fakeResponse(200), want: false},
		{name: "nil resp", want: false},
		{name: "order post server error", resp: fakePostResponse(502), want: false},
		{name: "order post throttled", resp: fakePostResponse(429), want: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := isRetryableResp(tc.resp, tc.err)
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
