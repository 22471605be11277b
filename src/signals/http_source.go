package signals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/externalmodel"
)

type analyzeRequest struct {
	Venues         []string `json:"venues"`
	Mode           string   `json:"mode"`
	Aggressiveness string   `json:"aggressiveness"`
}

type analyzeResponse struct {
	Success bool                   `json:"success"`
	Signals []externalmodel.Signal `json:"signals"`
	Error   string                 `json:"error,omitempty"`
}

// HTTPSource asks the analysis service for candidates.
type HTTPSource struct {
	client *resty.Client
}

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500 || r.StatusCode() == 429
		})
	return &HTTPSource{client: client}
}

func (s *HTTPSource) Analyze(ctx context.Context, venues []string, mode, aggressiveness string) ([]externalmodel.Signal, error) {
	var out analyzeResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(analyzeRequest{Venues: venues, Mode: mode, Aggressiveness: aggressiveness}).
		SetResult(&out).
		Post("/analyze")
	if err != nil {
		return nil, fmt.Errorf("analyze request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("analyze request: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "analyzer reported failure"
		}
		return nil, errors.New(msg)
	}

	ranked := rank(out.Signals, venues)
	logger.WithFields(logger.Fields{
		"op":       "HTTPSource.Analyze",
		"received": len(out.Signals),
		"kept":     len(ranked),
	}).Debug("Signals received")
	return ranked, nil
}
