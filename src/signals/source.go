package signals

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"tradeexecutor/src/externalmodel"
	"tradeexecutor/src/repository"
)

// Source produces ranked trade candidates for a cycle.
type Source interface {
	Analyze(ctx context.Context, venues []string, mode, aggressiveness string) ([]externalmodel.Signal, error)
}

// New returns the source selected by cfg.Source.
func New(cfg *Config) (Source, error) {
	if cfg == nil {
		cfg = GetConfig()
	}
	switch strings.ToLower(cfg.Source) {
	case "http":
		return NewHTTPSource(cfg.AnalyzerURL, cfg.Timeout), nil
	case "db", "":
		return NewDBSource(repository.NewSignalRepository(), cfg.MaxAge, cfg.Limit), nil
	default:
		return nil, fmt.Errorf("unknown signal source %q", cfg.Source)
	}
}

// rank orders by score, then confidence, keeping only the requested venues.
func rank(in []externalmodel.Signal, venues []string) []externalmodel.Signal {
	allowed := make(map[string]bool, len(venues))
	for _, v := range venues {
		allowed[strings.ToLower(v)] = true
	}
	out := make([]externalmodel.Signal, 0, len(in))
	for _, s := range in {
		s.Venue = strings.ToLower(s.Venue)
		if len(allowed) > 0 && !allowed[s.Venue] {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Confidence > out[j].Confidence
	})
	return out
}
