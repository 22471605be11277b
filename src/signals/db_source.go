package signals

import (
	"context"
	"time"

	"tradeexecutor/src/externalmodel"
)

type signalFinder interface {
	FindRecent(ctx context.Context, venues []string, since time.Time, limit int) ([]externalmodel.Signal, error)
}

// DBSource reads recent rows the analysis service wrote to its table.
type DBSource struct {
	repo   signalFinder
	maxAge time.Duration
	limit  int
	now    func() time.Time
}

func NewDBSource(repo signalFinder, maxAge time.Duration, limit int) *DBSource {
	return &DBSource{repo: repo, maxAge: maxAge, limit: limit, now: time.Now}
}

// Analyze ignores signals generated for the other trading mode.
func (s *DBSource) Analyze(ctx context.Context, venues []string, mode, _ string) ([]externalmodel.Signal, error) {
	rows, err := s.repo.FindRecent(ctx, venues, s.now().Add(-s.maxAge), s.limit)
	if err != nil {
		return nil, err
	}
	kept := rows[:0]
	for _, r := range rows {
		if r.Mode != "" && mode != "" && r.Mode != mode {
			continue
		}
		kept = append(kept, r)
	}
	return rank(kept, venues), nil
}
