package app

import (
	"context"
	"strconv"
	"time"

	"cartable/internal/domain"
)

const (
	defaultProgressDays = 7
	maxProgressDays     = 90
)

// DashboardService encapsulates dashboard data retrieval use cases.
type DashboardService struct {
	backend domain.Backend
	cache   *QueryCache
	now     func() time.Time
}

// NewDashboardService creates a DashboardService backed by the given backend.
func NewDashboardService(backend domain.Backend, cache *QueryCache) *DashboardService {
	return &DashboardService{backend: backend, cache: cache, now: time.Now}
}

// TransactionProgress returns one point per local day for the last days
// days, oldest first. Days the backend does not report are zero.
func (s *DashboardService) TransactionProgress(ctx context.Context, sess *domain.Session, days int) ([]domain.ProgressPoint, error) {
	if days <= 0 {
		days = defaultProgressDays
	}
	if days > maxProgressDays {
		days = maxProgressDays
	}

	sparse, err := Query(ctx, s.cache, CategoryFinancial, tokenOf(sess), "progress:"+strconv.Itoa(days),
		func(ctx context.Context, token string) ([]domain.ProgressPoint, error) {
			return s.backend.TransactionProgress(ctx, token, days)
		})
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]domain.ProgressPoint, len(sparse))
	for _, p := range sparse {
		byDay[p.Day] = p
	}

	today := s.now().In(time.Local)
	points := make([]domain.ProgressPoint, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := today.AddDate(0, 0, -i).Format(time.DateOnly)
		p, ok := byDay[day]
		if !ok {
			p = domain.ProgressPoint{Day: day}
		}
		points = append(points, p)
	}
	return points, nil
}
