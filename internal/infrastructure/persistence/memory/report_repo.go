package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/studyhub/league-core/internal/domain/report"
	"github.com/studyhub/league-core/internal/domain/shared"
)

// ReportRepository implements report.Repository. A single mutex makes the
// dedupe check and the increment one atomic step.
type ReportRepository struct {
	mu      sync.RWMutex
	applied map[string]struct{}
	reports map[report.Key]*report.DailyReport
	now     func() time.Time
}

// NewReportRepository creates an empty report store.
func NewReportRepository() *ReportRepository {
	return &ReportRepository{
		applied: make(map[string]struct{}),
		reports: make(map[report.Key]*report.DailyReport),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func copyReport(r *report.DailyReport) *report.DailyReport {
	cp := *r
	cp.Subjects = append([]string{}, r.Subjects...)
	return &cp
}

func (r *ReportRepository) Apply(ctx context.Context, inc report.Increment) (bool, error) {
	if err := inc.Validate(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.applied[inc.DedupeKey]; dup {
		return false, nil
	}
	r.applied[inc.DedupeKey] = struct{}{}

	k := report.Key{UserID: inc.UserID, Date: inc.Date}
	rep, ok := r.reports[k]
	if !ok {
		rep = &report.DailyReport{UserID: inc.UserID, Date: inc.Date, Subjects: []string{}}
		r.reports[k] = rep
	}
	rep.Apply(inc, r.now())
	return true, nil
}

func (r *ReportRepository) Get(ctx context.Context, userID shared.UserID, date report.Date) (*report.DailyReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rep, ok := r.reports[report.Key{UserID: userID, Date: date}]
	if !ok {
		return nil, shared.ErrReportNotFound
	}
	return copyReport(rep), nil
}

func (r *ReportRepository) ListRange(ctx context.Context, userID shared.UserID, from, to report.Date) ([]*report.DailyReport, error) {
	return r.ListRangeForUsers(ctx, []shared.UserID{userID}, from, to)
}

func (r *ReportRepository) ListRangeForUsers(ctx context.Context, userIDs []shared.UserID, from, to report.Date) ([]*report.DailyReport, error) {
	want := make(map[shared.UserID]struct{}, len(userIDs))
	for _, id := range userIDs {
		want[id] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*report.DailyReport
	for k, rep := range r.reports {
		if _, ok := want[k.UserID]; !ok || k.Date < from || k.Date > to {
			continue
		}
		out = append(out, copyReport(rep))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Date < out[j].Date
	})
	return out, nil
}
