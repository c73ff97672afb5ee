package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/montanaflynn/stats"

	"github.com/studyhub/league-core/internal/domain/report"
	"github.com/studyhub/league-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET DAILY REPORT QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetDailyReportQuery asks for one user's report on one date.
type GetDailyReportQuery struct {
	UserID shared.UserID
	Date   string
}

// Validate checks the parameters.
func (q GetDailyReportQuery) Validate() error {
	if !q.UserID.IsValid() {
		return shared.NewDomainError("report", "Get", shared.ErrInvalidID, "invalid user ID")
	}
	if _, err := report.ParseDate(q.Date); err != nil {
		return err
	}
	return nil
}

// DailyReportDTO is the report with derived accuracy.
type DailyReportDTO struct {
	*report.DailyReport
	Accuracy float64 `json:"accuracy"`
}

// GetDailyReportHandler handles GetDailyReportQuery.
type GetDailyReportHandler struct {
	reports report.Repository
}

// NewGetDailyReportHandler creates a new handler.
func NewGetDailyReportHandler(reports report.Repository) *GetDailyReportHandler {
	return &GetDailyReportHandler{reports: reports}
}

// Handle returns the report. A day without counted sessions yields an empty report.
func (h *GetDailyReportHandler) Handle(ctx context.Context, q GetDailyReportQuery) (*DailyReportDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	date, _ := report.ParseDate(q.Date)

	r, err := h.reports.Get(ctx, q.UserID, date)
	if errors.Is(err, shared.ErrReportNotFound) {
		r = &report.DailyReport{UserID: q.UserID, Date: date, Subjects: []string{}}
	} else if err != nil {
		return nil, fmt.Errorf("get_daily_report: %w", err)
	}

	accuracy, _ := stats.Round(r.Accuracy(), 2)
	return &DailyReportDTO{DailyReport: r, Accuracy: accuracy}, nil
}
