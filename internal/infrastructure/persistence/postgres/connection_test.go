package postgres

import (
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestErrorHelpers(t *testing.T) {
	wrap := func(code string) error {
		return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code})
	}

	assert.True(t, IsUniqueViolation(wrap("23505")))
	assert.True(t, IsNoRows(fmt.Errorf("scan: %w", pgx.ErrNoRows)))
	assert.False(t, IsUniqueViolation(nil))
}

func TestGetMigrations_OrderedAndComplete(t *testing.T) {
	migs := GetMigrations()
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL, m.Name)
	}

	var all strings.Builder
	for _, m := range migs {
		all.WriteString(m.UpSQL)
	}
	for _, table := range []string{
		"raw_activity_events", "sessions", "trust_assessments", "fraud_policies",
		"restrictions", "daily_reports", "report_applications", "competitions",
		"participants", "reward_records", "user_balances",
	} {
		assert.Contains(t, all.String(), "CREATE TABLE IF NOT EXISTS "+table+" ", table)
	}
}
