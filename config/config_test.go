package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/internal/domain/trust"
)

func TestLoadPolicy_ShippedFileMatchesDefaults(t *testing.T) {
	pf, err := LoadPolicy(filepath.Join("..", "configs", "policy.yaml"))
	require.NoError(t, err)

	def := trust.DefaultPolicy()
	assert.Equal(t, def.Weights, pf.Fraud.Weights)
	assert.Equal(t, def.Risk, pf.Fraud.Risk)
	assert.Equal(t, time.Hour, pf.Fraud.RapidSessions.Window)
	assert.Equal(t, 7*24*time.Hour, pf.Fraud.Restriction.Window)
	assert.Equal(t, 10, pf.Scoring.TestWeight)
}

func TestLoadPolicy_EnvOverride(t *testing.T) {
	t.Setenv("POLICY_FRAUD_RISK_HIGH", "65")

	pf, err := LoadPolicy(filepath.Join("..", "configs", "policy.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 65, pf.Fraud.Risk.High)
}

func TestLoadPolicy_MissingFileIsFatal(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, shared.ErrPolicyMissing)

	_, err = LoadPolicy("")
	assert.ErrorIs(t, err, shared.ErrPolicyMissing)
}

func TestLoadPolicy_MissingWeightIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
fraud:
  version: 1
  history_days: 7
  weights:
    rapid_sessions: 30
  risk: {medium: 30, high: 60, critical: 80}
scoring:
  minute_weight: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadPolicy(path)
	assert.ErrorIs(t, err, shared.ErrPolicyMissing)
}

func TestLoad_DefaultsAndValidation(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("APP_TIMEZONE", "Asia/Almaty")
	t.Setenv("HTTP_PORT", "9000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Asia/Almaty", cfg.App.Location.String())
	assert.Equal(t, "0.0.0.0:9000", cfg.HTTPAddr())
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.MergeGap)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("ADMIN_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "ADMIN_API_KEY")
}

func TestLoad_BadTimezone(t *testing.T) {
	t.Setenv("APP_TIMEZONE", "Nowhere/Special")

	_, err := Load()
	assert.Error(t, err)
}
