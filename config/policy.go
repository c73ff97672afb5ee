package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/studyhub/league-core/internal/domain/competition"
	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/internal/domain/trust"
)

// PolicyFile is the versioned tuning file: the fraud model and the point formula.
type PolicyFile struct {
	Fraud   trust.Policy              `mapstructure:"fraud"`
	Scoring competition.ScoringPolicy `mapstructure:"scoring"`
}

// LoadPolicy reads the policy file at path. Values may be overridden with
// POLICY_-prefixed env vars, e.g. POLICY_FRAUD_RISK_HIGH=65.
// A missing or invalid file is fatal; there is no built-in fallback.
func LoadPolicy(path string) (*PolicyFile, error) {
	if path == "" {
		return nil, shared.WrapError("config", "LoadPolicy", shared.ErrPolicyMissing, "policy path is empty", nil)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLICY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, shared.WrapError("config", "LoadPolicy", shared.ErrPolicyMissing,
				fmt.Sprintf("policy file %s not found", path), err)
		}
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	slog.Info("loaded policy file", "path", v.ConfigFileUsed())

	var pf PolicyFile
	if err := v.Unmarshal(&pf); err != nil {
		return nil, fmt.Errorf("decode policy file: %w", err)
	}

	if err := pf.Fraud.Validate(); err != nil {
		return nil, err
	}
	if err := pf.Scoring.Validate(); err != nil {
		return nil, shared.WrapError("config", "LoadPolicy", shared.ErrPolicyMissing, "invalid scoring policy", err)
	}

	return &pf, nil
}
