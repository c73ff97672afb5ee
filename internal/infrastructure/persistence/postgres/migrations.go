package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE ACTIVITY
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Raw activity events and derived sessions
-- Version: 001

CREATE TABLE IF NOT EXISTS raw_activity_events (
    id VARCHAR(64) NOT NULL,
    dedupe_key CHAR(64) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    activity_type VARCHAR(20) NOT NULL,
    start_at TIMESTAMP WITH TIME ZONE NOT NULL,
    end_at TIMESTAMP WITH TIME ZONE NOT NULL,
    device_fingerprint VARCHAR(255) NOT NULL DEFAULT '',
    subject VARCHAR(100) NOT NULL DEFAULT '',
    questions INTEGER NOT NULL DEFAULT 0,
    correct INTEGER NOT NULL DEFAULT 0,
    payload JSONB,
    received_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    settled BOOLEAN NOT NULL DEFAULT FALSE,

    CONSTRAINT valid_event_window CHECK (end_at >= start_at),
    CONSTRAINT valid_event_counters CHECK (questions >= 0 AND correct >= 0 AND correct <= questions)
);

CREATE INDEX IF NOT EXISTS idx_raw_events_user_start ON raw_activity_events(user_id, start_at);
CREATE INDEX IF NOT EXISTS idx_raw_events_unsettled ON raw_activity_events(end_at) WHERE NOT settled;

CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    session_type VARCHAR(20) NOT NULL,
    start_at TIMESTAMP WITH TIME ZONE NOT NULL,
    end_at TIMESTAMP WITH TIME ZONE NOT NULL,
    subject VARCHAR(100) NOT NULL DEFAULT '',
    confidence DOUBLE PRECISION NOT NULL DEFAULT 1,
    device VARCHAR(255) NOT NULL DEFAULT '',
    questions INTEGER NOT NULL DEFAULT 0,
    correct INTEGER NOT NULL DEFAULT 0,
    event_count INTEGER NOT NULL DEFAULT 0,
    source VARCHAR(10) NOT NULL,
    rules_version VARCHAR(20) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_session_window CHECK (end_at >= start_at),
    CONSTRAINT valid_session_source CHECK (source IN ('auto', 'manual'))
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_window ON sessions(user_id, start_at, end_at);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE TRUST
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Assessment log, fraud policies and restrictions
-- Version: 002

-- Append-only. Rows are never updated.
CREATE TABLE IF NOT EXISTS trust_assessments (
    id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    user_id VARCHAR(64) NOT NULL,
    session_snapshot JSONB NOT NULL,
    risk_level VARCHAR(10) NOT NULL,
    risk_severity SMALLINT NOT NULL,
    score INTEGER NOT NULL,
    triggered_patterns TEXT[] NOT NULL DEFAULT '{}',
    details JSONB,
    outcome VARCHAR(10) NOT NULL,
    policy_version INTEGER NOT NULL,
    decided_at TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT valid_risk_level CHECK (risk_level IN ('low', 'medium', 'high', 'critical')),
    CONSTRAINT valid_outcome CHECK (outcome IN ('counted', 'flagged', 'rejected')),
    CONSTRAINT valid_score CHECK (score >= 0 AND score <= 100)
);

CREATE INDEX IF NOT EXISTS idx_assessments_user_decided ON trust_assessments(user_id, decided_at);

CREATE TABLE IF NOT EXISTS fraud_policies (
    version INTEGER PRIMARY KEY,
    body JSONB NOT NULL,
    updated_by VARCHAR(100) NOT NULL DEFAULT '',
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS restrictions (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    kind VARCHAR(20) NOT NULL,
    reason TEXT NOT NULL,
    created_by VARCHAR(100) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
    expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
    cleared_at TIMESTAMP WITH TIME ZONE,
    cleared_by VARCHAR(100) NOT NULL DEFAULT '',

    CONSTRAINT valid_restriction_kind CHECK (kind IN ('study_limit', 'operator')),
    CONSTRAINT valid_restriction_window CHECK (expires_at > created_at)
);

CREATE INDEX IF NOT EXISTS idx_restrictions_user ON restrictions(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_restrictions_active ON restrictions(expires_at) WHERE cleared_at IS NULL;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE REPORTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Daily reports and their applied increments
-- Version: 003

CREATE TABLE IF NOT EXISTS daily_reports (
    user_id VARCHAR(64) NOT NULL,
    report_date DATE NOT NULL,
    minutes INTEGER NOT NULL DEFAULT 0,
    sessions INTEGER NOT NULL DEFAULT 0,
    tests INTEGER NOT NULL DEFAULT 0,
    flagged_sessions INTEGER NOT NULL DEFAULT 0,
    correct_answers INTEGER NOT NULL DEFAULT 0,
    total_questions INTEGER NOT NULL DEFAULT 0,
    subjects TEXT[] NOT NULL DEFAULT '{}',
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, report_date),
    CONSTRAINT valid_report_minutes CHECK (minutes >= 0),
    CONSTRAINT valid_report_answers CHECK (correct_answers >= 0 AND correct_answers <= total_questions)
);

-- One row per applied dedupe key; inserted in the same transaction as the increment.
CREATE TABLE IF NOT EXISTS report_applications (
    dedupe_key VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    report_date DATE NOT NULL,
    applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: CREATE COMPETITIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
-- Migration: Competitions, participants, rewards and balances
-- Version: 004

CREATE TABLE IF NOT EXISTS competitions (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    competition_type VARCHAR(20) NOT NULL,
    tier VARCHAR(20) NOT NULL,
    start_at TIMESTAMP WITH TIME ZONE NOT NULL,
    end_at TIMESTAMP WITH TIME ZONE NOT NULL,
    capacity INTEGER NOT NULL,
    entry_points INTEGER NOT NULL DEFAULT 0,
    rewards JSONB NOT NULL DEFAULT '[]'::jsonb,
    private BOOLEAN NOT NULL DEFAULT FALSE,
    creator_id VARCHAR(64) NOT NULL DEFAULT '',
    invite_hash CHAR(64),
    status VARCHAR(20) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_competition_window CHECK (end_at > start_at),
    CONSTRAINT valid_capacity CHECK (capacity > 0),
    CONSTRAINT valid_competition_status CHECK (status IN ('scheduled', 'open', 'closed', 'rewarded'))
);

CREATE INDEX IF NOT EXISTS idx_competitions_due ON competitions(status, end_at) WHERE status <> 'rewarded';

CREATE TABLE IF NOT EXISTS participants (
    competition_id VARCHAR(64) NOT NULL REFERENCES competitions(id) ON DELETE CASCADE,
    user_id VARCHAR(64) NOT NULL,
    points INTEGER NOT NULL DEFAULT 0,
    rank INTEGER NOT NULL DEFAULT 0,
    minutes INTEGER NOT NULL DEFAULT 0,
    tests INTEGER NOT NULL DEFAULT 0,
    accuracy DOUBLE PRECISION NOT NULL DEFAULT 0,
    streak INTEGER NOT NULL DEFAULT 0,
    joined_at TIMESTAMP WITH TIME ZONE NOT NULL,
    frozen BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (competition_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_participants_rank ON participants(competition_id, rank);

CREATE TABLE IF NOT EXISTS reward_records (
    competition_id VARCHAR(64) NOT NULL,
    user_id VARCHAR(64) NOT NULL,
    tier VARCHAR(50) NOT NULL,
    rank INTEGER NOT NULL,
    points INTEGER NOT NULL,
    badge VARCHAR(100) NOT NULL DEFAULT '',
    issued_at TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (competition_id, user_id, tier)
);

CREATE TABLE IF NOT EXISTS user_balances (
    user_id VARCHAR(64) PRIMARY KEY,
    points INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

