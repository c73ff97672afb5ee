package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/league-core/internal/application/eventhandler"
	"github.com/studyhub/league-core/pkg/logger"
)

func TestWebhookNotifier_SignsAndPosts(t *testing.T) {
	var got webhookMessage
	var signature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		signature = r.Header.Get(SignatureHeader)
		assert.Equal(t, Sign("s3cret", body), signature)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL, Secret: "s3cret"}, srv.Client(), logger.Discard())
	err := n.NotifyReward(context.Background(), eventhandler.RewardNotice{
		UserID: "u1", CompetitionID: "c1", Tier: "top_1", Rank: 1, Points: 100,
	})

	require.NoError(t, err)
	assert.Equal(t, "reward_issued", got.Type)
	assert.NotEmpty(t, signature)
}

func TestWebhookNotifier_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL}, srv.Client(), logger.Discard())
	err := n.NotifyRestriction(context.Background(), eventhandler.RestrictionNotice{
		UserID: "u1", RestrictionID: "r1", Reason: "3 high-risk sessions", ExpiresAt: time.Now().Add(time.Hour),
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookNotifier_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL}, srv.Client(), logger.Discard())
	err := n.NotifyReward(context.Background(), eventhandler.RewardNotice{UserID: "u1"})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(logger.Discard())
	assert.NoError(t, n.NotifyReward(context.Background(), eventhandler.RewardNotice{UserID: "u1"}))
	assert.NoError(t, n.NotifyRestriction(context.Background(), eventhandler.RestrictionNotice{UserID: "u1"}))
}
