package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/studyhub/league-core/internal/domain/competition"
	"github.com/studyhub/league-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STANDINGS CACHE
// ══════════════════════════════════════════════════════════════════════════════

// StandingsCache implements competition.StandingsCache with Redis Sorted Sets.
//
// Architecture:
//   - Sorted Set "standings:order:{competition}" stores userID -> position
//   - Hash "standings:info:{competition}" stores userID -> Participant JSON
//
// Positions follow the order produced by the ranking pass, so range reads
// return participants in rank order including the tie break.
type StandingsCache struct {
	cache *Cache
}

// NewStandingsCache creates a new StandingsCache.
func NewStandingsCache(cache *Cache) *StandingsCache {
	return &StandingsCache{cache: cache}
}

// Replace swaps the cached standings atomically.
func (s *StandingsCache) Replace(ctx context.Context, competitionID string, standings []*competition.Participant) error {
	orderKey := StandingsOrderKey(competitionID)
	infoKey := StandingsInfoKey(competitionID)

	pipe := s.cache.Client().TxPipeline()
	pipe.Del(ctx, orderKey, infoKey)

	if len(standings) > 0 {
		members := make([]redis.Z, 0, len(standings))
		info := make(map[string]interface{}, len(standings))
		for i, p := range standings {
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
			}
			members = append(members, redis.Z{Score: float64(i), Member: string(p.UserID)})
			info[string(p.UserID)] = data
		}
		pipe.ZAdd(ctx, orderKey, members...)
		pipe.HSet(ctx, infoKey, info)
		pipe.Expire(ctx, orderKey, TTLStandings)
		pipe.Expire(ctx, infoKey, TTLStandings)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Top returns the first limit participants; limit 0 returns all.
// A missing key is reported as shared.ErrNotFound so callers fall back to the database.
func (s *StandingsCache) Top(ctx context.Context, competitionID string, limit int) ([]*competition.Participant, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	ids, err := s.cache.Client().ZRange(ctx, StandingsOrderKey(competitionID), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, shared.ErrNotFound
	}

	values, err := s.cache.Client().HMGet(ctx, StandingsInfoKey(competitionID), ids...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*competition.Participant, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Order and info expire together; a gap means a concurrent Replace.
			return nil, shared.ErrNotFound
		}
		p, err := decodeParticipant(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// RankOf returns the user's rank and the field size.
func (s *StandingsCache) RankOf(ctx context.Context, competitionID string, userID shared.UserID) (shared.Rank, int, error) {
	pipe := s.cache.Client().Pipeline()
	card := pipe.ZCard(ctx, StandingsOrderKey(competitionID))
	info := pipe.HGet(ctx, StandingsInfoKey(competitionID), string(userID))
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return shared.Unranked, 0, err
	}

	total := int(card.Val())
	if total == 0 {
		return shared.Unranked, 0, shared.ErrNotFound
	}
	raw, err := info.Result()
	if errors.Is(err, redis.Nil) {
		return shared.Unranked, total, shared.ErrParticipantNotFound
	}
	if err != nil {
		return shared.Unranked, 0, err
	}

	p, err := decodeParticipant(raw)
	if err != nil {
		return shared.Unranked, 0, err
	}
	return p.Rank, total, nil
}

func decodeParticipant(raw string) (*competition.Participant, error) {
	var p competition.Participant
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return &p, nil
}
