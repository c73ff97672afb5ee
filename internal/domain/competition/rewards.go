package competition

import (
	"sort"
	"time"

	"github.com/studyhub/league-core/internal/domain/shared"
)

// RewardRecord is one issued reward. At most one exists per (competition, user, tier).
type RewardRecord struct {
	CompetitionID string        `json:"competition_id"`
	UserID        shared.UserID `json:"user_id"`
	Tier          string        `json:"tier"`
	Rank          shared.Rank   `json:"rank"`
	Points        int           `json:"points"`
	Badge         string        `json:"badge,omitempty"`
	IssuedAt      time.Time     `json:"issued_at"`
}

// PlanRewards maps frozen final ranks onto reward tiers. Each qualifying
// participant gets the single best tier covering their rank. Participants
// without points or without a rank do not qualify.
func PlanRewards(c *Competition, participants []*Participant, now time.Time) []*RewardRecord {
	tiers := append([]RewardTier(nil), c.Rewards...)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MaxRank < tiers[j].MaxRank })

	var out []*RewardRecord
	for _, p := range participants {
		if !p.Rank.IsValid() || p.Points <= 0 {
			continue
		}
		for _, t := range tiers {
			if int(p.Rank) > t.MaxRank {
				continue
			}
			out = append(out, &RewardRecord{
				CompetitionID: c.ID,
				UserID:        p.UserID,
				Tier:          t.Name,
				Rank:          p.Rank,
				Points:        t.Points,
				Badge:         t.Badge,
				IssuedAt:      now,
			})
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}
