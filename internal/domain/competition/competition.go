// Package competition contains time-boxed leagues, their participants,
// ranking and reward rules.
package competition

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/studyhub/league-core/internal/domain/shared"
)

// Domain errors for competition package.
var (
	ErrInvalidWindow   = errors.New("competition: end must be after start")
	ErrInvalidCapacity = errors.New("competition: capacity must be positive")
	ErrEmptyName       = errors.New("competition: name is required")
	ErrUnknownType     = errors.New("competition: unknown competition type")
	ErrUnknownTier     = errors.New("competition: unknown tier")
)

// Status is a competition lifecycle state.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusOpen      Status = "open"
	StatusClosed    Status = "closed"
	StatusRewarded  Status = "rewarded"
)

// Type is the league cadence.
type Type string

const (
	TypeDaily    Type = "daily"
	TypeWeekly   Type = "weekly"
	TypeMonthly  Type = "monthly"
	TypeSeasonal Type = "seasonal"
	TypePrivate  Type = "private"
)

// IsValid checks if the type is known.
func (t Type) IsValid() bool {
	switch t {
	case TypeDaily, TypeWeekly, TypeMonthly, TypeSeasonal, TypePrivate:
		return true
	}
	return false
}

// Tier is the league division.
type Tier string

const (
	TierBronze      Tier = "bronze"
	TierSilver      Tier = "silver"
	TierGold        Tier = "gold"
	TierPlatinum    Tier = "platinum"
	TierDiamond     Tier = "diamond"
	TierMaster      Tier = "master"
	TierGrandmaster Tier = "grandmaster"
	TierChallenger  Tier = "challenger"
)

// IsValid checks if the tier is known.
func (t Tier) IsValid() bool {
	switch t {
	case TierBronze, TierSilver, TierGold, TierPlatinum, TierDiamond, TierMaster, TierGrandmaster, TierChallenger:
		return true
	}
	return false
}

// RewardTier pays everyone whose final rank is at most MaxRank and not
// covered by a better tier.
type RewardTier struct {
	Name    string `json:"name"`
	MaxRank int    `json:"max_rank"`
	Points  int    `json:"points"`
	Badge   string `json:"badge,omitempty"`
}

// Settings are the tunable parts of a competition.
type Settings struct {
	Duration    time.Duration
	Capacity    int
	EntryPoints int
	Rewards     []RewardTier
}

// DefaultSettings returns capacity, entry requirement and rewards for a league type.
func DefaultSettings(t Type) Settings {
	switch t {
	case TypeDaily:
		return Settings{
			Duration: 24 * time.Hour, Capacity: 100, EntryPoints: 0,
			Rewards: standardRewards("daily", 100, 50, 25),
		}
	case TypeWeekly:
		return Settings{
			Duration: 7 * 24 * time.Hour, Capacity: 500, EntryPoints: 100,
			Rewards: standardRewards("weekly", 500, 300, 150),
		}
	case TypeMonthly:
		return Settings{
			Duration: 30 * 24 * time.Hour, Capacity: 1000, EntryPoints: 500,
			Rewards: standardRewards("monthly", 2000, 1200, 600),
		}
	case TypeSeasonal:
		return Settings{
			Duration: 90 * 24 * time.Hour, Capacity: 2000, EntryPoints: 1000,
			Rewards: standardRewards("seasonal", 10000, 6000, 3000),
		}
	default:
		return Settings{Duration: 7 * 24 * time.Hour, Capacity: 50}
	}
}

func standardRewards(prefix string, first, top3, top10 int) []RewardTier {
	return []RewardTier{
		{Name: "top_1", MaxRank: 1, Points: first, Badge: prefix + "_champion"},
		{Name: "top_3", MaxRank: 3, Points: top3, Badge: prefix + "_top3"},
		{Name: "top_10", MaxRank: 10, Points: top10, Badge: prefix + "_top10"},
	}
}

// Competition is a time-boxed league window.
type Competition struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Type        Type          `json:"type"`
	Tier        Tier          `json:"tier"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	Capacity    int           `json:"capacity"`
	EntryPoints int           `json:"entry_points"`
	Rewards     []RewardTier  `json:"rewards"`
	Private     bool          `json:"private"`
	CreatorID   shared.UserID `json:"creator_id,omitempty"`
	InviteHash  string        `json:"-"`
	Status      Status        `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

// New creates a public competition.
func New(name string, t Type, tier Tier, start time.Time, s Settings, now time.Time) (*Competition, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	if !t.IsValid() {
		return nil, ErrUnknownType
	}
	if !tier.IsValid() {
		return nil, ErrUnknownTier
	}
	if s.Duration <= 0 {
		return nil, ErrInvalidWindow
	}
	if s.Capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if s.EntryPoints < 0 {
		return nil, shared.NewDomainError("competition", "New", shared.ErrNegativeValue, "entry points cannot be negative")
	}

	c := &Competition{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(name),
		Type:        t,
		Tier:        tier,
		Start:       start,
		End:         start.Add(s.Duration),
		Capacity:    s.Capacity,
		EntryPoints: s.EntryPoints,
		Rewards:     append([]RewardTier(nil), s.Rewards...),
		CreatedAt:   now,
	}
	c.Status = c.EffectiveStatus(now)
	return c, nil
}

// PrivateConfig is what a creator chooses for a private competition.
type PrivateConfig struct {
	Name     string
	Start    time.Time
	Duration time.Duration
	Capacity int
}

// NewPrivate creates an invite-only competition and returns the invite code.
// Only a hash of the code is stored.
func NewPrivate(creator shared.UserID, cfg PrivateConfig, now time.Time) (*Competition, string, error) {
	if !creator.IsValid() {
		return nil, "", shared.NewDomainError("competition", "NewPrivate", shared.ErrInvalidID, "invalid creator ID")
	}
	s := DefaultSettings(TypePrivate)
	if cfg.Duration > 0 {
		s.Duration = cfg.Duration
	}
	if cfg.Capacity != 0 {
		s.Capacity = cfg.Capacity
	}
	start := cfg.Start
	if start.IsZero() {
		start = now
	}

	c, err := New(cfg.Name, TypePrivate, TierBronze, start, s, now)
	if err != nil {
		return nil, "", err
	}
	code, err := newInviteCode()
	if err != nil {
		return nil, "", err
	}
	c.Private = true
	c.CreatorID = creator
	c.InviteHash = HashInviteCode(code)
	return c, code, nil
}

func newInviteCode() (string, error) {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// HashInviteCode returns the stored form of an invite code.
func HashInviteCode(code string) string {
	sum := blake2b.Sum256([]byte(strings.ToUpper(strings.TrimSpace(code))))
	return hex.EncodeToString(sum[:])
}

// CheckInvite compares a presented code with the stored hash.
func (c *Competition) CheckInvite(code string) bool {
	if !c.Private {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(HashInviteCode(code)), []byte(c.InviteHash)) == 1
}

// EffectiveStatus derives the time-driven state. Rewarded is sticky
// because only the distributor sets it.
func (c *Competition) EffectiveStatus(now time.Time) Status {
	if c.Status == StatusRewarded {
		return StatusRewarded
	}
	switch w := c.Window(); {
	case now.Before(w.From):
		return StatusScheduled
	case w.Contains(now):
		return StatusOpen
	default:
		return StatusClosed
	}
}

// IsOpen reports whether participants may join at now.
func (c *Competition) IsOpen(now time.Time) bool {
	return c.EffectiveStatus(now) == StatusOpen
}

// CanTransition reports whether the lifecycle allows moving from one state to another.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusScheduled:
		return to == StatusOpen || to == StatusClosed
	case StatusOpen:
		return to == StatusClosed
	case StatusClosed:
		return to == StatusRewarded
	}
	return false
}

// Transition moves the competition to the given state.
func (c *Competition) Transition(to Status) error {
	if !CanTransition(c.Status, to) {
		return shared.WrapError("competition", "Transition", shared.ErrInvalidTransition,
			string(c.Status)+" -> "+string(to), nil)
	}
	c.Status = to
	return nil
}

// Window returns the competition time range.
func (c *Competition) Window() shared.TimeRange {
	return shared.TimeRange{From: c.Start, To: c.End}
}
