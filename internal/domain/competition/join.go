package competition

import (
	"fmt"
	"time"

	"github.com/studyhub/league-core/internal/domain/shared"
)

// JoinRequest is everything the gate needs to decide on a join.
type JoinRequest struct {
	Competition   *Competition
	UserID        shared.UserID
	Participants  int
	AlreadyJoined bool
	Balance       int
	InviteCode    string
	Now           time.Time
}

// JoinRejection explains why a join was refused. It matches the shared
// join errors through errors.Is.
type JoinRejection struct {
	Kind   *shared.DomainError
	Reason string
}

// Error implements the error interface.
func (e *JoinRejection) Error() string {
	return e.Kind.Message + ": " + e.Reason
}

// Unwrap exposes the taxonomy error.
func (e *JoinRejection) Unwrap() error {
	return e.Kind
}

// CheckJoin applies the gate in order: window open, not already joined,
// capacity left, entry points met, invite code valid.
func CheckJoin(req JoinRequest) error {
	c := req.Competition
	if !c.IsOpen(req.Now) {
		return &JoinRejection{Kind: shared.ErrCompetitionClosed,
			Reason: fmt.Sprintf("competition is %s", c.EffectiveStatus(req.Now))}
	}
	if req.AlreadyJoined {
		return &JoinRejection{Kind: shared.ErrAlreadyJoined, Reason: "user is already a participant"}
	}
	if req.Participants >= c.Capacity {
		return &JoinRejection{Kind: shared.ErrCompetitionFull,
			Reason: fmt.Sprintf("%d of %d places taken", req.Participants, c.Capacity)}
	}
	if c.EntryPoints > 0 && req.Balance < c.EntryPoints {
		return &JoinRejection{Kind: shared.ErrEntryRequirementNotMet,
			Reason: fmt.Sprintf("requires %d points, balance is %d", c.EntryPoints, req.Balance)}
	}
	if c.Private && req.UserID != c.CreatorID && !c.CheckInvite(req.InviteCode) {
		return &JoinRejection{Kind: shared.ErrEntryRequirementNotMet, Reason: "invalid invite code"}
	}
	return nil
}
