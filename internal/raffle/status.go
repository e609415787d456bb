package raffle

import "time"

// Status is the lifecycle state of a raffle as seen at a given instant.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusActive        Status = "active"
	StatusEnded         Status = "ended"
	StatusRevealed      Status = "revealed"
	StatusClaimed       Status = "claimed"
	StatusWithdrawn     Status = "withdrawn"
)

// StatusAt derives the lifecycle state at now. A raffle counts as claimed
// once every drawn winner has claimed.
func (p *Pool) StatusAt(now time.Time) Status {
	switch {
	case p == nil || p.Creator.IsZero():
		return StatusUninitialized
	case p.Withdrawn():
		return StatusWithdrawn
	case p.Revealed():
		winners := p.WinnerList()
		for i := range winners {
			if p.ClaimedWinner[i] != claimMarkerClaimed {
				return StatusRevealed
			}
		}
		return StatusClaimed
	case now.Unix() < p.EndTimestamp:
		return StatusActive
	default:
		return StatusEnded
	}
}

// Open reports whether tickets may still be bought at now.
func (p *Pool) Open(now time.Time) bool {
	return p.StatusAt(now) == StatusActive
}

// Settled reports whether the escrow left the raffle for good: it was
// withdrawn, or every drawn winner claimed.
func (p *Pool) Settled() bool {
	if p.Withdrawn() {
		return true
	}
	if !p.Revealed() {
		return false
	}
	for i := range p.WinnerList() {
		if p.ClaimedWinner[i] != claimMarkerClaimed {
			return false
		}
	}
	return true
}
