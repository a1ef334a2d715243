package livematch

import (
	"strings"
	"time"

	"github.com/park285/Cheese-LiveMatch/pkg/matchdto"
)

// drawTracker holds at most one outstanding draw offer.
type drawTracker struct {
	offeredBy matchdto.Side
	// local offer sent but not yet acknowledged
	pending bool
}

func (d *drawTracker) clear() bool {
	had := d.offeredBy != ""
	d.offeredBy = ""
	d.pending = false
	return had
}

func (d *drawTracker) offerLocal(local matchdto.Side) {
	d.offeredBy = local
	d.pending = true
}

// receive applies a drawOffered push. Echoes of the local offer are ignored.
func (d *drawTracker) receive(by, local matchdto.Side) bool {
	if !by.Valid() || by == local {
		return false
	}
	d.offeredBy = by
	d.pending = false
	return true
}

// Classify turns the authority's outcome into the local player's result:
// draw, else win when the winner is the local player, else loss.
func Classify(winnerID string, isDraw bool, reason, localPlayerID string, at time.Time) matchdto.LocalOutcome {
	out := matchdto.LocalOutcome{WinnerID: winnerID, Reason: strings.TrimSpace(reason), At: at}
	switch {
	case isDraw:
		out.Result = matchdto.ResultDraw
	case winnerID != "" && winnerID == localPlayerID:
		out.Result = matchdto.ResultWin
	default:
		out.Result = matchdto.ResultLoss
	}
	return out
}
