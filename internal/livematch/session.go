package livematch

import (
	"slices"

	"github.com/park285/Cheese-LiveMatch/internal/rules"
	"github.com/park285/Cheese-LiveMatch/pkg/matchdto"
)

// Session is the authoritative match state last received from the server.
type Session struct {
	MatchID       string
	FEN           string
	Status        matchdto.Status
	SideToMove    matchdto.Side
	Moves         []string
	Outcome       *matchdto.Outcome
	WhitePlayerID string
	BlackPlayerID string
}

func (s Session) clone() Session {
	out := s
	out.Moves = slices.Clone(s.Moves)
	if s.Outcome != nil {
		o := *s.Outcome
		out.Outcome = &o
	}
	return out
}

func (s *Session) equal(o *Session) bool {
	if s.MatchID != o.MatchID || s.FEN != o.FEN || s.Status != o.Status || s.SideToMove != o.SideToMove {
		return false
	}
	if s.WhitePlayerID != o.WhitePlayerID || s.BlackPlayerID != o.BlackPlayerID {
		return false
	}
	if !slices.Equal(s.Moves, o.Moves) {
		return false
	}
	switch {
	case s.Outcome == nil && o.Outcome == nil:
		return true
	case s.Outcome == nil || o.Outcome == nil:
		return false
	default:
		return *s.Outcome == *o.Outcome
	}
}

// sessionState pairs the authoritative Session with the optimistic working
// position. The working copy never leaks into the authoritative one.
type sessionState struct {
	auth    Session
	applied bool

	working string
	pending []string
}

func sessionFrom(snap *matchdto.Snapshot, engine rules.Engine) Session {
	s := Session{
		MatchID:       snap.MatchID,
		FEN:           snap.FEN,
		Status:        snap.Status,
		SideToMove:    snap.SideToMove,
		Moves:         slices.Clone(snap.Moves),
		WhitePlayerID: snap.WhitePlayerID,
		BlackPlayerID: snap.BlackPlayerID,
	}
	if s.Moves == nil {
		s.Moves = []string{}
	}
	if !s.SideToMove.Valid() && engine != nil {
		if side, err := engine.Turn(s.FEN); err == nil {
			s.SideToMove = side
		}
	}
	if snap.Outcome != nil {
		o := *snap.Outcome
		s.Outcome = &o
	}
	return s
}

// reconcile replaces the authoritative state wholesale. Re-applying an equal
// snapshot reports changed=false. The working copy is always reset.
func (st *sessionState) reconcile(next Session) (changed, grew bool) {
	changed = !st.applied || !next.equal(&st.auth)
	grew = st.applied && len(next.Moves) > len(st.auth.Moves)
	if changed {
		st.auth = next
		st.applied = true
	}
	st.working = st.auth.FEN
	st.pending = nil
	return changed, grew
}

// olderThanCurrent reports whether an ack-carried snapshot lags what a pushed
// snapshot already delivered.
func (st *sessionState) olderThanCurrent(next Session) bool {
	if !st.applied {
		return false
	}
	if len(next.Moves) < len(st.auth.Moves) {
		return true
	}
	return st.auth.Status == matchdto.StatusCompleted && next.Status != matchdto.StatusCompleted
}

func (st *sessionState) advance(res *rules.Result) {
	st.working = res.FEN
	st.pending = append(st.pending, res.SAN)
}

// revert drops an optimistic move if no reconciliation replaced it meanwhile.
func (st *sessionState) revert(fen string) bool {
	if st.working != fen {
		return false
	}
	st.working = st.auth.FEN
	st.pending = nil
	return true
}
