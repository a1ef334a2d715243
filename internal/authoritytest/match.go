package authoritytest

import (
	"encoding/json"
	"sync"

	"github.com/park285/Cheese-LiveMatch/internal/rules"
	"github.com/park285/Cheese-LiveMatch/pkg/matchdto"
)

// Match is a minimal authoritative chess match bound to a Server. It seats two
// players, validates moves with the rules package and broadcasts snapshots.
type Match struct {
	srv *Server

	ID      string
	WhiteID string
	BlackID string

	mu      sync.Mutex
	fen     string
	moves   []string
	status  matchdto.Status
	whiteMs int64
	blackMs int64
	drawBy  matchdto.Side
	outcome *matchdto.Outcome
}

// NewMatch registers join/move/resign/draw/timeout/chat handlers on srv.
func NewMatch(srv *Server, id, whiteID, blackID string, clockMs int64) *Match {
	m := &Match{
		srv:     srv,
		ID:      id,
		WhiteID: whiteID,
		BlackID: blackID,
		fen:     rules.StartFEN,
		status:  matchdto.StatusActive,
		whiteMs: clockMs,
		blackMs: clockMs,
	}
	srv.Handle(string(matchdto.ActionJoin), m.join)
	srv.Handle(string(matchdto.ActionMove), m.move)
	srv.Handle(string(matchdto.ActionResign), m.resign)
	srv.Handle(string(matchdto.ActionOfferDraw), m.offerDraw)
	srv.Handle(string(matchdto.ActionRespondToDraw), m.respondToDraw)
	srv.Handle(string(matchdto.ActionCheckTimeout), m.checkTimeout)
	srv.Handle(string(matchdto.ActionChatMessage), m.chat)
	return m
}

func (m *Match) Snapshot() matchdto.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Match) snapshotLocked() matchdto.Snapshot {
	side, _ := rules.Turn(m.fen)
	occurred := len(m.moves) > 0
	snap := matchdto.Snapshot{
		MatchID:          m.ID,
		FEN:              m.fen,
		Status:           m.status,
		SideToMove:       side,
		Moves:            append([]string{}, m.moves...),
		WhiteRemainingMs: m.whiteMs,
		BlackRemainingMs: m.blackMs,
		HasMoveOccurred:  &occurred,
		WhitePlayerID:    m.WhiteID,
		BlackPlayerID:    m.BlackID,
	}
	if m.outcome != nil {
		o := *m.outcome
		snap.Outcome = &o
	}
	return snap
}

// ExpireSide zeroes a side's clock; the match only ends on checkTimeout.
func (m *Match) ExpireSide(side matchdto.Side) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if side == matchdto.White {
		m.whiteMs = 0
	} else {
		m.blackMs = 0
	}
}

// ForceMove applies a move as if another client had it accepted first, then
// broadcasts the new snapshot.
func (m *Match) ForceMove(san string) error {
	m.mu.Lock()
	res, err := rules.ApplySAN(m.fen, san)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.applyLocked(res)
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.srv.Broadcast(matchdto.EventMatchSnapshot, snap)
	return nil
}

func (m *Match) sideOf(playerID string) (matchdto.Side, bool) {
	switch playerID {
	case m.WhiteID:
		return matchdto.White, true
	case m.BlackID:
		return matchdto.Black, true
	}
	return "", false
}

func (m *Match) winnerFor(side matchdto.Side) string {
	if side == matchdto.White {
		return m.WhiteID
	}
	return m.BlackID
}

func (m *Match) applyLocked(res *rules.Result) {
	m.fen = res.FEN
	m.moves = append(m.moves, res.SAN)
	m.drawBy = ""
	switch res.Outcome {
	case rules.WhiteWon:
		m.finishLocked(m.WhiteID, false, res.Method)
	case rules.BlackWon:
		m.finishLocked(m.BlackID, false, res.Method)
	case rules.Draw:
		m.finishLocked("", true, res.Method)
	}
}

func (m *Match) finishLocked(winnerID string, draw bool, reason string) {
	m.status = matchdto.StatusCompleted
	m.drawBy = ""
	m.outcome = &matchdto.Outcome{WinnerID: winnerID, IsDraw: draw, Reason: reason}
}

// seated decodes the match id and resolves the caller's side.
func (m *Match) seated(p *Peer, payload json.RawMessage) (matchdto.Side, *matchdto.FrameError) {
	var req matchdto.MatchRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return "", &matchdto.FrameError{Code: "bad_request", Message: err.Error()}
	}
	if req.MatchID != m.ID {
		return "", &matchdto.FrameError{Code: "not_found", Message: "match not found"}
	}
	side, ok := m.sideOf(p.PlayerID)
	if !ok {
		return "", &matchdto.FrameError{Code: "not_authorized", Message: "not a player in this match"}
	}
	return side, nil
}

func (m *Match) join(p *Peer, payload json.RawMessage) (any, *matchdto.FrameError) {
	if _, ferr := m.seated(p, payload); ferr != nil {
		return nil, ferr
	}
	return m.Snapshot(), nil
}

func (m *Match) move(p *Peer, payload json.RawMessage) (any, *matchdto.FrameError) {
	side, ferr := m.seated(p, payload)
	if ferr != nil {
		return nil, ferr
	}
	var req matchdto.MoveRequest
	_ = json.Unmarshal(payload, &req)

	m.mu.Lock()
	if m.status != matchdto.StatusActive {
		m.mu.Unlock()
		return nil, &matchdto.FrameError{Code: "match_not_active", Message: "match is not active"}
	}
	if turn, _ := rules.Turn(m.fen); turn != side {
		m.mu.Unlock()
		return nil, &matchdto.FrameError{Code: "not_your_turn", Message: "not your turn"}
	}
	res, err := rules.ApplySAN(m.fen, req.MoveNotation)
	if err != nil {
		m.mu.Unlock()
		return nil, &matchdto.FrameError{Code: "illegal_move", Message: err.Error()}
	}
	m.applyLocked(res)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.srv.Broadcast(matchdto.EventMatchSnapshot, snap)
	if snap.Outcome != nil {
		m.srv.Broadcast(matchdto.EventMatchOver, matchdto.MatchOver(*snap.Outcome))
	}
	return snap, nil
}

func (m *Match) resign(p *Peer, payload json.RawMessage) (any, *matchdto.FrameError) {
	side, ferr := m.seated(p, payload)
	if ferr != nil {
		return nil, ferr
	}
	m.mu.Lock()
	if m.status != matchdto.StatusActive {
		m.mu.Unlock()
		return nil, &matchdto.FrameError{Code: "match_not_active", Message: "match is not active"}
	}
	m.finishLocked(m.winnerFor(side.Opponent()), false, "resignation")
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.srv.Broadcast(matchdto.EventMatchOver, matchdto.MatchOver(*snap.Outcome))
	m.srv.Broadcast(matchdto.EventMatchSnapshot, snap)
	return map[string]bool{"ok": true}, nil
}

func (m *Match) offerDraw(p *Peer, payload json.RawMessage) (any, *matchdto.FrameError) {
	side, ferr := m.seated(p, payload)
	if ferr != nil {
		return nil, ferr
	}
	m.mu.Lock()
	if m.status != matchdto.StatusActive {
		m.mu.Unlock()
		return nil, &matchdto.FrameError{Code: "match_not_active", Message: "match is not active"}
	}
	if m.drawBy != "" {
		m.mu.Unlock()
		return nil, &matchdto.FrameError{Code: "draw_already_offered", Message: "a draw offer is outstanding"}
	}
	m.drawBy = side
	m.mu.Unlock()

	m.srv.Broadcast(matchdto.EventDrawOffered, matchdto.DrawOffered{OfferedBySide: side})
	return map[string]bool{"ok": true}, nil
}

func (m *Match) respondToDraw(p *Peer, payload json.RawMessage) (any, *matchdto.FrameError) {
	side, ferr := m.seated(p, payload)
	if ferr != nil {
		return nil, ferr
	}
	var req matchdto.RespondToDrawRequest
	_ = json.Unmarshal(payload, &req)

	m.mu.Lock()
	if m.drawBy == "" || m.drawBy == side {
		m.mu.Unlock()
		return nil, &matchdto.FrameError{Code: "no_draw_offer", Message: "no draw offer to answer"}
	}
	if !req.Accept {
		m.drawBy = ""
		m.mu.Unlock()
		m.srv.Broadcast(matchdto.EventDrawDeclined, matchdto.DrawDeclined{})
		return map[string]bool{"ok": true}, nil
	}
	m.finishLocked("", true, "agreement")
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.srv.Broadcast(matchdto.EventMatchOver, matchdto.MatchOver(*snap.Outcome))
	m.srv.Broadcast(matchdto.EventMatchSnapshot, snap)
	return map[string]bool{"ok": true}, nil
}

func (m *Match) checkTimeout(p *Peer, payload json.RawMessage) (any, *matchdto.FrameError) {
	if _, ferr := m.seated(p, payload); ferr != nil {
		return nil, ferr
	}
	m.mu.Lock()
	if m.status == matchdto.StatusActive {
		switch {
		case m.whiteMs <= 0:
			m.finishLocked(m.BlackID, false, "timeout")
		case m.blackMs <= 0:
			m.finishLocked(m.WhiteID, false, "timeout")
		}
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if snap.Status == matchdto.StatusCompleted {
		m.srv.Broadcast(matchdto.EventMatchOver, matchdto.MatchOver(*snap.Outcome))
		m.srv.Broadcast(matchdto.EventMatchSnapshot, snap)
	}
	return snap, nil
}

func (m *Match) chat(p *Peer, payload json.RawMessage) (any, *matchdto.FrameError) {
	if _, ferr := m.seated(p, payload); ferr != nil {
		return nil, ferr
	}
	var req matchdto.ChatRequest
	_ = json.Unmarshal(payload, &req)
	msg := matchdto.ChatMessage{MatchID: m.ID, SenderID: p.PlayerID, Message: req.Message}
	m.srv.Broadcast(matchdto.EventChatMessage, msg)
	return msg, nil
}
