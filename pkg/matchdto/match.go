package matchdto

import "time"

// Side identifies a chess side.
type Side string

const (
	White Side = "white"
	Black Side = "black"
)

func (s Side) Opponent() Side {
	if s == White {
		return Black
	}
	return White
}

func (s Side) Valid() bool { return s == White || s == Black }

// Status is the match lifecycle as reported by the authority.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Outcome is the finished result of a match as reported by the authority.
type Outcome struct {
	WinnerID string `json:"winnerId,omitempty"`
	IsDraw   bool   `json:"isDraw"`
	Reason   string `json:"reason,omitempty"`
}

// Snapshot is the authoritative match state pushed by the server.
type Snapshot struct {
	MatchID          string   `json:"matchId"`
	FEN              string   `json:"fen"`
	Status           Status   `json:"status"`
	SideToMove       Side     `json:"sideToMove"`
	Moves            []string `json:"moves"`
	WhiteRemainingMs int64    `json:"whiteRemainingMs"`
	BlackRemainingMs int64    `json:"blackRemainingMs"`
	HasMoveOccurred  *bool    `json:"hasMoveOccurred,omitempty"`
	ServerTime       int64    `json:"serverTime,omitempty"`
	WhitePlayerID    string   `json:"whitePlayerId,omitempty"`
	BlackPlayerID    string   `json:"blackPlayerId,omitempty"`
	Outcome          *Outcome `json:"outcome,omitempty"`
}

// MoveOccurred reports the clock gate, derived from the move list when the
// server does not send it.
func (s *Snapshot) MoveOccurred() bool {
	if s.HasMoveOccurred != nil {
		return *s.HasMoveOccurred
	}
	return len(s.Moves) > 0
}

type MatchOver struct {
	WinnerID string `json:"winnerId,omitempty"`
	IsDraw   bool   `json:"isDraw"`
	Reason   string `json:"reason,omitempty"`
}

type DrawOffered struct {
	OfferedBySide Side `json:"offeredBySide"`
}

type DrawDeclined struct{}

type ClockTick struct {
	WhiteRemainingMs int64 `json:"whiteRemainingMs"`
	BlackRemainingMs int64 `json:"blackRemainingMs"`
}

type ChatMessage struct {
	MatchID  string `json:"matchId"`
	SenderID string `json:"senderId,omitempty"`
	Message  string `json:"message"`
	SentAt   int64  `json:"sentAt,omitempty"`
}

// Result classifies an outcome relative to the local player.
type Result string

const (
	ResultWin  Result = "win"
	ResultLoss Result = "loss"
	ResultDraw Result = "draw"
)

// LocalOutcome is the finished match from the local player's point of view.
type LocalOutcome struct {
	Result   Result
	WinnerID string
	Reason   string
	At       time.Time
}
