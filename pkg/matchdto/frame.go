package matchdto

import "encoding/json"

// FrameType tags every websocket frame.
type FrameType string

const (
	FrameRequest FrameType = "request"
	FrameAck     FrameType = "ack"
	FrameEvent   FrameType = "event"
	FrameFatal   FrameType = "error"
)

// Client to server request kinds.
type ActionKind string

const (
	ActionJoin          ActionKind = "join"
	ActionMove          ActionKind = "move"
	ActionResign        ActionKind = "resign"
	ActionOfferDraw     ActionKind = "offerDraw"
	ActionRespondToDraw ActionKind = "respondToDraw"
	ActionCheckTimeout  ActionKind = "checkTimeout"
	ActionChatMessage   ActionKind = "chatMessage"
)

// Server pushed event kinds.
type EventKind string

const (
	EventMatchSnapshot EventKind = "matchSnapshot"
	EventMatchOver     EventKind = "matchOver"
	EventDrawOffered   EventKind = "drawOffered"
	EventDrawDeclined  EventKind = "drawDeclined"
	EventClockTick     EventKind = "clockTick"
	EventChatMessage   EventKind = "chatMessage"
)

// Frame is the envelope for every message on the match channel.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      string          `json:"id,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`
}

type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal,omitempty"`
}

type JoinRequest struct {
	MatchID string `json:"matchId"`
}

type MoveRequest struct {
	MatchID      string `json:"matchId"`
	MoveNotation string `json:"moveNotation"`
}

type MatchRequest struct {
	MatchID string `json:"matchId"`
}

type RespondToDrawRequest struct {
	MatchID string `json:"matchId"`
	Accept  bool   `json:"accept"`
}

type ChatRequest struct {
	MatchID string `json:"matchId"`
	Message string `json:"message"`
}
