package matchdto

import "fmt"

// ErrorKind classifies failures surfaced by the synchronization client.
type ErrorKind string

const (
	KindConnection      ErrorKind = "connection"
	KindJoin            ErrorKind = "join"
	KindActionRejected  ErrorKind = "action_rejected"
	KindLocalValidation ErrorKind = "local_validation"
	KindStaleSession    ErrorKind = "stale_session"
	KindInvalidState    ErrorKind = "invalid_state"
)

// Local validation codes.
const (
	CodeNoPiece            = "no_piece"
	CodeNotYourPiece       = "not_your_piece"
	CodeNotYourTurn        = "not_your_turn"
	CodeIllegalMove        = "illegal_move"
	CodeMatchNotActive     = "match_not_active"
	CodeMatchFrozen        = "match_frozen"
	CodeDrawAlreadyOffered = "draw_already_offered"
	CodeNoDrawOffer        = "no_draw_offer"
	CodeNotJoined          = "not_joined"
	CodeEmptyMessage       = "empty_message"
)

type Error struct {
	Kind      ErrorKind
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if msg == "" {
		msg = "match sync error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind, and on Code too when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

var (
	ErrConnection      = &Error{Kind: KindConnection}
	ErrJoin            = &Error{Kind: KindJoin}
	ErrActionRejected  = &Error{Kind: KindActionRejected}
	ErrLocalValidation = &Error{Kind: KindLocalValidation}
	ErrStaleSession    = &Error{Kind: KindStaleSession}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
)

func NewConnectionError(msg string, err error) *Error {
	return &Error{Kind: KindConnection, Code: "connection_failed", Message: msg, Retryable: true, Err: err}
}

func NewJoinError(code, msg string) *Error {
	return &Error{Kind: KindJoin, Code: code, Message: msg}
}

func NewActionRejected(code, msg string) *Error {
	return &Error{Kind: KindActionRejected, Code: code, Message: msg}
}

func NewLocalValidation(code, msg string) *Error {
	return &Error{Kind: KindLocalValidation, Code: code, Message: msg}
}

func NewStaleSession(msg string) *Error {
	return &Error{Kind: KindStaleSession, Code: "stale_session", Message: msg, Retryable: true}
}

func NewInvalidState(msg string) *Error {
	return &Error{Kind: KindInvalidState, Code: "invalid_state", Message: msg}
}
