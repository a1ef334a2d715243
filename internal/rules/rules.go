package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/Cheese-LiveMatch/pkg/matchdto"
)

const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrBadPosition = errors.New("invalid position notation")
	ErrBadSquare   = errors.New("invalid square")
	ErrIllegalMove = errors.New("illegal move")
)

// Outcome of a position after a move.
type Outcome string

const (
	NoOutcome Outcome = ""
	WhiteWon  Outcome = "white"
	BlackWon  Outcome = "black"
	Draw      Outcome = "draw"
)

// Result is the position produced by applying one move.
type Result struct {
	FEN        string
	SAN        string
	UCI        string
	SideToMove matchdto.Side
	Check      bool
	Outcome    Outcome
	Method     string
}

// Engine answers legality questions about a position. Implementations must be
// pure: every call starts from the given notation and never retains state.
type Engine interface {
	Turn(fen string) (matchdto.Side, error)
	PieceAt(fen, square string) (matchdto.Side, bool, error)
	Apply(fen, move string) (*Result, error)
}

// Standard is the Engine backed by corentings/chess.
type Standard struct{}

func (Standard) Turn(fen string) (matchdto.Side, error)              { return Turn(fen) }
func (Standard) PieceAt(fen, sq string) (matchdto.Side, bool, error) { return PieceAt(fen, sq) }
func (Standard) Apply(fen, move string) (*Result, error)             { return Apply(fen, move) }

func Turn(fen string) (matchdto.Side, error) {
	game, err := load(fen)
	if err != nil {
		return "", err
	}
	return sideFrom(game.Position().Turn()), nil
}

// PieceAt reports the side owning the piece on square, ok=false when empty.
func PieceAt(fen, square string) (matchdto.Side, bool, error) {
	game, err := load(fen)
	if err != nil {
		return "", false, err
	}
	sq, err := parseSquare(square)
	if err != nil {
		return "", false, err
	}
	piece := game.Position().Board().Piece(sq)
	if piece == nchess.NoPiece {
		return "", false, nil
	}
	return sideFrom(piece.Color()), true, nil
}

// Apply validates a UCI move against fen and returns the resulting position.
// A pawn reaching the last rank without a promotion suffix is promoted to a queen.
func Apply(fen, move string) (*Result, error) {
	game, err := load(fen)
	if err != nil {
		return nil, err
	}
	uci := strings.ToLower(strings.TrimSpace(move))
	if len(uci) != 4 && len(uci) != 5 {
		return nil, fmt.Errorf("%w: %q", ErrIllegalMove, move)
	}
	if _, err := parseSquare(uci[:2]); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrIllegalMove, move)
	}
	if _, err := parseSquare(uci[2:4]); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrIllegalMove, move)
	}
	uci = withAutoQueen(game, uci)

	pos := game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrIllegalMove, move)
	}
	if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrIllegalMove, move)
	}
	res := &Result{
		FEN:        game.FEN(),
		SAN:        nchess.AlgebraicNotation{}.Encode(pos, mv),
		UCI:        uci,
		SideToMove: sideFrom(game.Position().Turn()),
	}
	if last := lastMove(game); last != nil {
		res.Check = last.HasTag(nchess.Check)
	}
	res.Outcome, res.Method = outcomeOf(game)
	return res, nil
}

// ApplySAN applies a move written in standard algebraic notation.
func ApplySAN(fen, san string) (*Result, error) {
	game, err := load(fen)
	if err != nil {
		return nil, err
	}
	pos := game.Position()
	if err := game.PushNotationMove(strings.TrimSpace(san), nchess.AlgebraicNotation{}, nil); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrIllegalMove, san)
	}
	last := lastMove(game)
	if last == nil {
		return nil, fmt.Errorf("%w: %q", ErrIllegalMove, san)
	}
	res := &Result{
		FEN:        game.FEN(),
		SAN:        nchess.AlgebraicNotation{}.Encode(pos, last),
		UCI:        nchess.UCINotation{}.Encode(pos, last),
		SideToMove: sideFrom(game.Position().Turn()),
		Check:      last.HasTag(nchess.Check),
	}
	res.Outcome, res.Method = outcomeOf(game)
	return res, nil
}

// UCI joins board squares into a UCI move string.
func UCI(from, to, promotion string) string {
	s := strings.ToLower(strings.TrimSpace(from) + strings.TrimSpace(to))
	if p := strings.ToLower(strings.TrimSpace(promotion)); p != "" {
		s += p[:1]
	}
	return s
}

func load(fen string) (*nchess.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPosition, err)
	}
	return nchess.NewGame(opt), nil
}

func parseSquare(s string) (nchess.Square, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, fmt.Errorf("%w: %q", ErrBadSquare, s)
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), nil
}

func withAutoQueen(game *nchess.Game, uci string) string {
	if len(uci) != 4 {
		return uci
	}
	from, _ := parseSquare(uci[:2])
	piece := game.Position().Board().Piece(from)
	if piece == nchess.NoPiece || piece.Type() != nchess.Pawn {
		return uci
	}
	rank := uci[3]
	if (piece.Color() == nchess.White && rank == '8') || (piece.Color() == nchess.Black && rank == '1') {
		return uci + "q"
	}
	return uci
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func outcomeOf(game *nchess.Game) (Outcome, string) {
	var out Outcome
	switch game.Outcome() {
	case nchess.WhiteWon:
		out = WhiteWon
	case nchess.BlackWon:
		out = BlackWon
	case nchess.Draw:
		out = Draw
	default:
		return NoOutcome, ""
	}
	return out, methodName(game.Method())
}

func methodName(m nchess.Method) string {
	switch m {
	case nchess.Checkmate:
		return "checkmate"
	case nchess.Stalemate:
		return "stalemate"
	case nchess.ThreefoldRepetition:
		return "threefold_repetition"
	case nchess.FivefoldRepetition:
		return "fivefold_repetition"
	case nchess.FiftyMoveRule:
		return "fifty_move_rule"
	case nchess.SeventyFiveMoveRule:
		return "seventy_five_move_rule"
	case nchess.InsufficientMaterial:
		return "insufficient_material"
	default:
		return ""
	}
}

func sideFrom(c nchess.Color) matchdto.Side {
	if c == nchess.White {
		return matchdto.White
	}
	return matchdto.Black
}
