package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/park285/Cheese-LiveMatch/pkg/matchdto"
)

func TestTurnAndPieceAt(t *testing.T) {
	side, err := Turn(StartFEN)
	if err != nil || side != matchdto.White {
		t.Fatalf("Turn(start)=%q err=%v", side, err)
	}
	if s, ok, err := PieceAt(StartFEN, "e2"); err != nil || !ok || s != matchdto.White {
		t.Fatalf("PieceAt e2 = %q %v %v", s, ok, err)
	}
	if s, ok, err := PieceAt("startpos", "g8"); err != nil || !ok || s != matchdto.Black {
		t.Fatalf("PieceAt g8 = %q %v %v", s, ok, err)
	}
	if _, ok, err := PieceAt(StartFEN, "e4"); err != nil || ok {
		t.Fatalf("expected empty e4, ok=%v err=%v", ok, err)
	}
	if _, _, err := PieceAt(StartFEN, "z9"); !errors.Is(err, ErrBadSquare) {
		t.Fatalf("expected ErrBadSquare, got %v", err)
	}
	if _, err := Turn("not a fen"); !errors.Is(err, ErrBadPosition) {
		t.Fatalf("expected ErrBadPosition, got %v", err)
	}
}

func TestApplyIsPure(t *testing.T) {
	a, err := Apply(StartFEN, "e2e4")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	b, err := Apply(StartFEN, "e2e4")
	if err != nil {
		t.Fatalf("Apply again: %v", err)
	}
	if a.FEN != b.FEN || a.SAN != "e4" || b.SAN != "e4" {
		t.Fatalf("expected identical results, got %+v vs %+v", a, b)
	}
	if !strings.HasPrefix(a.FEN, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b") {
		t.Fatalf("unexpected FEN %q", a.FEN)
	}
	if a.SideToMove != matchdto.Black {
		t.Fatalf("side to move %q", a.SideToMove)
	}
}

func TestApplyRejectsIllegal(t *testing.T) {
	for _, mv := range []string{"e2e5", "e7e5", "", "xx", "e2e4e4"} {
		if _, err := Apply(StartFEN, mv); !errors.Is(err, ErrIllegalMove) {
			t.Fatalf("Apply(%q) err=%v, want ErrIllegalMove", mv, err)
		}
	}
}

func TestApplyDetectsCheckmate(t *testing.T) {
	fen := StartFEN
	var last *Result
	for _, mv := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		res, err := Apply(fen, mv)
		if err != nil {
			t.Fatalf("Apply(%s): %v", mv, err)
		}
		fen = res.FEN
		last = res
	}
	if last.Outcome != BlackWon || last.Method != "checkmate" {
		t.Fatalf("expected black checkmate, got %q/%q", last.Outcome, last.Method)
	}
	if !last.Check || last.SAN != "Qh4#" {
		t.Fatalf("expected Qh4# with check tag, got %q check=%v", last.SAN, last.Check)
	}
}

func TestApplyAutoQueen(t *testing.T) {
	res, err := Apply("8/P7/8/8/8/8/8/k6K w - - 0 1", "a7a8")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.UCI != "a7a8q" || !strings.HasPrefix(res.SAN, "a8=Q") {
		t.Fatalf("expected queen promotion, got uci=%q san=%q", res.UCI, res.SAN)
	}
	under, err := Apply("8/P7/8/8/8/8/8/k6K w - - 0 1", UCI("a7", "a8", "n"))
	if err != nil {
		t.Fatalf("Apply underpromotion: %v", err)
	}
	if !strings.HasPrefix(under.SAN, "a8=N") {
		t.Fatalf("expected knight promotion, got %q", under.SAN)
	}
}

func TestApplySANMatchesUCI(t *testing.T) {
	byUCI, err := Apply(StartFEN, "g1f3")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	bySAN, err := ApplySAN(StartFEN, "Nf3")
	if err != nil {
		t.Fatalf("ApplySAN: %v", err)
	}
	if byUCI.FEN != bySAN.FEN || bySAN.UCI != "g1f3" || bySAN.SAN != "Nf3" {
		t.Fatalf("mismatch: %+v vs %+v", byUCI, bySAN)
	}
	if _, err := ApplySAN(StartFEN, "Qh5"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected illegal SAN, got %v", err)
	}
}
