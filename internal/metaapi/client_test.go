package metaapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/Cheese-LiveMatch/pkg/matchdto"
)

func TestGetMatchAndPlayers(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/games/g1":
			_, _ = w.Write([]byte(`{"id":"g1","status":"active","fen":"startpos","whitePlayerId":"alice","blackPlayerId":"bob"}`))
		case "/games/g1/players":
			_, _ = w.Write([]byte(`{"whitePlayer":{"id":"alice","username":"Alice"},"blackPlayer":{"id":"bob","username":"Bob"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithBearer("tok"), WithTimeout(2*time.Second))
	ctx := context.Background()

	info, err := c.GetMatch(ctx, "g1")
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if info.Status != "active" || info.WhitePlayerID != "alice" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if got, _ := auth.Load().(string); got != "Bearer tok" {
		t.Fatalf("Authorization=%q", got)
	}

	players, err := c.GetPlayers(ctx, "g1")
	if err != nil {
		t.Fatalf("GetPlayers: %v", err)
	}
	a, err := ResolveAssignment(players, "bob")
	if err != nil {
		t.Fatalf("ResolveAssignment: %v", err)
	}
	if a.LocalSide != matchdto.Black || a.OpponentID != "alice" || a.OpponentUsername != "Alice" || a.LocalUsername != "Bob" {
		t.Fatalf("unexpected assignment: %+v", a)
	}

	if _, err := c.GetMatch(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"g1","status":"waiting"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetry(3))
	info, err := c.GetMatch(context.Background(), "g1")
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if info.Status != "waiting" || calls.Load() != 3 {
		t.Fatalf("status=%q calls=%d", info.Status, calls.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, WithRetry(3)).GetPlayers(context.Background(), "g1")
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusForbidden {
		t.Fatalf("expected 403 StatusError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls=%d", calls.Load())
	}
}

func TestResolveAssignmentNotSeated(t *testing.T) {
	players := &matchdto.Players{WhitePlayer: &matchdto.Player{ID: "alice"}}
	if _, err := ResolveAssignment(players, "eve"); !errors.Is(err, ErrNotSeated) {
		t.Fatalf("expected ErrNotSeated, got %v", err)
	}
	a, err := ResolveAssignment(players, "alice")
	if err != nil || a.LocalSide != matchdto.White || a.OpponentID != "" {
		t.Fatalf("assignment=%+v err=%v", a, err)
	}
	if _, err := ResolveAssignment(nil, "alice"); !errors.Is(err, ErrNotSeated) {
		t.Fatalf("nil players should not seat anyone")
	}
}
