package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/Cheese-LiveMatch/internal/authoritytest"
	"github.com/park285/Cheese-LiveMatch/internal/rules"
	"github.com/park285/Cheese-LiveMatch/pkg/matchdto"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newJoined(t *testing.T) (*Manager, *authoritytest.Server, *authoritytest.Peer) {
	t.Helper()
	srv := authoritytest.New(t)
	authoritytest.NewMatch(srv, "m1", "alice", "bob", 60_000)
	m := NewManager(srv.URL(), WithPingInterval(0))
	t.Cleanup(m.Disconnect)
	ctx := context.Background()
	if err := m.Connect(ctx, "alice"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	peer := srv.WaitPeer(2 * time.Second)
	if _, err := m.Join(ctx, "m1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	return m, srv, peer
}

func TestConnectIsIdempotent(t *testing.T) {
	srv := authoritytest.New(t)
	m := NewManager(srv.URL(), WithPingInterval(0))
	t.Cleanup(m.Disconnect)

	var transitions []State
	m.OnStateChange(func(s State) { transitions = append(transitions, s) })

	ctx := context.Background()
	if err := m.Connect(ctx, "alice"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Connect(ctx, "alice"); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if m.State() != StateConnected {
		t.Fatalf("state=%s", m.State())
	}
	if len(transitions) != 2 || transitions[0] != StateConnecting || transitions[1] != StateConnected {
		t.Fatalf("transitions=%v", transitions)
	}
}

func TestConnectUnauthorized(t *testing.T) {
	srv := authoritytest.New(t)
	srv.AllowToken("good-token", "alice")
	m := NewManager(srv.URL(), WithPingInterval(0))

	err := m.Connect(context.Background(), "expired-token")
	if !errors.Is(err, matchdto.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	var me *matchdto.Error
	if !errors.As(err, &me) || me.Code != "unauthorized" || me.Retryable {
		t.Fatalf("expected non-retryable unauthorized, got %+v", me)
	}
	if m.State() != StateDisconnected {
		t.Fatalf("state=%s", m.State())
	}
}

func TestJoinRequiresConnected(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1/unused", WithPingInterval(0))
	if _, err := m.Join(context.Background(), "m1"); !errors.Is(err, matchdto.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if _, err := m.SendAction(context.Background(), matchdto.ActionResign, matchdto.MatchRequest{MatchID: "m1"}); !errors.Is(err, matchdto.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestJoinReturnsSnapshot(t *testing.T) {
	m, _, _ := newJoined(t)
	if m.State() != StateJoinedMatch || m.MatchID() != "m1" {
		t.Fatalf("state=%s match=%q", m.State(), m.MatchID())
	}
}

func TestJoinErrors(t *testing.T) {
	srv := authoritytest.New(t)
	authoritytest.NewMatch(srv, "m1", "alice", "bob", 60_000)
	m := NewManager(srv.URL(), WithPingInterval(0))
	t.Cleanup(m.Disconnect)
	ctx := context.Background()
	if err := m.Connect(ctx, "mallory"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err := m.Join(ctx, "m1")
	if !errors.Is(err, &matchdto.Error{Kind: matchdto.KindJoin, Code: "not_authorized"}) {
		t.Fatalf("expected not_authorized join error, got %v", err)
	}
	_, err = m.Join(ctx, "missing")
	if !errors.Is(err, &matchdto.Error{Kind: matchdto.KindJoin, Code: "not_found"}) {
		t.Fatalf("expected not_found join error, got %v", err)
	}
	if m.State() != StateConnected {
		t.Fatalf("failed join should stay connected, state=%s", m.State())
	}
}

func TestSendActionAckAndRejection(t *testing.T) {
	m, _, _ := newJoined(t)
	ctx := context.Background()

	data, err := m.SendAction(ctx, matchdto.ActionMove, matchdto.MoveRequest{MatchID: "m1", MoveNotation: "e4"})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	var snap matchdto.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if len(snap.Moves) != 1 || snap.Moves[0] != "e4" || snap.SideToMove != matchdto.Black {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.FEN == rules.StartFEN {
		t.Fatalf("position did not advance")
	}

	_, err = m.SendAction(ctx, matchdto.ActionMove, matchdto.MoveRequest{MatchID: "m1", MoveNotation: "d4"})
	if !errors.Is(err, &matchdto.Error{Kind: matchdto.KindActionRejected, Code: "not_your_turn"}) {
		t.Fatalf("expected not_your_turn rejection, got %v", err)
	}
}

func TestSubscribeIsIdempotentPerKey(t *testing.T) {
	m, srv, peer := newJoined(t)

	var first, second atomic.Int32
	m.Subscribe(matchdto.EventChatMessage, "ui", func(json.RawMessage) { first.Add(1) })
	sub := m.Subscribe(matchdto.EventChatMessage, "ui", func(json.RawMessage) { second.Add(1) })
	if n := m.SubscriberCount(matchdto.EventChatMessage); n != 1 {
		t.Fatalf("SubscriberCount=%d", n)
	}

	if err := peer.Push(matchdto.EventChatMessage, matchdto.ChatMessage{MatchID: "m1", Message: "hi"}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	waitFor(t, "chat delivery", func() bool { return second.Load() == 1 })
	if first.Load() != 0 {
		t.Fatalf("replaced handler still invoked")
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
	if n := m.SubscriberCount(matchdto.EventChatMessage); n != 0 {
		t.Fatalf("SubscriberCount after unsubscribe=%d", n)
	}
	srv.Broadcast(matchdto.EventChatMessage, matchdto.ChatMessage{MatchID: "m1", Message: "again"})
	time.Sleep(50 * time.Millisecond)
	if second.Load() != 1 {
		t.Fatalf("unsubscribed handler invoked")
	}
}

func TestDropMarksSessionStale(t *testing.T) {
	m, _, peer := newJoined(t)

	peer.Drop()
	waitFor(t, "disconnected state", func() bool { return m.State() == StateDisconnected })

	_, err := m.SendAction(context.Background(), matchdto.ActionResign, matchdto.MatchRequest{MatchID: "m1"})
	if !errors.Is(err, matchdto.ErrStaleSession) {
		t.Fatalf("expected stale session, got %v", err)
	}
	if m.MatchID() != "" {
		t.Fatalf("match id should be cleared")
	}
}

func TestDropFailsPendingRequest(t *testing.T) {
	m, srv, _ := newJoined(t)
	srv.Handle(string(matchdto.ActionCheckTimeout), func(p *authoritytest.Peer, _ json.RawMessage) (any, *matchdto.FrameError) {
		p.Drop()
		return nil, nil
	})

	_, err := m.SendAction(context.Background(), matchdto.ActionCheckTimeout, matchdto.MatchRequest{MatchID: "m1"})
	if !errors.Is(err, matchdto.ErrStaleSession) {
		t.Fatalf("expected stale session for in-flight request, got %v", err)
	}
}

func TestFatalFrameTerminates(t *testing.T) {
	m, _, peer := newJoined(t)

	if err := peer.Fatal("match_closed", "match was closed by the server"); err != nil {
		t.Fatalf("Fatal: %v", err)
	}
	waitFor(t, "terminated state", func() bool { return m.State() == StateTerminated })

	_, err := m.SendAction(context.Background(), matchdto.ActionResign, matchdto.MatchRequest{MatchID: "m1"})
	if !errors.Is(err, matchdto.ErrInvalidState) {
		t.Fatalf("expected invalid state after termination, got %v", err)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	m, srv, _ := newJoined(t)

	m.Disconnect()
	m.Disconnect()
	if m.State() != StateTerminated {
		t.Fatalf("state=%s", m.State())
	}

	if err := m.Connect(context.Background(), "alice"); err != nil {
		t.Fatalf("reconnect after terminate: %v", err)
	}
	srv.WaitPeer(2 * time.Second)
	if m.State() != StateConnected {
		t.Fatalf("state after reconnect=%s", m.State())
	}
}

func TestRequestTimeoutIsCallerPolicy(t *testing.T) {
	m, srv, _ := newJoined(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	srv.Handle(string(matchdto.ActionChatMessage), func(*authoritytest.Peer, json.RawMessage) (any, *matchdto.FrameError) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.SendAction(ctx, matchdto.ActionChatMessage, matchdto.ChatRequest{MatchID: "m1", Message: "hi"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
