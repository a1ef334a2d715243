package livematch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/park285/Cheese-LiveMatch/internal/channel"
	"github.com/park285/Cheese-LiveMatch/internal/rules"
	"github.com/park285/Cheese-LiveMatch/pkg/matchdto"
)

// fakeChannel records actions and lets tests push events synchronously.
type fakeChannel struct {
	mu       sync.Mutex
	state    channel.State
	handlers map[matchdto.EventKind]channel.Handler
	cbs      map[int]channel.StateCallback
	nextCb   int
	sent     []matchdto.ActionKind
	payloads []any
	joinSnap *matchdto.Snapshot
	joinErr  error
	reply    func(kind matchdto.ActionKind, payload any) (json.RawMessage, error)
	disconns int
}

func newFakeChannel(join *matchdto.Snapshot) *fakeChannel {
	return &fakeChannel{
		state:    channel.StateConnected,
		handlers: make(map[matchdto.EventKind]channel.Handler),
		cbs:      make(map[int]channel.StateCallback),
		joinSnap: join,
	}
}

func (f *fakeChannel) Join(ctx context.Context, matchID string) (*matchdto.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	f.state = channel.StateJoinedMatch
	s := *f.joinSnap
	return &s, nil
}

func (f *fakeChannel) SendAction(ctx context.Context, kind matchdto.ActionKind, payload any) (json.RawMessage, error) {
	f.mu.Lock()
	f.sent = append(f.sent, kind)
	f.payloads = append(f.payloads, payload)
	reply := f.reply
	f.mu.Unlock()
	if reply == nil {
		return json.RawMessage(`{"ok":true}`), nil
	}
	return reply(kind, payload)
}

func (f *fakeChannel) Subscribe(kind matchdto.EventKind, key string, h channel.Handler) *channel.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[kind] = h
	return &channel.Subscription{}
}

func (f *fakeChannel) OnStateChange(cb channel.StateCallback) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextCb++
	f.cbs[f.nextCb] = cb
	return f.nextCb
}

func (f *fakeChannel) RemoveStateCallback(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cbs, id)
}

func (f *fakeChannel) State() channel.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) Disconnect() {
	f.mu.Lock()
	f.disconns++
	f.state = channel.StateTerminated
	f.mu.Unlock()
}

func (f *fakeChannel) setState(s channel.State) {
	f.mu.Lock()
	f.state = s
	cbs := make([]channel.StateCallback, 0, len(f.cbs))
	for _, cb := range f.cbs {
		cbs = append(cbs, cb)
	}
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(s)
	}
}

func (f *fakeChannel) push(t *testing.T, kind matchdto.EventKind, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s: %v", kind, err)
	}
	f.mu.Lock()
	h := f.handlers[kind]
	f.mu.Unlock()
	if h != nil {
		h(raw)
	}
}

func (f *fakeChannel) sentCount(kind matchdto.ActionKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range f.sent {
		if k == kind {
			n++
		}
	}
	return n
}

func (f *fakeChannel) totalSent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// snapAfter plays sans from the start position and returns an active snapshot.
func snapAfter(t *testing.T, sans ...string) *matchdto.Snapshot {
	t.Helper()
	fen := rules.StartFEN
	for _, san := range sans {
		res, err := rules.ApplySAN(fen, san)
		if err != nil {
			t.Fatalf("ApplySAN(%q): %v", san, err)
		}
		fen = res.FEN
	}
	side, err := rules.Turn(fen)
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	return &matchdto.Snapshot{
		MatchID:          "m1",
		FEN:              fen,
		Status:           matchdto.StatusActive,
		SideToMove:       side,
		Moves:            append([]string{}, sans...),
		WhiteRemainingMs: 300_000,
		BlackRemainingMs: 300_000,
		WhitePlayerID:    "alice",
		BlackPlayerID:    "bob",
	}
}

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
