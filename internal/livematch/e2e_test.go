package livematch

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/park285/Cheese-LiveMatch/internal/authoritytest"
	"github.com/park285/Cheese-LiveMatch/internal/channel"
	"github.com/park285/Cheese-LiveMatch/pkg/matchdto"
)

// seat connects playerID to srv and starts a client on match m1.
func seat(t *testing.T, srv *authoritytest.Server, playerID string, opts ...Option) *Client {
	t.Helper()
	m := channel.NewManager(srv.URL(), channel.WithPingInterval(0))
	if err := m.Connect(context.Background(), playerID); err != nil {
		t.Fatalf("Connect(%s): %v", playerID, err)
	}
	srv.WaitPeer(2 * time.Second)
	c := NewClient(m, matchdto.PlayerAssignment{LocalPlayerID: playerID}, opts...)
	if err := c.Start(context.Background(), "m1"); err != nil {
		t.Fatalf("Start(%s): %v", playerID, err)
	}
	t.Cleanup(c.Leave)
	return c
}

func TestScenarioMovesPropagate(t *testing.T) {
	srv := authoritytest.New(t)
	authoritytest.NewMatch(srv, "m1", "alice", "bob", 300_000)
	alice := seat(t, srv, "alice")
	bob := seat(t, srv, "bob")

	if alice.View().LocalSide != matchdto.White || bob.View().LocalSide != matchdto.Black {
		t.Fatalf("sides: alice=%s bob=%s", alice.View().LocalSide, bob.View().LocalSide)
	}
	ctx := context.Background()
	if err := bob.Move(ctx, "e7", "e5", ""); !isLocal(err, matchdto.CodeNotYourTurn) {
		t.Fatalf("bob moved out of turn: %v", err)
	}
	if err := alice.Move(ctx, "e2", "e4", ""); err != nil {
		t.Fatalf("alice e4: %v", err)
	}
	waitFor(t, "bob sees e4", func() bool { return len(bob.View().Session.Moves) == 1 })
	if err := bob.Move(ctx, "e7", "e5", ""); err != nil {
		t.Fatalf("bob e5: %v", err)
	}
	waitFor(t, "alice sees e5", func() bool { return len(alice.View().Session.Moves) == 2 })

	a, b := alice.View(), bob.View()
	if a.Session.FEN != b.Session.FEN || a.Session.SideToMove != matchdto.White {
		t.Fatalf("clients diverged: %q vs %q", a.Session.FEN, b.Session.FEN)
	}
	if a.Session.Moves[0] != "e4" || a.Session.Moves[1] != "e5" {
		t.Fatalf("moves=%v", a.Session.Moves)
	}
}

func TestScenarioResignation(t *testing.T) {
	srv := authoritytest.New(t)
	authoritytest.NewMatch(srv, "m1", "alice", "bob", 300_000)
	alice := seat(t, srv, "alice")
	bob := seat(t, srv, "bob")

	if err := alice.Resign(context.Background()); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	waitFor(t, "alice outcome", func() bool { return alice.View().Outcome != nil })
	waitFor(t, "bob outcome", func() bool { return bob.View().Outcome != nil })

	if r := alice.View().Outcome.Result; r != matchdto.ResultLoss {
		t.Fatalf("resigning client result=%s", r)
	}
	if r := bob.View().Outcome.Result; r != matchdto.ResultWin {
		t.Fatalf("opponent result=%s", r)
	}
	if err := bob.Move(context.Background(), "e7", "e5", ""); !isLocal(err, matchdto.CodeMatchFrozen) {
		t.Fatalf("move after resignation: %v", err)
	}
}

func TestScenarioDrawLifecycle(t *testing.T) {
	srv := authoritytest.New(t)
	authoritytest.NewMatch(srv, "m1", "alice", "bob", 300_000)
	alice := seat(t, srv, "alice")
	bob := seat(t, srv, "bob")
	ctx := context.Background()

	if err := alice.OfferDraw(ctx); err != nil {
		t.Fatalf("OfferDraw: %v", err)
	}
	if alice.View().DrawOfferedBy != matchdto.White {
		t.Fatalf("offer not tracked locally")
	}
	waitFor(t, "bob prompted", func() bool { return bob.View().RemoteDrawOffer() })
	if alice.View().RemoteDrawOffer() {
		t.Fatalf("offering client prompted by its own offer")
	}

	if err := bob.RespondToDraw(ctx, true); err != nil {
		t.Fatalf("RespondToDraw: %v", err)
	}
	waitFor(t, "alice outcome", func() bool { return alice.View().Outcome != nil })
	waitFor(t, "bob outcome", func() bool { return bob.View().Outcome != nil })
	if alice.View().Outcome.Result != matchdto.ResultDraw || bob.View().Outcome.Result != matchdto.ResultDraw {
		t.Fatalf("expected draw for both: %+v %+v", alice.View().Outcome, bob.View().Outcome)
	}
	if alice.View().DrawOfferedBy != "" || bob.View().DrawOfferedBy != "" {
		t.Fatalf("draw state not cleared")
	}
}

func TestScenarioDrawDeclined(t *testing.T) {
	srv := authoritytest.New(t)
	authoritytest.NewMatch(srv, "m1", "alice", "bob", 300_000)
	alice := seat(t, srv, "alice")
	bob := seat(t, srv, "bob")
	ctx := context.Background()

	if err := bob.OfferDraw(ctx); err != nil {
		t.Fatalf("OfferDraw: %v", err)
	}
	waitFor(t, "alice prompted", func() bool { return alice.View().RemoteDrawOffer() })
	if err := alice.RespondToDraw(ctx, false); err != nil {
		t.Fatalf("RespondToDraw: %v", err)
	}
	waitFor(t, "bob sees decline", func() bool { return bob.View().DrawOfferedBy == "" })
	if bob.View().Outcome != nil || bob.View().Frozen {
		t.Fatalf("decline ended the match")
	}
	if err := bob.OfferDraw(ctx); err != nil {
		t.Fatalf("offer after decline: %v", err)
	}
}

func TestScenarioTimeout(t *testing.T) {
	srv := authoritytest.New(t)
	match := authoritytest.NewMatch(srv, "m1", "alice", "bob", 2000)
	clk := clockwork.NewFakeClock()
	alice := seat(t, srv, "alice", WithClock(clk))
	bob := seat(t, srv, "bob", WithClock(clockwork.NewFakeClock()))
	ctx := context.Background()

	if err := alice.Move(ctx, "e2", "e4", ""); err != nil {
		t.Fatalf("e4: %v", err)
	}
	if err := bob.Move(ctx, "e7", "e5", ""); err != nil {
		t.Fatalf("e5: %v", err)
	}
	waitFor(t, "alice sees e5", func() bool { return len(alice.View().Session.Moves) == 2 })
	match.ExpireSide(matchdto.White)

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := clk.BlockUntilContext(wctx, 1); err != nil {
		t.Fatalf("ticker not running: %v", err)
	}
	clk.Advance(time.Second)
	waitFor(t, "first tick", func() bool { return alice.View().Clock.WhiteRemainingMs == 1000 })
	clk.Advance(time.Second)

	waitFor(t, "timeout outcome", func() bool { return alice.View().Outcome != nil })
	if o := alice.View().Outcome; o.Result != matchdto.ResultLoss || o.Reason != "timeout" {
		t.Fatalf("outcome=%+v", o)
	}
	waitFor(t, "bob outcome", func() bool { return bob.View().Outcome != nil })
	if bob.View().Outcome.Result != matchdto.ResultWin {
		t.Fatalf("bob result=%s", bob.View().Outcome.Result)
	}
	if n := srv.Requests(string(matchdto.ActionCheckTimeout)); n != 1 {
		t.Fatalf("checkTimeout requests=%d", n)
	}
}

func TestScenarioDropIsStale(t *testing.T) {
	srv := authoritytest.New(t)
	authoritytest.NewMatch(srv, "m1", "alice", "bob", 300_000)
	m := channel.NewManager(srv.URL(), channel.WithPingInterval(0))
	if err := m.Connect(context.Background(), "alice"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	peer := srv.WaitPeer(2 * time.Second)
	c := NewClient(m, matchdto.PlayerAssignment{LocalPlayerID: "alice"})
	if err := c.Start(context.Background(), "m1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(c.Leave)

	peer.Drop()
	waitFor(t, "stale session", func() bool { return c.View().Stale })
	if err := c.Move(context.Background(), "e2", "e4", ""); !isStale(err) {
		t.Fatalf("expected stale session, got %v", err)
	}
	if c.View().Connection != channel.StateDisconnected {
		t.Fatalf("connection=%s", c.View().Connection)
	}
}
