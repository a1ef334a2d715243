// Package livematch keeps one client in sync with a remote chess match
// authority: it reconciles pushed snapshots, runs the local clocks, gates
// player actions and tracks draw offers and the final outcome.
package livematch

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/park285/Cheese-LiveMatch/internal/channel"
	"github.com/park285/Cheese-LiveMatch/internal/matchclock"
	"github.com/park285/Cheese-LiveMatch/internal/obslog"
	"github.com/park285/Cheese-LiveMatch/internal/rules"
	"github.com/park285/Cheese-LiveMatch/pkg/matchdto"
	"go.uber.org/zap"
)

const maxChatHistory = 100

// Channel is the part of channel.Manager the client needs.
type Channel interface {
	Join(ctx context.Context, matchID string) (*matchdto.Snapshot, error)
	SendAction(ctx context.Context, kind matchdto.ActionKind, payload any) (json.RawMessage, error)
	Subscribe(kind matchdto.EventKind, key string, h channel.Handler) *channel.Subscription
	OnStateChange(cb channel.StateCallback) int
	RemoveStateCallback(id int)
	State() channel.State
	Disconnect()
}

// Change names what moved in the last notification.
type Change string

const (
	ChangeSnapshot   Change = "snapshot"
	ChangeOptimistic Change = "optimistic"
	ChangeClock      Change = "clock"
	ChangeDraw       Change = "draw"
	ChangeOutcome    Change = "outcome"
	ChangeChat       Change = "chat"
	ChangeConnection Change = "connection"
)

// Observer is notified after every state change with a fresh View.
// Observers run synchronously, one notification at a time, and must not call Leave.
type Observer func(change Change, v View)

// View is an immutable copy of everything the UI may read.
type View struct {
	MatchID       string
	LocalPlayerID string
	LocalSide     matchdto.Side

	Session       Session
	OptimisticFEN string
	PendingMoves  []string

	Clock matchclock.Reading

	DrawOfferedBy matchdto.Side
	DrawPending   bool

	Outcome *matchdto.LocalOutcome
	Frozen  bool
	Stale   bool

	Connection channel.State
	Chat       []matchdto.ChatMessage
}

// RemoteDrawOffer reports whether the local player has an offer to answer.
func (v View) RemoteDrawOffer() bool {
	return v.DrawOfferedBy != "" && v.DrawOfferedBy != v.LocalSide
}

type Client struct {
	ch             Channel
	engine         rules.Engine
	clk            clockwork.Clock
	tickInterval   time.Duration
	requestTimeout time.Duration
	logger         *zap.Logger

	mu         sync.Mutex
	assignment matchdto.PlayerAssignment
	matchID    string
	started    bool
	closed     bool
	stale      bool
	frozen     bool
	session    sessionState
	clock      *matchclock.Clock
	draw       drawTracker
	outcome    *matchdto.LocalOutcome
	chat       []matchdto.ChatMessage
	subs       []*channel.Subscription
	stateCbID  int
	ticker     *matchclock.Ticker

	deliverM  sync.Mutex
	obsM      sync.Mutex
	observers map[int]Observer
	nextObsID int
}

type Option func(*Client)

func WithEngine(e rules.Engine) Option { return func(c *Client) { c.engine = e } }

func WithClock(clk clockwork.Clock) Option { return func(c *Client) { c.clk = clk } }

func WithTickInterval(d time.Duration) Option { return func(c *Client) { c.tickInterval = d } }

// WithRequestTimeout bounds every action round-trip; zero leaves it to the caller's context.
func WithRequestTimeout(d time.Duration) Option { return func(c *Client) { c.requestTimeout = d } }

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

// NewClient builds a client for one match. The assignment's LocalPlayerID is
// required; LocalSide may be left empty and is then resolved from the join
// snapshot's seats.
func NewClient(ch Channel, assignment matchdto.PlayerAssignment, opts ...Option) *Client {
	c := &Client{
		ch:             ch,
		engine:         rules.Standard{},
		clk:            clockwork.NewRealClock(),
		tickInterval:   time.Second,
		requestTimeout: 10 * time.Second,
		assignment:     assignment,
		clock:          matchclock.New(),
		observers:      make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = obslog.Or(c.logger).With(zap.String("component", "livematch"), zap.String("player_id", assignment.LocalPlayerID))
	return c
}

// Start subscribes to match events, joins matchID and starts the local clock.
// The channel must already be connected.
func (c *Client) Start(ctx context.Context, matchID string) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return matchdto.NewInvalidState("client already left its match")
	case c.started:
		c.mu.Unlock()
		return matchdto.NewInvalidState("client already started")
	}
	c.started = true
	c.matchID = matchID
	c.subscribeLocked()
	c.mu.Unlock()

	snap, err := c.ch.Join(ctx, matchID)
	if err != nil {
		c.mu.Lock()
		c.unsubscribeLocked()
		c.started = false
		c.matchID = ""
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return matchdto.NewInvalidState("client left during join")
	}
	if err := c.resolveSideLocked(snap); err != nil {
		c.unsubscribeLocked()
		c.started = false
		c.mu.Unlock()
		return err
	}
	changes := c.reconcileLocked(snap, true)
	if !c.frozen {
		c.ticker = matchclock.StartTicker(c.clk, c.tickInterval, c.onTick)
	}
	v := c.viewLocked()
	c.mu.Unlock()

	c.logger.Info("match_started", zap.String("match_id", matchID), zap.String("side", string(v.LocalSide)))
	c.notify(changes, v)
	return nil
}

func (c *Client) subscribeLocked() {
	key := fmt.Sprintf("livematch-%p", c)
	c.subs = []*channel.Subscription{
		c.ch.Subscribe(matchdto.EventMatchSnapshot, key, c.onSnapshot),
		c.ch.Subscribe(matchdto.EventMatchOver, key, c.onMatchOver),
		c.ch.Subscribe(matchdto.EventDrawOffered, key, c.onDrawOffered),
		c.ch.Subscribe(matchdto.EventDrawDeclined, key, c.onDrawDeclined),
		c.ch.Subscribe(matchdto.EventClockTick, key, c.onClockTick),
		c.ch.Subscribe(matchdto.EventChatMessage, key, c.onChat),
	}
	c.stateCbID = c.ch.OnStateChange(c.onChannelState)
}

func (c *Client) unsubscribeLocked() {
	for _, s := range c.subs {
		s.Unsubscribe()
	}
	c.subs = nil
	if c.stateCbID != 0 {
		c.ch.RemoveStateCallback(c.stateCbID)
		c.stateCbID = 0
	}
}

func (c *Client) resolveSideLocked(snap *matchdto.Snapshot) error {
	a := &c.assignment
	if a.LocalSide.Valid() {
		return nil
	}
	switch a.LocalPlayerID {
	case "":
	case snap.WhitePlayerID:
		a.LocalSide, a.OpponentID = matchdto.White, snap.BlackPlayerID
		return nil
	case snap.BlackPlayerID:
		a.LocalSide, a.OpponentID = matchdto.Black, snap.WhitePlayerID
		return nil
	}
	return matchdto.NewJoinError("not_seated", "local player is not seated in this match")
}

// Leave stops the clock, drops every subscription and disconnects the channel.
// No observer runs after Leave returns.
func (c *Client) Leave() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.ticker.Stop()
	c.ticker = nil
	c.clock.Stop()
	c.unsubscribeLocked()
	matchID := c.matchID
	c.mu.Unlock()

	// wait for an in-flight notification before clearing observers
	c.deliverM.Lock()
	c.obsM.Lock()
	c.observers = make(map[int]Observer)
	c.obsM.Unlock()
	c.deliverM.Unlock()

	c.ch.Disconnect()
	c.logger.Info("match_left", zap.String("match_id", matchID))
}

// Observe registers fn and returns a cancel func.
func (c *Client) Observe(fn Observer) (cancel func()) {
	c.obsM.Lock()
	defer c.obsM.Unlock()
	c.nextObsID++
	id := c.nextObsID
	c.observers[id] = fn
	return func() {
		c.obsM.Lock()
		delete(c.observers, id)
		c.obsM.Unlock()
	}
}

func (c *Client) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Client) viewLocked() View {
	v := View{
		MatchID:       c.matchID,
		LocalPlayerID: c.assignment.LocalPlayerID,
		LocalSide:     c.assignment.LocalSide,
		Session:       c.session.auth.clone(),
		OptimisticFEN: c.session.working,
		PendingMoves:  slices.Clone(c.session.pending),
		Clock:         c.clock.Reading(),
		DrawOfferedBy: c.draw.offeredBy,
		DrawPending:   c.draw.pending,
		Frozen:        c.frozen,
		Stale:         c.stale,
		Connection:    c.ch.State(),
		Chat:          slices.Clone(c.chat),
	}
	if c.outcome != nil {
		o := *c.outcome
		v.Outcome = &o
	}
	return v
}

func (c *Client) notify(changes []Change, v View) {
	if len(changes) == 0 {
		return
	}
	c.deliverM.Lock()
	defer c.deliverM.Unlock()
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	c.obsM.Lock()
	ids := make([]int, 0, len(c.observers))
	for id := range c.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]Observer, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.observers[id])
	}
	c.obsM.Unlock()

	for _, ch := range changes {
		for _, fn := range fns {
			fn(ch, v)
		}
	}
}

// reconcileLocked applies an authoritative snapshot. Snapshots carried by
// acknowledgements are skipped when a push already delivered newer state.
func (c *Client) reconcileLocked(snap *matchdto.Snapshot, fromAck bool) []Change {
	if snap.MatchID == "" {
		snap.MatchID = c.matchID
	}
	next := sessionFrom(snap, c.engine)
	if fromAck && c.session.olderThanCurrent(next) {
		c.logger.Debug("match_snapshot_skip_stale_ack", zap.String("match_id", c.matchID), zap.Int("moves", len(next.Moves)))
		return nil
	}
	before := c.clock.Reading()
	hadPending := len(c.session.pending) > 0 || c.session.working != c.session.auth.FEN

	changed, grew := c.session.reconcile(next)
	// the clock follows the reconciled turn, which falls back to the FEN
	snap.SideToMove = next.SideToMove
	c.clock.Sync(snap, c.clk.Now())

	var changes []Change
	if changed {
		changes = append(changes, ChangeSnapshot)
		c.logger.Debug("match_snapshot_apply",
			zap.String("match_id", c.matchID),
			zap.String("status", string(next.Status)),
			zap.String("side", string(next.SideToMove)),
			zap.Int("moves", len(next.Moves)),
		)
	} else if hadPending {
		changes = append(changes, ChangeOptimistic)
	}
	if c.clock.Reading() != before {
		changes = append(changes, ChangeClock)
	}
	if grew && c.draw.clear() {
		changes = append(changes, ChangeDraw)
	}
	if next.Status == matchdto.StatusCompleted {
		changes = append(changes, c.freezeLocked(next.Outcome)...)
	}
	return changes
}

// freezeLocked ends the match locally. The outcome is set once.
func (c *Client) freezeLocked(o *matchdto.Outcome) []Change {
	var changes []Change
	if !c.frozen {
		c.frozen = true
		c.clock.Stop()
		c.ticker.Stop()
		c.ticker = nil
		if c.draw.clear() {
			changes = append(changes, ChangeDraw)
		}
	}
	if o != nil && c.outcome == nil {
		lo := Classify(o.WinnerID, o.IsDraw, o.Reason, c.assignment.LocalPlayerID, c.clk.Now())
		c.outcome = &lo
		changes = append(changes, ChangeOutcome)
		c.logger.Info("match_outcome",
			zap.String("match_id", c.matchID),
			zap.String("result", string(lo.Result)),
			zap.String("reason", lo.Reason),
		)
	}
	return changes
}

// handle runs an event handler under the client lock and notifies afterwards.
func (c *Client) handle(fn func() []Change) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	changes := fn()
	v := c.viewLocked()
	c.mu.Unlock()
	c.notify(changes, v)
}

func (c *Client) onSnapshot(payload json.RawMessage) {
	var snap matchdto.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		c.logger.Warn("match_snapshot_decode", zap.Error(err))
		return
	}
	c.handle(func() []Change {
		if snap.MatchID != "" && snap.MatchID != c.matchID {
			return nil
		}
		return c.reconcileLocked(&snap, false)
	})
}

func (c *Client) onMatchOver(payload json.RawMessage) {
	var over matchdto.MatchOver
	if err := json.Unmarshal(payload, &over); err != nil {
		c.logger.Warn("match_over_decode", zap.Error(err))
		return
	}
	c.handle(func() []Change {
		o := matchdto.Outcome(over)
		return c.freezeLocked(&o)
	})
}

func (c *Client) onDrawOffered(payload json.RawMessage) {
	var ev matchdto.DrawOffered
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.logger.Warn("draw_offered_decode", zap.Error(err))
		return
	}
	c.handle(func() []Change {
		if c.frozen || !c.draw.receive(ev.OfferedBySide, c.assignment.LocalSide) {
			return nil
		}
		c.logger.Info("draw_offered", zap.String("match_id", c.matchID), zap.String("side", string(ev.OfferedBySide)))
		return []Change{ChangeDraw}
	})
}

func (c *Client) onDrawDeclined(json.RawMessage) {
	c.handle(func() []Change {
		if !c.draw.clear() {
			return nil
		}
		return []Change{ChangeDraw}
	})
}

func (c *Client) onClockTick(payload json.RawMessage) {
	var ev matchdto.ClockTick
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.logger.Warn("clock_tick_decode", zap.Error(err))
		return
	}
	c.handle(func() []Change {
		before := c.clock.Reading()
		c.clock.SyncTimes(ev.WhiteRemainingMs, ev.BlackRemainingMs, c.clk.Now())
		if c.clock.Reading() == before {
			return nil
		}
		return []Change{ChangeClock}
	})
}

func (c *Client) onChat(payload json.RawMessage) {
	var msg matchdto.ChatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Warn("chat_decode", zap.Error(err))
		return
	}
	c.handle(func() []Change {
		if msg.MatchID != "" && msg.MatchID != c.matchID {
			return nil
		}
		c.chat = append(c.chat, msg)
		if len(c.chat) > maxChatHistory {
			c.chat = slices.Clone(c.chat[len(c.chat)-maxChatHistory:])
		}
		return []Change{ChangeChat}
	})
}

// onChannelState marks the session stale when the transport goes away under
// a joined match. There is no automatic rejoin.
func (c *Client) onChannelState(s channel.State) {
	if s != channel.StateDisconnected && s != channel.StateTerminated {
		return
	}
	c.handle(func() []Change {
		if !c.started || c.stale {
			return nil
		}
		c.stale = true
		c.ticker.Stop()
		c.ticker = nil
		c.logger.Warn("match_session_stale", zap.String("match_id", c.matchID), zap.String("channel_state", string(s)))
		return []Change{ChangeConnection}
	})
}

func (c *Client) onTick(elapsed time.Duration) {
	var timedOut bool
	c.handle(func() []Change {
		if c.stale || c.frozen {
			return nil
		}
		before := c.clock.Reading()
		timedOut = c.clock.Tick(elapsed)
		if c.clock.Reading() == before {
			return nil
		}
		return []Change{ChangeClock}
	})
	if timedOut {
		go c.checkTimeout()
	}
}

// checkTimeout asks the authority to confirm a flag fall.
func (c *Client) checkTimeout() {
	c.mu.Lock()
	matchID := c.matchID
	gone := c.closed || c.stale || c.frozen
	c.mu.Unlock()
	if gone {
		return
	}
	c.logger.Info("clock_timeout_check", zap.String("match_id", matchID))

	ctx, cancel := c.requestContext(context.Background())
	defer cancel()
	data, err := c.ch.SendAction(ctx, matchdto.ActionCheckTimeout, matchdto.MatchRequest{MatchID: matchID})
	if err != nil {
		c.logger.Warn("clock_timeout_check_error", zap.String("match_id", matchID), zap.Error(err))
		return
	}
	c.applyAckSnapshot(data)
}

// applyAckSnapshot reconciles a snapshot carried by an acknowledgement, if any.
func (c *Client) applyAckSnapshot(data json.RawMessage) {
	if len(data) == 0 {
		return
	}
	var snap matchdto.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil || snap.FEN == "" || snap.Status == "" {
		return
	}
	c.handle(func() []Change {
		if c.stale {
			return nil
		}
		return c.reconcileLocked(&snap, true)
	})
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}
