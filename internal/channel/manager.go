package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/Cheese-LiveMatch/internal/obslog"
	"github.com/park285/Cheese-LiveMatch/pkg/matchdto"
	"go.uber.org/zap"
)

type reply struct {
	frame *matchdto.Frame
	err   error
}

// Manager owns the single logical connection to the match server.
// Handshake and join failures are returned to the caller and never retried here.
type Manager struct {
	url    string
	dialer Dialer
	logger *zap.Logger

	pingInterval time.Duration
	dialTimeout  time.Duration

	connectM sync.Mutex

	mu      sync.Mutex
	state   State
	conn    Conn
	matchID string
	stale   bool
	pending map[string]chan reply
	stopCh  chan struct{}
	cancel  context.CancelFunc

	writeM sync.Mutex

	subM      sync.RWMutex
	subs      map[matchdto.EventKind][]subscriptionEntry
	nextSubID int

	cbM      sync.RWMutex
	stateCbs []stateCallbackEntry
	nextCbID int
}

type Option func(*Manager)

func WithDialer(d Dialer) Option { return func(m *Manager) { m.dialer = d } }

func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithPingInterval sets the keepalive period; zero disables pings.
func WithPingInterval(d time.Duration) Option { return func(m *Manager) { m.pingInterval = d } }

func WithDialTimeout(d time.Duration) Option { return func(m *Manager) { m.dialTimeout = d } }

func NewManager(url string, opts ...Option) *Manager {
	m := &Manager{
		url:          url,
		dialer:       WebSocketDialer{ReadLimit: 1 << 20},
		pingInterval: 30 * time.Second,
		dialTimeout:  10 * time.Second,
		state:        StateDisconnected,
		pending:      make(map[string]chan reply),
		subs:         make(map[matchdto.EventKind][]subscriptionEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = obslog.Or(m.logger).With(zap.String("component", "channel"))
	return m
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) MatchID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matchID
}

// Connect performs the transport handshake with a bearer credential.
// It is a no-op when the channel is already connected.
func (m *Manager) Connect(ctx context.Context, authToken string) error {
	m.connectM.Lock()
	defer m.connectM.Unlock()

	m.mu.Lock()
	if m.state == StateConnected || m.state == StateJoinedMatch {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	m.setState(StateConnecting)

	header := http.Header{}
	if tok := strings.TrimSpace(authToken); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.dialTimeout)
	defer cancel()
	conn, err := m.dialer.Dial(dialCtx, m.url, header)
	if err != nil {
		m.setState(StateDisconnected)
		m.logger.Warn("channel_connect_error", zap.String("url", m.url), zap.Error(err))
		cerr := matchdto.NewConnectionError("handshake failed", err)
		if errors.Is(err, ErrUnauthorized) {
			cerr.Code = "unauthorized"
			cerr.Retryable = false
		}
		return cerr
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	stop := make(chan struct{})
	m.mu.Lock()
	m.conn = conn
	m.stopCh = stop
	m.cancel = rootCancel
	m.stale = false
	m.matchID = ""
	m.mu.Unlock()
	m.setState(StateConnected)
	m.logger.Info("channel_connect", zap.String("url", m.url))

	go m.listen(rootCtx, conn, stop)
	if m.pingInterval > 0 {
		go m.pingLoop(rootCtx, conn, stop)
	}
	return nil
}

// Join sends the join request and waits for the authoritative snapshot.
func (m *Manager) Join(ctx context.Context, matchID string) (*matchdto.Snapshot, error) {
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return nil, matchdto.NewJoinError("invalid_match", "match id is required")
	}
	m.mu.Lock()
	st := m.state
	m.mu.Unlock()
	if st != StateConnected {
		return nil, matchdto.NewInvalidState(fmt.Sprintf("join requires a connected channel (state=%s)", st))
	}

	f, err := m.request(ctx, matchdto.ActionJoin, matchdto.JoinRequest{MatchID: matchID})
	if err != nil {
		return nil, err
	}
	if f.Error != nil {
		m.logger.Warn("channel_join_rejected", zap.String("match_id", matchID), zap.String("code", f.Error.Code))
		return nil, matchdto.NewJoinError(f.Error.Code, f.Error.Message)
	}
	var snap matchdto.Snapshot
	if err := json.Unmarshal(f.Data, &snap); err != nil {
		return nil, matchdto.NewJoinError("bad_snapshot", fmt.Sprintf("decode join snapshot: %v", err))
	}
	if snap.MatchID == "" {
		snap.MatchID = matchID
	}

	m.mu.Lock()
	if m.state != StateConnected {
		st = m.state
		m.mu.Unlock()
		return nil, matchdto.NewStaleSession(fmt.Sprintf("channel left connected state during join (state=%s)", st))
	}
	m.matchID = matchID
	m.mu.Unlock()
	m.setState(StateJoinedMatch)
	m.logger.Info("channel_join", zap.String("match_id", matchID))
	return &snap, nil
}

// SendAction sends one request for the joined match and waits for its acknowledgement.
// Concurrent calls are correlated independently by request id.
func (m *Manager) SendAction(ctx context.Context, kind matchdto.ActionKind, payload any) (json.RawMessage, error) {
	m.mu.Lock()
	st, stale := m.state, m.stale
	m.mu.Unlock()
	if st != StateJoinedMatch {
		if stale {
			return nil, matchdto.NewStaleSession("connection dropped; rejoin required")
		}
		return nil, matchdto.NewInvalidState(fmt.Sprintf("%s requires a joined match (state=%s)", kind, st))
	}
	f, err := m.request(ctx, kind, payload)
	if err != nil {
		return nil, err
	}
	if f.Error != nil {
		m.logger.Info("channel_action_rejected", zap.String("action", string(kind)), zap.String("code", f.Error.Code))
		return nil, matchdto.NewActionRejected(f.Error.Code, f.Error.Message)
	}
	return f.Data, nil
}

func (m *Manager) request(ctx context.Context, kind matchdto.ActionKind, payload any) (*matchdto.Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	id := uuid.NewString()
	ch := make(chan reply, 1)

	m.mu.Lock()
	conn := m.conn
	if conn == nil {
		stale := m.stale
		m.mu.Unlock()
		if stale {
			return nil, matchdto.NewStaleSession("connection dropped; rejoin required")
		}
		return nil, matchdto.NewConnectionError("not connected", nil)
	}
	m.pending[id] = ch
	m.mu.Unlock()

	frame := &matchdto.Frame{Type: matchdto.FrameRequest, ID: id, Event: string(kind), Payload: raw}
	m.writeM.Lock()
	err = conn.Write(ctx, frame)
	m.writeM.Unlock()
	if err != nil {
		m.forget(id)
		return nil, matchdto.NewConnectionError(fmt.Sprintf("write %s", kind), err)
	}

	select {
	case r := <-ch:
		return r.frame, r.err
	case <-ctx.Done():
		m.forget(id)
		return nil, ctx.Err()
	}
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// Disconnect tears down the transport and clears per-match state. Safe in any state.
// Subscriptions belong to their owners and survive; owners unsubscribe on teardown.
func (m *Manager) Disconnect() {
	m.teardown(StateTerminated, matchdto.NewConnectionError("disconnected", nil), "disconnect")
}

func (m *Manager) teardown(next State, failWith error, reason string) {
	m.mu.Lock()
	conn := m.conn
	prev := m.state
	m.conn = nil
	m.matchID = ""
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	pending := m.pending
	m.pending = make(map[string]chan reply)
	m.mu.Unlock()

	for _, ch := range pending {
		ch <- reply{err: failWith}
	}
	if conn != nil {
		_ = conn.Close(reason)
	}
	if prev != next {
		m.setState(next)
	}
	if conn != nil || prev != next {
		m.logger.Info("channel_teardown", zap.String("reason", reason), zap.String("from", string(prev)), zap.String("to", string(next)))
	}
}

// drop handles a mid-session transport failure on conn.
func (m *Manager) drop(conn Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	wasJoined := m.state == StateJoinedMatch
	m.stale = m.stale || wasJoined
	m.mu.Unlock()

	m.logger.Warn("channel_drop", zap.Bool("was_joined", wasJoined), zap.Error(cause))
	m.teardown(StateDisconnected, matchdto.NewStaleSession("connection dropped while awaiting acknowledgement"), "drop")
}

func (m *Manager) terminate(conn Conn, fe *matchdto.FrameError) {
	m.mu.Lock()
	current := m.conn == conn
	m.mu.Unlock()
	if !current {
		return
	}
	m.logger.Error("channel_fatal", zap.String("code", fe.Code), zap.String("message", fe.Message))
	m.teardown(StateTerminated, matchdto.NewConnectionError(fe.Message, fmt.Errorf("server error %s", fe.Code)), "fatal")
}

func (m *Manager) listen(ctx context.Context, conn Conn, stop chan struct{}) {
	for {
		f, err := conn.Read(ctx)
		if err != nil {
			if isClosed(stop) {
				return
			}
			m.drop(conn, err)
			return
		}
		if isClosed(stop) {
			return
		}
		m.dispatch(conn, f)
	}
}

func (m *Manager) dispatch(conn Conn, f *matchdto.Frame) {
	switch f.Type {
	case matchdto.FrameAck:
		m.mu.Lock()
		ch, ok := m.pending[f.ID]
		delete(m.pending, f.ID)
		m.mu.Unlock()
		if !ok {
			m.logger.Debug("channel_orphan_ack", zap.String("request_id", f.ID))
			return
		}
		ch <- reply{frame: f}
	case matchdto.FrameEvent:
		kind := matchdto.EventKind(f.Event)
		for _, e := range m.handlersFor(kind) {
			if e.handler != nil {
				e.handler(f.Payload)
			}
		}
	case matchdto.FrameFatal:
		if f.Error == nil {
			return
		}
		if f.Error.Fatal {
			m.terminate(conn, f.Error)
			return
		}
		m.logger.Warn("channel_server_error", zap.String("code", f.Error.Code), zap.String("message", f.Error.Message))
	default:
		m.logger.Debug("channel_unknown_frame", zap.String("type", string(f.Type)))
	}
}

func (m *Manager) pingLoop(ctx context.Context, conn Conn, stop chan struct{}) {
	t := time.NewTicker(m.pingInterval)
	defer t.Stop()
	consecutivePingFailures := 0
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				consecutivePingFailures = 0
				continue
			}
			consecutivePingFailures++
			if consecutivePingFailures >= 2 {
				if isClosed(stop) {
					return
				}
				m.drop(conn, fmt.Errorf("ping failure: %w", err))
				return
			}
		}
	}
}

func (m *Manager) OnStateChange(cb StateCallback) int {
	m.cbM.Lock()
	defer m.cbM.Unlock()
	m.nextCbID++
	m.stateCbs = append(m.stateCbs, stateCallbackEntry{id: m.nextCbID, callback: cb})
	return m.nextCbID
}

func (m *Manager) RemoveStateCallback(id int) {
	m.cbM.Lock()
	defer m.cbM.Unlock()
	for i, cb := range m.stateCbs {
		if cb.id == id {
			m.stateCbs = append(m.stateCbs[:i:i], m.stateCbs[i+1:]...)
			break
		}
	}
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	m.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(m.stateCbs))
	copy(callbacks, m.stateCbs)
	m.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(state)
		}
	}
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
