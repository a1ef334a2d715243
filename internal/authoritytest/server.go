// Package authoritytest runs an in-process match authority speaking the
// websocket frame protocol, for tests of the synchronization client.
package authoritytest

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/Cheese-LiveMatch/pkg/matchdto"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Handler answers one request. A non-nil FrameError becomes an error ack.
type Handler func(p *Peer, payload json.RawMessage) (any, *matchdto.FrameError)

type Server struct {
	t   testing.TB
	srv *httptest.Server

	mu       sync.Mutex
	handlers map[string]Handler
	tokens   map[string]string
	peers    []*Peer
	requests map[string]int
	peerCh   chan *Peer
}

// Peer is one connected client as seen by the authority.
type Peer struct {
	PlayerID string
	conn     *websocket.Conn
	writeM   sync.Mutex
	closed   chan struct{}
	once     sync.Once
}

func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		t:        t,
		handlers: make(map[string]Handler),
		requests: make(map[string]int),
		peerCh:   make(chan *Peer, 16),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// endpoint.
func (s *Server) URL() string { return "ws" + strings.TrimPrefix(s.srv.URL, "http") }

// AllowToken restricts the handshake to known bearer tokens mapped to player ids.
func (s *Server) AllowToken(token, playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		s.tokens = make(map[string]string)
	}
	s.tokens[token] = playerID
}

func (s *Server) Handle(event string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = h
}

// Requests returns how many requests of the given event were received.
func (s *Server) Requests(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[event]
}

// WaitPeer returns the next peer that completed the handshake.
func (s *Server) WaitPeer(timeout time.Duration) *Peer {
	s.t.Helper()
	select {
	case p := <-s.peerCh:
		return p
	case <-time.After(timeout):
		s.t.Fatalf("no peer connected within %s", timeout)
		return nil
	}
}

func (s *Server) Close() {
	s.mu.Lock()
	peers := append([]*Peer(nil), s.peers...)
	s.mu.Unlock()
	for _, p := range peers {
		p.Drop()
	}
	s.srv.Close()
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	playerID := ""
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	s.mu.Lock()
	if s.tokens != nil {
		id, ok := s.tokens[token]
		if !ok {
			s.mu.Unlock()
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		playerID = id
	} else {
		playerID = token
	}
	s.mu.Unlock()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	p := &Peer{PlayerID: playerID, conn: conn, closed: make(chan struct{})}
	s.mu.Lock()
	s.peers = append(s.peers, p)
	s.mu.Unlock()
	s.peerCh <- p

	ctx := r.Context()
	for {
		var f matchdto.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			p.Drop()
			return
		}
		if f.Type != matchdto.FrameRequest {
			continue
		}
		s.mu.Lock()
		s.requests[f.Event]++
		h := s.handlers[f.Event]
		s.mu.Unlock()

		ack := matchdto.Frame{Type: matchdto.FrameAck, ID: f.ID}
		if h == nil {
			ack.Error = &matchdto.FrameError{Code: "unknown_event", Message: "no handler for " + f.Event}
		} else {
			data, ferr := h(p, f.Payload)
			if ferr != nil {
				ack.Error = ferr
			} else if data != nil {
				raw, err := json.Marshal(data)
				if err != nil {
					ack.Error = &matchdto.FrameError{Code: "internal", Message: err.Error()}
				} else {
					ack.Data = raw
				}
			}
		}
		_ = p.write(&ack)
	}
}

// Push sends a server event to this peer.
func (p *Peer) Push(event matchdto.EventKind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.write(&matchdto.Frame{Type: matchdto.FrameEvent, Event: string(event), Payload: raw})
}

// Fatal sends a fatal error frame.
func (p *Peer) Fatal(code, message string) error {
	return p.write(&matchdto.Frame{Type: matchdto.FrameFatal, Error: &matchdto.FrameError{Code: code, Message: message, Fatal: true}})
}

// Drop closes the connection without a close handshake, as a network failure would.
func (p *Peer) Drop() {
	p.once.Do(func() {
		close(p.closed)
		_ = p.conn.CloseNow()
	})
}

func (p *Peer) write(f *matchdto.Frame) error {
	p.writeM.Lock()
	defer p.writeM.Unlock()
	select {
	case <-p.closed:
		return net.ErrClosed
	default:
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return wsjson.Write(ctx, p.conn, f)
}

// Broadcast pushes an event to every connected peer.
func (s *Server) Broadcast(event matchdto.EventKind, payload any) {
	s.mu.Lock()
	peers := append([]*Peer(nil), s.peers...)
	s.mu.Unlock()
	for _, p := range peers {
		_ = p.Push(event, payload)
	}
}
