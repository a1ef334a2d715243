package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/park285/Cheese-LiveMatch/internal/livematch"
	"github.com/park285/Cheese-LiveMatch/internal/msgcat"
	"github.com/park285/Cheese-LiveMatch/pkg/matchdto"
)

// actions is the part of livematch.Client the prompt drives.
type actions interface {
	Move(ctx context.Context, from, to, promotion string) error
	Resign(ctx context.Context) error
	OfferDraw(ctx context.Context) error
	RespondToDraw(ctx context.Context, accept bool) error
	SendChat(ctx context.Context, text string) error
	View() livematch.View
}

// handleCommand runs one prompt line and reports whether the user asked to quit.
func handleCommand(ctx context.Context, c actions, out *printer, line string) bool {
	raw := strings.TrimSpace(line)
	if raw == "" {
		return false
	}
	parts := strings.Fields(raw)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		out.key("help", nil)
	case "move", "m":
		if len(args) == 0 {
			out.key("help", nil)
			return false
		}
		from, to, promo, ok := parseMove(args)
		if !ok {
			err = matchdto.NewLocalValidation(matchdto.CodeIllegalMove, "bad move notation")
			break
		}
		if err = c.Move(ctx, from, to, promo); err == nil {
			out.key("match.move_sent", map[string]any{"From": from, "To": to})
		}
	case "resign":
		err = c.Resign(ctx)
	case "draw":
		err = c.OfferDraw(ctx)
	case "accept":
		err = c.RespondToDraw(ctx, true)
	case "decline":
		err = c.RespondToDraw(ctx, false)
	case "chat", "say":
		err = c.SendChat(ctx, strings.TrimSpace(strings.TrimPrefix(raw, parts[0])))
	case "status":
		out.status(c.View())
	case "quit", "exit":
		return true
	default:
		out.key("help", nil)
	}
	if err != nil {
		out.line(errorText(out.cat, err))
	}
	return false
}

// parseMove accepts "e2e4", "e7e8q", "e2 e4" and "e7 e8 q".
func parseMove(args []string) (from, to, promo string, ok bool) {
	s := strings.ToLower(strings.Join(args, ""))
	if len(s) != 4 && len(s) != 5 {
		return "", "", "", false
	}
	from, to = s[:2], s[2:4]
	if len(s) == 5 {
		promo = s[4:]
	}
	return from, to, promo, true
}

func errorText(cat *msgcat.Catalog, err error) string {
	var me *matchdto.Error
	if !errors.As(err, &me) {
		return cat.Text("error.generic", map[string]any{"Message": err.Error()})
	}
	switch me.Kind {
	case matchdto.KindStaleSession:
		return cat.Text("error.stale", nil)
	case matchdto.KindLocalValidation:
		if cat.Has("error." + me.Code) {
			return cat.Text("error."+me.Code, nil)
		}
	case matchdto.KindActionRejected:
		if cat.Has("error." + me.Code) {
			return cat.Text("error."+me.Code, nil)
		}
		return cat.Text("error.rejected", map[string]any{"Message": me.Message})
	}
	return cat.Text("error.generic", map[string]any{"Message": me.Error()})
}

func formatMs(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	s := ms / 1000
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

func seatNames(p *matchdto.Players) (white, black string) {
	if p == nil {
		return "", ""
	}
	if p.WhitePlayer != nil {
		white = p.WhitePlayer.Username
	}
	if p.BlackPlayer != nil {
		black = p.BlackPlayer.Username
	}
	return white, black
}

// printer writes observer notifications and command feedback to the terminal.
type printer struct {
	cat *msgcat.Catalog
	w   io.Writer

	mu         sync.Mutex
	lastOffer  matchdto.Side
	lastMoves  int
	offerMoves int
}

func (p *printer) line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, strings.TrimRight(s, "\n"))
}

func (p *printer) key(key string, data any) { p.line(p.cat.Text(key, data)) }

func (p *printer) joined(v livematch.View, a matchdto.PlayerAssignment) {
	opp := a.OpponentUsername
	if opp == "" {
		opp = a.OpponentID
	}
	p.key("match.joined", map[string]any{"MatchID": v.MatchID, "Side": string(v.LocalSide), "Opponent": opp})
	p.status(v)
}

func (p *printer) status(v livematch.View) {
	p.key("match.snapshot", snapshotData(v))
	if len(v.Session.Moves) == 0 {
		p.key("match.waiting", nil)
	}
	p.key("match.clock", map[string]any{"White": formatMs(v.Clock.WhiteRemainingMs), "Black": formatMs(v.Clock.BlackRemainingMs)})
}

func snapshotData(v livematch.View) map[string]any {
	return map[string]any{
		"MoveCount":  len(v.Session.Moves),
		"SideToMove": string(v.Session.SideToMove),
		"Status":     string(v.Session.Status),
	}
}

func (p *printer) observe(change livematch.Change, v livematch.View) {
	switch change {
	case livematch.ChangeSnapshot:
		p.mu.Lock()
		grew := len(v.Session.Moves) != p.lastMoves
		p.lastMoves = len(v.Session.Moves)
		p.mu.Unlock()
		if grew {
			p.key("match.snapshot", snapshotData(v))
		}
	case livematch.ChangeDraw:
		p.mu.Lock()
		prev, offerMoves := p.lastOffer, p.offerMoves
		p.lastOffer = v.DrawOfferedBy
		if v.DrawOfferedBy != "" {
			p.offerMoves = len(v.Session.Moves)
		}
		p.mu.Unlock()
		switch {
		case v.RemoteDrawOffer():
			p.key("draw.offered_remote", nil)
		case v.DrawOfferedBy != "" && v.DrawOfferedBy == v.LocalSide:
			p.key("draw.offered_local", nil)
		case prev != "" && v.Outcome == nil && offerMoves == len(v.Session.Moves):
			// cleared without a move or a result
			p.key("draw.declined", nil)
		}
	case livematch.ChangeOutcome:
		if v.Outcome == nil {
			return
		}
		p.key("outcome."+string(v.Outcome.Result), map[string]any{"Reason": v.Outcome.Reason})
	case livematch.ChangeChat:
		// one notification per received message
		if n := len(v.Chat); n > 0 {
			m := v.Chat[n-1]
			p.key("chat.line", map[string]any{"Sender": m.SenderID, "Message": m.Message})
		}
	case livematch.ChangeConnection:
		if v.Stale {
			p.key("connection.disconnected", nil)
		}
	}
}
