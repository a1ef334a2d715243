package livematch

import (
	"context"
	"errors"
	"strings"

	"github.com/park285/Cheese-LiveMatch/internal/rules"
	"github.com/park285/Cheese-LiveMatch/pkg/matchdto"
	"go.uber.org/zap"
)

// actionableLocked checks the session-level preconditions shared by every
// match action. Failures never reach the network.
func (c *Client) actionableLocked() error {
	switch {
	case c.closed || !c.started:
		return matchdto.NewLocalValidation(matchdto.CodeNotJoined, "not joined to a match")
	case c.stale:
		return matchdto.NewStaleSession("connection dropped; rejoin required")
	case c.frozen:
		return matchdto.NewLocalValidation(matchdto.CodeMatchFrozen, "match is over")
	case c.session.auth.Status != matchdto.StatusActive:
		return matchdto.NewLocalValidation(matchdto.CodeMatchNotActive, "match is not active")
	}
	return nil
}

func (c *Client) reject(action string, err error) error {
	var me *matchdto.Error
	if errors.As(err, &me) {
		c.logger.Debug("gateway_reject", zap.String("action", action), zap.String("code", me.Code))
	}
	return err
}

// Move validates from->to against the optimistic working position, applies it
// there and sends it in algebraic notation. An empty promotion promotes to a queen.
func (c *Client) Move(ctx context.Context, from, to, promotion string) error {
	c.mu.Lock()
	if err := c.actionableLocked(); err != nil {
		c.mu.Unlock()
		return c.reject("move", err)
	}
	local := c.assignment.LocalSide
	working := c.session.working
	matchID := c.matchID

	side, ok, err := c.engine.PieceAt(working, from)
	switch {
	case err != nil:
		err = matchdto.NewLocalValidation(matchdto.CodeIllegalMove, "invalid square "+strings.TrimSpace(from))
	case !ok:
		err = matchdto.NewLocalValidation(matchdto.CodeNoPiece, "no piece on "+strings.TrimSpace(from))
	case side != local:
		err = matchdto.NewLocalValidation(matchdto.CodeNotYourPiece, "not your piece")
	case c.session.auth.SideToMove != local:
		err = matchdto.NewLocalValidation(matchdto.CodeNotYourTurn, "not your turn")
	}
	if err == nil {
		// a move already applied optimistically hands the working turn to the opponent
		if turn, terr := c.engine.Turn(working); terr != nil || turn != local {
			err = matchdto.NewLocalValidation(matchdto.CodeNotYourTurn, "waiting for the previous move to be confirmed")
		}
	}
	if err != nil {
		c.mu.Unlock()
		return c.reject("move", err)
	}
	res, err := c.engine.Apply(working, rules.UCI(from, to, promotion))
	if err != nil {
		c.mu.Unlock()
		return c.reject("move", matchdto.NewLocalValidation(matchdto.CodeIllegalMove, "illegal move"))
	}
	c.session.advance(res)
	v := c.viewLocked()
	c.mu.Unlock()
	c.notify([]Change{ChangeOptimistic}, v)

	c.logger.Debug("gateway_move", zap.String("match_id", matchID), zap.String("move", res.SAN))
	rctx, cancel := c.requestContext(ctx)
	defer cancel()
	data, err := c.ch.SendAction(rctx, matchdto.ActionMove, matchdto.MoveRequest{MatchID: matchID, MoveNotation: res.SAN})
	if err != nil {
		c.handle(func() []Change {
			if c.session.revert(res.FEN) {
				return []Change{ChangeOptimistic}
			}
			return nil
		})
		return err
	}
	c.applyAckSnapshot(data)
	return nil
}

func (c *Client) Resign(ctx context.Context) error {
	c.mu.Lock()
	if err := c.actionableLocked(); err != nil {
		c.mu.Unlock()
		return c.reject("resign", err)
	}
	matchID := c.matchID
	c.mu.Unlock()

	rctx, cancel := c.requestContext(ctx)
	defer cancel()
	data, err := c.ch.SendAction(rctx, matchdto.ActionResign, matchdto.MatchRequest{MatchID: matchID})
	if err != nil {
		return err
	}
	c.logger.Info("gateway_resign", zap.String("match_id", matchID))
	c.applyAckSnapshot(data)
	return nil
}

// OfferDraw marks the local offer optimistically and reverts it if the
// request fails. Any outstanding offer blocks a new one.
func (c *Client) OfferDraw(ctx context.Context) error {
	c.mu.Lock()
	if err := c.actionableLocked(); err != nil {
		c.mu.Unlock()
		return c.reject("offer_draw", err)
	}
	local := c.assignment.LocalSide
	switch c.draw.offeredBy {
	case "":
	case local:
		c.mu.Unlock()
		return c.reject("offer_draw", matchdto.NewLocalValidation(matchdto.CodeDrawAlreadyOffered, "draw offer already outstanding"))
	default:
		c.mu.Unlock()
		return c.reject("offer_draw", matchdto.NewLocalValidation(matchdto.CodeDrawAlreadyOffered, "opponent's draw offer is waiting for a response"))
	}
	c.draw.offerLocal(local)
	matchID := c.matchID
	v := c.viewLocked()
	c.mu.Unlock()
	c.notify([]Change{ChangeDraw}, v)

	rctx, cancel := c.requestContext(ctx)
	defer cancel()
	_, err := c.ch.SendAction(rctx, matchdto.ActionOfferDraw, matchdto.MatchRequest{MatchID: matchID})
	c.handle(func() []Change {
		if c.draw.offeredBy != local {
			return nil
		}
		if err != nil {
			c.draw.clear()
			return []Change{ChangeDraw}
		}
		c.draw.pending = false
		return []Change{ChangeDraw}
	})
	if err != nil {
		c.logger.Info("draw_offer_reverted", zap.String("match_id", matchID), zap.Error(err))
		return err
	}
	return nil
}

// RespondToDraw answers the opponent's outstanding offer. The offer is
// cleared afterwards whether the request succeeds or not.
func (c *Client) RespondToDraw(ctx context.Context, accept bool) error {
	c.mu.Lock()
	if err := c.actionableLocked(); err != nil {
		c.mu.Unlock()
		return c.reject("respond_draw", err)
	}
	if c.draw.offeredBy == "" || c.draw.offeredBy == c.assignment.LocalSide {
		c.mu.Unlock()
		return c.reject("respond_draw", matchdto.NewLocalValidation(matchdto.CodeNoDrawOffer, "no draw offer to answer"))
	}
	matchID := c.matchID
	c.mu.Unlock()

	rctx, cancel := c.requestContext(ctx)
	defer cancel()
	data, err := c.ch.SendAction(rctx, matchdto.ActionRespondToDraw, matchdto.RespondToDrawRequest{MatchID: matchID, Accept: accept})
	c.handle(func() []Change {
		if !c.draw.clear() {
			return nil
		}
		return []Change{ChangeDraw}
	})
	if err != nil {
		return err
	}
	c.logger.Info("draw_response", zap.String("match_id", matchID), zap.Bool("accept", accept))
	c.applyAckSnapshot(data)
	return nil
}

// SendChat posts a chat line. Chat stays open after the match ends.
func (c *Client) SendChat(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	c.mu.Lock()
	var err error
	switch {
	case c.closed || !c.started:
		err = matchdto.NewLocalValidation(matchdto.CodeNotJoined, "not joined to a match")
	case c.stale:
		err = matchdto.NewStaleSession("connection dropped; rejoin required")
	case text == "":
		err = matchdto.NewLocalValidation(matchdto.CodeEmptyMessage, "message is empty")
	}
	matchID := c.matchID
	c.mu.Unlock()
	if err != nil {
		return c.reject("chat", err)
	}

	rctx, cancel := c.requestContext(ctx)
	defer cancel()
	_, err = c.ch.SendAction(rctx, matchdto.ActionChatMessage, matchdto.ChatRequest{MatchID: matchID, Message: text})
	return err
}
