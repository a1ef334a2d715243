package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/park285/Cheese-LiveMatch/internal/channel"
	"github.com/park285/Cheese-LiveMatch/internal/metaapi"
)

// matchcheck probes the metadata API and the match socket with the same
// settings the live client uses.
func main() {
	baseURL := os.Getenv("MATCH_API_URL")
	wsURL := os.Getenv("MATCH_WS_URL")
	token := os.Getenv("AUTH_TOKEN")
	matchID := os.Getenv("MATCH_ID")

	if baseURL == "" {
		log.Fatal("MATCH_API_URL is required")
	}

	api := metaapi.NewClient(baseURL,
		metaapi.WithBearer(token),
		metaapi.WithTimeout(8*time.Second),
		metaapi.WithRetry(1),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := api.Ping(ctx); err != nil {
		log.Printf("/health error: %v", err)
	} else {
		log.Println("/health ok")
	}

	if matchID != "" {
		info, err := api.GetMatch(ctx, matchID)
		switch {
		case errors.Is(err, metaapi.ErrNotFound):
			log.Printf("/games/%s not found", matchID)
		case err != nil:
			log.Printf("/games/%s error: %v", matchID, err)
		default:
			log.Printf("/games/%s ok: status=%s white=%s black=%s tc=%s", info.ID, info.Status, info.WhitePlayerID, info.BlackPlayerID, info.TimeControl)
		}
	}

	if wsURL == "" {
		log.Println("MATCH_WS_URL not set; skipping WS check")
		return
	}

	mgr := channel.NewManager(wsURL)
	mgr.OnStateChange(func(state channel.State) {
		log.Printf("WS state: %s", state)
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := mgr.Connect(cctx, token); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}
	defer mgr.Disconnect()

	if matchID == "" {
		return
	}
	snap, err := mgr.Join(cctx, matchID)
	if err != nil {
		log.Printf("WS join error: %v", err)
		return
	}
	log.Printf("WS join ok: status=%s moves=%d side=%s fen=%s", snap.Status, len(snap.Moves), snap.SideToMove, snap.FEN)
}
