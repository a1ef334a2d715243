// Package journal keeps a short-lived Redis audit trail of the authoritative
// snapshots and the final outcome a client observed. It is never read back to
// resume a session.
package journal

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/park285/Cheese-LiveMatch/internal/config"
	"github.com/redis/go-redis/v9"
)

const (
	ttlMatch        = 24 * time.Hour
	defaultCapacity = 500
)

// Entry is one recorded authoritative snapshot.
type Entry struct {
	MatchID          string    `json:"matchId"`
	FEN              string    `json:"fen"`
	Status           string    `json:"status"`
	SideToMove       string    `json:"sideToMove"`
	Moves            []string  `json:"moves"`
	WhiteRemainingMs int64     `json:"whiteRemainingMs"`
	BlackRemainingMs int64     `json:"blackRemainingMs"`
	RecordedAt       time.Time `json:"recordedAt"`
}

// OutcomeRecord is the finished match as the local player saw it.
type OutcomeRecord struct {
	MatchID  string    `json:"matchId"`
	PlayerID string    `json:"playerId"`
	Result   string    `json:"result"`
	WinnerID string    `json:"winnerId,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

type Store struct {
	rdb      *redis.Client
	capacity int64
}

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb, capacity: defaultCapacity} }

// NewStoreFromURL dials redis:// or rediss:// and pings it once.
func NewStoreFromURL(ctx context.Context, raw string) (*Store, error) {
	opt, err := config.ParseRedisURL(raw)
	if err != nil {
		return nil, err
	}
	ro := &redis.Options{Addr: opt.Addr, Password: opt.Password, DB: opt.DB}
	if opt.TLS {
		ro.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return NewStore(rdb), nil
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) keySnapshots(matchID string) string {
	return "match:" + strings.TrimSpace(matchID) + ":snapshots"
}

func (s *Store) keyOutcome(matchID string) string {
	return "match:" + strings.TrimSpace(matchID) + ":outcome"
}

// Append records e at the tail of the match list, keeping the newest entries.
func (s *Store) Append(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.MatchID) == "" {
		return errors.New("journal entry without match id")
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := s.keySnapshots(e.MatchID)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, -s.capacity, -1)
	pipe.Expire(ctx, key, ttlMatch)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to n newest entries, oldest first.
func (s *Store) Recent(ctx context.Context, matchID string, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	raws, err := s.rdb.LRange(ctx, s.keySnapshots(matchID), int64(-n), -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) SaveOutcome(ctx context.Context, o OutcomeRecord) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.keyOutcome(o.MatchID), raw, ttlMatch).Err()
}

// Outcome returns nil when nothing was recorded.
func (s *Store) Outcome(ctx context.Context, matchID string) (*OutcomeRecord, error) {
	raw, err := s.rdb.Get(ctx, s.keyOutcome(matchID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var o OutcomeRecord
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}
	return &o, nil
}
