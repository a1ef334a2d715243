// Package results stores finished matches, as seen by the local player, in Postgres.
package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/park285/Cheese-LiveMatch/internal/livematch"
	"github.com/park285/Cheese-LiveMatch/internal/obslog"
	"github.com/park285/Cheese-LiveMatch/pkg/matchdto"
	"go.uber.org/zap"
)

// Record is one finished match.
type Record struct {
	MatchID       string
	LocalPlayerID string
	LocalSide     matchdto.Side
	WhiteID       string
	WhiteName     string
	BlackID       string
	BlackName     string
	Result        matchdto.Result
	WinnerID      string
	Reason        string
	MovesSAN      []string
	FinishedAt    time.Time
}

const schema = `CREATE TABLE IF NOT EXISTS live_match_results (
    match_id    TEXT NOT NULL,
    player_id   TEXT NOT NULL,
    local_side  TEXT NOT NULL,
    white_id    TEXT NOT NULL DEFAULT '',
    black_id    TEXT NOT NULL DEFAULT '',
    result      TEXT NOT NULL,
    winner_id   TEXT NOT NULL DEFAULT '',
    reason      TEXT NOT NULL DEFAULT '',
    pgn_result  TEXT NOT NULL,
    moves_san   JSONB NOT NULL DEFAULT '[]',
    pgn         TEXT NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (match_id, player_id)
)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Repository struct {
	db     execer
	closer func() error
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db, closer: db.Close}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer()
}

// EnsureSchema creates the results table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure results schema: %w", err)
	}
	return nil
}

// RecordFromView builds a Record from the final client view. The names are
// optional and only used in the PGN headers.
func RecordFromView(v livematch.View, whiteName, blackName string) (Record, bool) {
	if v.Outcome == nil {
		return Record{}, false
	}
	return Record{
		MatchID:       v.MatchID,
		LocalPlayerID: v.LocalPlayerID,
		LocalSide:     v.LocalSide,
		WhiteID:       v.Session.WhitePlayerID,
		WhiteName:     whiteName,
		BlackID:       v.Session.BlackPlayerID,
		BlackName:     blackName,
		Result:        v.Outcome.Result,
		WinnerID:      v.Outcome.WinnerID,
		Reason:        v.Outcome.Reason,
		MovesSAN:      v.Session.Moves,
		FinishedAt:    v.Outcome.At,
	}, true
}

// SaveResult upserts a finished match keyed by (match_id, player_id).
func (r *Repository) SaveResult(ctx context.Context, rec Record) error {
	if r == nil || r.db == nil {
		return nil
	}
	pgnResult := pgnResultFor(rec)
	pgn := buildPGN(rec, pgnResult)
	movesRaw, _ := json.Marshal(rec.MovesSAN)

	q := `INSERT INTO live_match_results (
        match_id, player_id, local_side, white_id, black_id,
        result, winner_id, reason, pgn_result, moves_san, pgn, finished_at
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
      ) ON CONFLICT (match_id, player_id) DO UPDATE SET
        local_side=EXCLUDED.local_side,
        white_id=EXCLUDED.white_id,
        black_id=EXCLUDED.black_id,
        result=EXCLUDED.result,
        winner_id=EXCLUDED.winner_id,
        reason=EXCLUDED.reason,
        pgn_result=EXCLUDED.pgn_result,
        moves_san=EXCLUDED.moves_san,
        pgn=EXCLUDED.pgn,
        finished_at=EXCLUDED.finished_at`

	_, err := r.db.ExecContext(ctx, q,
		rec.MatchID, rec.LocalPlayerID, string(rec.LocalSide),
		rec.WhiteID, rec.BlackID,
		string(rec.Result), rec.WinnerID, strings.TrimSpace(rec.Reason),
		pgnResult, string(movesRaw), pgn, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save result %s: %w", rec.MatchID, err)
	}
	return nil
}

// Observer saves the result once the client reports an outcome.
func (r *Repository) Observer(whiteName, blackName string, logger *zap.Logger) livematch.Observer {
	logger = obslog.Or(logger).With(zap.String("component", "results"))
	return func(change livematch.Change, v livematch.View) {
		if change != livematch.ChangeOutcome {
			return
		}
		rec, ok := RecordFromView(v, whiteName, blackName)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.SaveResult(ctx, rec); err != nil {
			logger.Warn("results_save_error", zap.String("match_id", rec.MatchID), zap.Error(err))
			return
		}
		logger.Info("results_saved", zap.String("match_id", rec.MatchID), zap.String("result", string(rec.Result)))
	}
}

// pgnResultFor maps the outcome to a PGN result token from white's point of view.
func pgnResultFor(rec Record) string {
	switch {
	case rec.Result == matchdto.ResultDraw:
		return "1/2-1/2"
	case rec.WinnerID != "" && rec.WinnerID == rec.WhiteID:
		return "1-0"
	case rec.WinnerID != "" && rec.WinnerID == rec.BlackID:
		return "0-1"
	}
	// fall back on the local side when seats are unknown
	if rec.LocalSide.Valid() && (rec.Result == matchdto.ResultWin || rec.Result == matchdto.ResultLoss) {
		winner := rec.LocalSide
		if rec.Result == matchdto.ResultLoss {
			winner = winner.Opponent()
		}
		if winner == matchdto.White {
			return "1-0"
		}
		return "0-1"
	}
	return "*"
}

func buildPGN(rec Record, pgnResult string) string {
	var b strings.Builder
	date := rec.FinishedAt
	if date.IsZero() {
		date = time.Now()
	}
	white := firstNonEmpty(rec.WhiteName, rec.WhiteID, "?")
	black := firstNonEmpty(rec.BlackName, rec.BlackID, "?")

	b.WriteString("[Event \"Live Match\"]\n")
	b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(rec.MatchID)))
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(white)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(black)))
	if strings.TrimSpace(rec.Reason) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(rec.Reason))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(rec.MovesSAN); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(rec.MovesSAN[i])))
		if i+1 < len(rec.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(rec.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
