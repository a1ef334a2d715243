package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	MatchWSURL  string
	MatchAPIURL string

	AuthToken     string
	LocalPlayerID string
	MatchID       string

	ClockTick      time.Duration
	RequestTimeout time.Duration
	PingInterval   time.Duration

	RedisURL    string
	DatabaseURL string

	MessagesDir  string
	MessagesLang string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ClockTick:      time.Second,
		RequestTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		MessagesLang:   "en",
	}

	cfg.MatchWSURL = strings.TrimSpace(os.Getenv("MATCH_WS_URL"))
	cfg.MatchAPIURL = strings.TrimSpace(os.Getenv("MATCH_API_URL"))

	cfg.AuthToken = strings.TrimSpace(os.Getenv("AUTH_TOKEN"))
	cfg.LocalPlayerID = strings.TrimSpace(os.Getenv("LOCAL_PLAYER_ID"))
	cfg.MatchID = strings.TrimSpace(os.Getenv("MATCH_ID"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("MESSAGES_LANG")); v != "" {
		cfg.MessagesLang = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("CLOCK_TICK_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ClockTick = time.Duration(n) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(os.Getenv("REQUEST_TIMEOUT_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RequestTimeout = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("PING_INTERVAL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PingInterval = time.Duration(n) * time.Second
		}
	}

	if cfg.MatchWSURL == "" {
		return nil, errors.New("MATCH_WS_URL is required")
	}
	if cfg.MatchAPIURL == "" {
		return nil, errors.New("MATCH_API_URL is required")
	}

	return cfg, nil
}

// RedisOptions holds the parts of a redis:// URL the journal needs.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
}

func ParseRedisURL(raw string) (*RedisOptions, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("redis url missing host")
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &RedisOptions{Addr: u.Host, Password: pass, DB: db, TLS: u.Scheme == "rediss"}, nil
}
