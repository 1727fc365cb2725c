// Package token owns OAuth2 access/refresh token state for a backend
// connection: persistence, proactive refresh, and mutual exclusion so
// concurrent callers never double-spend a one-time refresh token.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chatwire/chatwire/internal/httpx"
	"github.com/chatwire/chatwire/internal/kv"
)

// Refresh failure classes. Callers branch with errors.Is; nothing in this
// package panics across the manager boundary.
var (
	ErrNoRefreshToken  = errors.New("no refresh token available")
	ErrConnection      = errors.New("token endpoint connection failed")
	ErrInvalidResponse = errors.New("token endpoint returned an invalid response")
	ErrAuthInvalid     = errors.New("refresh token rejected; tokens cleared")
)

const (
	// DefaultLifetime is assumed when the token endpoint omits expires_in.
	DefaultLifetime = 3600 * time.Second
	// DefaultRefreshMargin is how close to expiry a token may get before
	// Connected attempts a proactive refresh.
	DefaultRefreshMargin = 300 * time.Second
	// DefaultCooldown throttles refresh attempts after a failure.
	DefaultCooldown = 300 * time.Second
	// lockTTL bounds how long a crashed holder can block other refreshers.
	lockTTL = 30 * time.Second
	// lockWait is how long a contender waits for the holder to finish
	// before giving up.
	lockWait     = 10 * time.Second
	lockPollStep = 50 * time.Millisecond
)

// State is the persisted token triple. ExpiresAt is 0 (unknown/no expiry)
// or an absolute unix-seconds timestamp computed at save time.
type State struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Source yields bearer tokens for provider requests. Manager implements it
// for OAuth connections; Static implements it for API-key providers.
type Source interface {
	AccessToken(ctx context.Context) (string, error)
	Connected(ctx context.Context) bool
	Refresh(ctx context.Context) error
}

// Endpoint identifies the OAuth token endpoint and client credentials.
type Endpoint struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// Manager keeps one connection's token state alive.
type Manager struct {
	store        kv.Store
	locker       kv.Locker
	client       *httpx.Client
	endpoint     Endpoint
	connectionID string

	refreshMargin time.Duration
	cooldown      time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// NewManager creates a Manager for the given connection. The store must also
// implement kv.Locker; refresh mutual exclusion depends on it.
func NewManager(log *slog.Logger, store kv.Store, locker kv.Locker, client *httpx.Client, endpoint Endpoint, connectionID string) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if connectionID == "" {
		connectionID = "default"
	}
	return &Manager{
		store:         store,
		locker:        locker,
		client:        client,
		endpoint:      endpoint,
		connectionID:  connectionID,
		refreshMargin: DefaultRefreshMargin,
		cooldown:      DefaultCooldown,
		now:           time.Now,
		logger:        log.With(slog.String("service", "token_manager"), slog.String("connection", connectionID)),
	}
}

// SetRefreshMargin overrides the proactive-refresh margin.
func (m *Manager) SetRefreshMargin(margin time.Duration) {
	if margin > 0 {
		m.refreshMargin = margin
	}
}

// SetCooldown overrides the failure cooldown.
func (m *Manager) SetCooldown(cooldown time.Duration) {
	if cooldown > 0 {
		m.cooldown = cooldown
	}
}

// SetClock overrides the time source. Test hook.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Manager) tokenKey() string    { return "oauth:token:" + m.connectionID }
func (m *Manager) lockKey() string     { return "oauth:refresh_lock:" + m.connectionID }
func (m *Manager) cooldownKey() string { return "oauth:refresh_cooldown:" + m.connectionID }

// Load reads the persisted token state. A missing key yields a zero State.
func (m *Manager) Load(ctx context.Context) (State, error) {
	raw, ok, err := m.store.Get(ctx, m.tokenKey())
	if err != nil {
		return State{}, fmt.Errorf("load token state: %w", err)
	}
	if !ok {
		return State{}, nil
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return State{}, fmt.Errorf("decode token state: %w", err)
	}
	return st, nil
}

// Save persists a new token state. expiresIn <= 0 falls back to
// DefaultLifetime.
func (m *Manager) Save(ctx context.Context, access, refresh string, expiresIn int64) error {
	if expiresIn <= 0 {
		expiresIn = int64(DefaultLifetime / time.Second)
	}
	st := State{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    m.now().Unix() + expiresIn,
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode token state: %w", err)
	}
	if err := m.store.Set(ctx, m.tokenKey(), string(raw), 0); err != nil {
		return fmt.Errorf("save token state: %w", err)
	}
	return nil
}

// Clear erases token state and the refresh cooldown marker. Used on
// disconnect and on unrecoverable auth failure.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.store.Delete(ctx, m.tokenKey()); err != nil {
		return fmt.Errorf("clear token state: %w", err)
	}
	if err := m.store.Delete(ctx, m.cooldownKey()); err != nil {
		return fmt.Errorf("clear refresh cooldown: %w", err)
	}
	return nil
}

// AccessToken returns the current access token, implementing Source.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	st, err := m.Load(ctx)
	if err != nil {
		return "", err
	}
	if st.AccessToken == "" {
		return "", ErrNoRefreshToken
	}
	return st.AccessToken, nil
}

// fresh reports whether the token exists and is not inside the refresh margin.
func (m *Manager) fresh(st State) bool {
	if st.AccessToken == "" {
		return false
	}
	if st.ExpiresAt == 0 {
		return true
	}
	return st.ExpiresAt-m.now().Unix() > int64(m.refreshMargin/time.Second)
}

// valid reports whether the token exists and has not expired outright.
func (m *Manager) valid(st State) bool {
	if st.AccessToken == "" {
		return false
	}
	return st.ExpiresAt == 0 || st.ExpiresAt > m.now().Unix()
}

func (m *Manager) cooldownActive(ctx context.Context) bool {
	_, ok, err := m.store.Get(ctx, m.cooldownKey())
	if err != nil {
		m.logger.Warn("cooldown lookup failed", slog.Any("error", err))
		return false
	}
	return ok
}

// Connected reloads state and reports whether a usable access token exists.
// A token inside the refresh margin triggers a refresh first, unless a
// failure cooldown is active, in which case the still-valid token is used
// as is until it actually expires.
func (m *Manager) Connected(ctx context.Context) bool {
	st, err := m.Load(ctx)
	if err != nil {
		m.logger.Warn("token state load failed", slog.Any("error", err))
		return false
	}
	if st.AccessToken == "" {
		return false
	}
	if m.fresh(st) {
		return true
	}
	if m.cooldownActive(ctx) {
		return m.valid(st)
	}
	if err := m.Refresh(ctx); err != nil {
		m.logger.Warn("proactive refresh failed", slog.Any("error", err))
		return false
	}
	return true
}

// Refresh exchanges the refresh token for a new access token. Safe under
// concurrent invocation: a short-lived cross-process lock keyed to the
// connection guards the HTTP exchange, and a contender that finds the lock
// held waits, reloading state, returning success without its own network
// call once the holder has produced a fresh token.
func (m *Manager) Refresh(ctx context.Context) error {
	st, err := m.Load(ctx)
	if err != nil {
		return err
	}
	if st.RefreshToken == "" {
		return ErrNoRefreshToken
	}
	// The holder may have finished between the caller's staleness check and
	// now; a fresh token means there is nothing to do.
	if m.fresh(st) {
		return nil
	}

	acquired, err := m.locker.TryLock(ctx, m.lockKey(), lockTTL)
	if err != nil {
		return fmt.Errorf("acquire refresh lock: %w", err)
	}
	if !acquired {
		return m.awaitHolder(ctx)
	}
	defer func() {
		if err := m.locker.Unlock(context.WithoutCancel(ctx), m.lockKey()); err != nil {
			m.logger.Warn("release refresh lock failed", slog.Any("error", err))
		}
	}()

	// Re-check after the lock: a previous holder may already have rotated
	// the token while this caller was contending.
	st, err = m.Load(ctx)
	if err != nil {
		return err
	}
	if m.fresh(st) {
		return nil
	}
	if st.RefreshToken == "" {
		return ErrNoRefreshToken
	}

	return m.exchange(ctx, st)
}

// awaitHolder polls for the lock holder's outcome, reloading state each tick.
func (m *Manager) awaitHolder(ctx context.Context) error {
	deadline := time.Now().Add(lockWait)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrConnection, ctx.Err())
		case <-time.After(lockPollStep):
		}
		st, err := m.Load(ctx)
		if err != nil {
			return err
		}
		if m.fresh(st) {
			return nil
		}
		if m.cooldownActive(ctx) {
			// Holder failed; do not pile a second attempt onto the backend.
			return ErrConnection
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: refresh lock wait timed out", ErrConnection)
		}
	}
}

func (m *Manager) exchange(ctx context.Context, st State) error {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {st.RefreshToken},
	}
	if m.endpoint.ClientID != "" {
		form.Set("client_id", m.endpoint.ClientID)
	}
	if m.endpoint.ClientSecret != "" {
		form.Set("client_secret", m.endpoint.ClientSecret)
	}

	resp, err := m.client.PostForm(ctx, m.endpoint.TokenURL, nil, form)
	if err != nil {
		m.setCooldown(ctx)
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
		// The refresh token itself is invalid; keeping it would strand
		// every future caller, so wipe the state.
		if err := m.Clear(ctx); err != nil {
			m.logger.Warn("clear after auth failure failed", slog.Any("error", err))
		}
		m.logger.Info("refresh token rejected by backend", slog.Int("status", resp.StatusCode))
		return ErrAuthInvalid
	case !resp.OK():
		m.setCooldown(ctx)
		return fmt.Errorf("%w: token endpoint status %d", ErrConnection, resp.StatusCode)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := resp.Decode(&body); err != nil || strings.TrimSpace(body.AccessToken) == "" {
		m.setCooldown(ctx)
		return ErrInvalidResponse
	}

	refresh := body.RefreshToken
	if refresh == "" {
		refresh = st.RefreshToken
	}
	if err := m.Save(ctx, body.AccessToken, refresh, body.ExpiresIn); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, m.cooldownKey()); err != nil {
		m.logger.Warn("clear cooldown failed", slog.Any("error", err))
	}
	m.logger.Debug("access token refreshed")
	return nil
}

func (m *Manager) setCooldown(ctx context.Context) {
	if err := m.store.Set(ctx, m.cooldownKey(), "1", m.cooldown); err != nil {
		m.logger.Warn("set refresh cooldown failed", slog.Any("error", err))
	}
}

// Static is a Source backed by a fixed API key. Refresh always fails with
// ErrNoRefreshToken, so a 401 against a static key becomes a terminal
// auth failure after the provider's single retry.
type Static struct {
	key string
}

// NewStatic wraps an API key as a Source.
func NewStatic(key string) *Static {
	return &Static{key: strings.TrimSpace(key)}
}

func (s *Static) AccessToken(context.Context) (string, error) {
	if s.key == "" {
		return "", ErrNoRefreshToken
	}
	return s.key, nil
}

func (s *Static) Connected(context.Context) bool { return s.key != "" }

func (s *Static) Refresh(context.Context) error { return ErrNoRefreshToken }
