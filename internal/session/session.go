// Package session manages one authenticated connection to one Vault server:
// token acquisition, secure caching, autonomous renewal, and the catalog
// calls (mounts, secrets, data) that need a live token.
package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/systmms/vaultenv/internal/backend"
	"github.com/systmms/vaultenv/internal/backend/vault"
	"github.com/systmms/vaultenv/internal/config"
	dserrors "github.com/systmms/vaultenv/internal/errors"
	"github.com/systmms/vaultenv/internal/flatten"
	"github.com/systmms/vaultenv/internal/logging"
	"github.com/systmms/vaultenv/internal/metrics"
	"github.com/systmms/vaultenv/internal/report"
	"github.com/systmms/vaultenv/internal/secure"
)

// DefaultTimeout bounds each autonomous renewal or re-login.
const DefaultTimeout = 30 * time.Second

// Options carries the collaborators of a Session. Zero values get defaults.
type Options struct {
	Dialer   backend.Dialer
	Clock    clock.Clock
	Reporter report.Reporter
	Logger   *logging.Logger
	// Timeout is passed to the backend client and bounds autonomous calls.
	Timeout time.Duration
}

// Session owns one authenticated session to one connection.
type Session struct {
	conn     config.Connection
	dialer   backend.Dialer
	clock    clock.Clock
	reporter report.Reporter
	logger   *logging.Logger
	timeout  time.Duration

	mu      sync.Mutex
	client  backend.Client
	token   *secure.TokenCache
	lastErr string

	// epoch is bumped by Dispose; work started in an older epoch is
	// discarded on completion.
	epoch uint64
	// seq identifies the pending timer; a callback whose seq is stale
	// returns without touching the backend.
	seq    uint64
	timer  clock.Timer
	next   Action
	nextAt time.Time
}

// New creates a disconnected session. The endpoint is normalized.
func New(conn config.Connection, opts Options) *Session {
	if opts.Dialer == nil {
		opts.Dialer = vault.Dialer
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Reporter == nil {
		opts.Reporter = report.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return &Session{
		conn:     conn.Normalized(),
		dialer:   opts.Dialer,
		clock:    opts.Clock,
		reporter: opts.Reporter,
		logger:   opts.Logger,
		timeout:  opts.Timeout,
		token:    secure.NewTokenCache(),
		next:     ActionNone,
	}
}

// Name returns the connection name.
func (s *Session) Name() string {
	return s.conn.Name
}

// Config returns the normalized connection the session was built from.
func (s *Session) Config() config.Connection {
	return s.conn
}

// Login builds a fresh backend client and authenticates with the configured
// method. With surfaceErrors false a failure is reported on the error channel
// and nil is returned.
func (s *Session) Login(ctx context.Context, surfaceErrors bool) error {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	return s.login(ctx, epoch, surfaceErrors)
}

func (s *Session) login(ctx context.Context, epoch uint64, surfaceErrors bool) error {
	s.mu.Lock()
	disposed := s.epoch != epoch
	s.mu.Unlock()
	if disposed {
		return nil
	}

	err := s.authenticate(ctx, epoch)
	metrics.RecordLogin(s.conn.Name, s.conn.Auth.Method, err)
	if err == nil {
		return nil
	}

	message := logging.Redact(dserrors.Message(err), []string{s.conn.Auth.Token, s.conn.Auth.Password})
	s.mu.Lock()
	s.lastErr = message
	s.mu.Unlock()

	if surfaceErrors {
		return err
	}
	s.logger.Debug("Login to %s failed: %s", s.conn.Name, message)
	s.reporter.Report(fmt.Sprintf("Login Vault Error: (%s)", message))
	return nil
}

func (s *Session) authenticate(ctx context.Context, epoch uint64) error {
	client, err := s.dialer.Dial(backend.Endpoint{
		Address:   s.conn.Endpoint,
		Namespace: s.conn.Namespace,
		Timeout:   s.timeout,
	})
	if err != nil {
		return err
	}

	var tok Token
	switch s.conn.Auth.Method {
	case config.MethodToken:
		client.AuthenticateToken(s.conn.Auth.Token)
		info, err := client.SelfLookup(ctx)
		if err != nil {
			return err
		}
		tok = Token{ID: info.ID, Renewable: info.Renewable, TTL: info.TTL}

	case config.MethodUsername:
		auth, err := client.AuthenticateUserpass(ctx, s.conn.Auth.MountPoint, s.conn.Auth.Username, s.conn.Auth.Password)
		if err != nil {
			return err
		}
		tok = Token{ID: auth.ClientToken, Renewable: auth.Renewable, TTL: auth.LeaseDuration}

	default:
		s.logger.Debug("Connection %s has no usable auth method %q; continuing without a token", s.conn.Name, s.conn.Auth.Method)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.epoch != epoch {
			return nil
		}
		s.install(client)
		s.token.Clear()
		s.cancelLocked()
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		// Disposed while the login was in flight.
		client.ClearToken()
		return nil
	}
	s.install(client)
	s.cacheLocked(tok)
	return nil
}

// install replaces the active client. The replaced client keeps its token:
// a call that picked it up before the swap still completes authenticated.
// Must hold s.mu.
func (s *Session) install(client backend.Client) {
	s.client = client
	s.lastErr = ""
}

// cacheLocked stores tok and schedules the next autonomous action.
// Must hold s.mu.
func (s *Session) cacheLocked(tok Token) {
	s.token.Set(tok.ID, tok.Renewable, time.Duration(tok.TTL)*time.Second, s.clock.Now())
	s.logger.Debug("Cached token %s for %s (renewable=%t, ttl=%ds)", logging.Secret(tok.ID), s.conn.Name, tok.Renewable, tok.TTL)
	metrics.SetAuthenticated(s.conn.Name, tok.ID != "")
	s.scheduleLocked(tok)
}

// Dispose cancels any pending renewal, clears the client token and destroys
// the cached token. In-flight calls complete but their results are dropped.
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.cancelLocked()
	if s.client != nil {
		s.client.ClearToken()
	}
	s.token.Clear()
	metrics.SetAuthenticated(s.conn.Name, false)
}

// Status returns a snapshot for display.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.token.Snapshot()
	return Status{
		Authenticated: snap.Set,
		Renewable:     snap.Renewable,
		TTL:           snap.TTL,
		IssuedAt:      snap.IssuedAt,
		ExpiresAt:     snap.ExpiresAt(),
		NextAction:    s.next,
		NextAt:        s.nextAt,
		LastError:     s.lastErr,
	}
}

func (s *Session) activeClient() (backend.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil || !s.token.Snapshot().Set {
		return nil, dserrors.ErrNotAuthenticated
	}
	return s.client, nil
}

// Mounts lists the kv and cubbyhole mounts visible to the token, sorted by
// name.
func (s *Session) Mounts(ctx context.Context) ([]Mount, error) {
	client, err := s.activeClient()
	if err != nil {
		return nil, err
	}

	raw, err := client.ListMounts(ctx)
	if err != nil {
		return nil, err
	}

	mounts := make([]Mount, 0, len(raw))
	for path, info := range raw {
		if info.Type != EngineKV && info.Type != EngineCubbyhole {
			continue
		}
		mounts = append(mounts, Mount{
			Name:    strings.TrimSuffix(path, "/"),
			Type:    info.Type,
			Version: info.Options["version"],
		})
	}
	sort.Slice(mounts, func(i, j int) bool { return mounts[i].Name < mounts[j].Name })
	return mounts, nil
}

// Secrets lists the entries under subPath of mount. A missing path is an
// empty listing.
func (s *Session) Secrets(ctx context.Context, mount Mount, subPath string) ([]SecretRef, error) {
	client, err := s.activeClient()
	if err != nil {
		return nil, err
	}

	keys, err := client.List(ctx, mount.ListPath(subPath))
	if err != nil {
		return nil, err
	}

	folder := mount
	folder.SubFolder = subPath
	refs := make([]SecretRef, 0, len(keys))
	for _, key := range keys {
		refs = append(refs, SecretRef{Name: key, Mount: folder})
	}
	return refs, nil
}

// Data reads a secret and flattens its payload. A missing secret yields no
// pairs.
func (s *Session) Data(ctx context.Context, ref SecretRef) ([]flatten.Pair, error) {
	client, err := s.activeClient()
	if err != nil {
		return nil, err
	}

	raw, err := client.Read(ctx, ref.Mount.DataPath(ref.Name))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	var payload any = raw
	if ref.Mount.Kind() == KindKV2 {
		payload = raw["data"]
	}
	return flatten.Flatten(payload), nil
}
