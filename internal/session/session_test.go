package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultenv/internal/backend/fakes"
	"github.com/systmms/vaultenv/internal/config"
	dserrors "github.com/systmms/vaultenv/internal/errors"
	"github.com/systmms/vaultenv/internal/flatten"
	"github.com/systmms/vaultenv/internal/logging"
	"github.com/systmms/vaultenv/internal/report"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
	quiet   = 100 * time.Millisecond
)

func tokenConn() config.Connection {
	return config.Connection{
		Name:      "dev",
		Endpoint:  "http://vault.local:8200/",
		Namespace: "team-a",
		Auth:      config.Auth{Method: config.MethodToken, Token: "root"},
	}
}

func userpassConn() config.Connection {
	return config.Connection{
		Name:     "ops",
		Endpoint: "http://vault.local:8200",
		Auth: config.Auth{
			Method:     config.MethodUsername,
			MountPoint: "userpass",
			Username:   "alice",
			Password:   "wonderland",
		},
	}
}

type harness struct {
	session  *Session
	clock    *testclock.Clock
	reporter *report.Recorder
	dialer   *fakes.Dialer
	fake     *fakes.Client
}

func newHarness(t *testing.T, conn config.Connection, fake *fakes.Client) *harness {
	t.Helper()

	h := &harness{
		clock:    testclock.NewClock(t0),
		reporter: &report.Recorder{},
		dialer:   fakes.NewDialer(fake),
		fake:     fake,
	}
	h.session = New(conn, Options{
		Dialer:   h.dialer,
		Clock:    h.clock,
		Reporter: h.reporter,
		Logger:   logging.Discard(),
	})
	t.Cleanup(h.session.Dispose)
	return h
}

func TestNextAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		token  Token
		action Action
		delay  time.Duration
	}{
		{"renewable", Token{Renewable: true, TTL: 100}, ActionRenew, 90 * time.Second},
		{"renewable one second", Token{Renewable: true, TTL: 1}, ActionRenew, 900 * time.Millisecond},
		{"renewable hour", Token{Renewable: true, TTL: 3600}, ActionRenew, 54 * time.Minute},
		{"non-renewable with ttl", Token{Renewable: false, TTL: 60}, ActionLogin, 60 * time.Second},
		{"static token", Token{Renewable: false, TTL: 0}, ActionNone, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			action, delay := NextAction(tt.token)
			assert.Equal(t, tt.action, action)
			assert.Equal(t, tt.delay, delay)
		})
	}
}

func TestLogin_TokenSchedulesRenewal(t *testing.T) {
	t.Parallel()

	fake := fakes.NewClient().WithToken("root", true, 100).WithRenewal(true, 100)
	h := newHarness(t, tokenConn(), fake)

	require.NoError(t, h.session.Login(context.Background(), true))

	status := h.session.Status()
	assert.True(t, status.Authenticated)
	assert.True(t, status.Renewable)
	assert.Equal(t, 100*time.Second, status.TTL)
	assert.Equal(t, t0.Add(100*time.Second), status.ExpiresAt)
	assert.Equal(t, ActionRenew, status.NextAction)
	assert.Equal(t, t0.Add(90*time.Second), status.NextAt)
	assert.Equal(t, "root", fake.Token())

	h.clock.Advance(89 * time.Second)
	assert.Never(t, func() bool { return fake.CallCount(fakes.OpRenew) > 0 }, quiet, tick)

	h.clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return fake.CallCount(fakes.OpRenew) == 1 }, waitFor, tick)

	// The renewal reschedules itself from the fresh lease.
	assert.Eventually(t, func() bool {
		return h.session.Status().NextAt.Equal(t0.Add(180 * time.Second))
	}, waitFor, tick)

	h.clock.Advance(90 * time.Second)
	assert.Eventually(t, func() bool { return fake.CallCount(fakes.OpRenew) == 2 }, waitFor, tick)
	assert.Equal(t, 1, h.dialer.Dials(), "renewal does not build a new client")
	assert.Zero(t, h.reporter.Len())
}

func TestLogin_NonRenewableSchedulesLogin(t *testing.T) {
	t.Parallel()

	fake := fakes.NewClient().WithToken("root", false, 60)
	h := newHarness(t, tokenConn(), fake)

	require.NoError(t, h.session.Login(context.Background(), true))

	status := h.session.Status()
	assert.Equal(t, ActionLogin, status.NextAction)
	assert.Equal(t, t0.Add(60*time.Second), status.NextAt)

	h.clock.Advance(59 * time.Second)
	assert.Never(t, func() bool { return h.dialer.Dials() > 1 }, quiet, tick)

	h.clock.Advance(time.Second)
	assert.Eventually(t, func() bool {
		return h.dialer.Dials() == 2 && fake.CallCount(fakes.OpLookup) == 2
	}, waitFor, tick)
	assert.Equal(t, 0, fake.CallCount(fakes.OpRenew))
}

func TestLogin_StaticTokenSchedulesNothing(t *testing.T) {
	t.Parallel()

	fake := fakes.NewClient().WithToken("root", false, 0)
	h := newHarness(t, tokenConn(), fake)

	require.NoError(t, h.session.Login(context.Background(), true))

	status := h.session.Status()
	assert.True(t, status.Authenticated)
	assert.Equal(t, ActionNone, status.NextAction)
	assert.True(t, status.NextAt.IsZero())
	assert.True(t, status.ExpiresAt.IsZero())

	calls := fake.TotalCalls()
	h.clock.Advance(24 * time.Hour)
	assert.Never(t, func() bool { return fake.TotalCalls() != calls }, quiet, tick)
}

func TestRenewalFailureFallsBackToLogin(t *testing.T) {
	t.Parallel()

	fake := fakes.NewClient().
		WithToken("root", true, 100).
		WithError(fakes.OpRenew, errors.New("permission denied"))
	h := newHarness(t, tokenConn(), fake)

	require.NoError(t, h.session.Login(context.Background(), true))

	h.clock.Advance(90 * time.Second)
	assert.Eventually(t, func() bool {
		return fake.CallCount(fakes.OpRenew) == 1 && fake.CallCount(fakes.OpLookup) == 2
	}, waitFor, tick)

	assert.Eventually(t, func() bool {
		status := h.session.Status()
		return status.Authenticated && status.NextAt.Equal(t0.Add(180*time.Second))
	}, waitFor, tick)
	assert.Zero(t, h.reporter.Len(), "a successful fallback login reports nothing")
}

func TestRenewalAndLoginFailureIsReported(t *testing.T) {
	t.Parallel()

	fake := fakes.NewClient().WithToken("root", true, 100)
	h := newHarness(t, tokenConn(), fake)

	require.NoError(t, h.session.Login(context.Background(), true))

	fake.WithError(fakes.OpRenew, errors.New("token expired")).
		WithError(fakes.OpLookup, errors.New("permission denied"))

	h.clock.Advance(90 * time.Second)
	assert.Eventually(t, func() bool { return h.reporter.Len() == 1 }, waitFor, tick)

	message := h.reporter.Messages()[0]
	assert.Contains(t, message, "Login Vault Error: (")
	assert.Contains(t, message, "permission denied")
	assert.Contains(t, h.session.Status().LastError, "permission denied")
}

func TestLogin_SurfaceErrors(t *testing.T) {
	t.Parallel()

	fake := fakes.NewClient().WithError(fakes.OpLookup, errors.New("permission denied"))
	h := newHarness(t, tokenConn(), fake)

	err := h.session.Login(context.Background(), true)
	require.Error(t, err)
	assert.True(t, dserrors.IsAuth(err))
	assert.Zero(t, h.reporter.Len())
	assert.False(t, h.session.Status().Authenticated)

	require.NoError(t, h.session.Login(context.Background(), false))
	require.Equal(t, 1, h.reporter.Len())
	assert.Equal(t, "Login Vault Error: (auth lookup-self failed: permission denied)", h.reporter.Messages()[0])
}

func TestLogin_FailureRedactsCredentials(t *testing.T) {
	t.Parallel()

	fake := fakes.NewClient().WithError(fakes.OpLogin, errors.New("invalid credentials alice:wonderland"))
	h := newHarness(t, userpassConn(), fake)

	require.NoError(t, h.session.Login(context.Background(), false))
	assert.Equal(t, []string{"Login Vault Error: (auth userpass failed: invalid credentials alice:[REDACTED])"}, h.reporter.Messages())
	assert.NotContains(t, h.session.Status().LastError, "wonderland")
}

func TestLogin_DialFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tokenConn(), fakes.NewClient())
	h.dialer.WithError(errors.New("invalid address"))

	err := h.session.Login(context.Background(), true)
	assert.EqualError(t, err, "invalid address")
}

func TestLogin_Userpass(t *testing.T) {
	t.Parallel()

	fake := fakes.NewClient().WithUserpass("issued", false, 0)
	h := newHarness(t, userpassConn(), fake)

	require.NoError(t, h.session.Login(context.Background(), true))

	assert.Equal(t, "issued", fake.Token())
	assert.Equal(t, 1, fake.CallCount(fakes.OpLogin))
	assert.Equal(t, 0, fake.CallCount(fakes.OpLookup))

	status := h.session.Status()
	assert.True(t, status.Authenticated)
	assert.Equal(t, ActionNone, status.NextAction)
}

func TestLogin_UnknownMethodIsNoop(t *testing.T) {
	t.Parallel()

	conn := tokenConn()
	conn.Auth.Method = "approle"
	fake := fakes.NewClient()
	h := newHarness(t, conn, fake)

	require.NoError(t, h.session.Login(context.Background(), true))

	assert.Equal(t, 1, h.dialer.Dials())
	assert.Zero(t, fake.TotalCalls())
	assert.False(t, h.session.Status().Authenticated)

	_, err := h.session.Mounts(context.Background())
	assert.ErrorIs(t, err, dserrors.ErrNotAuthenticated)
}

func TestNew_NormalizesEndpoint(t *testing.T) {
	t.Parallel()

	fake := fakes.NewClient().WithToken("root", false, 0)
	h := newHarness(t, tokenConn(), fake)

	assert.Equal(t, "dev", h.session.Name())
	assert.Equal(t, "http://vault.local:8200", h.session.Config().Endpoint)

	require.NoError(t, h.session.Login(context.Background(), true))
	endpoints := h.dialer.Endpoints()
	require.Len(t, endpoints, 1)
	assert.Equal(t, "http://vault.local:8200", endpoints[0].Address)
	assert.Equal(t, "team-a", endpoints[0].Namespace)
	assert.Equal(t, DefaultTimeout, endpoints[0].Timeout)
}

func TestLogin_ReplacedClientKeepsToken(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	var tokenDuringCall string

	first := fakes.NewClient().WithToken("root", false, 0).WithMount("kv/", "kv", "2")
	first.WithHook(func(op string) {
		if op != fakes.OpMounts {
			return
		}
		close(entered)
		<-release
		tokenDuringCall = first.Token()
	})
	second := fakes.NewClient().WithToken("root", false, 0)

	dialer := fakes.NewSequenceDialer(first, second)
	s := New(tokenConn(), Options{
		Dialer:   dialer,
		Clock:    testclock.NewClock(t0),
		Reporter: &report.Recorder{},
		Logger:   logging.Discard(),
	})
	t.Cleanup(s.Dispose)
	ctx := context.Background()

	require.NoError(t, s.Login(ctx, true))

	done := make(chan error, 1)
	go func() {
		_, err := s.Mounts(ctx)
		done <- err
	}()
	<-entered

	// Re-login while the listing holds the first client.
	require.NoError(t, s.Login(ctx, true))
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, "root", tokenDuringCall)
	assert.Equal(t, "root", first.Token())
	assert.Equal(t, 2, dialer.Dials())

	s.Dispose()
	assert.Empty(t, second.Token())
}

func TestDispose_CancelsPendingTimer(t *testing.T) {
	t.Parallel()

	fake := fakes.NewClient().WithToken("root", true, 100).WithRenewal(true, 100)
	h := newHarness(t, tokenConn(), fake)

	require.NoError(t, h.session.Login(context.Background(), true))
	calls := fake.TotalCalls()

	h.session.Dispose()

	status := h.session.Status()
	assert.False(t, status.Authenticated)
	assert.Equal(t, ActionNone, status.NextAction)
	assert.Empty(t, fake.Token())

	h.clock.Advance(time.Hour)
	assert.Never(t, func() bool { return fake.TotalCalls() != calls }, quiet, tick)
	assert.Equal(t, 1, h.dialer.Dials())

	_, err := h.session.Mounts(context.Background())
	assert.ErrorIs(t, err, dserrors.ErrNotAuthenticated)
}

func TestDispose_DiscardsInFlightLogin(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	fake := fakes.NewClient().WithToken("root", true, 100).WithHook(func(op string) {
		if op == fakes.OpLookup {
			close(entered)
			<-release
		}
	})
	h := newHarness(t, tokenConn(), fake)

	errCh := make(chan error, 1)
	go func() { errCh <- h.session.Login(context.Background(), true) }()

	<-entered
	h.session.Dispose()
	close(release)
	require.NoError(t, <-errCh)

	status := h.session.Status()
	assert.False(t, status.Authenticated, "token is not applied to a disposed session")
	assert.Equal(t, ActionNone, status.NextAction)
	assert.Empty(t, fake.Token())
}

func TestDispose_ThenLoginAgain(t *testing.T) {
	t.Parallel()

	fake := fakes.NewClient().WithToken("root", false, 30)
	h := newHarness(t, tokenConn(), fake)

	require.NoError(t, h.session.Login(context.Background(), true))
	h.session.Dispose()
	require.NoError(t, h.session.Login(context.Background(), true))

	status := h.session.Status()
	assert.True(t, status.Authenticated)
	assert.Equal(t, ActionLogin, status.NextAction)
}

func connected(t *testing.T, fake *fakes.Client) *harness {
	t.Helper()
	fake.WithToken("root", false, 0)
	h := newHarness(t, tokenConn(), fake)
	require.NoError(t, h.session.Login(context.Background(), true))
	return h
}

func TestMounts_FiltersAndTrims(t *testing.T) {
	t.Parallel()

	fake := fakes.NewClient().
		WithMount("kv/", "kv", "2").
		WithMount("legacy/", "kv", "1").
		WithMount("cubbyhole/", "cubbyhole", "").
		WithMount("pki/", "pki", "").
		WithMount("sys/", "system", "")
	h := connected(t, fake)

	mounts, err := h.session.Mounts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Mount{
		{Name: "cubbyhole", Type: "cubbyhole"},
		{Name: "kv", Type: "kv", Version: "2"},
		{Name: "legacy", Type: "kv", Version: "1"},
	}, mounts)
}

func TestMounts_TransportError(t *testing.T) {
	t.Parallel()

	fake := fakes.NewClient().WithError(fakes.OpMounts, errors.New("connection refused"))
	h := connected(t, fake)

	_, err := h.session.Mounts(context.Background())
	require.Error(t, err)
	assert.True(t, dserrors.IsTransport(err))
}

func TestSecrets(t *testing.T) {
	t.Parallel()

	kv2 := Mount{Name: "kv", Type: "kv", Version: "2"}
	kv1 := Mount{Name: "legacy", Type: "kv"}

	fake := fakes.NewClient().
		WithList("kv/metadata/", "app/", "db").
		WithList("kv/metadata/app/", "api").
		WithList("legacy", "token").
		WithList("legacy/nested/", "deep")
	h := connected(t, fake)
	ctx := context.Background()

	refs, err := h.session.Secrets(ctx, kv2, "")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.True(t, refs[0].IsFolder())
	assert.False(t, refs[1].IsFolder())
	assert.Equal(t, "", refs[1].Mount.SubFolder)

	refs, err = h.session.Secrets(ctx, kv2, "app/")
	require.NoError(t, err)
	require.Equal(t, []SecretRef{{Name: "api", Mount: Mount{Name: "kv", Type: "kv", Version: "2", SubFolder: "app/"}}}, refs)
	assert.Equal(t, "app/api", refs[0].Path())

	refs, err = h.session.Secrets(ctx, kv1, "")
	require.NoError(t, err)
	assert.Equal(t, "token", refs[0].Name)

	refs, err = h.session.Secrets(ctx, kv1, "nested/")
	require.NoError(t, err)
	assert.Equal(t, "deep", refs[0].Name)

	assert.Equal(t, []string{"kv/metadata/", "kv/metadata/app/", "legacy", "legacy/nested/"}, fake.Paths())
}

func TestSecrets_NotFoundIsEmpty(t *testing.T) {
	t.Parallel()

	h := connected(t, fakes.NewClient())

	refs, err := h.session.Secrets(context.Background(), Mount{Name: "kv", Type: "kv", Version: "2"}, "missing/")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestSecrets_ErrorPropagates(t *testing.T) {
	t.Parallel()

	fake := fakes.NewClient().WithError("kv/metadata/", errors.New("permission denied"))
	h := connected(t, fake)

	_, err := h.session.Secrets(context.Background(), Mount{Name: "kv", Type: "kv", Version: "2"}, "")
	require.Error(t, err)
	assert.True(t, dserrors.IsTransport(err))
}

func TestSecrets_NotAuthenticated(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tokenConn(), fakes.NewClient())

	_, err := h.session.Secrets(context.Background(), Mount{Name: "kv"}, "")
	assert.ErrorIs(t, err, dserrors.ErrNotAuthenticated)
	_, err = h.session.Data(context.Background(), SecretRef{Name: "db", Mount: Mount{Name: "kv"}})
	assert.ErrorIs(t, err, dserrors.ErrNotAuthenticated)
}

func TestData(t *testing.T) {
	t.Parallel()

	fake := fakes.NewClient().
		WithSecret("kv/data/app/db", map[string]any{
			"data":     map[string]any{"userName": "admin", "port": 5432},
			"metadata": map[string]any{"version": 3},
		}).
		WithSecret("legacy/db", map[string]any{"password": "s3cr3t"})
	h := connected(t, fake)
	ctx := context.Background()

	pairs, err := h.session.Data(ctx, SecretRef{Name: "db", Mount: Mount{Name: "kv", Type: "kv", Version: "2", SubFolder: "app/"}})
	require.NoError(t, err)
	assert.Equal(t, []flatten.Pair{
		{Key: "PORT", Value: "5432"},
		{Key: "USER_NAME", Value: `"admin"`},
	}, pairs)

	pairs, err = h.session.Data(ctx, SecretRef{Name: "db", Mount: Mount{Name: "legacy", Type: "kv"}})
	require.NoError(t, err)
	assert.Equal(t, []flatten.Pair{{Key: "PASSWORD", Value: `"s3cr3t"`}}, pairs)
}

func TestData_NotFoundIsEmpty(t *testing.T) {
	t.Parallel()

	h := connected(t, fakes.NewClient())

	pairs, err := h.session.Data(context.Background(), SecretRef{Name: "gone", Mount: Mount{Name: "kv", Type: "kv", Version: "2"}})
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestData_ErrorPropagates(t *testing.T) {
	t.Parallel()

	fake := fakes.NewClient().WithError(fakes.OpRead, errors.New("internal error"))
	h := connected(t, fake)

	_, err := h.session.Data(context.Background(), SecretRef{Name: "db", Mount: Mount{Name: "kv", Type: "kv", Version: "2"}})
	require.Error(t, err)
	assert.True(t, dserrors.IsTransport(err))
}
