package commands

import (
	"context"
	"io"

	"github.com/systmms/vaultenv/internal/backend"
	"github.com/systmms/vaultenv/internal/backend/vault"
	"github.com/systmms/vaultenv/internal/catalog"
	"github.com/systmms/vaultenv/internal/config"
	"github.com/systmms/vaultenv/internal/controller"
	"github.com/systmms/vaultenv/internal/report"
	"github.com/systmms/vaultenv/internal/session"
	"github.com/systmms/vaultenv/internal/tracing"
)

// Version is stamped into trace resources. Set by main.
var Version = "dev"

// dialer builds the backend client of every session. Tests replace it.
var dialer backend.Dialer = vault.Dialer

// runtime holds the live sessions of one command invocation.
type runtime struct {
	cfg     *config.Config
	tree    *catalog.Tree
	ctl     *controller.Controller
	tracing *tracing.Provider
}

// newRuntime loads the configuration and builds one server node per valid
// connection. Ignored connections are logged as warnings.
func newRuntime(ctx context.Context, cfg *config.Config, reporter report.Reporter, traceOut io.Writer) (*runtime, error) {
	if err := cfg.Load(); err != nil {
		return nil, err
	}

	tp := tracing.Disabled()
	d := dialer
	if cfg.Trace {
		var err error
		tp, err = tracing.Setup(ctx, "stdout", Version, traceOut)
		if err != nil {
			return nil, err
		}
		d = backend.TracedDialer(dialer, tp.Tracer())
	}

	tree := catalog.New(catalog.Options{
		Reporter: reporter,
		Logger:   cfg.Logger,
		NewSession: func(conn config.Connection) catalog.Session {
			return session.New(conn, session.Options{
				Dialer:   d,
				Reporter: reporter,
				Logger:   cfg.Logger,
				Timeout:  cfg.Timeout,
			})
		},
	})

	for _, p := range tree.SetConnections(cfg.Definition.Connections) {
		cfg.Logger.Warn("Ignoring %s", p)
	}
	if len(tree.Servers()) == 0 {
		cfg.Logger.Warn("No vault server configured")
	}

	ctl := controller.New(tree, controller.Options{
		Reporter: reporter,
		Logger:   cfg.Logger,
		Timeout:  cfg.Timeout,
	})

	return &runtime{cfg: cfg, tree: tree, ctl: ctl, tracing: tp}, nil
}

// Close disposes every session and flushes pending spans.
func (r *runtime) Close(ctx context.Context) {
	r.tree.Close()
	if err := r.tracing.Shutdown(ctx); err != nil {
		r.cfg.Logger.Debug("%v", err)
	}
}

// origin returns the header origin for written blocks: the flag value when
// set, else the configuration's.
func (r *runtime) origin(flag string) string {
	if flag != "" {
		return flag
	}
	return r.cfg.Definition.HeaderOrigin()
}
