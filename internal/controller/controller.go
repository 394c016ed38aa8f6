// Package controller connects the catalog tree to a host that pulls the
// children of a node on demand, and implements the user actions (connect,
// refresh, disconnect, write) with their error reporting.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/systmms/vaultenv/internal/catalog"
	dserrors "github.com/systmms/vaultenv/internal/errors"
	"github.com/systmms/vaultenv/internal/envfile"
	"github.com/systmms/vaultenv/internal/flatten"
	"github.com/systmms/vaultenv/internal/logging"
	"github.com/systmms/vaultenv/internal/report"
)

// Options configures a Controller. Zero values get defaults.
type Options struct {
	Reporter report.Reporter
	Logger   *logging.Logger
	Timeout  time.Duration
	// OnChange is called after a node's children changed.
	OnChange func(id catalog.NodeID)
}

// Controller drives a catalog.Tree.
type Controller struct {
	tree     *catalog.Tree
	reporter report.Reporter
	logger   *logging.Logger
	timeout  time.Duration
	onChange func(id catalog.NodeID)

	loads singleflight.Group
}

// New creates a controller for tree.
func New(tree *catalog.Tree, opts Options) *Controller {
	if opts.Reporter == nil {
		opts.Reporter = report.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.OnChange == nil {
		opts.OnChange = func(catalog.NodeID) {}
	}

	return &Controller{
		tree:     tree,
		reporter: opts.Reporter,
		logger:   opts.Logger,
		timeout:  opts.Timeout,
		onChange: opts.OnChange,
	}
}

// Tree returns the controlled tree.
func (c *Controller) Tree() *catalog.Tree {
	return c.tree
}

// GetChildren returns the children of id. The children of catalog.Root are
// the servers. A node that was never loaded is refreshed first when it is
// expandable; concurrent calls for the same node share one refresh. A
// disconnected server has no children.
func (c *Controller) GetChildren(ctx context.Context, id catalog.NodeID) ([]catalog.NodeInfo, error) {
	if id != catalog.Root {
		info, ok := c.tree.Node(id)
		if !ok {
			return nil, catalog.ErrUnknownNode
		}
		if !info.Loaded && info.Expandable() {
			if err := c.load(ctx, id); err != nil {
				return nil, err
			}
		}
	}

	children, _ := c.tree.Children(id)
	out := make([]catalog.NodeInfo, 0, len(children))
	for _, child := range children {
		if info, ok := c.tree.Node(child); ok {
			out = append(out, info)
		}
	}
	return out, nil
}

// GetParent returns the parent of id, or catalog.Root for servers.
func (c *Controller) GetParent(id catalog.NodeID) (catalog.NodeID, bool) {
	info, ok := c.tree.Node(id)
	if !ok {
		return catalog.Root, false
	}
	return info.Parent, true
}

func (c *Controller) load(ctx context.Context, id catalog.NodeID) error {
	_, err, _ := c.loads.Do(strconv.FormatUint(uint64(id), 10), func() (any, error) {
		ctx, cancel := withTimeout(ctx, c.timeout)
		defer cancel()

		if err := c.tree.Refresh(ctx, id, false); err != nil {
			return nil, err
		}
		c.onChange(id)
		return nil, nil
	})
	return err
}

// Connect logs a server in. A failure is reported as
// "Unable to connect to Vault (...)" and returned.
func (c *Controller) Connect(ctx context.Context, id catalog.NodeID) error {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.tree.Connect(ctx, id); err != nil {
		return c.fail("Unable to connect to Vault", "connect", id, timeoutError(err, "login", c.timeout))
	}
	c.logger.Debug("Connected to %s", c.tree.ID(id))
	c.onChange(catalog.Root)
	return nil
}

// Refresh reloads the children of id, surfacing any failure as
// "Unable to refresh Vault data (...)".
func (c *Controller) Refresh(ctx context.Context, id catalog.NodeID) error {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.tree.Refresh(ctx, id, true); err != nil {
		return c.fail("Unable to refresh Vault data", "refresh", id, timeoutError(err, "listing", c.timeout))
	}
	c.onChange(id)
	return nil
}

// Disconnect disposes a server's session and unloads its subtree.
func (c *Controller) Disconnect(id catalog.NodeID) error {
	if err := c.tree.Disconnect(id); err != nil {
		return c.fail("Unable to disconnect from Vault", "disconnect", id, err)
	}
	c.onChange(catalog.Root)
	return nil
}

// Read fetches the flattened payload of a secret node.
func (c *Controller) Read(ctx context.Context, id catalog.NodeID) ([]flatten.Pair, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	pairs, err := c.tree.Read(ctx, id)
	if err != nil {
		return nil, c.wrap("read", id, timeoutError(err, "read", c.timeout))
	}
	return pairs, nil
}

// Write reads a secret node and appends it as a block through w. A failure
// is reported as "Unable to write .env from Vault (...)".
func (c *Controller) Write(ctx context.Context, id catalog.NodeID, w *envfile.Writer) (int, error) {
	info, ok := c.tree.Node(id)
	if !ok {
		return 0, c.fail("Unable to write .env from Vault", "write", id, catalog.ErrUnknownNode)
	}
	if info.Kind != catalog.KindSecret {
		return 0, c.fail("Unable to write .env from Vault", "write", id, fmt.Errorf("%s is not a secret", c.tree.ID(id)))
	}

	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	pairs, err := c.tree.Read(ctx, id)
	if err != nil {
		return 0, c.fail("Unable to write .env from Vault", "write", id, timeoutError(err, "read", c.timeout))
	}

	n, err := w.Append(envfile.Block{
		Server: info.Server,
		Mount:  info.Mount.Name,
		Secret: info.Secret.Path(),
		Pairs:  pairs,
	})
	if err != nil {
		return 0, c.fail("Unable to write .env from Vault", "write", id, err)
	}
	return n, nil
}

// ReportedError is a failure of a user action that was already sent to the
// reporter. Hosts that print reports need not print it again.
type ReportedError struct {
	Err error
}

func (e *ReportedError) Error() string {
	return e.Err.Error()
}

func (e *ReportedError) Unwrap() error {
	return e.Err
}

// IsReported reports whether err was already sent to the reporter.
func IsReported(err error) bool {
	var re *ReportedError
	return errors.As(err, &re)
}

func (c *Controller) fail(prefix, operation string, id catalog.NodeID, err error) error {
	c.reporter.Report(fmt.Sprintf("%s (%s)", prefix, dserrors.Message(err)))
	return &ReportedError{Err: c.wrap(operation, id, err)}
}

func (c *Controller) wrap(operation string, id catalog.NodeID, err error) error {
	info, _ := c.tree.Node(id)
	return dserrors.BackendError(info.Server, operation, err)
}
