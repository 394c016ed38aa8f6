package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/systmms/vaultenv/internal/catalog"
	"github.com/systmms/vaultenv/internal/config"
	"github.com/systmms/vaultenv/internal/controller"
	dserrors "github.com/systmms/vaultenv/internal/errors"
	"github.com/systmms/vaultenv/internal/report"
)

// oneShot builds the runtime of a non-interactive command. Failures of user
// actions are returned, so reports only go to the debug log.
func oneShot(cmd *cobra.Command, cfg *config.Config) (*runtime, error) {
	reporter := report.Func(func(message string) {
		cfg.Logger.Debug("%s", message)
	})
	return newRuntime(cmd.Context(), cfg, reporter, cmd.ErrOrStderr())
}

// loadedChildren returns the children of id, loading them first and
// surfacing any failure.
func loadedChildren(ctx context.Context, ctl *controller.Controller, id catalog.NodeID) ([]catalog.NodeInfo, error) {
	if id != catalog.Root {
		info, ok := ctl.Tree().Node(id)
		if !ok {
			return nil, catalog.ErrUnknownNode
		}
		if info.Kind == catalog.KindServer {
			if err := ctl.EnsureConnected(ctx, id); err != nil {
				return nil, err
			}
			info, _ = ctl.Tree().Node(id)
		}
		if !info.Loaded && info.Expandable() {
			if err := ctl.Refresh(ctx, id); err != nil {
				return nil, err
			}
		}
	}
	return ctl.GetChildren(ctx, id)
}

// asContainer marks path as naming a server, mount or folder, so that a
// folder wins over a sibling secret with the same name.
func asContainer(path string) string {
	if strings.Trim(path, "/") == "" || strings.HasSuffix(path, "/") {
		return path
	}
	return path + "/"
}

// resolveSecret resolves path and checks that it names a secret.
func resolveSecret(ctx context.Context, ctl *controller.Controller, path string) (catalog.NodeID, error) {
	id, err := ctl.Resolve(ctx, path)
	if err != nil {
		return 0, err
	}
	info, _ := ctl.Tree().Node(id)
	if info.Kind != catalog.KindSecret {
		return 0, dserrors.UserError{
			Message:    fmt.Sprintf("%q is a %s, not a secret", strings.Trim(path, "/"), kindName(info)),
			Suggestion: fmt.Sprintf("Run 'vaultenv ls %s' to list its entries", strings.Trim(path, "/")),
		}
	}
	return id, nil
}

func kindName(info catalog.NodeInfo) string {
	if info.ID == catalog.Root {
		return "root"
	}
	return string(info.Kind)
}

// displayLabel renders a node label for listings.
func displayLabel(info catalog.NodeInfo) string {
	switch info.Kind {
	case catalog.KindMount:
		return info.Label + "/"
	case catalog.KindEmpty:
		return "(empty)"
	}
	return info.Label
}

// writeTree prints the subtree below id, loading nodes on the way. depth 0
// means unlimited.
func writeTree(ctx context.Context, w io.Writer, ctl *controller.Controller, id catalog.NodeID, prefix string, depth int) error {
	if depth == 1 {
		return nil
	}
	children, err := loadedChildren(ctx, ctl, id)
	if err != nil {
		return err
	}

	for i, child := range children {
		branch, indent := "├── ", "│   "
		if i == len(children)-1 {
			branch, indent = "└── ", "    "
		}
		fmt.Fprintf(w, "%s%s%s\n", prefix, branch, displayLabel(child))

		if child.Kind == catalog.KindServer || child.Expandable() {
			next := depth
			if depth > 1 {
				next = depth - 1
			}
			if err := writeTree(ctx, w, ctl, child.ID, prefix+indent, next); err != nil {
				return err
			}
		}
	}
	return nil
}
