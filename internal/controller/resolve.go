package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/systmms/vaultenv/internal/catalog"
	dserrors "github.com/systmms/vaultenv/internal/errors"
)

// SplitPath splits "dev/kv/app/db" into its non-empty segments.
func SplitPath(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// Resolve walks a slash separated path such as "dev/kv/app/db" from the root.
// A disconnected server is connected and nodes on the way are loaded as
// needed. Folders may be named with or without their trailing slash. Every
// segment but the last names a container, so a folder wins over a sibling
// secret of the same name there; the last segment prefers the folder only
// when the path ends in a slash. The empty path resolves to catalog.Root.
func (c *Controller) Resolve(ctx context.Context, path string) (catalog.NodeID, error) {
	segments := SplitPath(path)
	trailingSlash := strings.HasSuffix(path, "/")
	if len(segments) == 0 {
		return catalog.Root, nil
	}

	server, ok := c.tree.Lookup(catalog.Root, segments[0])
	if !ok {
		return 0, dserrors.UserError{
			Message:    fmt.Sprintf("Unknown server %q", segments[0]),
			Suggestion: "Run 'vaultenv servers' to list the configured servers",
		}
	}
	if err := c.EnsureConnected(ctx, server); err != nil {
		return 0, err
	}

	current := server
	for i, segment := range segments[1:] {
		info, ok := c.tree.Node(current)
		if !ok {
			return 0, catalog.ErrUnknownNode
		}
		if !info.Expandable() {
			return 0, dserrors.UserError{
				Message: fmt.Sprintf("%q is a %s and has no children", strings.Join(segments[:i+1], "/"), info.Kind),
			}
		}
		if !info.Loaded {
			if err := c.Refresh(ctx, current); err != nil {
				return 0, err
			}
		}

		container := trailingSlash || i < len(segments)-2
		next, ok := c.lookup(current, segment, container)
		if !ok {
			parent := strings.Join(segments[:i+1], "/")
			return 0, dserrors.UserError{
				Message:    fmt.Sprintf("No entry %q under %s", segment, parent),
				Suggestion: fmt.Sprintf("Run 'vaultenv ls %s' to see what is there", parent),
			}
		}
		current = next
	}
	return current, nil
}

// lookup finds segment below parent. With container set the folder form is
// tried first.
func (c *Controller) lookup(parent catalog.NodeID, segment string, container bool) (catalog.NodeID, bool) {
	if container {
		if id, ok := c.tree.Lookup(parent, segment+"/"); ok {
			return id, true
		}
	}
	return c.tree.Lookup(parent, segment)
}

// EnsureConnected connects a server node that is disconnected.
func (c *Controller) EnsureConnected(ctx context.Context, id catalog.NodeID) error {
	info, ok := c.tree.Node(id)
	if !ok {
		return catalog.ErrUnknownNode
	}
	if info.Kind != catalog.KindServer || info.State != catalog.StateDisconnected {
		return nil
	}
	return c.Connect(ctx, id)
}
