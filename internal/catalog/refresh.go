package catalog

import (
	"context"
	"fmt"
	"slices"
	"time"

	dserrors "github.com/systmms/vaultenv/internal/errors"
	"github.com/systmms/vaultenv/internal/metrics"
	"github.com/systmms/vaultenv/internal/session"
)

type entry struct {
	label string
	kind  Kind
	mount session.Mount
	ref   session.SecretRef
}

type childKey struct {
	label string
	kind  Kind
}

// Refresh fetches the listing of an expandable node and reconciles it into
// the node's children. Children still listed keep their NodeID and subtree;
// the rest are removed. An empty listing leaves exactly one placeholder.
//
// On failure with surfaceErrors the error is returned and the tree is left
// untouched. Otherwise the failure is reported as "Vault Error: (...)", a
// connected server is marked with StateWarning and a node that was never
// loaded gets a placeholder.
//
// Refreshing a secret or a placeholder is a no-op.
func (t *Tree) Refresh(ctx context.Context, id NodeID, surfaceErrors bool) error {
	t.mu.Lock()
	n, ok := t.nodes[id]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownNode
	}

	kind := n.kind
	server := t.serverLocked(n)
	sess, gen := server.session, server.gen

	var (
		mount session.Mount
		sub   string
	)
	switch kind {
	case KindServer:
	case KindMount, KindFolder:
		var m *node
		sub, m = t.totalPathLocked(n)
		mount = m.mount
	default:
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	start := time.Now()
	entries, err := fetch(ctx, sess, kind, mount, sub)
	metrics.RecordRefresh(string(kind), time.Since(start), err)

	if err != nil && surfaceErrors {
		return err
	}

	t.mu.Lock()
	n, ok = t.nodes[id]
	if !ok || t.serverLocked(n).gen != gen {
		// Dropped or disconnected while the listing was in flight.
		t.mu.Unlock()
		return nil
	}

	if err == nil {
		t.reconcileLocked(n, entries)
		if n.kind == KindServer && n.state == StateWarning {
			n.state = StateConnected
		}
		t.mu.Unlock()
		return nil
	}

	if n.kind == KindServer && n.state == StateConnected {
		n.state = StateWarning
	}
	if !n.loaded {
		n.children = []NodeID{t.placeholderLocked(n).id}
		n.loaded = true
	}
	label := n.label
	t.mu.Unlock()

	t.logger.Debug("Refresh of %s failed: %v", label, err)
	t.reporter.Report(fmt.Sprintf("Vault Error: (%s)", dserrors.Message(err)))
	return nil
}

func fetch(ctx context.Context, sess Session, kind Kind, mount session.Mount, sub string) ([]entry, error) {
	if kind == KindServer {
		mounts, err := sess.Mounts(ctx)
		if err != nil {
			return nil, err
		}
		entries := make([]entry, 0, len(mounts))
		for _, m := range mounts {
			entries = append(entries, entry{label: m.Name, kind: KindMount, mount: m})
		}
		return entries, nil
	}

	refs, err := sess.Secrets(ctx, mount, sub)
	if err != nil {
		return nil, err
	}
	entries := make([]entry, 0, len(refs))
	for _, ref := range refs {
		k := KindSecret
		if ref.IsFolder() {
			k = KindFolder
		}
		entries = append(entries, entry{label: ref.Name, kind: k, ref: ref})
	}
	return entries, nil
}

// reconcileLocked replaces the children of n with entries, reusing every
// previous child of equal label and kind. Must hold t.mu.
func (t *Tree) reconcileLocked(n *node, entries []entry) {
	previous := make(map[childKey]NodeID, len(n.children))
	for _, id := range n.children {
		c := t.nodes[id]
		previous[childKey{c.label, c.kind}] = id
	}

	kept := make(map[NodeID]bool, len(entries))
	children := make([]NodeID, 0, len(entries))

	if len(entries) == 0 {
		p := t.placeholderLocked(n)
		kept[p.id] = true
		children = append(children, p.id)
	}

	for _, e := range entries {
		id, ok := previous[childKey{e.label, e.kind}]
		if ok && !kept[id] {
			children = t.insertLocked(children, t.nodes[id])
			kept[id] = true
			continue
		}

		c := t.add(n.id, e.label, e.kind)
		switch e.kind {
		case KindMount:
			c.mount = e.mount
		case KindSecret:
			c.ref = e.ref
			c.loaded = true
		}
		children = t.insertLocked(children, c)
		kept[c.id] = true
	}

	for _, id := range n.children {
		if !kept[id] {
			t.dropLocked(id)
		}
	}
	n.children = children
	n.loaded = true
}

// placeholderLocked returns the existing placeholder child of n or a new
// one. Must hold t.mu.
func (t *Tree) placeholderLocked(n *node) *node {
	for _, id := range n.children {
		if c := t.nodes[id]; c.kind == KindEmpty {
			return c
		}
	}
	p := t.add(n.id, EmptyLabel, KindEmpty)
	p.loaded = true
	return p
}

// insertLocked splices c before the first sibling ordered at or after it by
// (priority, label), or appends it. Must hold t.mu.
func (t *Tree) insertLocked(children []NodeID, c *node) []NodeID {
	for i, id := range children {
		s := t.nodes[id]
		if s.priority() > c.priority() || (s.priority() == c.priority() && s.label >= c.label) {
			return slices.Insert(children, i, c.id)
		}
	}
	return append(children, c.id)
}
