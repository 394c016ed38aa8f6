// Package catalog mirrors the namespace of the configured Vault servers as a
// lazily loaded tree.
//
// Nodes live in an arena and are addressed by NodeID. A node's children are
// fetched the first time it is refreshed; later refreshes reconcile the new
// listing into the existing children so that every node still listed keeps
// its NodeID and its already loaded subtree.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/systmms/vaultenv/internal/config"
	dserrors "github.com/systmms/vaultenv/internal/errors"
	"github.com/systmms/vaultenv/internal/flatten"
	"github.com/systmms/vaultenv/internal/logging"
	"github.com/systmms/vaultenv/internal/report"
	"github.com/systmms/vaultenv/internal/session"
)

// NodeID addresses a node in the tree. The zero value is the invisible root
// whose children are the server nodes.
type NodeID uint64

// Root is the parent of every server node.
const Root NodeID = 0

// Kind is the role of a node.
type Kind string

const (
	KindServer Kind = "server"
	KindMount  Kind = "mount"
	KindFolder Kind = "folder"
	KindSecret Kind = "secret"
	KindEmpty  Kind = "empty"
)

// State is the connection state of a server node.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	// StateWarning marks a connected server whose last refresh failed.
	StateWarning State = "warning"
)

// EmptyLabel is the label of the placeholder of a loaded but empty listing.
const EmptyLabel = "Empty"

// Session is what the tree needs from a credential session.
type Session interface {
	Login(ctx context.Context, surfaceErrors bool) error
	Mounts(ctx context.Context) ([]session.Mount, error)
	Secrets(ctx context.Context, mount session.Mount, subPath string) ([]session.SecretRef, error)
	Data(ctx context.Context, ref session.SecretRef) ([]flatten.Pair, error)
	Status() session.Status
	Dispose()
}

// SessionFactory builds the session of a newly configured server.
type SessionFactory func(conn config.Connection) Session

// Options configures a Tree. Zero values get defaults.
type Options struct {
	NewSession SessionFactory
	Reporter   report.Reporter
	Logger     *logging.Logger
}

type node struct {
	id       NodeID
	parent   NodeID
	label    string
	kind     Kind
	children []NodeID
	loaded   bool

	// server nodes
	conn    config.Connection
	session Session
	state   State
	// gen is bumped whenever the server drops its subtree; a refresh that
	// started in an older generation is discarded.
	gen uint64

	// mount nodes
	mount session.Mount
	// secret nodes
	ref session.SecretRef
}

// priority orders siblings: folders before secrets.
func (n *node) priority() int {
	if n.kind == KindSecret {
		return 1
	}
	return 0
}

// NodeInfo is an immutable snapshot of a node.
type NodeInfo struct {
	ID       NodeID
	Parent   NodeID
	Label    string
	Kind     Kind
	Loaded   bool
	Children []NodeID

	// Server is the label of the owning server node.
	Server string
	// State is only meaningful for server nodes.
	State State
	// Mount is the mount a mount, folder or secret node belongs to.
	Mount session.Mount
	// Secret is set on secret nodes.
	Secret session.SecretRef
}

// Expandable reports whether the node can have children.
func (i NodeInfo) Expandable() bool {
	switch i.Kind {
	case KindServer:
		return i.State != StateDisconnected
	case KindMount, KindFolder:
		return true
	}
	return false
}

// Tree is the catalog of all configured servers.
type Tree struct {
	newSession SessionFactory
	reporter   report.Reporter
	logger     *logging.Logger

	mu      sync.Mutex
	nodes   map[NodeID]*node
	servers []NodeID
	nextID  NodeID
}

// New creates an empty tree.
func New(opts Options) *Tree {
	if opts.Reporter == nil {
		opts.Reporter = report.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.NewSession == nil {
		reporter, logger := opts.Reporter, opts.Logger
		opts.NewSession = func(conn config.Connection) Session {
			return session.New(conn, session.Options{Reporter: reporter, Logger: logger})
		}
	}

	return &Tree{
		newSession: opts.NewSession,
		reporter:   opts.Reporter,
		logger:     opts.Logger,
		nodes:      make(map[NodeID]*node),
	}
}

// ErrUnknownNode is returned for a NodeID that is not, or no longer, in the
// tree.
var ErrUnknownNode = errors.New("unknown catalog node")

// Servers returns the server nodes in configuration order.
func (t *Tree) Servers() []NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]NodeID(nil), t.servers...)
}

// Node returns a snapshot of id.
func (t *Tree) Node(id NodeID) (NodeInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return NodeInfo{}, false
	}
	return t.infoLocked(n), true
}

func (t *Tree) infoLocked(n *node) NodeInfo {
	info := NodeInfo{
		ID:     n.id,
		Parent: n.parent,
		Label:  n.label,
		Kind:   n.kind,
		Loaded: n.loaded,
		Secret: n.ref,
	}
	if n.loaded {
		info.Children = append([]NodeID{}, n.children...)
	}

	for p := n; p != nil; p = t.nodes[p.parent] {
		if p.kind == KindServer {
			info.Server = p.label
			info.State = p.state
		}
	}

	switch n.kind {
	case KindMount, KindFolder:
		sub, m := t.totalPathLocked(n)
		info.Mount = m.mount
		info.Mount.SubFolder = sub
	case KindSecret:
		info.Mount = n.ref.Mount
	}
	return info
}

// Children returns the children of id and whether they were loaded. The
// children of Root are the servers.
func (t *Tree) Children(id NodeID) ([]NodeID, bool) {
	if id == Root {
		return t.Servers(), true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok || !n.loaded {
		return nil, false
	}
	return append([]NodeID{}, n.children...), true
}

// Lookup finds the child of parent with the given label. An exact label
// match wins; otherwise a folder may be named without its trailing slash.
// Callers that need a container pass the folder form ("app/") first.
func (t *Tree) Lookup(parent NodeID, label string) (NodeID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var children []NodeID
	if parent == Root {
		children = t.servers
	} else if n, ok := t.nodes[parent]; ok {
		children = n.children
	}

	for _, id := range children {
		if t.nodes[id].label == label {
			return id, true
		}
	}
	for _, id := range children {
		if c := t.nodes[id]; c.kind == KindFolder && c.label == label+"/" {
			return id, true
		}
	}
	return 0, false
}

// ID returns the path-like identifier of a node, e.g. "/dev/kv/app/" for a
// folder or "/dev/kv/app/db" for a secret. Servers, mounts and folders end in
// a slash, so a folder and a sibling secret of the same name get distinct
// IDs. It is stable for as long as the node exists.
func (t *Tree) ID(id NodeID) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return "/"
	}

	var labels []string
	for cur, ok := n, true; ok; cur, ok = t.nodes[cur.parent] {
		labels = append(labels, strings.TrimSuffix(cur.label, "/"))
	}

	var b strings.Builder
	for i := len(labels) - 1; i >= 0; i-- {
		b.WriteString("/")
		b.WriteString(labels[i])
	}
	if n.kind != KindSecret && n.kind != KindEmpty {
		b.WriteString("/")
	}
	return b.String()
}

// Status returns the session status of a server node.
func (t *Tree) Status(id NodeID) (session.Status, error) {
	t.mu.Lock()
	n, ok := t.nodes[id]
	if !ok || n.kind != KindServer {
		t.mu.Unlock()
		return session.Status{}, ErrUnknownNode
	}
	sess := n.session
	t.mu.Unlock()

	return sess.Status(), nil
}

// Read fetches and flattens the payload of a secret node.
func (t *Tree) Read(ctx context.Context, id NodeID) ([]flatten.Pair, error) {
	t.mu.Lock()
	n, ok := t.nodes[id]
	if !ok || n.kind != KindSecret {
		t.mu.Unlock()
		return nil, ErrUnknownNode
	}
	ref := n.ref
	sess := t.serverLocked(n).session
	t.mu.Unlock()

	return sess.Data(ctx, ref)
}

// serverLocked returns the server node owning n. Must hold t.mu.
func (t *Tree) serverLocked(n *node) *node {
	for p := n; p != nil; p = t.nodes[p.parent] {
		if p.kind == KindServer {
			return p
		}
	}
	panic(dserrors.InvariantViolation{Message: fmt.Sprintf("node %q has no server ancestor", n.label)})
}

// totalPathLocked returns the sub path of a folder relative to its mount
// and the mount node. Must hold t.mu.
func (t *Tree) totalPathLocked(n *node) (string, *node) {
	path := ""
	for p := n; p != nil; p = t.nodes[p.parent] {
		switch p.kind {
		case KindMount:
			return path, p
		case KindFolder:
			path = p.label + path
		default:
			panic(dserrors.InvariantViolation{Message: fmt.Sprintf("folder %q has no mount ancestor", n.label)})
		}
	}
	panic(dserrors.InvariantViolation{Message: fmt.Sprintf("folder %q has no mount ancestor", n.label)})
}

func (t *Tree) add(parent NodeID, label string, kind Kind) *node {
	t.nextID++
	n := &node{id: t.nextID, parent: parent, label: label, kind: kind}
	t.nodes[n.id] = n
	return n
}

// dropLocked removes the subtree rooted at id from the arena.
func (t *Tree) dropLocked(id NodeID) {
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	for _, c := range n.children {
		t.dropLocked(c)
	}
	delete(t.nodes, id)
}
