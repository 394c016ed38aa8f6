package catalog

import (
	"context"

	"github.com/systmms/vaultenv/internal/config"
)

// SetConnections resynchronizes the server nodes with a new configuration.
//
// Invalid entries are dropped and duplicate names keep their last
// occurrence. A server whose connection is unchanged keeps its node, session
// and loaded subtree; new connections get a disconnected node. Servers no
// longer configured have their session disposed and are removed. The
// dropped entries are returned.
func (t *Tree) SetConnections(connections []config.Connection) []config.Problem {
	valid, problems := config.Resolve(connections)

	t.mu.Lock()
	previous := t.servers
	reused := make(map[NodeID]bool, len(previous))
	servers := make([]NodeID, 0, len(valid))

	for _, conn := range valid {
		id, ok := t.matchLocked(previous, reused, conn)
		if !ok {
			n := t.add(Root, conn.Name, KindServer)
			n.conn = conn
			n.session = t.newSession(conn)
			n.state = StateDisconnected
			id = n.id
		}
		reused[id] = true
		servers = append(servers, id)
	}

	var dropped []Session
	for _, id := range previous {
		if reused[id] {
			continue
		}
		dropped = append(dropped, t.nodes[id].session)
		t.dropLocked(id)
	}
	t.servers = servers
	t.mu.Unlock()

	for _, sess := range dropped {
		sess.Dispose()
	}
	if len(dropped) > 0 {
		t.logger.Debug("Disposed %d server(s) removed from configuration", len(dropped))
	}
	return problems
}

func (t *Tree) matchLocked(candidates []NodeID, taken map[NodeID]bool, conn config.Connection) (NodeID, bool) {
	for _, id := range candidates {
		if !taken[id] && t.nodes[id].conn.Equal(conn) {
			return id, true
		}
	}
	return 0, false
}

// Connection returns the connection a server node was built from.
func (t *Tree) Connection(id NodeID) (config.Connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok || n.kind != KindServer {
		return config.Connection{}, false
	}
	return n.conn, true
}

// Connect logs the server's session in, surfacing any failure, and marks
// the server connected.
func (t *Tree) Connect(ctx context.Context, id NodeID) error {
	t.mu.Lock()
	n, ok := t.nodes[id]
	if !ok || n.kind != KindServer {
		t.mu.Unlock()
		return ErrUnknownNode
	}
	sess, gen := n.session, n.gen
	t.mu.Unlock()

	if err := sess.Login(ctx, true); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[id]; ok && n.gen == gen {
		n.state = StateConnected
	}
	return nil
}

// Disconnect disposes the server's session and drops its subtree so that
// the next expansion loads everything again.
func (t *Tree) Disconnect(id NodeID) error {
	t.mu.Lock()
	n, ok := t.nodes[id]
	if !ok || n.kind != KindServer {
		t.mu.Unlock()
		return ErrUnknownNode
	}
	t.disconnectLocked(n)
	sess := n.session
	t.mu.Unlock()

	sess.Dispose()
	return nil
}

func (t *Tree) disconnectLocked(n *node) {
	n.gen++
	n.state = StateDisconnected
	for _, c := range n.children {
		t.dropLocked(c)
	}
	n.children = nil
	n.loaded = false
}

// Close disconnects every server.
func (t *Tree) Close() {
	t.mu.Lock()
	sessions := make([]Session, 0, len(t.servers))
	for _, id := range t.servers {
		n := t.nodes[id]
		t.disconnectLocked(n)
		sessions = append(sessions, n.session)
	}
	t.mu.Unlock()

	for _, sess := range sessions {
		sess.Dispose()
	}
}
