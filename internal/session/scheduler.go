package session

import (
	"context"
	"time"

	"github.com/systmms/vaultenv/internal/metrics"
)

// NextAction decides what to do after a token was obtained and when.
// Renewable tokens are renewed at 90% of their TTL, other tokens with a TTL
// are replaced by a full login when they expire, and tokens without a TTL
// need nothing.
func NextAction(tok Token) (Action, time.Duration) {
	ttl := time.Duration(tok.TTL) * time.Second
	switch {
	case tok.Renewable:
		return ActionRenew, ttl * 9 / 10
	case tok.TTL > 0:
		return ActionLogin, ttl
	default:
		return ActionNone, 0
	}
}

// scheduleLocked replaces any pending timer with the one tok calls for.
// Must hold s.mu.
func (s *Session) scheduleLocked(tok Token) {
	s.cancelLocked()

	action, delay := NextAction(tok)
	if action == ActionNone {
		return
	}

	seq, epoch := s.seq, s.epoch
	s.next = action
	s.nextAt = s.clock.Now().Add(delay)
	s.timer = s.clock.AfterFunc(delay, func() {
		s.fire(seq, epoch, action)
	})
	s.logger.Debug("Scheduled token %s for %s in %s", action, s.conn.Name, delay)
}

// cancelLocked stops the pending timer. Bumping seq makes a callback that
// already fired, but has not yet taken the lock, a no-op. Must hold s.mu.
func (s *Session) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.seq++
	s.next = ActionNone
	s.nextAt = time.Time{}
}

func (s *Session) fire(seq, epoch uint64, action Action) {
	s.mu.Lock()
	if s.seq != seq || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.next = ActionNone
	s.nextAt = time.Time{}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	switch action {
	case ActionRenew:
		s.renew(ctx, epoch)
	case ActionLogin:
		_ = s.login(ctx, epoch, false)
	}
}

// renew extends the current token and reschedules. Any failure falls back to
// a full login whose own failure is only reported.
func (s *Session) renew(ctx context.Context, epoch uint64) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client == nil {
		_ = s.login(ctx, epoch, false)
		return
	}

	auth, err := client.SelfRenew(ctx)
	metrics.RecordRenewal(s.conn.Name, err)
	if err != nil {
		s.logger.Debug("Token renewal for %s failed, logging in again: %v", s.conn.Name, err)
		_ = s.login(ctx, epoch, false)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return
	}

	id := auth.ClientToken
	if id == "" {
		id, _ = s.token.ID()
	}
	s.cacheLocked(Token{ID: id, Renewable: auth.Renewable, TTL: auth.LeaseDuration})
}
