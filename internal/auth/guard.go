package auth

import (
	"context"
	"time"
)

// LockPolicy configures the failed-login lockout. Defaults: 5 attempts,
// 15 minutes.
type LockPolicy struct {
	Threshold int
	Duration  time.Duration
}

func (p LockPolicy) normalized() LockPolicy {
	if p.Threshold <= 0 {
		p.Threshold = defaultLockThreshold
	}
	if p.Duration <= 0 {
		p.Duration = defaultLockDuration
	}
	return p
}

// Guard performs account-state checks and failed-attempt bookkeeping. A locked
// account fails fast without reaching the password comparison; the lock state
// is caller-visible anyway, so skipping the hash work leaks nothing new.
type Guard struct {
	users  UserStore
	policy LockPolicy
	now    func() time.Time
}

// NewGuard constructs a Guard over the user store.
func NewGuard(users UserStore, policy LockPolicy, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{users: users, policy: policy.normalized(), now: now}
}

// Check classifies the account state before any password work. Order matters:
// deletion and status outrank the lock, and an expired lock is treated as
// clear without waiting for the counter reset.
func (g *Guard) Check(u *User) error {
	if u == nil || u.DeletedAt != nil {
		return ErrAccountDeleted
	}
	if u.Status != UserStatusActive {
		return ErrAccountNotActive
	}
	if u.LockedUntil != nil && g.now().Before(*u.LockedUntil) {
		return ErrAccountLocked
	}
	return nil
}

// RecordFailure registers one failed attempt through the store's atomic
// compare-and-increment. It returns ErrAccountLocked when this attempt crossed
// the threshold, ErrInvalidCredentials otherwise.
func (g *Guard) RecordFailure(ctx context.Context, userID string) error {
	attempts, _, err := g.users.RecordLoginFailure(ctx, userID, g.policy.Threshold, g.policy.Duration)
	if err != nil {
		return err
	}
	if attempts >= g.policy.Threshold {
		return ErrAccountLocked
	}
	return ErrInvalidCredentials
}

// RecordSuccess clears the counter and any expired lock.
func (g *Guard) RecordSuccess(ctx context.Context, userID string) error {
	return g.users.ResetLoginFailures(ctx, userID)
}

// Policy exposes the effective policy, mainly for logs and tests.
func (g *Guard) Policy() LockPolicy { return g.policy }
