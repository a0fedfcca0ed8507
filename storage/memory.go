// Package storage persists sent messages and premium-rate permissions. It
// provides an in-memory store for tests and single-process setups, and a
// Postgres-backed store for everything else.
package storage

import (
	"context"
	"sync"

	"github.com/telgo/smsrouter/sms"
)

// Memory is an in-memory store. Safe for concurrent use.
type Memory struct {
	mu          sync.Mutex
	sent        []sms.SentRecord
	permissions map[string]sms.Permission
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		permissions: make(map[string]sms.Permission),
	}
}

// RecordSent appends the record to the sent log.
func (m *Memory) RecordSent(_ context.Context, rec sms.SentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, rec)
	return nil
}

// Sent returns a copy of the sent log.
func (m *Memory) Sent() []sms.SentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]sms.SentRecord, len(m.sent))
	copy(result, m.sent)
	return result
}

// PremiumPermission returns the stored permission of the given package.
// Packages that were never seen before get PermissionAskUser.
func (m *Memory) PremiumPermission(_ context.Context, pkg string) (sms.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	permission, ok := m.permissions[pkg]
	if !ok {
		return sms.PermissionAskUser, nil
	}
	return permission, nil
}

// SetPremiumPermission stores the permission of the given package.
func (m *Memory) SetPremiumPermission(_ context.Context, pkg string, p sms.Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissions[pkg] = p
	return nil
}
