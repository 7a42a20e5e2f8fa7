package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rustyeddy/scalper/broker"
)

// Manager is a registry of trading engines for multi-symbol deployments. It
// is constructor-injected wherever engines need to be enumerated; there is
// no process-global instance.
type Manager struct {
	mu      sync.Mutex
	engines map[string]*Trading
}

func NewManager() *Manager {
	return &Manager{engines: make(map[string]*Trading)}
}

// Add registers an engine under a unique name.
func (m *Manager) Add(name string, t *Trading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.engines[name]; ok {
		return fmt.Errorf("engine %q already registered", name)
	}
	m.engines[name] = t
	return nil
}

// Get returns a registered engine by name.
func (m *Manager) Get(name string) (*Trading, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.engines[name]
	return t, ok
}

// Names returns the registered engine names.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.engines))
	for name := range m.engines {
		names = append(names, name)
	}
	return names
}

// StopAll stops every registered engine. The engine set is snapshotted
// under the lock and the stops run outside it, so one slow broker does not
// hold up registry reads.
func (m *Manager) StopAll(ctx context.Context) {
	for _, t := range m.snapshot() {
		_ = t.Stop(ctx)
	}
}

// HealthAll returns a health snapshot per engine.
func (m *Manager) HealthAll() map[string]Health {
	m.mu.Lock()
	snap := make(map[string]*Trading, len(m.engines))
	for name, t := range m.engines {
		snap[name] = t
	}
	m.mu.Unlock()

	out := make(map[string]Health, len(snap))
	for name, t := range snap {
		out[name] = t.Health()
	}
	return out
}

// Accounts queries every engine's broker outside the registry lock.
func (m *Manager) Accounts(ctx context.Context) map[string]broker.AccountInfo {
	m.mu.Lock()
	brokers := make(map[string]broker.Broker, len(m.engines))
	for name, t := range m.engines {
		brokers[name] = t.broker
	}
	m.mu.Unlock()

	out := make(map[string]broker.AccountInfo, len(brokers))
	for name, b := range brokers {
		acct, err := b.AccountInfo(ctx)
		if err != nil {
			continue
		}
		out[name] = acct
	}
	return out
}

func (m *Manager) snapshot() []*Trading {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Trading, 0, len(m.engines))
	for _, t := range m.engines {
		out = append(out, t)
	}
	return out
}
