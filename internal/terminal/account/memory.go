package account

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Operation names an account operation for failure injection.
type Operation string

const (
	OpEnsure Operation = "ensure"
	OpLookup Operation = "lookup"
	OpKill   Operation = "kill"
	OpRemove Operation = "remove"
)

// Memory is an in-memory Provisioner. It makes no changes to the host and
// is used for development and tests.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]*Identity
	nextUID  uint32
	failures map[Operation]error
	calls    []string
}

// NewMemory creates an empty in-memory provisioner.
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]*Identity),
		nextUID:  10000,
		failures: make(map[Operation]error),
	}
}

// FailOn makes every call of op return err. A nil err clears the failure.
func (m *Memory) FailOn(op Operation, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls returns the operations performed so far, as "op:username".
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Accounts returns the usernames currently provisioned, sorted.
func (m *Memory) Accounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.accounts))
	for name := range m.accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Memory) record(op Operation, username string) error {
	m.calls = append(m.calls, string(op)+":"+username)
	return m.failures[op]
}

func (m *Memory) Ensure(ctx context.Context, spec Spec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpEnsure, spec.Username); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ValidUsername(spec.Username) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, spec.Username)
	}
	if _, ok := m.accounts[spec.Username]; ok {
		return nil
	}

	uid := m.nextUID
	m.nextUID++
	m.accounts[spec.Username] = &Identity{
		Username:      spec.Username,
		UID:           uid,
		GID:           uid,
		HomeDirectory: spec.HomeDirectory,
		Managed:       true,
		Synthetic:     true,
	}
	return nil
}

func (m *Memory) Lookup(username string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpLookup, username); err != nil {
		return nil, err
	}
	ident, ok := m.accounts[username]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, username)
	}
	cp := *ident
	return &cp, nil
}

func (m *Memory) KillProcesses(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.record(OpKill, username)
}

func (m *Memory) Remove(ctx context.Context, username, home string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpRemove, username); err != nil {
		return err
	}
	delete(m.accounts, username)
	return nil
}
