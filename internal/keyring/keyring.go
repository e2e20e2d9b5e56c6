// Package keyring is the external collaborator for password persistence
// (spec §6): a host-provided secret store keyed by a service name and a
// user-chosen suffix, with save/get/delete operations. Nothing in
// internal/fsengine or internal/keystore imports this package — the CLI
// wires it in only as one of several optional password sources, so a
// missing or broken OS keyring can never stop the core engine from
// working against an explicit password.
package keyring

import (
	"fmt"

	zkeyring "github.com/zalando/go-keyring"
)

// Keyring saves, retrieves, and deletes a password under a
// (service, suffix) pair. Implementations are expected to wrap a
// platform-native secret store (macOS Keychain, Secret Service, Windows
// Credential Manager); ErrNotFound is returned when no entry exists.
type Keyring interface {
	Save(service, suffix string, password []byte) error
	Get(service, suffix string) ([]byte, error)
	Delete(service, suffix string) error
}

// ErrNotFound is returned by Get and Delete when no entry exists for the
// given service and suffix.
var ErrNotFound = zkeyring.ErrNotFound

// OS backs Keyring with the operating system's native credential store.
type OS struct{}

func account(suffix string) string {
	return fmt.Sprintf("sealfs:%s", suffix)
}

func (OS) Save(service, suffix string, password []byte) error {
	return zkeyring.Set(service, account(suffix), string(password))
}

func (OS) Get(service, suffix string) ([]byte, error) {
	pw, err := zkeyring.Get(service, account(suffix))
	if err != nil {
		return nil, err
	}
	return []byte(pw), nil
}

func (OS) Delete(service, suffix string) error {
	return zkeyring.Delete(service, account(suffix))
}

// Memory is an in-process Keyring used by tests and by callers that want
// the password-sourcing fallback chain exercised without touching a real
// OS credential store.
type Memory struct {
	entries map[string][]byte
}

// NewMemory returns an empty in-process Keyring.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

func (m *Memory) key(service, suffix string) string {
	return service + "\x00" + account(suffix)
}

func (m *Memory) Save(service, suffix string, password []byte) error {
	cp := make([]byte, len(password))
	copy(cp, password)
	m.entries[m.key(service, suffix)] = cp
	return nil
}

func (m *Memory) Get(service, suffix string) ([]byte, error) {
	pw, ok := m.entries[m.key(service, suffix)]
	if !ok {
		return nil, ErrNotFound
	}
	return pw, nil
}

func (m *Memory) Delete(service, suffix string) error {
	key := m.key(service, suffix)
	if _, ok := m.entries[key]; !ok {
		return ErrNotFound
	}
	delete(m.entries, key)
	return nil
}
