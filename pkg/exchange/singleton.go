package exchange

import (
	"sync"

	"github.com/a2a-settlement/a2ase/pkg/config"
)

// Process-wide shared instance. Task runners and agents share one
// authenticated session and one settlement ledger without threading the
// client through every call site.
var (
	instanceMu sync.Mutex
	instance   *Client
)

// Initialize constructs the shared client and stores it, replacing any
// previous instance. Fails with an auth-kind error when no API key is
// configured.
func Initialize(cfg *config.Config, opts ...Option) (*Client, error) {
	c, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		instance.Close()
	}
	instance = c
	return c, nil
}

// Instance returns the active shared client, or ErrNotInitialized when
// Initialize was never called.
func Instance() (*Client, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		return nil, ErrNotInitialized
	}
	return instance, nil
}

// Reset tears down the shared client: held connections are released before
// the reference is dropped. Tests call this between cases.
func Reset() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		instance.Close()
		instance = nil
	}
}
