// Package keyring supplies per-tenant data keys to the vault handlers.
// Key derivation and wrapping happen outside this system; the ring only
// holds already-derived 32-byte keys, indexed by version so records
// sealed under rotated-out keys stay readable.
package keyring

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoTenantKeys   = errors.New("keyring: no keys for tenant")
	ErrUnknownVersion = errors.New("keyring: unknown key version")
)

type Ring struct {
	tenants map[string]tenantKeys
}

type tenantKeys struct {
	active int
	keys   map[int][]byte
}

type fileFormat struct {
	Version int                         `yaml:"version"`
	Tenants map[string]tenantKeysFormat `yaml:"tenants"`
}

type tenantKeysFormat struct {
	Active int            `yaml:"active"`
	Keys   map[int]string `yaml:"keys"`
}

func Load(path string) (*Ring, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Ring, error) {
	var f fileFormat
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if f.Version != 1 {
		return nil, errors.New("keyring: unsupported file version")
	}

	ring := &Ring{tenants: make(map[string]tenantKeys, len(f.Tenants))}
	for tenantID, tk := range f.Tenants {
		keys := make(map[int][]byte, len(tk.Keys))
		for version, encoded := range tk.Keys {
			key, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return nil, fmt.Errorf("keyring: tenant %s key v%d: %w", tenantID, version, err)
			}
			if len(key) != 32 {
				return nil, fmt.Errorf("keyring: tenant %s key v%d: need 32 bytes, got %d", tenantID, version, len(key))
			}
			keys[version] = key
		}
		if _, ok := keys[tk.Active]; !ok {
			return nil, fmt.Errorf("keyring: tenant %s: active version %d missing", tenantID, tk.Active)
		}
		ring.tenants[tenantID] = tenantKeys{active: tk.Active, keys: keys}
	}
	return ring, nil
}

// NewStatic builds a single-version ring, used by tests and dev wiring.
func NewStatic(tenantID string, key []byte) *Ring {
	return &Ring{tenants: map[string]tenantKeys{
		tenantID: {active: 1, keys: map[int][]byte{1: key}},
	}}
}

// Active returns the key new records are sealed under.
func (r *Ring) Active(tenantID string) ([]byte, int, error) {
	tk, ok := r.tenants[tenantID]
	if !ok {
		return nil, 0, ErrNoTenantKeys
	}
	return tk.keys[tk.active], tk.active, nil
}

// Version returns the key a stored record was sealed under.
func (r *Ring) Version(tenantID string, version int) ([]byte, error) {
	tk, ok := r.tenants[tenantID]
	if !ok {
		return nil, ErrNoTenantKeys
	}
	key, ok := tk.keys[version]
	if !ok {
		return nil, fmt.Errorf("%w: tenant %s v%d", ErrUnknownVersion, tenantID, version)
	}
	return key, nil
}
