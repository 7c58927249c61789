package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Adapter is a warehouse connection usable for both catalog reads and dry runs.
type Adapter interface {
	CatalogReader
	DryRunner
}

// AdapterInfo describes a registered adapter.
type AdapterInfo struct {
	Type        string `json:"type"`         // "postgres"
	DisplayName string `json:"display_name"` // "PostgreSQL"
	Description string `json:"description"`
}

// AdapterRegistration contains info plus the constructor for an adapter type.
type AdapterRegistration struct {
	Info AdapterInfo
	Open func(ctx context.Context, dsn string) (Adapter, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered adapters, sorted by type.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// Open connects an adapter of the given type.
func Open(ctx context.Context, dsType, dsn string) (Adapter, error) {
	registryMu.RLock()
	reg, ok := registry[dsType]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unsupported datasource type: %s (not compiled in)", dsType)
	}
	return reg.Open(ctx, dsn)
}
