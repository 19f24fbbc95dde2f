// Package sqlite exposes the SQLite store while keeping its implementation
// internal.
package sqlite

import (
	"github.com/mesh-intelligence/keepsake/internal/sqlite"
	"github.com/mesh-intelligence/keepsake/pkg/types"
)

// NewBackend creates a SQLite backend. It is not attached; call Attach with
// a Config first.
//
// Example:
//
//	backend := sqlite.NewBackend()
//	err := backend.Attach(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".keepsake",
//	})
//	defer backend.Detach()
func NewBackend() types.Backend {
	return sqlite.NewBackend()
}
