package vectorstore

import "errors"

var (
	// ErrStoreBusy is returned when a destructive operation is requested
	// while the store is open or opening. Callers must drive the store
	// to Closed first.
	ErrStoreBusy = errors.New("vector store is busy")

	// ErrStoreClosed is returned when an operation needs an open store.
	ErrStoreClosed = errors.New("vector store is closed")

	// ErrStoreCorrupted indicates the backing storage could not be
	// loaded. Only Reset clears this state.
	ErrStoreCorrupted = errors.New("vector store is corrupted")

	// ErrSchemaConflict indicates an existing collection is incompatible
	// with the requested schema (vector dimension mismatch).
	ErrSchemaConflict = errors.New("collection schema conflict")

	// ErrMissingTenantScope rejects writes of records lacking tenant
	// metadata. Enforced at the write boundary, not in callers.
	ErrMissingTenantScope = errors.New("record missing tenant scope")

	// Tenant isolation errors - fail closed security model.

	// ErrMissingTenant is returned when tenant info is absent where it
	// is required. No silent empty results, just errors.
	ErrMissingTenant = errors.New("tenant info missing")

	// ErrInvalidTenant is returned when a tenant identifier is invalid.
	ErrInvalidTenant = errors.New("invalid tenant identifier")

	// ErrTenantFilterInUserFilters indicates a user filter tried to set
	// tenant fields.
	ErrTenantFilterInUserFilters = errors.New("user filters cannot contain tenant fields")
)
