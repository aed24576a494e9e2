package vectorstore

// TenantInfo holds the tenant scope for filtering and isolation.
// Every indexed root is bound to exactly one tenant; queries never
// cross tenants.
type TenantInfo struct {
	// TenantID is the organization or user identifier (required).
	TenantID string
}

// Validate checks that required fields are present.
func (t *TenantInfo) Validate() error {
	if t == nil || t.TenantID == "" {
		return ErrInvalidTenant
	}
	return nil
}

// Metadata returns the tenant fields stamped onto stored records.
func (t *TenantInfo) Metadata() map[string]string {
	return map[string]string{MetaTenant: t.TenantID}
}

// Filter returns the query conditions matching this tenant's scope.
func (t *TenantInfo) Filter() map[string]string {
	return map[string]string{MetaTenant: t.TenantID}
}
