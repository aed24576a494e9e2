package vectorstore

// tenantFilterKeys are keys that cannot appear in user filters.
var tenantFilterKeys = []string{MetaTenant}

// ApplyTenantFilters merges user filters with tenant filters.
//
// Tenant filters always win, and user filters that try to set tenant
// fields are rejected outright rather than overridden, so an attempted
// cross-tenant query surfaces as an error instead of silently scoped
// results.
func ApplyTenantFilters(userFilters, tenantFilters map[string]string) (map[string]string, error) {
	if userFilters == nil && tenantFilters == nil {
		return nil, nil
	}
	if userFilters == nil {
		return tenantFilters, nil
	}

	for _, key := range tenantFilterKeys {
		if _, exists := userFilters[key]; exists {
			return nil, ErrTenantFilterInUserFilters
		}
	}

	result := make(map[string]string, len(userFilters)+len(tenantFilters))
	for k, v := range userFilters {
		result[k] = v
	}
	for k, v := range tenantFilters {
		result[k] = v
	}
	return result, nil
}

// ValidateFilterHasTenant checks that a filter carries a usable tenant
// scope. Returns ErrMissingTenant when absent, ErrInvalidTenant when
// empty.
func ValidateFilterHasTenant(filters map[string]string) error {
	if filters == nil {
		return ErrMissingTenant
	}
	tid, ok := filters[MetaTenant]
	if !ok {
		return ErrMissingTenant
	}
	if tid == "" {
		return ErrInvalidTenant
	}
	return nil
}

// ValidateRecordTenant checks a record's tenant scope before storage.
func ValidateRecordTenant(rec Record) error {
	if rec.Metadata == nil || rec.Metadata[MetaTenant] == "" {
		return ErrMissingTenantScope
	}
	return nil
}
