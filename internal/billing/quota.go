package billing

import "context"

// QuotaProvider is the billing collaborator: it supplies the active-diagram
// ceiling for a tenant. The core treats the value as an opaque limit; zero or
// negative means unlimited.
type QuotaProvider interface {
	MaxActiveDiagrams(ctx context.Context, tenantID string) (int, error)
}

// StaticQuota applies one configured ceiling to every tenant, with optional
// per-tenant overrides. It stands in for the real billing service.
type StaticQuota struct {
	Default   int
	Overrides map[string]int
}

func NewStaticQuota(defaultMax int) *StaticQuota {
	return &StaticQuota{Default: defaultMax}
}

func (q *StaticQuota) MaxActiveDiagrams(_ context.Context, tenantID string) (int, error) {
	if q.Overrides != nil {
		if v, ok := q.Overrides[tenantID]; ok {
			return v, nil
		}
	}
	return q.Default, nil
}
