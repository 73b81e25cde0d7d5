package models

import "fmt"

type VariantOrigin string

const (
	OriginOriginal  VariantOrigin = "original"
	OriginGenerated VariantOrigin = "generated"
)

type QueryVariant struct {
	Text   string        `json:"text"`
	Origin VariantOrigin `json:"origin"`
}

type ScopeKind string

const (
	ScopeDefault  ScopeKind = "default"
	ScopeTenant   ScopeKind = "tenant"
	ScopeCombined ScopeKind = "combined"
)

// Scope selects the stores a question is answered from.
type Scope struct {
	Kind     ScopeKind `json:"kind"`
	TenantID string    `json:"tenant_id,omitempty"`
}

func DefaultScope() Scope {
	return Scope{Kind: ScopeDefault}
}

func TenantScope(tenantID string) Scope {
	return Scope{Kind: ScopeTenant, TenantID: tenantID}
}

func CombinedScope(tenantID string) Scope {
	return Scope{Kind: ScopeCombined, TenantID: tenantID}
}

// ParseScope builds a scope from its wire form. Tenant and combined scopes
// require a tenant id.
func ParseScope(kind, tenantID string) (Scope, error) {
	switch ScopeKind(kind) {
	case "", ScopeDefault:
		return DefaultScope(), nil
	case ScopeTenant, ScopeCombined:
		if tenantID == "" {
			return Scope{}, Validation(ErrInvalidRequest, nil, "scope %q requires a tenant id", kind)
		}
		return Scope{Kind: ScopeKind(kind), TenantID: tenantID}, nil
	}
	return Scope{}, Validation(ErrInvalidRequest, nil, "unknown scope %q", kind)
}

func (s Scope) String() string {
	if s.Kind == ScopeDefault {
		return string(s.Kind)
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.TenantID)
}

type Citation struct {
	ChunkID string  `json:"chunk_id"`
	Source  string  `json:"source"`
	Index   int     `json:"index"`
	Score   float64 `json:"score"`
	Text    string  `json:"text"`
}

// Answer is built once per question and never persisted.
type Answer struct {
	Text      string         `json:"text"`
	Variants  []QueryVariant `json:"variants"`
	Citations []Citation     `json:"citations"`
	Scope     Scope          `json:"scope"`
	Degraded  bool           `json:"degraded"`
}
