package domain

import (
	"strings"
	"time"
)

// CodeKind decides whether a redemption needs a signed-in identity.
type CodeKind string

const (
	CodeKindIdentity CodeKind = "identity"
	CodeKindDirect   CodeKind = "direct"
)

func (k CodeKind) IsValid() bool {
	switch k {
	case CodeKindIdentity, CodeKindDirect:
		return true
	}
	return false
}

// RedemptionCode grants one or more seat assignments.
// UsedCount is only ever changed through the ledger's conditional updates.
type RedemptionCode struct {
	ID        int64      `json:"id"`
	Code      string     `json:"code"`
	Kind      CodeKind   `json:"kind"`
	MaxUses   int        `json:"max_uses"`
	UsedCount int        `json:"used_count"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Active    bool       `json:"active"`
	PoolID    *int64     `json:"pool_id,omitempty"`
	Note      string     `json:"note,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Expired reports whether the code has passed its expiry at now.
func (c *RedemptionCode) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// Remaining returns the number of uses left, never negative.
func (c *RedemptionCode) Remaining() int {
	if n := c.MaxUses - c.UsedCount; n > 0 {
		return n
	}
	return 0
}

// NormalizeCode trims and upper-cases a user supplied code value.
func NormalizeCode(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

// PoolScope selects where the resolver searches for capacity.
// Zero value means a global search over every active resource.
type PoolScope struct {
	PoolID   *int64
	PoolName string
}

func (s PoolScope) IsGlobal() bool {
	return s.PoolID == nil && s.PoolName == ""
}

// Reservation is what a successful consume hands to the request path.
type Reservation struct {
	Code  string
	Kind  CodeKind
	Scope PoolScope
}

// CodeInfo is the public, read-only view of a code's validity.
type CodeInfo struct {
	Valid     bool       `json:"valid"`
	Remaining int        `json:"remaining"`
	ExpiresAt *time.Time `json:"expires_at"`
}
