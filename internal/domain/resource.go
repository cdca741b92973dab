package domain

import "time"

// Pool is a named group of resources sharing a capacity budget.
type Pool struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Resource is one externally hosted, capacity-bounded account.
// Occupancy is not stored here; it comes from the synced membership snapshot.
type Resource struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	AccountID string    `json:"account_id"`
	PoolID    *int64    `json:"pool_id,omitempty"`
	Capacity  int       `json:"capacity"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Ref returns the handle the dispatcher passes to the provisioning client.
func (r *Resource) Ref() ResourceRef {
	return ResourceRef{ID: r.ID, Name: r.Name, AccountID: r.AccountID, PoolID: r.PoolID}
}

// ResourceRef identifies a resource chosen by the resolver.
// Available is the spare capacity seen in the occupancy snapshot at
// resolve time.
type ResourceRef struct {
	ID        int64
	Name      string
	AccountID string
	PoolID    *int64
	Available int
}

// SeatStats summarises capacity across all active resources.
type SeatStats struct {
	TotalSeats     int `json:"total_seats"`
	UsedSeats      int `json:"used_seats"`
	AvailableSeats int `json:"available_seats"`
}
