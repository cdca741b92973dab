package queue

import "github.com/seatdesk/seatdesk/internal/domain"

// Item is the minimal data placed on the queue.
// The dispatcher groups on PoolID/PoolName and looks up nothing else; the
// QueueItem row in Postgres stays authoritative for status.
type Item struct {
	QueueItemID string
	Subject     string
	Code        string
	PoolID      *int64
	PoolName    string
}

// GroupKey identifies the pool an item targets. Items without a pool id or
// name share the global group "".
func (i Item) GroupKey() string {
	if i.PoolID != nil {
		return "id:" + itoa(*i.PoolID)
	}
	if i.PoolName != "" {
		return "name:" + i.PoolName
	}
	return ""
}

// Scope returns the pool scope the resolver should search for this item.
func (i Item) Scope() domain.PoolScope {
	return domain.PoolScope{PoolID: i.PoolID, PoolName: i.PoolName}
}
