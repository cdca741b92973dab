package domain

import (
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

// Status tracks the lifecycle of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// FailureKind records why an item ended in StatusFailed.
type FailureKind string

const (
	FailureNone              FailureKind = ""
	FailureNoCapacity        FailureKind = "no_capacity"
	FailureExternalTransient FailureKind = FailureKind(ExternalTransient)
	FailureExternalPermanent FailureKind = FailureKind(ExternalPermanent)
	FailureQueueFull         FailureKind = "queue_full"
	FailureInternal          FailureKind = "internal"
)

// QueueItem is one pending assignment request.
// Created by the request path; every later transition belongs to the dispatcher.
type QueueItem struct {
	ID           string      `json:"id"`
	Subject      string      `json:"subject"`
	Code         string      `json:"code"`
	PoolID       *int64      `json:"pool_id,omitempty"`
	PoolName     string      `json:"pool_name,omitempty"`
	RequestorID  *string     `json:"requestor_id,omitempty"`
	Status       Status      `json:"status"`
	FailureKind  FailureKind `json:"failure_kind,omitempty"`
	RetryCount   int         `json:"retry_count"`
	ErrorMessage *string     `json:"error_message,omitempty"`
	ResourceID   *int64      `json:"resource_id,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	ProcessedAt  *time.Time  `json:"processed_at,omitempty"`
}

// Scope returns the pool scope the item was admitted with.
func (q *QueueItem) Scope() PoolScope {
	return PoolScope{PoolID: q.PoolID, PoolName: q.PoolName}
}

// AssignmentRecord is the immutable audit entry written at a terminal state.
type AssignmentRecord struct {
	ID           int64       `json:"id"`
	QueueItemID  string      `json:"queue_item_id"`
	ResourceID   *int64      `json:"resource_id,omitempty"`
	Subject      string      `json:"subject"`
	Code         string      `json:"code"`
	RequestorID  *string     `json:"requestor_id,omitempty"`
	Status       Status      `json:"status"`
	FailureKind  FailureKind `json:"failure_kind,omitempty"`
	ErrorMessage *string     `json:"error_message,omitempty"`
	BatchID      string      `json:"batch_id"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Outcome is the terminal result the dispatcher applies to one item.
type Outcome struct {
	Status      Status
	FailureKind FailureKind
	ResourceID  *int64
	RetryCount  int
	Err         error
}

// MaxErrorMessageLen bounds stored error text.
const MaxErrorMessageLen = 200

// TruncateError returns err's message bounded to MaxErrorMessageLen bytes.
func TruncateError(err error) *string {
	if err == nil {
		return nil
	}
	msg := TruncateText(err.Error(), MaxErrorMessageLen)
	return &msg
}

// TruncateText returns valid UTF-8 of at most n bytes. Invalid sequences are
// dropped and the cut never splits a rune, so the result is safe for a
// Postgres text column.
func TruncateText(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// RedeemRequest is the inbound payload for POST /redeem.
type RedeemRequest struct {
	Code     string  `json:"code"`
	Subject  string  `json:"subject"`
	Identity *string `json:"identity,omitempty"`
}

// Validate normalises the request in place.
func (r *RedeemRequest) Validate() error {
	r.Subject = NormalizeSubject(r.Subject)
	if r.Subject == "" {
		return ErrInvalidSubject
	}
	addr, err := mail.ParseAddress(r.Subject)
	if err != nil || addr.Address != r.Subject {
		return ErrInvalidSubject
	}
	r.Code = NormalizeCode(r.Code)
	if r.Code == "" {
		return ErrCodeInvalid
	}
	if r.Identity != nil && strings.TrimSpace(*r.Identity) == "" {
		r.Identity = nil
	}
	return nil
}

// NormalizeSubject lower-cases and trims an email subject.
func NormalizeSubject(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// AssignmentFilter holds query parameters for the audit listing.
type AssignmentFilter struct {
	Status *Status
	Code   string
	Limit  int
}
