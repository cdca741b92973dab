package provider

import (
	"context"

	"github.com/seatdesk/seatdesk/internal/domain"
)

// InviteRequest is the JSON body posted to the provisioning API.
type InviteRequest struct {
	EmailAddresses []string `json:"email_addresses"`
	Role           string   `json:"role"`
	ResendEmails   bool     `json:"resend_emails"`
}

// SubjectResult is the normalized per-subject outcome of a bulk call.
// Err is nil when OK is true, otherwise a *domain.ExternalError.
type SubjectResult struct {
	Subject string
	OK      bool
	Err     error
}

// InviteResult holds one entry per subject sent, in request order.
type InviteResult struct {
	Results []SubjectResult
}

// Succeeded returns the subjects that were accepted.
func (r *InviteResult) Succeeded() []string {
	var out []string
	for _, s := range r.Results {
		if s.OK {
			out = append(out, s.Subject)
		}
	}
	return out
}

// Provisioner grants seats on an external resource.
// A non-nil error means the whole call failed and no per-subject results are
// available; it is always classifiable with domain.KindOf.
type Provisioner interface {
	Invite(ctx context.Context, res domain.ResourceRef, subjects []string) (*InviteResult, error)
}
