package provider

import (
	"encoding/json"
	"strings"

	"github.com/seatdesk/seatdesk/internal/domain"
)

// The provider has answered in several shapes over time:
//
//	{"results": [{"email": "...", "success": true, "error": ""}]}
//	{"account_invites": [{"email_address": "..."}], "errored_emails": [{"email": "...", "error": "..."}]}
//	{} or an unrelated body: every subject was accepted
type responseBody struct {
	Results []struct {
		Email   string `json:"email"`
		Success bool   `json:"success"`
		Error   string `json:"error"`
	} `json:"results"`
	AccountInvites []struct {
		EmailAddress string `json:"email_address"`
	} `json:"account_invites"`
	ErroredEmails []struct {
		Email string `json:"email"`
		Error string `json:"error"`
	} `json:"errored_emails"`
}

// normalize turns a 2xx body into one result per requested subject.
// Subjects the body does not mention are treated as accepted.
func normalize(subjects []string, raw []byte) *InviteResult {
	var body responseBody
	_ = json.Unmarshal(raw, &body)

	failed := make(map[string]string)
	for _, r := range body.Results {
		if !r.Success {
			failed[strings.ToLower(r.Email)] = nonEmpty(r.Error, "rejected by provider")
		}
	}
	for _, e := range body.ErroredEmails {
		failed[strings.ToLower(e.Email)] = nonEmpty(e.Error, "rejected by provider")
	}

	out := &InviteResult{Results: make([]SubjectResult, 0, len(subjects))}
	for _, s := range subjects {
		if msg, bad := failed[strings.ToLower(s)]; bad {
			out.Results = append(out.Results, SubjectResult{Subject: s, Err: classifyMessage(msg)})
			continue
		}
		out.Results = append(out.Results, SubjectResult{Subject: s, OK: true})
	}
	return out
}

// classifyMessage decides whether a per-subject rejection is worth retrying.
func classifyMessage(msg string) error {
	lower := strings.ToLower(msg)
	for _, hint := range []string{"rate limit", "too many", "timeout", "temporar", "try again"} {
		if strings.Contains(lower, hint) {
			return domain.Transient(0, msg)
		}
	}
	return domain.Permanent(0, msg)
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
