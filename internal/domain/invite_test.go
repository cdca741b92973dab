package domain_test

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/seatdesk/seatdesk/internal/domain"
)

func TestRedeemRequest_Validate(t *testing.T) {
	valid := domain.RedeemRequest{
		Code:    "  abc123 ",
		Subject: " Alice@Example.COM ",
	}

	t.Run("valid request passes and is normalised", func(t *testing.T) {
		r := valid
		if err := r.Validate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if r.Code != "ABC123" {
			t.Fatalf("expected code ABC123, got %q", r.Code)
		}
		if r.Subject != "alice@example.com" {
			t.Fatalf("expected lower-cased subject, got %q", r.Subject)
		}
	})

	t.Run("empty subject", func(t *testing.T) {
		r := valid
		r.Subject = "   "
		if err := r.Validate(); err != domain.ErrInvalidSubject {
			t.Fatalf("expected ErrInvalidSubject, got %v", err)
		}
	})

	t.Run("subject is not an address", func(t *testing.T) {
		r := valid
		r.Subject = "not-an-email"
		if err := r.Validate(); err != domain.ErrInvalidSubject {
			t.Fatalf("expected ErrInvalidSubject, got %v", err)
		}
	})

	t.Run("display-name form rejected", func(t *testing.T) {
		r := valid
		r.Subject = "Alice <alice@example.com>"
		if err := r.Validate(); err != domain.ErrInvalidSubject {
			t.Fatalf("expected ErrInvalidSubject, got %v", err)
		}
	})

	t.Run("empty code", func(t *testing.T) {
		r := valid
		r.Code = " "
		if err := r.Validate(); err != domain.ErrCodeInvalid {
			t.Fatalf("expected ErrCodeInvalid, got %v", err)
		}
	})

	t.Run("blank identity dropped", func(t *testing.T) {
		r := valid
		blank := "  "
		r.Identity = &blank
		if err := r.Validate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if r.Identity != nil {
			t.Fatal("expected blank identity to be cleared")
		}
	})
}

func TestRedemptionCode_ExpiredAndRemaining(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name      string
		code      domain.RedemptionCode
		expired   bool
		remaining int
	}{
		{"no expiry", domain.RedemptionCode{MaxUses: 3, UsedCount: 1}, false, 2},
		{"expired", domain.RedemptionCode{MaxUses: 1, ExpiresAt: &past}, true, 1},
		{"not yet expired", domain.RedemptionCode{MaxUses: 1, ExpiresAt: &future}, false, 1},
		{"exhausted", domain.RedemptionCode{MaxUses: 2, UsedCount: 2}, false, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.code.Expired(now); got != tc.expired {
				t.Fatalf("Expired: expected %v, got %v", tc.expired, got)
			}
			if got := tc.code.Remaining(); got != tc.remaining {
				t.Fatalf("Remaining: expected %d, got %d", tc.remaining, got)
			}
		})
	}
}

func TestExternalError_Classification(t *testing.T) {
	perm := domain.Permanent(422, "invalid address")
	if !domain.IsPermanent(perm) {
		t.Fatal("expected permanent error to be classified as permanent")
	}

	wrapped := errors.Join(errors.New("context"), domain.Transient(429, "slow down"))
	if domain.IsPermanent(wrapped) {
		t.Fatal("expected wrapped transient error not to be permanent")
	}
	if domain.KindOf(errors.New("boom")) != domain.ExternalTransient {
		t.Fatal("expected unclassified errors to default to transient")
	}
}

func TestTruncateError(t *testing.T) {
	if domain.TruncateError(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
	long := errors.New(strings.Repeat("x", 500))
	got := domain.TruncateError(long)
	if len(*got) != domain.MaxErrorMessageLen {
		t.Fatalf("expected %d bytes, got %d", domain.MaxErrorMessageLen, len(*got))
	}

	wide := domain.TruncateError(errors.New("x" + strings.Repeat("邀", 100)))
	if !utf8.ValidString(*wide) {
		t.Fatalf("truncated message is not valid UTF-8: %q", *wide)
	}
	if len(*wide) != 199 {
		t.Fatalf("expected cut before the split rune at 199 bytes, got %d", len(*wide))
	}
}

func TestTruncateText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short ascii untouched", "timeout", 200, "timeout"},
		{"ascii cut at limit", "abcdef", 4, "abcd"},
		{"three-byte rune not split", "x邀邀", 5, "x邀"},
		{"exact rune boundary kept", "x邀邀", 4, "x邀"},
		{"four-byte rune dropped whole", "ab😀", 5, "ab"},
		{"limit inside first rune", "邀", 2, ""},
		{"invalid bytes removed", "ok\xff\xfedone", 200, "okdone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := domain.TruncateText(tt.in, tt.n)
			if got != tt.want {
				t.Fatalf("TruncateText(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) || len(got) > tt.n {
				t.Fatalf("result %q invalid or longer than %d bytes", got, tt.n)
			}
		})
	}
}
