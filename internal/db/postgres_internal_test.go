package db

import "testing"

func TestMigrationURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"postgres://u:p@h:5432/d?sslmode=disable", "pgx5://u:p@h:5432/d?sslmode=disable"},
		{"postgresql://u@h/d", "pgx5://u@h/d"},
		{"pgx5://u@h/d", "pgx5://u@h/d"},
	}
	for _, tc := range tests {
		if got := migrationURL(tc.in); got != tc.want {
			t.Errorf("migrationURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
