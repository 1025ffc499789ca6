package store

import (
	"testing"
	"time"
)

func TestNewProfile(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	cases := []struct {
		id   Identity
		want string
	}{
		{Identity{UID: "u1", Email: "anna@example.com"}, "anna"},
		{Identity{UID: "u2", Email: "bob@example.com", DisplayName: " Bob "}, "Bob"},
		{Identity{UID: "u3", Email: "no-at-sign"}, "no-at-sign"},
	}
	for _, tc := range cases {
		p := NewProfile(tc.id, now)
		if p.DisplayName != tc.want {
			t.Fatalf("%s: expected display name %q, got %q", tc.id.UID, tc.want, p.DisplayName)
		}
		if p.UID != tc.id.UID || p.Email != tc.id.Email {
			t.Fatalf("identity not copied: %+v", p)
		}
		if p.CreatedAt.Location() != time.UTC {
			t.Fatalf("expected UTC creation time")
		}
	}
}
