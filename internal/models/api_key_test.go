package models

import (
	"testing"
	"time"
)

func TestAPIKeyStatus(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	cases := []struct {
		name string
		key  APIKey
		want string
	}{
		{"active", APIKey{Active: true}, "active"},
		{"inactive", APIKey{Active: false}, "inactive"},
		{"expired wins over active", APIKey{Active: true, ExpiresAt: &past}, "expired"},
		{"expired wins over inactive", APIKey{Active: false, ExpiresAt: &past}, "expired"},
		{"future expiry still active", APIKey{Active: true, ExpiresAt: &future}, "active"},
	}
	for _, tc := range cases {
		if got := tc.key.Status(); got != tc.want {
			t.Fatalf("%s: status = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestAPIKeyUsable(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	if !(&APIKey{Active: true}).Usable(now) {
		t.Fatal("active key without expiry should be usable")
	}
	if (&APIKey{Active: false}).Usable(now) {
		t.Fatal("inactive key should not be usable")
	}
	if (&APIKey{Active: true, ExpiresAt: &past}).Usable(now) {
		t.Fatal("expired key should not be usable")
	}
	boundary := now
	if (&APIKey{Active: true, ExpiresAt: &boundary}).Usable(now) {
		t.Fatal("key expiring exactly now should not be usable")
	}
}

func TestMaskedKey(t *testing.T) {
	key := APIKey{Key: "ak_0123456789abcdef"}
	if got := key.MaskedKey(); got != "ak_0123456..." {
		t.Fatalf("masked = %q", got)
	}
	short := APIKey{Key: "ak_short"}
	if got := short.MaskedKey(); got != "..." {
		t.Fatalf("short masked = %q", got)
	}
}
