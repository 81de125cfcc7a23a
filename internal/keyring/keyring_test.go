package keyring

import (
	"errors"
	"testing"

	gokeyring "github.com/zalando/go-keyring"
)

func TestConnectionString(t *testing.T) {
	gokeyring.MockInit()

	connStr := "postgres://ptlog@localhost:5432/ptlog?sslmode=disable"
	if err := SetConnectionString(connStr); err != nil {
		t.Fatalf("SetConnectionString() failed: %v", err)
	}
	got, err := GetConnectionString()
	if err != nil || got != connStr {
		t.Errorf("GetConnectionString() = %q, %v", got, err)
	}

	if err := DeleteConnectionString(); err != nil {
		t.Fatalf("DeleteConnectionString() failed: %v", err)
	}
	if _, err := GetConnectionString(); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete, error = %v, want ErrNotFound", err)
	}
	if err := DeleteConnectionString(); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestEmptySecretsRefused(t *testing.T) {
	gokeyring.MockInit()

	if err := SetConnectionString(""); err == nil {
		t.Error("SetConnectionString(\"\") should fail")
	}
	if err := SetToken("alice", ""); err == nil {
		t.Error("SetToken with empty token should fail")
	}
	if err := SetToken("", "tok"); err == nil {
		t.Error("SetToken with empty identity should fail")
	}
}

func TestTokensArePerIdentity(t *testing.T) {
	gokeyring.MockInit()

	if err := SetToken("alice", "tok-a"); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}
	if err := SetToken("bob", "tok-b"); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}

	tests := []struct {
		identity string
		want     string
		err      error
	}{
		{"alice", "tok-a", nil},
		{"bob", "tok-b", nil},
		{"carol", "", ErrNotFound},
		{"", "", ErrNotFound},
	}
	for _, tt := range tests {
		got, err := GetToken(tt.identity)
		if got != tt.want || !errors.Is(err, tt.err) {
			t.Errorf("GetToken(%q) = %q, %v; want %q, %v", tt.identity, got, err, tt.want, tt.err)
		}
	}

	if err := DeleteToken("alice"); err != nil {
		t.Fatalf("DeleteToken failed: %v", err)
	}
	if got, _ := GetToken("bob"); got != "tok-b" {
		t.Errorf("deleting alice's token removed bob's: %q", got)
	}
}

func TestIsAvailable(t *testing.T) {
	gokeyring.MockInit()
	if !IsAvailable() {
		t.Error("mock keyring should be available")
	}
}
