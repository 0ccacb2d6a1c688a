package auth

import (
	"testing"
	"time"
)

// newTestSigner uses a fixed, known secret so tests are deterministic.
func newTestSigner(t *testing.T) *StateSigner {
	t.Helper()
	s, err := NewStateSigner("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewStateSigner: %v", err)
	}
	return s
}

// =========================================================================
// CONSTRUCTION
// =========================================================================

func TestNewStateSigner_ShortSecret(t *testing.T) {
	if _, err := NewStateSigner("short"); err == nil {
		t.Fatal("NewStateSigner() should reject secrets shorter than 16 chars")
	}
}

func TestNewNonce_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		n := NewNonce()
		if seen[n] {
			t.Fatalf("NewNonce() repeated %q", n)
		}
		seen[n] = true
	}
}

// =========================================================================
// ISSUE / VERIFY
// =========================================================================

func TestVerify_RoundTrip(t *testing.T) {
	s := newTestSigner(t)
	nonce := NewNonce()

	state, err := s.Issue(nonce)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	got, err := s.Verify(state)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got != nonce {
		t.Errorf("Verify() nonce = %q, want %q", got, nonce)
	}
}

func TestVerify_Expired(t *testing.T) {
	s := newTestSigner(t)

	state, err := s.IssueWithDuration("n", -time.Second)
	if err != nil {
		t.Fatalf("IssueWithDuration() error = %v", err)
	}
	if _, err := s.Verify(state); err == nil {
		t.Fatal("Verify() should reject an expired state")
	}
}

func TestVerify_Tampered(t *testing.T) {
	s := newTestSigner(t)
	state, _ := s.Issue("n")

	if _, err := s.Verify(state[:len(state)-3] + "xxx"); err == nil {
		t.Fatal("Verify() should reject a tampered state")
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	s1, _ := NewStateSigner("correct-secret-32-chars-long!!!!")
	s2, _ := NewStateSigner("wrong-secret-32-chars-long!!!!!!")

	state, _ := s1.Issue("n")
	if _, err := s2.Verify(state); err == nil {
		t.Fatal("Verify() should fail with a different secret")
	}
}

func TestVerify_Garbage(t *testing.T) {
	s := newTestSigner(t)
	for _, in := range []string{"", "not.a.jwt.token", "abc"} {
		if _, err := s.Verify(in); err == nil {
			t.Errorf("Verify(%q) should fail", in)
		}
	}
}

func TestVerify_EmptyNonce(t *testing.T) {
	s := newTestSigner(t)
	state, _ := s.Issue("")
	if _, err := s.Verify(state); err == nil {
		t.Fatal("Verify() should reject a state without a nonce")
	}
}
