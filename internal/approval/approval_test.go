package approval

import "testing"

func TestStoreSessionApprovalSurvivesNewTurn(t *testing.T) {
	s := NewStore()
	key := HostKey("Example.com")

	s.Record(key, ApprovedForSession)
	s.NewTurn()

	d, ok := s.Lookup(HostKey("example.com"))
	if !ok || d != ApprovedForSession {
		t.Fatalf("Lookup() = %v, %v, want ApprovedForSession, true", d, ok)
	}
}

func TestStoreTurnApprovalClearedByNewTurn(t *testing.T) {
	s := NewStore()
	key := CommandKey("npm install")

	s.Record(key, Approved)
	if _, ok := s.Lookup(key); !ok {
		t.Fatal("expected lookup to hit before NewTurn")
	}

	s.NewTurn()
	if _, ok := s.Lookup(key); ok {
		t.Error("expected turn-scoped approval to be cleared by NewTurn")
	}
}

func TestHostKeyNormalizesCase(t *testing.T) {
	if HostKey("EXAMPLE.com") != HostKey("example.com") {
		t.Error("HostKey should normalize case")
	}
}
