package ipc

import "testing"

func TestCheckAuthKeyMatchesEqualKeys(t *testing.T) {
	key, err := GenerateAuthKey()
	if err != nil {
		t.Fatalf("GenerateAuthKey() error = %v", err)
	}
	if !checkAuthKey(key, key) {
		t.Fatalf("checkAuthKey() = false, want true for identical keys")
	}
}

func TestCheckAuthKeyRejectsMismatch(t *testing.T) {
	a, err := GenerateAuthKey()
	if err != nil {
		t.Fatalf("GenerateAuthKey() error = %v", err)
	}
	b, err := GenerateAuthKey()
	if err != nil {
		t.Fatalf("GenerateAuthKey() error = %v", err)
	}
	if checkAuthKey(a, b) {
		t.Fatalf("checkAuthKey() = true, want false for distinct keys")
	}
}

func TestCheckAuthKeyRejectsDifferentLengthMismatch(t *testing.T) {
	if checkAuthKey("short", "a-much-longer-presented-key-value") {
		t.Fatalf("checkAuthKey() = true, want false")
	}
}

func TestGenerateAuthKeyProducesDistinctKeys(t *testing.T) {
	a, err := GenerateAuthKey()
	if err != nil {
		t.Fatalf("GenerateAuthKey() error = %v", err)
	}
	b, err := GenerateAuthKey()
	if err != nil {
		t.Fatalf("GenerateAuthKey() error = %v", err)
	}
	if a == b {
		t.Fatalf("GenerateAuthKey() produced identical keys across two calls")
	}
	if len(a) != authKeyBytes*2 { // hex-encoded
		t.Fatalf("GenerateAuthKey() length = %d, want %d", len(a), authKeyBytes*2)
	}
}

func TestPublishLookupWithdrawSessionRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("USERPROFILE", t.TempDir())

	key, err := GenerateAuthKey()
	if err != nil {
		t.Fatalf("GenerateAuthKey() error = %v", err)
	}
	const session = "test-session"
	const pipeName = `\\.\pipe\psmux-test-session`

	if err := PublishSession(session, key, pipeName); err != nil {
		t.Fatalf("PublishSession() error = %v", err)
	}

	gotKey, gotPipe, err := LookupSession(session)
	if err != nil {
		t.Fatalf("LookupSession() error = %v", err)
	}
	if gotKey != key {
		t.Fatalf("LookupSession() key = %q, want %q", gotKey, key)
	}
	if gotPipe != pipeName {
		t.Fatalf("LookupSession() pipe = %q, want %q", gotPipe, pipeName)
	}

	if err := WithdrawSession(session); err != nil {
		t.Fatalf("WithdrawSession() error = %v", err)
	}
	if _, _, err := LookupSession(session); err == nil {
		t.Fatalf("LookupSession() after withdraw expected error")
	}
}

func TestWithdrawSessionIsIdempotentOnMissingFiles(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("USERPROFILE", t.TempDir())

	if err := WithdrawSession("never-published"); err != nil {
		t.Fatalf("WithdrawSession() on missing files error = %v, want nil", err)
	}
}
