package web

import (
	"testing"
	"time"
)

func TestAuthManager_TokenThenSessionFlow(t *testing.T) {
	am := NewAuthManager(time.Hour)

	token := am.GenerateToken()
	if token == "" {
		t.Fatal("expected a non-empty token")
	}

	if _, ok := am.ValidateToken("wrong-token"); ok {
		t.Fatal("expected ValidateToken to reject a mismatched token")
	}

	sessionID, ok := am.ValidateToken(token)
	if !ok || sessionID == "" {
		t.Fatal("expected ValidateToken to exchange a valid token for a session")
	}

	if !am.ValidateSession(sessionID) {
		t.Fatal("expected the freshly minted session to validate")
	}

	am.DeleteCurrentToken()
	if _, ok := am.ValidateToken(token); ok {
		t.Fatal("expected the one-time token to be unusable after DeleteCurrentToken")
	}
	// The session minted before deletion must still be valid: deleting the
	// token only retires the one-time exchange, not sessions already issued.
	if !am.ValidateSession(sessionID) {
		t.Fatal("expected an already-issued session to survive DeleteCurrentToken")
	}
}

func TestAuthManager_GenerateTokenInvalidatesOldSessions(t *testing.T) {
	am := NewAuthManager(time.Hour)

	token := am.GenerateToken()
	sessionID, ok := am.ValidateToken(token)
	if !ok {
		t.Fatal("expected ValidateToken to succeed")
	}

	am.GenerateToken()
	if am.ValidateSession(sessionID) {
		t.Fatal("expected GenerateToken to invalidate sessions from the previous token")
	}
}

func TestAuthManager_ValidateSessionExpires(t *testing.T) {
	am := NewAuthManager(time.Millisecond)

	token := am.GenerateToken()
	sessionID, ok := am.ValidateToken(token)
	if !ok {
		t.Fatal("expected ValidateToken to succeed")
	}

	time.Sleep(5 * time.Millisecond)
	if am.ValidateSession(sessionID) {
		t.Fatal("expected an expired session to fail validation")
	}
}

func TestAuthManager_InvalidateSession(t *testing.T) {
	am := NewAuthManager(time.Hour)

	token := am.GenerateToken()
	sessionID, ok := am.ValidateToken(token)
	if !ok {
		t.Fatal("expected ValidateToken to succeed")
	}

	am.InvalidateSession(sessionID)
	if am.ValidateSession(sessionID) {
		t.Fatal("expected InvalidateSession to revoke the session immediately")
	}
}

func TestAuthManager_CleanExpiredSessions(t *testing.T) {
	am := NewAuthManager(time.Millisecond)

	token := am.GenerateToken()
	sessionID, ok := am.ValidateToken(token)
	if !ok {
		t.Fatal("expected ValidateToken to succeed")
	}

	time.Sleep(5 * time.Millisecond)
	am.CleanExpiredSessions()

	am.mu.RLock()
	_, exists := am.sessions[sessionID]
	am.mu.RUnlock()
	if exists {
		t.Fatal("expected CleanExpiredSessions to remove the expired session from the map")
	}
}
