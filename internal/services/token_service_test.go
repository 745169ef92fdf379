package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"leadpulse/internal/crypto"
	"leadpulse/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const testMasterKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type fakeConnectionStore struct {
	connections []models.OAuthConnection
	saved       []models.OAuthConnection
	saveErr     error
}

func (f *fakeConnectionStore) FindExpiring(ctx context.Context, before time.Time) ([]models.OAuthConnection, error) {
	var out []models.OAuthConnection
	for _, conn := range f.connections {
		if conn.ExpiresAt.Before(before) {
			out = append(out, conn)
		}
	}
	return out, nil
}

func (f *fakeConnectionStore) SaveTokens(ctx context.Context, conn *models.OAuthConnection) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, *conn)
	return nil
}

type fakeEndpoint struct {
	grants   map[string]*TokenGrant // keyed by decrypted refresh token
	failFor  map[string]error       // keyed by provider
	received []string
}

func (f *fakeEndpoint) Refresh(ctx context.Context, conn *models.OAuthConnection, refreshToken string) (*TokenGrant, error) {
	f.received = append(f.received, refreshToken)
	if err, ok := f.failFor[conn.Provider]; ok {
		return nil, err
	}
	grant, ok := f.grants[refreshToken]
	if !ok {
		return nil, errors.New("unknown refresh token")
	}
	return grant, nil
}

func encrypted(t *testing.T, enc *crypto.EncryptionService, userID, plaintext string) string {
	t.Helper()
	out, err := enc.Encrypt(userID, []byte(plaintext))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return out
}

func connection(t *testing.T, enc *crypto.EncryptionService, userID, provider, refreshToken string, expiresIn time.Duration, now time.Time) models.OAuthConnection {
	t.Helper()
	return models.OAuthConnection{
		ID:           primitive.NewObjectID(),
		UserID:       userID,
		Provider:     provider,
		AccessToken:  encrypted(t, enc, userID, "old-access"),
		RefreshToken: encrypted(t, enc, userID, refreshToken),
		TokenURL:     "https://login.example.com/token",
		ClientID:     "client-1",
		ExpiresAt:    now.Add(expiresIn),
	}
}

func TestRefreshExpiringOnlyTouchesSoonToExpire(t *testing.T) {
	enc, err := crypto.NewEncryptionService(testMasterKey)
	if err != nil {
		t.Fatalf("encryption service: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	store := &fakeConnectionStore{connections: []models.OAuthConnection{
		connection(t, enc, "alice", "microsoft", "refresh-alice", 30*time.Minute, now),
		connection(t, enc, "bob", "google", "refresh-bob", 3*time.Hour, now),
	}}
	endpoint := &fakeEndpoint{grants: map[string]*TokenGrant{
		"refresh-alice": {AccessToken: "new-access", ExpiresIn: 3600},
	}}

	svc := NewTokenServiceWithDeps(store, endpoint, enc)
	svc.SetClock(func() time.Time { return now })

	report, err := svc.RefreshExpiring(context.Background())
	if err != nil {
		t.Fatalf("RefreshExpiring() error: %v", err)
	}
	if report.Checked != 1 || report.Refreshed != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v, want 1 checked, 1 refreshed", report)
	}
	if len(endpoint.received) != 1 || endpoint.received[0] != "refresh-alice" {
		t.Fatalf("endpoint saw %v, want the decrypted alice token only", endpoint.received)
	}
}

func TestRefreshPersistsEncryptedTokens(t *testing.T) {
	enc, err := crypto.NewEncryptionService(testMasterKey)
	if err != nil {
		t.Fatalf("encryption service: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	store := &fakeConnectionStore{connections: []models.OAuthConnection{
		connection(t, enc, "alice", "microsoft", "refresh-old", 10*time.Minute, now),
	}}
	endpoint := &fakeEndpoint{grants: map[string]*TokenGrant{
		"refresh-old": {AccessToken: "new-access", RefreshToken: "refresh-new", ExpiresIn: 7200},
	}}

	svc := NewTokenServiceWithDeps(store, endpoint, enc)
	svc.SetClock(func() time.Time { return now })

	if _, err := svc.RefreshExpiring(context.Background()); err != nil {
		t.Fatalf("RefreshExpiring() error: %v", err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved = %d connections, want 1", len(store.saved))
	}

	saved := store.saved[0]
	if strings.Contains(saved.AccessToken, "new-access") {
		t.Error("access token stored in plaintext")
	}
	access, err := enc.Decrypt("alice", saved.AccessToken)
	if err != nil || string(access) != "new-access" {
		t.Errorf("decrypted access = %q, %v", access, err)
	}
	refresh, err := enc.Decrypt("alice", saved.RefreshToken)
	if err != nil || string(refresh) != "refresh-new" {
		t.Errorf("decrypted rotated refresh = %q, %v", refresh, err)
	}
	wantExpiry := now.Add(2 * time.Hour)
	if !saved.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expiresAt = %v, want %v", saved.ExpiresAt, wantExpiry)
	}
}

func TestRefreshContinuesPastFailures(t *testing.T) {
	enc, err := crypto.NewEncryptionService(testMasterKey)
	if err != nil {
		t.Fatalf("encryption service: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	store := &fakeConnectionStore{connections: []models.OAuthConnection{
		connection(t, enc, "alice", "microsoft", "refresh-alice", 10*time.Minute, now),
		connection(t, enc, "bob", "google", "refresh-bob", 20*time.Minute, now),
		connection(t, enc, "carol", "microsoft", "refresh-carol", 30*time.Minute, now),
	}}
	endpoint := &fakeEndpoint{
		grants: map[string]*TokenGrant{
			"refresh-alice": {AccessToken: "a", ExpiresIn: 3600},
			"refresh-carol": {AccessToken: "c", ExpiresIn: 3600},
		},
		failFor: map[string]error{"google": errors.New("provider down")},
	}

	svc := NewTokenServiceWithDeps(store, endpoint, enc)
	svc.SetClock(func() time.Time { return now })

	report, err := svc.RefreshExpiring(context.Background())
	if err != nil {
		t.Fatalf("RefreshExpiring() error: %v", err)
	}
	if report.Checked != 3 || report.Refreshed != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v, want 3/2/1", report)
	}
	if len(store.saved) != 2 {
		t.Fatalf("saved = %d, the failed item must not block the rest", len(store.saved))
	}
}

func TestRefreshKeepsOldRefreshTokenWhenNotRotated(t *testing.T) {
	enc, err := crypto.NewEncryptionService(testMasterKey)
	if err != nil {
		t.Fatalf("encryption service: %v", err)
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	store := &fakeConnectionStore{connections: []models.OAuthConnection{
		connection(t, enc, "alice", "microsoft", "refresh-keep", 10*time.Minute, now),
	}}
	endpoint := &fakeEndpoint{grants: map[string]*TokenGrant{
		"refresh-keep": {AccessToken: "new-access", ExpiresIn: 3600},
	}}

	svc := NewTokenServiceWithDeps(store, endpoint, enc)
	svc.SetClock(func() time.Time { return now })

	if _, err := svc.RefreshExpiring(context.Background()); err != nil {
		t.Fatalf("RefreshExpiring() error: %v", err)
	}
	refresh, err := enc.Decrypt("alice", store.saved[0].RefreshToken)
	if err != nil || string(refresh) != "refresh-keep" {
		t.Errorf("refresh token = %q, %v; want the original preserved", refresh, err)
	}
}
