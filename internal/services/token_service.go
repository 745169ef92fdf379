package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"leadpulse/internal/crypto"
	"leadpulse/internal/database"
	"leadpulse/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// RefreshWindow is how far ahead of expiry a token is refreshed.
const RefreshWindow = time.Hour

// connectionStore is the slice of datastore behavior the token service
// needs, implemented over mongo and by fakes in tests.
type connectionStore interface {
	FindExpiring(ctx context.Context, before time.Time) ([]models.OAuthConnection, error)
	SaveTokens(ctx context.Context, conn *models.OAuthConnection) error
}

// tokenEndpoint exchanges a refresh token at the provider. Split out so
// tests never dial a real provider.
type tokenEndpoint interface {
	Refresh(ctx context.Context, conn *models.OAuthConnection, refreshToken string) (*TokenGrant, error)
}

// TokenGrant is the provider's reply to a refresh.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string // empty when the provider did not rotate it
	ExpiresIn    int    // seconds
}

// RefreshReport summarizes one refresh sweep.
type RefreshReport struct {
	Checked   int `json:"checked"`
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
}

// TokenService keeps OAuth connections alive. Tokens are encrypted at rest
// with the per-user derived key; only decrypted long enough to exchange.
type TokenService struct {
	store      connectionStore
	endpoint   tokenEndpoint
	encryption *crypto.EncryptionService
	now        func() time.Time
}

// NewTokenService builds the service over the live collection and the real
// provider endpoint.
func NewTokenService(db *database.MongoDB, encryption *crypto.EncryptionService) *TokenService {
	return &TokenService{
		store:      &mongoConnectionStore{coll: db.Collection(database.CollectionOAuthConnections)},
		endpoint:   &httpTokenEndpoint{client: &http.Client{Timeout: 15 * time.Second}},
		encryption: encryption,
		now:        time.Now,
	}
}

// NewTokenServiceWithDeps builds the service from explicit collaborators,
// for tests.
func NewTokenServiceWithDeps(store connectionStore, endpoint tokenEndpoint, encryption *crypto.EncryptionService) *TokenService {
	return &TokenService{
		store:      store,
		endpoint:   endpoint,
		encryption: encryption,
		now:        time.Now,
	}
}

// SetClock overrides the service clock, for tests.
func (s *TokenService) SetClock(now func() time.Time) {
	s.now = now
}

// RefreshExpiring refreshes every connection expiring within RefreshWindow.
// One connection's failure never aborts the sweep.
func (s *TokenService) RefreshExpiring(ctx context.Context) (*RefreshReport, error) {
	deadline := s.now().UTC().Add(RefreshWindow)
	connections, err := s.store.FindExpiring(ctx, deadline)
	if err != nil {
		return nil, fmt.Errorf("failed to find expiring connections: %w", err)
	}

	report := &RefreshReport{Checked: len(connections)}
	for i := range connections {
		conn := &connections[i]
		if err := s.refreshOne(ctx, conn); err != nil {
			report.Failed++
			log.Printf("⚠️  [TOKEN] Refresh failed for %s/%s: %v", conn.UserID, conn.Provider, err)
			continue
		}
		report.Refreshed++
	}

	if report.Checked > 0 {
		log.Printf("🔑 [TOKEN] Refresh sweep: %d checked, %d refreshed, %d failed",
			report.Checked, report.Refreshed, report.Failed)
	}
	return report, nil
}

func (s *TokenService) refreshOne(ctx context.Context, conn *models.OAuthConnection) error {
	refreshToken, err := s.encryption.Decrypt(conn.UserID, conn.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	grant, err := s.endpoint.Refresh(ctx, conn, string(refreshToken))
	if err != nil {
		return err
	}

	encryptedAccess, err := s.encryption.Encrypt(conn.UserID, []byte(grant.AccessToken))
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	conn.AccessToken = encryptedAccess

	if grant.RefreshToken != "" {
		encryptedRefresh, err := s.encryption.Encrypt(conn.UserID, []byte(grant.RefreshToken))
		if err != nil {
			return fmt.Errorf("failed to encrypt rotated refresh token: %w", err)
		}
		conn.RefreshToken = encryptedRefresh
	}

	expiresIn := grant.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	conn.ExpiresAt = s.now().UTC().Add(time.Duration(expiresIn) * time.Second)
	conn.RefreshedAt = s.now().UTC()

	return s.store.SaveTokens(ctx, conn)
}

// mongoConnectionStore backs connectionStore with the live collection.
type mongoConnectionStore struct {
	coll *mongo.Collection
}

func (m *mongoConnectionStore) FindExpiring(ctx context.Context, before time.Time) ([]models.OAuthConnection, error) {
	cursor, err := m.coll.Find(ctx, bson.M{"expiresAt": bson.M{"$lt": before}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var connections []models.OAuthConnection
	if err := cursor.All(ctx, &connections); err != nil {
		return nil, err
	}
	return connections, nil
}

func (m *mongoConnectionStore) SaveTokens(ctx context.Context, conn *models.OAuthConnection) error {
	update := bson.M{"$set": bson.M{
		"accessToken":  conn.AccessToken,
		"refreshToken": conn.RefreshToken,
		"expiresAt":    conn.ExpiresAt,
		"refreshedAt":  conn.RefreshedAt,
	}}
	_, err := m.coll.UpdateByID(ctx, conn.ID, update)
	return err
}

// httpTokenEndpoint does the standard refresh_token grant against the
// connection's token URL.
type httpTokenEndpoint struct {
	client *http.Client
}

func (h *httpTokenEndpoint) Refresh(ctx context.Context, conn *models.OAuthConnection, refreshToken string) (*TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", conn.ClientID)
	if len(conn.Scopes) > 0 {
		form.Set("scope", strings.Join(conn.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", conn.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider rejected refresh: status=%d, body=%s", resp.StatusCode, truncateBody(body))
	}

	var grant struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		return nil, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if grant.AccessToken == "" {
		return nil, fmt.Errorf("provider returned empty access token")
	}

	return &TokenGrant{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresIn:    grant.ExpiresIn,
	}, nil
}
