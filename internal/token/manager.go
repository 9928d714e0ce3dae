package token

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// renewalBuffer is how long before expiry a credential is renewed.
const renewalBuffer = 5 * time.Minute

var (
	// ErrAuthConfigMissing is returned when renewal credentials are not configured.
	ErrAuthConfigMissing = errors.New("token: auth config missing")
	// ErrRenewalFailed is returned when the renewal exchange does not produce a usable credential.
	ErrRenewalFailed = errors.New("token: renewal failed")
)

// Credential is a bearer token together with its decoded expiry.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Analysis is the result of decoding a credential's embedded expiry claim.
type Analysis struct {
	IsValid         bool
	ExpiresAt       time.Time
	TimeUntilExpiry time.Duration
}

// CredentialStore persists the bearer credential between process restarts.
type CredentialStore interface {
	Get(ctx context.Context, destination string) (string, error)
	Set(ctx context.Context, destination, token string) error
}

// HTTPDoer defines http.Client interface subset.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// RenewalConfig describes the fixed Basic-Auth exchange that issues tokens.
type RenewalConfig struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// Manager keeps the bearer credential for one destination valid. Concurrent
// callers share a single in-flight renewal exchange.
type Manager struct {
	destination string
	renewal     RenewalConfig
	store       CredentialStore
	client      HTTPDoer
	logger      *zap.Logger
	group       singleflight.Group
	now         func() time.Time
}

// NewManager builds a token manager for the given destination.
func NewManager(destination string, renewal RenewalConfig, store CredentialStore, logger *zap.Logger) *Manager {
	timeout := renewal.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Manager{
		destination: destination,
		renewal:     renewal,
		store:       store,
		client:      &http.Client{Timeout: timeout},
		logger:      logger,
		now:         time.Now,
	}
}

// Analyze decodes the credential's embedded expiry claim without verifying
// the signature (the key belongs to the external system). A credential that
// cannot be decoded or carries no expiry is reported invalid.
func (m *Manager) Analyze(credential string) Analysis {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Analysis{}
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(credential, claims); err != nil {
		return Analysis{}
	}

	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return Analysis{}
	}

	now := m.now()
	return Analysis{
		IsValid:         expiry.Time.After(now),
		ExpiresAt:       expiry.Time,
		TimeUntilExpiry: expiry.Time.Sub(now),
	}
}

// EnsureValid returns the current credential if it is good for at least the
// renewal buffer, otherwise performs (or joins) a renewal exchange.
func (m *Manager) EnsureValid(ctx context.Context) (Credential, error) {
	stored, err := m.store.Get(ctx, m.destination)
	if err == nil {
		analysis := m.Analyze(stored)
		if analysis.IsValid && analysis.TimeUntilExpiry > renewalBuffer {
			return Credential{Token: stored, ExpiresAt: analysis.ExpiresAt}, nil
		}
	}
	return m.renew(ctx)
}

// ForceRenew discards the current credential and performs a renewal exchange.
// Used by the transport layer after an upstream 401/403.
func (m *Manager) ForceRenew(ctx context.Context) (Credential, error) {
	return m.renew(ctx)
}

// Token implements the transport layer's token source.
func (m *Manager) Token(ctx context.Context) (string, error) {
	cred, err := m.EnsureValid(ctx)
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

// Refresh implements the transport layer's forced-renewal hook.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	cred, err := m.ForceRenew(ctx)
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

func (m *Manager) renew(ctx context.Context) (Credential, error) {
	result, err, _ := m.group.Do(m.destination, func() (any, error) {
		return m.exchange(ctx)
	})
	if err != nil {
		return Credential{}, err
	}
	return result.(Credential), nil
}

func (m *Manager) exchange(ctx context.Context) (Credential, error) {
	if m.renewal.Username == "" || m.renewal.Password == "" {
		return Credential{}, ErrAuthConfigMissing
	}
	if m.renewal.URL == "" {
		return Credential{}, ErrAuthConfigMissing
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.renewal.URL, nil)
	if err != nil {
		return Credential{}, err
	}
	req.SetBasicAuth(m.renewal.Username, m.renewal.Password)
	req.Header.Set("Accept", "text/plain, application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrRenewalFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: read body: %v", ErrRenewalFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Credential{}, fmt.Errorf("%w: status %d", ErrRenewalFailed, resp.StatusCode)
	}

	// The exchange returns the raw token string, occasionally JSON-quoted.
	newToken := strings.Trim(strings.TrimSpace(string(body)), `"`)
	analysis := m.Analyze(newToken)
	if !analysis.IsValid {
		return Credential{}, fmt.Errorf("%w: undecodable credential", ErrRenewalFailed)
	}

	// Persist before any caller observes the new credential.
	if err := m.store.Set(ctx, m.destination, newToken); err != nil {
		return Credential{}, fmt.Errorf("token: persist credential: %w", err)
	}

	m.logger.Info("bearer credential renewed",
		zap.String("destination", m.destination),
		zap.Time("expires_at", analysis.ExpiresAt),
	)
	return Credential{Token: newToken, ExpiresAt: analysis.ExpiresAt}, nil
}
