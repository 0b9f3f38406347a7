// Package auth introspects bearer tokens against Zitadel, grounded on the
// teacher's pkg/auth/zitadel.go. The teacher caches introspection results in
// Postgres (kb.auth_introspection_cache); this repo has no such table, so
// the cache here is an in-memory map instead — same TTL semantics, no
// schema to carry.
package auth

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"context"

	"github.com/zitadel/oidc/v3/pkg/client"
	"github.com/zitadel/oidc/v3/pkg/client/rs"

	"github.com/emergent-company/orchestrator/internal/config"
	"github.com/emergent-company/orchestrator/pkg/logger"
)

const circuitBreakerCooldown = 30 * time.Second

// IntrospectionResult holds the parsed introspection response.
type IntrospectionResult struct {
	Active   bool   `json:"active"`
	Sub      string `json:"sub"`
	Email    string `json:"email"`
	Scope    string `json:"scope"`
	Exp      int64  `json:"exp"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Name     string `json:"name"`

	Claims map[string]any `json:"-"`
}

type cacheEntry struct {
	result    *IntrospectionResult
	expiresAt time.Time
}

// inflightRequest tracks an in-progress introspection, coalescing
// concurrent callers presenting the same token into a single upstream call.
type inflightRequest struct {
	done   chan struct{}
	result *IntrospectionResult
	err    error
}

// ZitadelService introspects bearer tokens against a Zitadel resource
// server, caching results in memory and tripping a circuit breaker on
// upstream failure.
type ZitadelService struct {
	cfg *config.AuthConfig
	log *slog.Logger

	resourceServer rs.ResourceServer
	rsOnce         sync.Once
	rsErr          error

	lastFailureTime time.Time
	failureMu       sync.RWMutex

	cache   map[string]cacheEntry
	cacheMu sync.Mutex

	inflight   map[string]*inflightRequest
	inflightMu sync.Mutex
}

// NewZitadelService constructs a ZitadelService from the process auth config.
func NewZitadelService(cfg *config.Config, log *slog.Logger) *ZitadelService {
	return &ZitadelService{
		cfg:      &cfg.Auth,
		log:      log.With(logger.Scope("zitadel")),
		cache:    make(map[string]cacheEntry),
		inflight: make(map[string]*inflightRequest),
	}
}

// Introspect validates a token and returns its claims. It returns nil, nil
// if introspection is disabled or unconfigured, in which case the caller
// should fall back to another verification path.
func (z *ZitadelService) Introspect(ctx context.Context, token string) (*IntrospectionResult, error) {
	if z.cfg.DisableIntrospection {
		return nil, nil
	}
	if z.cfg.ClientJWT == "" && z.cfg.ClientJWTPath == "" {
		z.log.Debug("no Zitadel client JWT configured, skipping introspection")
		return nil, nil
	}

	z.failureMu.RLock()
	if time.Since(z.lastFailureTime) < circuitBreakerCooldown {
		z.failureMu.RUnlock()
		z.log.Debug("circuit breaker open, skipping introspection")
		return nil, nil
	}
	z.failureMu.RUnlock()

	tokenHash := hashToken(token)

	if cached, ok := z.getCached(tokenHash); ok {
		z.log.Debug("introspection cache hit")
		return cached, nil
	}

	z.inflightMu.Lock()
	if req, exists := z.inflight[tokenHash]; exists {
		z.inflightMu.Unlock()
		<-req.done
		return req.result, req.err
	}
	req := &inflightRequest{done: make(chan struct{})}
	z.inflight[tokenHash] = req
	z.inflightMu.Unlock()

	result, err := z.doIntrospect(ctx, token, tokenHash)

	req.result = result
	req.err = err
	close(req.done)

	z.inflightMu.Lock()
	delete(z.inflight, tokenHash)
	z.inflightMu.Unlock()

	return result, err
}

func (z *ZitadelService) doIntrospect(ctx context.Context, token, tokenHash string) (*IntrospectionResult, error) {
	z.rsOnce.Do(func() {
		z.resourceServer, z.rsErr = z.createResourceServer(ctx)
		if z.rsErr != nil {
			z.log.Error("failed to create resource server", logger.Error(z.rsErr))
		}
	})
	if z.rsErr != nil {
		return nil, fmt.Errorf("resource server init failed: %w", z.rsErr)
	}

	resp, err := rs.Introspect[*introspectionResponse](ctx, z.resourceServer, token)
	if err != nil {
		z.log.Error("introspection call failed", logger.Error(err))
		z.tripCircuitBreaker()
		return nil, fmt.Errorf("introspection failed: %w", err)
	}

	if resp == nil || !resp.Active {
		result := &IntrospectionResult{Active: false}
		z.setCached(tokenHash, result, time.Minute)
		return result, nil
	}

	result := &IntrospectionResult{
		Active:   resp.Active,
		Sub:      resp.Subject,
		Email:    resp.Email,
		Scope:    resp.Scope,
		Exp:      resp.Expiration.AsTime().Unix(),
		ClientID: resp.ClientID,
		Username: resp.PreferredUsername,
		Name:     resp.Name,
		Claims:   resp.Claims,
	}

	ttl := z.cfg.IntrospectCacheTTL
	if tokenTTL := time.Until(resp.Expiration.AsTime()); tokenTTL > 0 && tokenTTL < ttl {
		ttl = tokenTTL
	}
	if ttl > 0 {
		z.setCached(tokenHash, result, ttl)
	}

	return result, nil
}

func (z *ZitadelService) createResourceServer(ctx context.Context) (rs.ResourceServer, error) {
	var keyFile *client.KeyFile
	var err error

	switch {
	case z.cfg.ClientJWT != "":
		keyFile, err = client.ConfigFromKeyFileData([]byte(z.cfg.ClientJWT))
	case z.cfg.ClientJWTPath != "":
		keyFile, err = client.ConfigFromKeyFile(z.cfg.ClientJWTPath)
	default:
		return nil, fmt.Errorf("no Zitadel client JWT configured")
	}
	if err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}

	clientID := keyFile.ClientID
	if clientID == "" && keyFile.UserID != "" {
		clientID = keyFile.UserID
	}

	issuer := z.cfg.GetIssuer()
	z.log.Info("initializing Zitadel resource server",
		slog.String("issuer", issuer),
		slog.String("client_id", clientID),
		slog.String("key_type", keyFile.Type),
	)

	return rs.NewResourceServerJWTProfile(ctx, issuer, clientID, keyFile.KeyID, []byte(keyFile.Key))
}

// introspectionResponse wraps the OIDC introspection response.
type introspectionResponse struct {
	Active            bool   `json:"active"`
	Scope             string `json:"scope"`
	ClientID          string `json:"client_id"`
	Expiration        oidcTime `json:"exp"`
	Subject           string `json:"sub"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`

	Claims map[string]any `json:"-"`
}

func (r *introspectionResponse) IsActive() bool        { return r.Active }
func (r *introspectionResponse) SetActive(active bool) { r.Active = active }

// oidcTime unmarshals a Unix-timestamp JSON number into a time.Time.
type oidcTime struct {
	time.Time
}

func (t *oidcTime) UnmarshalJSON(data []byte) error {
	var timestamp int64
	if err := json.Unmarshal(data, &timestamp); err != nil {
		return err
	}
	t.Time = time.Unix(timestamp, 0)
	return nil
}

func (t oidcTime) AsTime() time.Time { return t.Time }

func (z *ZitadelService) getCached(tokenHash string) (*IntrospectionResult, bool) {
	z.cacheMu.Lock()
	defer z.cacheMu.Unlock()
	entry, ok := z.cache[tokenHash]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(z.cache, tokenHash)
		return nil, false
	}
	return entry.result, true
}

func (z *ZitadelService) setCached(tokenHash string, result *IntrospectionResult, ttl time.Duration) {
	z.cacheMu.Lock()
	defer z.cacheMu.Unlock()
	z.cache[tokenHash] = cacheEntry{result: result, expiresAt: time.Now().Add(ttl)}
}

func hashToken(token string) string {
	hash := sha512.Sum512([]byte(token))
	return hex.EncodeToString(hash[:])
}

func (z *ZitadelService) tripCircuitBreaker() {
	z.failureMu.Lock()
	z.lastFailureTime = time.Now()
	z.failureMu.Unlock()
	z.log.Warn("circuit breaker tripped due to introspection failure")
}

// ParseScopes splits a space-separated OAuth2 scope string.
func ParseScopes(scope string) []string {
	if scope == "" {
		return []string{}
	}
	return strings.Split(scope, " ")
}

// UserInfoResult holds the response from the OIDC userinfo endpoint.
type UserInfoResult struct {
	Sub               string `json:"sub"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
}

// GetUserInfo calls the OIDC userinfo endpoint with the caller's access
// token. It works without the service-account credentials Introspect
// requires, so it is the fallback when introspection is disabled.
func (z *ZitadelService) GetUserInfo(ctx context.Context, accessToken string) (*UserInfoResult, error) {
	userinfoURL := z.cfg.GetIssuer() + "/oidc/v1/userinfo"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		z.log.Warn("userinfo request failed",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("unauthorized: token invalid or expired")
		}
		return nil, fmt.Errorf("userinfo failed with status %d", resp.StatusCode)
	}

	var result UserInfoResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return &result, nil
}
