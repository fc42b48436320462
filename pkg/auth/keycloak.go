package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/patrickmn/go-cache"
)

// KeycloakConfig конфигурация для Keycloak
type KeycloakConfig struct {
	ServerURL string
	Realm     string
	ClientID  string
}

// KeycloakClaims представляет собой структуру claims из токена Keycloak
type KeycloakClaims struct {
	UserID      string `json:"sub"`
	Username    string `json:"preferred_username"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access"`
}

// HasRole проверяет роль в realm и в ролях клиента clientID
func (c *KeycloakClaims) HasRole(clientID, role string) bool {
	if c == nil {
		return false
	}
	for _, r := range c.RealmAccess.Roles {
		if r == role {
			return true
		}
	}
	if clientRoles, ok := c.ResourceAccess[clientID]; ok {
		for _, r := range clientRoles.Roles {
			if r == role {
				return true
			}
		}
	}
	return false
}

// TokenVerifier проверяет bearer-токен
type TokenVerifier interface {
	ValidateToken(ctx context.Context, token string) (*KeycloakClaims, error)
	// HasAnyRole проверяет наличие хотя бы одной роли из списка
	HasAnyRole(claims *KeycloakClaims, roles ...string) bool
}

// KeycloakClient клиент для работы с Keycloak
type KeycloakClient struct {
	verifier   *oidc.IDTokenVerifier
	tokenCache *cache.Cache
	clientID   string
}

// NewKeycloakClient создает новый клиент Keycloak; провайдер OIDC читается при создании
func NewKeycloakClient(ctx context.Context, cfg KeycloakConfig) (*KeycloakClient, error) {
	providerURL := fmt.Sprintf("%s/realms/%s", strings.TrimRight(cfg.ServerURL, "/"), cfg.Realm)

	provider, err := oidc.NewProvider(ctx, providerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create oidc provider: %w", err)
	}

	// access-токены Keycloak выпускаются с aud=account, поэтому audience не сверяется
	verifier := provider.Verifier(&oidc.Config{
		ClientID:          cfg.ClientID,
		SkipClientIDCheck: true,
	})

	return &KeycloakClient{
		verifier:   verifier,
		tokenCache: cache.New(5*time.Minute, 10*time.Minute),
		clientID:   cfg.ClientID,
	}, nil
}

// ValidateToken проверяет JWT токен и возвращает claims
func (k *KeycloakClient) ValidateToken(ctx context.Context, tokenString string) (*KeycloakClaims, error) {
	if cachedClaims, found := k.tokenCache.Get(tokenString); found {
		return cachedClaims.(*KeycloakClaims), nil
	}

	idToken, err := k.verifier.Verify(ctx, tokenString)
	if err != nil {
		return nil, fmt.Errorf("failed to verify token: %w", err)
	}

	var claims KeycloakClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to extract claims: %w", err)
	}

	if expiresIn := time.Until(idToken.Expiry); expiresIn > 0 {
		k.tokenCache.Set(tokenString, &claims, expiresIn)
	}

	return &claims, nil
}

// HasAnyRole проверяет наличие хотя бы одной роли из списка
func (k *KeycloakClient) HasAnyRole(claims *KeycloakClaims, roles ...string) bool {
	for _, role := range roles {
		if claims.HasRole(k.clientID, role) {
			return true
		}
	}
	return false
}
