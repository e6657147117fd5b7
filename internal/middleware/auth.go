package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/imyashkale/mcphost/internal/config"
	"github.com/imyashkale/mcphost/internal/logger"
)

var (
	ErrMissingAuthHeader = errors.New("missing authorization header")
	ErrInvalidAuthHeader = errors.New("invalid authorization header format")
	ErrInvalidToken      = errors.New("invalid token")
	ErrMissingSubject    = errors.New("missing subject in token")
	ErrKeyNotFound       = errors.New("unable to find appropriate key")
)

const jwksFetchTimeout = 10 * time.Second

// JWKSet represents a JSON Web Key Set
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string   `json:"kid"`
	Kty string   `json:"kty"`
	Use string   `json:"use"`
	N   string   `json:"n"`
	E   string   `json:"e"`
	X5c []string `json:"x5c"`
}

// AuthConfig selects how bearer tokens are verified. A shared secret enables
// HMAC verification; an Auth0 domain enables RS256 verification against the
// tenant's JWKS. With neither set, requests pass through unauthenticated.
type AuthConfig struct {
	JWTSecret string
	Domain    string
	Audience  string

	// JWKSURL overrides the key set location derived from Domain
	JWKSURL string

	mu    sync.Mutex
	certs map[string]string
}

// NewAuthConfig creates the authentication configuration from the application config
func NewAuthConfig(cfg *config.Config) *AuthConfig {
	return &AuthConfig{
		JWTSecret: cfg.JWTSecret,
		Domain:    cfg.Auth0Domain,
		Audience:  cfg.Auth0Audience,
	}
}

// Enabled reports whether any verification mode is configured
func (a *AuthConfig) Enabled() bool {
	return a != nil && (a.JWTSecret != "" || a.Domain != "")
}

func (a *AuthConfig) issuer() string {
	return fmt.Sprintf("https://%s/", a.Domain)
}

func (a *AuthConfig) jwksURL() string {
	if a.JWKSURL != "" {
		return a.JWKSURL
	}
	return fmt.Sprintf("https://%s/.well-known/jwks.json", a.Domain)
}

// Authentication validates bearer tokens and stores the subject as user_id
func Authentication(cfg *AuthConfig) gin.HandlerFunc {
	if !cfg.Enabled() {
		logger.Warn("Authentication disabled: no JWT_SECRET or AUTH0_DOMAIN configured")
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		tokenString, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			logger.WithField("path", c.Request.URL.Path).Warnf("Authentication failed: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Missing or invalid authorization header",
			})
			return
		}

		claims, err := cfg.verify(c.Request.Context(), tokenString)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			}).Warn("Authentication failed: token validation error")

			code := "invalid_token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				code = "token_expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   code,
				"message": err.Error(),
			})
			return
		}

		userId, err := claims.GetSubject()
		if err != nil || userId == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_token",
				"message": ErrMissingSubject.Error(),
			})
			return
		}

		c.Set("user_id", userId)
		c.Set("token_claims", claims)

		logger.WithFields(map[string]interface{}{
			"user_id": userId,
			"path":    c.Request.URL.Path,
		}).Debug("Authentication successful")

		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAuthHeader
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) || len(header) == len(prefix) {
		return "", ErrInvalidAuthHeader
	}
	return header[len(prefix):], nil
}

// verify checks signature, expiry and, for Auth0, issuer and audience
func (a *AuthConfig) verify(ctx context.Context, tokenString string) (jwt.MapClaims, error) {
	var (
		opts    []jwt.ParserOption
		keyFunc jwt.Keyfunc
	)

	if a.Domain != "" {
		opts = append(opts,
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithIssuer(a.issuer()),
			jwt.WithAudience(a.Audience),
		)
		keyFunc = func(token *jwt.Token) (interface{}, error) {
			cert, err := a.pemCert(ctx, token)
			if err != nil {
				return nil, err
			}
			return jwt.ParseRSAPublicKeyFromPEM([]byte(cert))
		}
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
		keyFunc = func(*jwt.Token) (interface{}, error) {
			return []byte(a.JWTSecret), nil
		}
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// pemCert returns the certificate for the token's kid, refetching the key
// set once when the kid is unknown
func (a *AuthConfig) pemCert(ctx context.Context, token *jwt.Token) (string, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return "", errors.New("missing kid in token header")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if cert, ok := a.certs[kid]; ok {
		return cert, nil
	}

	certs, err := fetchCerts(ctx, a.jwksURL())
	if err != nil {
		return "", err
	}
	a.certs = certs

	if cert, ok := certs[kid]; ok {
		return cert, nil
	}
	return "", ErrKeyNotFound
}

// fetchCerts downloads the JWKS and indexes the first x5c entry by kid
func fetchCerts(ctx context.Context, url string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, jwksFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch JWKS: status %d", resp.StatusCode)
	}

	var jwks JWKSet
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	certs := make(map[string]string, len(jwks.Keys))
	for _, key := range jwks.Keys {
		if key.Kid == "" || len(key.X5c) == 0 {
			continue
		}
		certs[key.Kid] = fmt.Sprintf("-----BEGIN CERTIFICATE-----\n%s\n-----END CERTIFICATE-----", key.X5c[0])
	}
	return certs, nil
}
