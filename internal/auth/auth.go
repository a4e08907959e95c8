package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "questionbank_go_backend/internal/errors"
	"questionbank_go_backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const userContextKey = "user"

// TokenVerifier checks a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(tokenString string) (jwt.MapClaims, error)
}

type UserUpserter interface {
	CreateOrUpdateUser(ctx context.Context, authSubject, email, name, nickname string) (*models.User, error)
}

func AuthMiddleware(users UserUpserter, verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := zerolog.Ctx(c.Request.Context())

		var token string

		// Browsers cannot set headers on a websocket upgrade.
		if websocket.IsWebSocketUpgrade(c.Request) {
			token = c.Query("token")
		} else {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				apperrors.HandleError(c, apperrors.New401Error("Authorization header is required"))
				return
			}

			bearerToken := strings.Split(authHeader, " ")
			if len(bearerToken) != 2 || !strings.EqualFold(bearerToken[0], "Bearer") {
				apperrors.HandleError(c, apperrors.New401Error("Invalid authorization header"))
				return
			}
			token = bearerToken[1]
		}
		if token == "" {
			apperrors.HandleError(c, apperrors.New401Error("Missing token"))
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			log.Debug().Err(err).Msg("token rejected")
			apperrors.HandleError(c, apperrors.New401Error("Invalid token"))
			return
		}

		subject, _ := claims["sub"].(string)
		if subject == "" {
			apperrors.HandleError(c, apperrors.New401Error("Token has no subject"))
			return
		}
		email, _ := claims["email"].(string)
		name, _ := claims["name"].(string)
		nickname, _ := claims["nickname"].(string)

		user, err := users.CreateOrUpdateUser(c.Request.Context(), subject, email, name, nickname)
		if err != nil {
			apperrors.HandleError(c, apperrors.New500Error(err))
			return
		}

		ctxLog := log.With().Str("user_id", user.ID.String()).Logger()
		c.Request = c.Request.WithContext(ctxLog.WithContext(c.Request.Context()))
		c.Set(userContextKey, user)
		c.Next()
	}
}

// CurrentUser returns the user set by AuthMiddleware.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, exists := c.Get(userContextKey)
	if !exists {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok
}

// SecretVerifier accepts HS256 tokens signed with a shared secret.
type SecretVerifier struct {
	secret []byte
}

func NewSecretVerifier(secret string) *SecretVerifier {
	return &SecretVerifier{secret: []byte(secret)}
}

func (v *SecretVerifier) Verify(tokenString string) (jwt.MapClaims, error) {
	return parseClaims(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
}

// jwksRefetchInterval bounds how often an unknown key id can trigger a fetch.
const jwksRefetchInterval = time.Minute

// JWKSVerifier accepts RS256 tokens issued by an Auth0 tenant. Certificates
// are cached by key id.
type JWKSVerifier struct {
	jwksURL         string
	client          *http.Client
	refetchInterval time.Duration

	mu        sync.RWMutex
	certs     map[string]string
	lastFetch time.Time
}

func NewJWKSVerifier(domain string) *JWKSVerifier {
	return &JWKSVerifier{
		jwksURL:         fmt.Sprintf("https://%s/.well-known/jwks.json", domain),
		client:          &http.Client{Timeout: 10 * time.Second},
		refetchInterval: jwksRefetchInterval,
		certs:           make(map[string]string),
	}
}

func (v *JWKSVerifier) Verify(tokenString string) (jwt.MapClaims, error) {
	return parseClaims(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		cert, err := v.getPemCert(token)
		if err != nil {
			return nil, err
		}

		return jwt.ParseRSAPublicKeyFromPEM([]byte(cert))
	})
}

func parseClaims(tokenString string, keyFunc jwt.Keyfunc) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, keyFunc)
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

func (v *JWKSVerifier) getPemCert(token *jwt.Token) (string, error) {
	kid, _ := token.Header["kid"].(string)

	v.mu.RLock()
	cert, ok := v.certs[kid]
	v.mu.RUnlock()
	if ok {
		return cert, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if cert, ok := v.certs[kid]; ok {
		return cert, nil
	}
	if !v.lastFetch.IsZero() && time.Since(v.lastFetch) < v.refetchInterval {
		return "", errors.New("unable to find appropriate key")
	}
	v.lastFetch = time.Now()

	if err := v.fetchCerts(); err != nil {
		return "", err
	}

	cert, ok = v.certs[kid]
	if !ok {
		return "", errors.New("unable to find appropriate key")
	}
	return cert, nil
}

// fetchCerts loads the tenant's signing certificates. Callers hold v.mu.
func (v *JWKSVerifier) fetchCerts() error {
	resp, err := v.client.Get(v.jwksURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned %s", resp.Status)
	}

	var jwks = struct {
		Keys []struct {
			Kty string   `json:"kty"`
			Kid string   `json:"kid"`
			Use string   `json:"use"`
			N   string   `json:"n"`
			E   string   `json:"e"`
			X5c []string `json:"x5c"`
		} `json:"keys"`
	}{}

	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return err
	}

	for _, key := range jwks.Keys {
		if len(key.X5c) == 0 {
			continue
		}
		v.certs[key.Kid] = "-----BEGIN CERTIFICATE-----\n" + key.X5c[0] + "\n-----END CERTIFICATE-----"
	}
	return nil
}
