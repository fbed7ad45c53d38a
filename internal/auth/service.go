package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"chatdeck/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Service verifies credentials from the auth config file and issues signed
// tokens. Tokens are stateless: identity, display name, and role travel in
// the claims, signed with the configured cookie key.
type Service struct {
	users          map[string]Credential
	signingKey     []byte
	tokenTTL       time.Duration
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
}

type claims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewService constructs an auth service from the loaded auth config.
func NewService(cfg *Config) *Service {
	ttl := time.Duration(cfg.Cookie.ExpiryDays) * 24 * time.Hour
	return &Service{
		users:          cfg.Credentials.Usernames,
		signingKey:     []byte(cfg.Cookie.Key),
		tokenTTL:       ttl,
		cookieName:     cfg.Cookie.Name,
		headerName:     "Authorization",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
	}
}

// Login validates credentials and returns the user identity.
func (s *Service) Login(username, password string) (*models.User, error) {
	cred, ok := s.users[username]
	if !ok {
		return nil, models.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, models.ErrUnauthorized
	}
	return &models.User{Username: username, Name: cred.Name, Role: cred.Role()}, nil
}

// IssueToken mints a signed token carrying the user's identity and role.
func (s *Service) IssueToken(user *models.User) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Name: user.Name,
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies signature and expiry and returns the embedded user.
// The role is re-read from the auth config so revoking a user or changing a
// role takes effect without waiting for token expiry.
func (s *Service) ValidateToken(tokenString string) (*models.User, error) {
	if tokenString == "" {
		return nil, models.ErrUnauthorized
	}
	var cl claims
	token, err := jwt.ParseWithClaims(tokenString, &cl, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil || !token.Valid {
		return nil, models.ErrUnauthorized
	}
	cred, ok := s.users[cl.Subject]
	if !ok {
		return nil, models.ErrUnauthorized
	}
	return &models.User{Username: cl.Subject, Name: cred.Name, Role: cred.Role()}, nil
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AuthCookieName returns the cookie name storing auth tokens.
func (s *Service) AuthCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
