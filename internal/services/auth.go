package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const authenticatedRole = "authenticated"

type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type AuthConfig struct {
	Secret         string
	Issuer         string
	Audience       string
	TTL            time.Duration
	AllowedDomains []string
	AllowedEmails  []string
}

// AuthService issues and verifies the bearer tokens that carry a participant
// identity. The email claim is the identity used everywhere else.
type AuthService struct {
	jwtSecret []byte
	issuer    string
	audience  string
	ttl       time.Duration
	domains   map[string]struct{}
	emails    map[string]struct{}
	now       func() time.Time
}

func NewAuthService(cfg AuthConfig) *AuthService {
	s := &AuthService{
		jwtSecret: []byte(cfg.Secret),
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		ttl:       cfg.TTL,
		domains:   make(map[string]struct{}),
		emails:    make(map[string]struct{}),
		now:       time.Now,
	}
	if s.ttl <= 0 {
		s.ttl = 24 * time.Hour
	}
	for _, d := range cfg.AllowedDomains {
		d = strings.TrimPrefix(NormalizeEmail(d), "@")
		if d != "" {
			s.domains[d] = struct{}{}
		}
	}
	for _, e := range cfg.AllowedEmails {
		if e = NormalizeEmail(e); e != "" {
			s.emails[e] = struct{}{}
		}
	}
	return s
}

// Allowed reports whether email belongs to an allowed domain or is listed
// explicitly. With no policy configured every address is allowed.
func (s *AuthService) Allowed(email string) bool {
	email = NormalizeEmail(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	if len(s.domains) == 0 && len(s.emails) == 0 {
		return true
	}
	if _, ok := s.emails[email]; ok {
		return true
	}
	_, ok := s.domains[email[at+1:]]
	return ok
}

func (s *AuthService) GenerateToken(email string) (string, error) {
	email = NormalizeEmail(email)
	if !s.Allowed(email) {
		return "", fmt.Errorf("%w: %s is not an allowed identity", ErrUnauthorized, email)
	}

	now := s.now()
	claims := Claims{
		Email: email,
		Role:  authenticatedRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken returns the normalized email carried by a valid token.
func (s *AuthService) ValidateToken(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, opts...)
	if err != nil || !token.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	email := NormalizeEmail(claims.Email)
	if email == "" {
		return "", fmt.Errorf("%w: token has no email claim", ErrUnauthorized)
	}
	if !s.Allowed(email) {
		return "", fmt.Errorf("%w: %s is not an allowed identity", ErrUnauthorized, email)
	}
	return email, nil
}
