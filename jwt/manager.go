package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 key pair (EdDSA).
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
)

// Kind discriminates access tokens from refresh tokens.
type Kind string

const (
	// KindAccess marks a short-lived token presented on every request.
	KindAccess Kind = "access"
	// KindRefresh marks a long-lived token exchanged for a new pair.
	KindRefresh Kind = "refresh"
)

// DefaultIssuer is stamped into tokens when Config.Issuer is empty.
const DefaultIssuer = "authcore"

var (
	// ErrExpired is returned when a correctly signed token is past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrKindMismatch is returned when a token's kind differs from the expected kind.
	ErrKindMismatch = errors.New("token kind mismatch")
	// ErrInvalid covers signature, structure, algorithm, issuer and audience failures.
	ErrInvalid = errors.New("token invalid")
)

// Config defines signing material and token lifetimes.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Manager issues and verifies tokens. It performs no I/O and is safe for
// concurrent use.
type Manager struct {
	config Config
	method jwt.SigningMethod
	sign   any
	verify any
	byKID  map[string]any
}

// Claims is the signed payload of both token kinds. Identity snapshot fields are
// populated on access tokens only.
type Claims struct {
	UID      string `json:"uid"`
	SID      string `json:"sid"`
	Kind     Kind   `json:"kind"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	RoleName string `json:"role_name,omitempty"`
	jwt.RegisteredClaims
}

// Subject is the identity snapshot embedded in access tokens.
type Subject struct {
	ID       string
	Username string
	Email    string
	RoleID   string
	RoleName string
}

// TokenPair is an access token plus the refresh token that can replace it.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// NewManager validates cfg and returns a Manager. Zero TTLs take the defaults of 8h
// (access) and 30 days (refresh).
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 8 * time.Hour
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must be >= access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg}
	if err := m.loadKeys(); err != nil {
		return nil, err
	}
	return m, nil
}

// loadKeys resolves the configured key material once so signing and
// verification never re-parse PEM.
func (j *Manager) loadKeys() error {
	cfg := j.config
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return errors.New("hs256 requires private key")
		}
		j.method = jwt.SigningMethodHS256
		j.sign, j.verify = cfg.PrivateKey, cfg.PrivateKey
	case MethodEd25519:
		j.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return err
			}
			j.sign = priv
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return err
			}
			j.verify = pub
		}
		if len(cfg.VerifyKeys) == 0 && j.verify == nil {
			return errors.New("ed25519 requires public key or verify key set")
		}
	default:
		return errors.New("unsupported signing method")
	}

	if len(cfg.VerifyKeys) == 0 {
		return nil
	}
	j.byKID = make(map[string]any, len(cfg.VerifyKeys))
	for kid, raw := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return errors.New("verify key map contains empty kid")
		}
		if cfg.SigningMethod == MethodHS256 {
			j.byKID[kid] = raw
			continue
		}
		pub, err := parseEdPublicKey(raw)
		if err != nil {
			return fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
		}
		j.byKID[kid] = pub
	}
	if cfg.KeyID != "" {
		if _, ok := j.byKID[cfg.KeyID]; !ok {
			return errors.New("KeyID is not present in VerifyKeys")
		}
	}
	return nil
}

// AccessTTL returns the configured access token lifetime.
func (j *Manager) AccessTTL() time.Duration { return j.config.AccessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (j *Manager) RefreshTTL() time.Duration { return j.config.RefreshTTL }

// Issue signs a fresh access and refresh token bound to sessionID.
func (j *Manager) Issue(subject Subject, sessionID string) (TokenPair, error) {
	access, accessExp, err := j.IssueAccess(subject, sessionID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := j.IssueRefresh(subject.ID, sessionID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// IssueAccess signs an access token carrying the subject snapshot.
func (j *Manager) IssueAccess(subject Subject, sessionID string) (string, time.Time, error) {
	if subject.ID == "" || sessionID == "" {
		return "", time.Time{}, errors.New("subject and session id required")
	}
	claims := j.baseClaims(subject.ID, sessionID, KindAccess, j.config.AccessTTL)
	claims.Username = subject.Username
	claims.Email = subject.Email
	claims.Role = subject.RoleID
	claims.RoleName = subject.RoleName

	signed, err := j.signClaims(claims)
	return signed, claims.ExpiresAt.Time, err
}

// IssueRefresh signs a refresh token. It carries no identity snapshot.
func (j *Manager) IssueRefresh(uid, sessionID string) (string, time.Time, error) {
	if uid == "" || sessionID == "" {
		return "", time.Time{}, errors.New("subject and session id required")
	}
	claims := j.baseClaims(uid, sessionID, KindRefresh, j.config.RefreshTTL)
	signed, err := j.signClaims(claims)
	return signed, claims.ExpiresAt.Time, err
}

func (j *Manager) baseClaims(uid, sid string, kind Kind, ttl time.Duration) *Claims {
	now := j.config.Now()
	claims := &Claims{
		UID:  uid,
		SID:  sid,
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}
	return claims
}

func (j *Manager) signClaims(claims *Claims) (string, error) {
	if j.sign == nil {
		return "", errors.New("ed25519 signing requires private key")
	}
	token := jwt.NewWithClaims(j.method, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}
	return token.SignedString(j.sign)
}

// Verify checks signature, structure, expiry and kind, in that order. A token that
// is both expired and of the wrong kind reports ErrExpired.
func (j *Manager) Verify(tokenStr string, kind Kind) (*Claims, error) {
	claims, err := j.parse(tokenStr, true)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, ErrKindMismatch
	}
	return claims, nil
}

// VerifyIgnoringExpiry checks signature, structure, issuer and kind but accepts
// expired tokens. It backs operations such as logout that must work on a stale
// access token.
func (j *Manager) VerifyIgnoringExpiry(tokenStr string, kind Kind) (*Claims, error) {
	claims, err := j.parse(tokenStr, false)
	if err != nil {
		return nil, err
	}
	if claims.Issuer != j.config.Issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrInvalid)
	}
	if j.config.Audience != "" && !containsAudience(claims.Audience, j.config.Audience) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrInvalid)
	}
	if claims.Kind != kind {
		return nil, ErrKindMismatch
	}
	return claims, nil
}

func (j *Manager) parse(tokenStr string, validateClaims bool) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method.Alg()}),
		jwt.WithTimeFunc(j.config.Now),
		jwt.WithExpirationRequired(),
	}
	if validateClaims {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
		if j.config.Leeway > 0 {
			options = append(options, jwt.WithLeeway(j.config.Leeway))
		}
		if j.config.Audience != "" {
			options = append(options, jwt.WithAudience(j.config.Audience))
		}
	} else {
		options = append(options, jwt.WithoutClaimsValidation())
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, j.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalid
	}
	if claims.UID == "" || claims.SID == "" || claims.Kind == "" || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing required claims", ErrInvalid)
	}
	if claims.IssuedAt != nil && j.config.MaxFutureIAT > 0 {
		maxAllowed := j.config.Now().Add(j.config.MaxFutureIAT)
		if claims.IssuedAt.Time.After(maxAllowed) {
			return nil, fmt.Errorf("%w: iat too far in the future", ErrInvalid)
		}
	}

	return claims, nil
}

func (j *Manager) keyFunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != j.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	if j.byKID == nil && j.config.KeyID == "" {
		return j.verify, nil
	}

	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("missing kid")
	}
	if j.byKID != nil {
		if key, ok := j.byKID[kid]; ok {
			return key, nil
		}
	} else if kid == j.config.KeyID {
		return j.verify, nil
	}
	return nil, errors.New("unknown kid")
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
