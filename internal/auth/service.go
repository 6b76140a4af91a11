package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"tessera.dev/internal/ids"
	"tessera.dev/internal/obs"
)

const (
	defaultIssuer        = "tessera"
	defaultAccessTTL     = 15 * time.Minute
	defaultRefreshTTL    = 7 * 24 * time.Hour
	defaultLockThreshold = 5
	defaultLockDuration  = 15 * time.Minute

	// statusCacheTTL bounds how stale a cached liveness answer may be. A
	// disabled account keeps validating for at most this long.
	statusCacheTTL = time.Minute
)

// Claims are the verified access-token claims. The permission list is a
// snapshot fixed at issuance; live role changes are not consulted again until
// expiry or refresh.
type Claims struct {
	TenantID    *string  `json:"tid,omitempty"`
	Email       string   `json:"email"`
	Permissions []string `json:"permissions"`
	TokenType   string   `json:"token_type"`
	jwt.RegisteredClaims
}

// Service issues, validates, rotates and revokes credential pairs.
type Service struct {
	store  Store
	guard  *Guard
	secret []byte

	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	lock       LockPolicy
	now        func() time.Time
	cache      Cache

	// refreshGroup serializes concurrent rotations of the same refresh token
	// so all callers of one in-flight rotation share a single result.
	refreshGroup singleflight.Group
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithLockPolicy configures the failed-login lockout.
func WithLockPolicy(policy LockPolicy) ServiceOption {
	return func(s *Service) error {
		s.lock = policy.normalized()
		return nil
	}
}

// WithCache installs the liveness cache consulted during token validation.
func WithCache(cache Cache) ServiceOption {
	return func(s *Service) error {
		s.cache = cache
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service. The signing secret is mandatory.
func NewService(store Store, secret string, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	svc := &Service{
		store:      store,
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		lock:       LockPolicy{}.normalized(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	svc.guard = NewGuard(store.Users(), svc.lock, svc.now)
	return svc, nil
}

// Guard exposes the account guard sharing the service's policy and clock.
func (s *Service) Guard() *Guard { return s.guard }

// RegisterParams describe a self-registration or admin-create request.
type RegisterParams struct {
	TenantID  *string
	Email     string
	Password  string
	CreatedBy *string
}

// Register creates a principal with the tenant's default role.
func (s *Service) Register(ctx context.Context, params RegisterParams) (Projection, error) {
	email := strings.TrimSpace(strings.ToLower(params.Email))
	if email == "" || !strings.Contains(email, "@") {
		return Projection{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(params.Password) < 8 {
		return Projection{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	hash, err := HashPassword(params.Password)
	if err != nil {
		return Projection{}, err
	}
	role, err := s.store.Roles().FindDefault(ctx, params.TenantID)
	if err != nil {
		return Projection{}, fmt.Errorf("resolve default role: %w", err)
	}
	user := &User{
		ID:           ids.New(),
		TenantID:     params.TenantID,
		Email:        email,
		PasswordHash: hash,
		RoleID:       role.ID,
		Status:       UserStatusActive,
		CreatedBy:    params.CreatedBy,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return Projection{}, err
	}
	principal, err := s.principalFor(ctx, user)
	if err != nil {
		return Projection{}, err
	}
	return principal.Projection(), nil
}

// Authenticate verifies credentials and issues a fresh credential pair.
// Failures are deliberately indistinguishable between unknown email and wrong
// password; a locked account wins over both, even with correct credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (TokenPair, Projection, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, Projection{}, ErrInvalidCredentials
	}

	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Unknown emails burn the same hash time as known ones.
			burnPasswordCheck(password)
			obs.LoginFailures.Inc()
			return TokenPair{}, Projection{}, ErrInvalidCredentials
		}
		return TokenPair{}, Projection{}, err
	}

	if err := s.guard.Check(user); err != nil {
		obs.LoginFailures.Inc()
		return TokenPair{}, Projection{}, err
	}

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		obs.LoginFailures.Inc()
		failErr := s.guard.RecordFailure(ctx, user.ID)
		if errors.Is(failErr, ErrAccountLocked) {
			obs.AccountLockouts.Inc()
		}
		return TokenPair{}, Projection{}, failErr
	}

	if user.FailedLogins > 0 || user.LockedUntil != nil {
		if err := s.guard.RecordSuccess(ctx, user.ID); err != nil {
			return TokenPair{}, Projection{}, err
		}
	}

	principal, err := s.principalFor(ctx, user)
	if err != nil {
		return TokenPair{}, Projection{}, err
	}
	pair, err := s.mintTokens(ctx, principal)
	if err != nil {
		return TokenPair{}, Projection{}, err
	}
	return pair, principal.Projection(), nil
}

// Validate verifies the access token signature and expiry and returns the
// embedded claims. This is the fast path: no store round trip.
func (s *Service) Validate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != "access" || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidatePrincipal validates the token and confirms the account is still
// live. The permission set comes from the token snapshot, not a re-resolution.
// The liveness answer is served from the cache when possible; a cache failure
// degrades to the store path and never skips the check.
func (s *Service) ValidatePrincipal(ctx context.Context, token string) (Principal, error) {
	claims, err := s.Validate(token)
	if err != nil {
		return Principal{}, err
	}
	if err := s.checkLiveness(ctx, claims.Subject); err != nil {
		return Principal{}, err
	}
	set := make(Set, len(claims.Permissions)).MergeKeys(claims.Permissions)
	return Principal{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		Email:    claims.Email,
		Set:      set,
	}, nil
}

func (s *Service) checkLiveness(ctx context.Context, userID string) error {
	key := "user_status:" + userID
	if s.cache != nil {
		if status, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			return statusError(status)
		}
	}
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	status := user.Status
	if user.DeletedAt != nil {
		status = "deleted"
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, status, statusCacheTTL)
	}
	return statusError(status)
}

func statusError(status string) error {
	switch status {
	case UserStatusActive:
		return nil
	case "deleted":
		return ErrAccountDeleted
	default:
		return ErrAccountNotActive
	}
}

type refreshResult struct {
	pair TokenPair
	proj Projection
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair minted in its place. Concurrent calls with the same token are collapsed
// into one rotation whose result all callers share.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, Projection, error) {
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, Projection{}, ErrInvalidToken
	}
	// The group key covers the secret too: callers only share a rotation
	// when they presented the identical credential. A caller with the right
	// id but a wrong secret takes its own path and fails the hash check.
	v, err, _ := s.refreshGroup.Do(tokenID+"."+hashSecret(secret), func() (any, error) {
		return s.rotate(ctx, tokenID, secret)
	})
	if err != nil {
		return TokenPair{}, Projection{}, err
	}
	res := v.(refreshResult)
	return res.pair, res.proj, nil
}

func (s *Service) rotate(ctx context.Context, tokenID, secret string) (refreshResult, error) {
	tokens := s.store.RefreshTokens()
	record, err := tokens.Find(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return refreshResult{}, ErrInvalidToken
		}
		return refreshResult{}, err
	}
	if record.RevokedAt != nil {
		// Reuse of a revoked token is treated as a compromised credential:
		// every sibling token for the principal is revoked.
		if err := tokens.RevokeAllForUser(ctx, record.UserID); err != nil {
			return refreshResult{}, err
		}
		s.invalidateLiveness(ctx, record.UserID)
		obs.TokenRevocations.Inc()
		return refreshResult{}, ErrTokenRevoked
	}
	if s.now().After(record.ExpiresAt) {
		return refreshResult{}, ErrTokenExpired
	}
	if !secretMatches(record.TokenHash, secret) {
		// Wrong secret against a live token id: burn the token.
		_, _ = tokens.Revoke(ctx, record.ID)
		return refreshResult{}, ErrInvalidToken
	}

	user, err := s.store.Users().Find(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return refreshResult{}, ErrInvalidToken
		}
		return refreshResult{}, err
	}
	if err := s.guard.Check(user); err != nil {
		return refreshResult{}, err
	}

	// Winner-takes-all: only the call that transitions the row may mint.
	rotated, err := tokens.Revoke(ctx, record.ID)
	if err != nil {
		return refreshResult{}, err
	}
	if !rotated {
		return refreshResult{}, ErrTokenRevoked
	}
	obs.TokenRotations.Inc()

	// Permissions are re-resolved at rotation; refresh is the moment role
	// changes take effect.
	principal, err := s.principalFor(ctx, user)
	if err != nil {
		return refreshResult{}, err
	}
	pair, err := s.mintTokens(ctx, principal)
	if err != nil {
		return refreshResult{}, err
	}
	return refreshResult{pair: pair, proj: principal.Projection()}, nil
}

// Revoke marks the presented refresh token revoked. It is idempotent: revoking
// an already-revoked or unknown token is a successful no-op.
func (s *Service) Revoke(ctx context.Context, refreshToken string) error {
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return ErrInvalidToken
	}
	record, err := s.store.RefreshTokens().Find(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if !secretMatches(record.TokenHash, secret) {
		return ErrInvalidToken
	}
	transitioned, err := s.store.RefreshTokens().Revoke(ctx, tokenID)
	if err != nil {
		return err
	}
	if transitioned {
		obs.TokenRevocations.Inc()
	}
	return nil
}

// RevokeAll revokes every refresh token for the principal.
func (s *Service) RevokeAll(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if err := s.store.RefreshTokens().RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	s.invalidateLiveness(ctx, userID)
	obs.TokenRevocations.Inc()
	return nil
}

// SweepExpired deletes refresh rows past expiry. Meant to run periodically.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.store.RefreshTokens().DeleteExpired(ctx, s.now())
}

func (s *Service) invalidateLiveness(ctx context.Context, userID string) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, "user_status:"+userID)
	}
}

// principalFor resolves the caller's permission set: role permissions merged
// with per-user overrides.
func (s *Service) principalFor(ctx context.Context, user *User) (Principal, error) {
	set := make(Set)
	if user.RoleID != "" {
		role, err := s.store.Roles().Find(ctx, user.RoleID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Principal{}, err
		}
		if role != nil {
			set.MergeKeys(role.Permissions)
		}
	}
	set.MergeKeys(user.Overrides)
	return Principal{
		UserID:   user.ID,
		TenantID: user.TenantID,
		Email:    user.Email,
		Set:      set,
	}, nil
}

func (s *Service) mintTokens(ctx context.Context, principal Principal) (TokenPair, error) {
	now := s.now().UTC()
	accessExp := now.Add(s.accessTTL)
	claims := Claims{
		TenantID:    principal.TenantID,
		Email:       principal.Email,
		Permissions: principal.Set.Keys(),
		TokenType:   "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   principal.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
			ID:        uuid.NewString(),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshString, record, err := s.generateRefreshToken(principal.UserID, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.RefreshTokens().Create(ctx, record); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshString,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

func (s *Service) generateRefreshToken(userID string, now time.Time) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := ids.New()
	record := &RefreshToken{
		ID:        tokenID,
		UserID:    userID,
		TokenHash: hashSecret(secret),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	return tokenID + "." + secret, record, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func secretMatches(expectedHash, secret string) bool {
	actual := hashSecret(secret)
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
