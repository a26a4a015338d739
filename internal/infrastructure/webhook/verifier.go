// Package webhook authenticates provider callbacks and remembers which ones
// were already reconciled.
package webhook

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apppayment "github.com/lllypuk/estately/internal/application/payment"
)

// SignatureHeader carries the provider signed JWT.
const SignatureHeader = "X-Webhook-Signature"

// Default verification settings.
const (
	DefaultLeeway          = 30 * time.Second
	DefaultRefreshInterval = time.Hour
	DefaultTokenTTL        = 5 * time.Minute
)

// ErrUnknownProvider is returned for callbacks from a provider with no key.
var ErrUnknownProvider = errors.New("no webhook key for provider")

// Claims is the payload of a webhook signature token.
type Claims struct {
	BodySHA256 string `json:"body_sha256"`
	jwt.RegisteredClaims
}

// ProviderKey configures how one provider signs callbacks. Exactly one of
// Secret (HS256) or JWKSURL (RS256/ES256) is set.
type ProviderKey struct {
	Provider string
	Secret   string
	JWKSURL  string
}

type providerVerifier struct {
	keyfunc jwt.Keyfunc
	methods []string
}

// JWTVerifier checks the signature header of provider callbacks.
type JWTVerifier struct {
	providers map[string]providerVerifier
	leeway    time.Duration
	logger    *slog.Logger
	cancel    context.CancelFunc
	now       func() time.Time
}

// VerifierOption configures a JWTVerifier.
type VerifierOption func(*JWTVerifier)

// WithLeeway sets the clock skew tolerance.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *JWTVerifier) { v.leeway = d }
}

// WithVerifierLogger sets the logger.
func WithVerifierLogger(logger *slog.Logger) VerifierOption {
	return func(v *JWTVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithClock overrides the verification clock.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *JWTVerifier) { v.now = now }
}

// NewJWTVerifier builds a verifier. JWKS keys are fetched now and refreshed in
// the background until Close.
func NewJWTVerifier(keys []ProviderKey, opts ...VerifierOption) (*JWTVerifier, error) {
	ctx, cancel := context.WithCancel(context.Background())
	v := &JWTVerifier{
		providers: make(map[string]providerVerifier, len(keys)),
		leeway:    DefaultLeeway,
		logger:    slog.Default(),
		cancel:    cancel,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}

	for _, key := range keys {
		switch {
		case key.Secret != "":
			secret := []byte(key.Secret)
			v.providers[key.Provider] = providerVerifier{
				keyfunc: func(*jwt.Token) (any, error) { return secret, nil },
				methods: []string{jwt.SigningMethodHS256.Alg()},
			}
		case key.JWKSURL != "":
			kf, err := v.remoteKeys(ctx, key)
			if err != nil {
				cancel()
				return nil, err
			}
			v.providers[key.Provider] = providerVerifier{
				keyfunc: kf.Keyfunc,
				methods: []string{jwt.SigningMethodRS256.Alg(), jwt.SigningMethodES256.Alg()},
			}
		default:
			cancel()
			return nil, fmt.Errorf("webhook key for %s needs a secret or a JWKS URL", key.Provider)
		}
	}
	return v, nil
}

func (v *JWTVerifier) remoteKeys(ctx context.Context, key ProviderKey) (keyfunc.Keyfunc, error) {
	storage, err := jwkset.NewStorageFromHTTP(key.JWKSURL, jwkset.HTTPClientStorageOptions{
		Ctx:             ctx,
		RefreshInterval: DefaultRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			v.logger.Error("failed to refresh webhook JWKS",
				slog.String("provider", key.Provider),
				slog.Any("error", err),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS for %s: %w", key.Provider, err)
	}
	kf, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("failed to build keyfunc for %s: %w", key.Provider, err)
	}
	return kf, nil
}

// Close stops background JWKS refresh.
func (v *JWTVerifier) Close() error {
	v.cancel()
	return nil
}

// Verify checks that token was issued by provider for exactly this body.
// Every failure wraps apppayment.ErrWebhookUnverified.
func (v *JWTVerifier) Verify(_ context.Context, provider, token string, body []byte) error {
	pv, ok := v.providers[provider]
	if !ok {
		return fmt.Errorf("%w: %w: %s", apppayment.ErrWebhookUnverified, ErrUnknownProvider, provider)
	}
	if token == "" {
		return fmt.Errorf("%w: missing %s header", apppayment.ErrWebhookUnverified, SignatureHeader)
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, pv.keyfunc,
		jwt.WithValidMethods(pv.methods),
		jwt.WithIssuer(provider),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", apppayment.ErrWebhookUnverified, err)
	}
	if !parsed.Valid {
		return fmt.Errorf("%w: invalid token", apppayment.ErrWebhookUnverified)
	}

	sum := sha256.Sum256(body)
	if subtle.ConstantTimeCompare([]byte(claims.BodySHA256), []byte(hex.EncodeToString(sum[:]))) != 1 {
		return fmt.Errorf("%w: body does not match signature", apppayment.ErrWebhookUnverified)
	}
	return nil
}

// Sign issues an HS256 signature token for body. Used by the sandbox provider
// and tests.
func Sign(provider, secret string, body []byte, now time.Time) (string, error) {
	sum := sha256.Sum256(body)
	claims := Claims{
		BodySHA256: hex.EncodeToString(sum[:]),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    provider,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(DefaultTokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
