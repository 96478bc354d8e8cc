package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/planora/planora-auth/internal/models"
)

// refreshSecretBytes is the entropy of a refresh token secret. 64 bytes
// encodes to 86 base64url characters.
const refreshSecretBytes = 64

type tokenRepository interface {
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	RotateRefreshToken(ctx context.Context, oldID string, successor *models.RefreshToken) error
}

// TokenConfig defines issuance parameters for token pairs.
type TokenConfig struct {
	Secret     string
	Issuer     string
	Audience   []string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// IssuedTokens is the result of minting an access/refresh pair. The
// refresh token plaintext exists only here; the store keeps its digest.
type IssuedTokens struct {
	AccessToken      string
	RefreshToken     string
	Record           *models.RefreshToken
	JTI              string
	AccessExpiresIn  int64
	RefreshExpiresAt time.Time
	IssuedAt         time.Time
}

// TokenIssuer mints signed access tokens and opaque refresh tokens,
// persisting only the refresh token digest.
type TokenIssuer struct {
	repo   tokenRepository
	config TokenConfig

	now     func() time.Time
	entropy io.Reader
}

// NewTokenIssuer constructs a TokenIssuer.
func NewTokenIssuer(repo tokenRepository, config TokenConfig) *TokenIssuer {
	if config.AccessTTL <= 0 {
		config.AccessTTL = 15 * time.Minute
	}
	if config.RefreshTTL <= 0 {
		config.RefreshTTL = 14 * 24 * time.Hour
	}
	return &TokenIssuer{
		repo:    repo,
		config:  config,
		now:     time.Now,
		entropy: rand.Reader,
	}
}

// Issue mints a token pair for user. When replacedTokenID is non-empty
// the new record and the revocation of the old one are committed as a
// single atomic rotation.
func (i *TokenIssuer) Issue(ctx context.Context, user *models.User, meta models.RequestMeta, replacedTokenID string) (*IssuedTokens, error) {
	issuedAt := i.now().UTC()
	jti := uuid.NewString()

	accessToken, err := i.signAccessToken(user, jti, issuedAt)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshPlaintext, err := i.newRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	record := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: HashRefreshToken(refreshPlaintext),
		JTI:       jti,
		ExpiresAt: issuedAt.Add(i.config.RefreshTTL),
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: issuedAt,
	}

	if replacedTokenID != "" {
		err = i.repo.RotateRefreshToken(ctx, replacedTokenID, record)
	} else {
		err = i.repo.CreateRefreshToken(ctx, record)
	}
	if err != nil {
		return nil, err
	}

	return &IssuedTokens{
		AccessToken:      accessToken,
		RefreshToken:     refreshPlaintext,
		Record:           record,
		JTI:              jti,
		AccessExpiresIn:  int64(i.config.AccessTTL.Seconds()),
		RefreshExpiresAt: record.ExpiresAt,
		IssuedAt:         issuedAt,
	}, nil
}

// Verify parses and validates an access token, returning its claims.
// Issuer and audience are checked against the issuer's own config, not
// just the signature.
func (i *TokenIssuer) Verify(tokenString string) (*models.AccessClaims, error) {
	var opts []jwt.ParserOption
	if i.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.config.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &models.AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(i.config.Secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*models.AccessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if len(i.config.Audience) > 0 && !audienceMatches(claims.Audience, i.config.Audience) {
		return nil, fmt.Errorf("invalid token audience")
	}
	return claims, nil
}

// audienceMatches reports whether any token audience value is one of
// the accepted audiences.
func audienceMatches(tokenAud jwt.ClaimStrings, accepted []string) bool {
	for _, aud := range tokenAud {
		for _, want := range accepted {
			if aud == want {
				return true
			}
		}
	}
	return false
}

func (i *TokenIssuer) signAccessToken(user *models.User, jti string, issuedAt time.Time) (string, error) {
	claims := &models.AccessClaims{
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   user.ID,
			Issuer:    i.config.Issuer,
			Audience:  i.config.Audience,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(i.config.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(i.config.Secret))
}

func (i *TokenIssuer) newRefreshSecret() (string, error) {
	buf := make([]byte, refreshSecretBytes)
	if _, err := io.ReadFull(i.entropy, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashRefreshToken returns the hex SHA-256 digest of a refresh token
// secret. Deterministic, so the store can be queried by digest.
func HashRefreshToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
