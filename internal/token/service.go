// Package token はアクセストークンとリフレッシュトークンの発行・検証を提供する。
//
// 両トークンはHS256で署名し、それぞれ独立した鍵を使う。
// typクレームで種別を区別するため、一方を他方として受け付けることはない。
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hitoshi/dealhub/internal/model"
)

// ErrInvalidToken は署名不正・形式不正・期限切れ・種別違いなど、あらゆる検証失敗で返す。
var ErrInvalidToken = errors.New("token: invalid token")

// トークン種別
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Config はトークンサービスの設定。
type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string

	// Now は現在時刻を返す。nilの場合はtime.Now。
	Now func() time.Time
}

// Claims はJWTクレーム。
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	Type  string `json:"typ"`
	jwt.RegisteredClaims
}

// AccessClaims はアクセストークンに含めるユーザー情報。
type AccessClaims struct {
	UserID string
	Email  string
	Role   model.Role
}

// Service はトークンの発行・検証を行う。
type Service struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	now        func() time.Time
}

// NewService は設定を検証してServiceを生成する。
func NewService(cfg Config) (*Service, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("token: access and refresh secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("token: access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: TTLs must be positive")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		issuer:     cfg.Issuer,
		now:        now,
	}, nil
}

// RefreshTTL はリフレッシュトークンの有効期間を返す。Cookieの有効期間に使う。
func (s *Service) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// IssueAccessToken はアクセストークンを発行する。
func (s *Service) IssueAccessToken(c AccessClaims) (string, error) {
	claims := Claims{
		Email:            c.Email,
		Role:             string(c.Role),
		Type:             TypeAccess,
		RegisteredClaims: s.registered(c.UserID, s.accessTTL),
	}
	return s.sign(claims, s.accessKey)
}

// IssueRefreshToken はリフレッシュトークンを発行する。
// jtiを含むため、同一秒内の発行でも値は重複しない。
func (s *Service) IssueRefreshToken(userID string) (string, error) {
	claims := Claims{
		Type:             TypeRefresh,
		RegisteredClaims: s.registered(userID, s.refreshTTL),
	}
	return s.sign(claims, s.refreshKey)
}

// VerifyAccessToken はアクセストークンを検証してクレームを返す。
func (s *Service) VerifyAccessToken(raw string) (*Claims, error) {
	return s.verify(raw, s.accessKey, TypeAccess)
}

// VerifyRefreshToken はリフレッシュトークンを検証してクレームを返す。
func (s *Service) VerifyRefreshToken(raw string) (*Claims, error) {
	return s.verify(raw, s.refreshKey, TypeRefresh)
}

func (s *Service) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.New().String(),
	}
}

func (s *Service) sign(claims Claims, key []byte) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) verify(raw string, key []byte, typ string) (*Claims, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != typ || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Digest はトークンのSHA-256ダイジェスト（16進）を返す。
// サーバー側にはこの値のみを保存する。
func Digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
