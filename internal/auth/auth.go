// Package auth 提供可选的接口认证：JWT Bearer令牌与静态API密钥。
// 本地压测场景默认关闭，部署到共享环境时通过配置开启。
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"inferbench/config"
	apperrors "inferbench/internal/errors"
)

const tokenIssuer = "inferbench"

// defaultTokenExpiry 未配置令牌有效期时的兜底值
const defaultTokenExpiry = time.Hour

// Claims JWT声明
type Claims struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole 是否具有指定角色
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole 是否具有任一指定角色
func (c *Claims) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if c.HasRole(role) {
			return true
		}
	}
	return false
}

// Manager 认证管理器，校验JWT令牌和API密钥
type Manager struct {
	secret      []byte
	tokenExpiry time.Duration
	apiKeys     [][]byte
}

// NewManager 创建认证管理器。开启认证时jwt_secret和api_keys
// 至少要配置一项。
func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" && len(cfg.APIKeys) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeInvalidConfig,
			"auth enabled but neither jwt_secret nor api_keys is configured")
	}

	expiry := cfg.TokenExpiry()
	if expiry <= 0 {
		expiry = defaultTokenExpiry
	}

	keys := make([][]byte, 0, len(cfg.APIKeys))
	for _, key := range cfg.APIKeys {
		if key == "" {
			return nil, apperrors.New(apperrors.ErrCodeInvalidConfig, "empty api key in config")
		}
		keys = append(keys, []byte(key))
	}

	return &Manager{
		secret:      []byte(cfg.JWTSecret),
		tokenExpiry: expiry,
		apiKeys:     keys,
	}, nil
}

// GenerateToken 签发JWT令牌
func (m *Manager) GenerateToken(userID, username string, roles []string) (string, error) {
	if len(m.secret) == 0 {
		return "", apperrors.New(apperrors.ErrCodeInvalidConfig, "jwt_secret is not configured")
	}

	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "sign token failed")
	}
	return signed, nil
}

// ValidateToken 校验JWT令牌并返回声明
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	if len(m.secret) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeTokenInvalid, "jwt authentication is not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperrors.Newf(apperrors.ErrCodeTokenInvalid,
				"unexpected signing method %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeTokenExpired, "token expired")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTokenInvalid, "parse token failed")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.New(apperrors.ErrCodeTokenInvalid, "invalid token claims")
	}
	return claims, nil
}

// ValidateAPIKey 确认API密钥在配置的密钥列表中，常量时间比较
func (m *Manager) ValidateAPIKey(apiKey string) error {
	if apiKey == "" {
		return apperrors.New(apperrors.ErrCodeUnauthorized, "missing api key")
	}

	for _, valid := range m.apiKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), valid) == 1 {
			return nil
		}
	}
	return apperrors.New(apperrors.ErrCodeUnauthorized, "invalid api key")
}

// Authenticate 解析Authorization头并校验凭证。
// 支持 "Bearer <jwt>" 和 "ApiKey <key>" 两种形式。
func (m *Manager) Authenticate(authHeader string) (*Claims, error) {
	if authHeader == "" {
		return nil, apperrors.New(apperrors.ErrCodeUnauthorized, "missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return nil, apperrors.New(apperrors.ErrCodeUnauthorized, "malformed authorization header")
	}

	switch strings.ToLower(parts[0]) {
	case "bearer":
		return m.ValidateToken(parts[1])
	case "apikey":
		if err := m.ValidateAPIKey(parts[1]); err != nil {
			return nil, err
		}
		return &Claims{UserID: "api-client", Username: "API Client", Roles: []string{"api"}}, nil
	default:
		return nil, apperrors.Newf(apperrors.ErrCodeUnauthorized, "unsupported auth scheme %q", parts[0])
	}
}

// GenerateAPIKey 生成一个随机API密钥，供运维写入配置
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "generate api key failed")
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}
