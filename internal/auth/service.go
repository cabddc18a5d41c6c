package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"custody-chain/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
)

// 令牌默认有效期。
const defaultTokenTTL = time.Hour

// Claims 是访问令牌携带的声明，scope 以空格分隔。
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Service 负责 HTTP 端点的身份验证。
type Service struct {
	mode     Mode
	secret   []byte
	issuer   string
	audience string
	audit    *slog.Logger
	now      func() time.Time
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{
		mode:     mode,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		audit:    logger.Audit(),
		now:      time.Now,
	}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeJWT:
		if strings.TrimSpace(cfg.Secret) == "" {
			return nil, errors.New("jwt secret must be configured")
		}
		svc.secret = []byte(cfg.Secret)
		return svc, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 校验 Authorization 头中的 Bearer 令牌。
func (s *Service) AuthenticateRequest(ctx context.Context, header string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return &Subject{Name: "anonymous", Permissions: []string{PermWalletsRead, PermWalletsWrite, PermTransfersWrite}}, nil
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	return s.Verify(strings.TrimSpace(token))
}

// Verify 解析并校验 HS256 令牌。
func (s *Service) Verify(token string) (*Subject, error) {
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
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	subject := &Subject{Name: claims.Subject, Permissions: strings.Fields(claims.Scope)}
	subject.normalise()
	return subject, nil
}

// Issue 为指定主体签发访问令牌，供运维工具与测试使用。
func (s *Service) Issue(name string, permissions []string, ttl time.Duration) (string, error) {
	if s == nil || s.mode != ModeJWT {
		return "", errors.New("token issuance requires jwt mode")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	now := s.now()
	claims := Claims{
		Scope: strings.Join(permissions, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   name,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
