package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid access token")
	ErrExpiredToken = errors.New("access token expired")
)

// accessClaims はプロバイダーが発行するアクセストークンのクレーム。
type accessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenParser はアクセストークン(JWT)を解析する。
// secretが設定されている場合はHS256署名を検証し、未設定の場合は署名を検証せずに
// クレームのみを読み取る（署名検証はプロバイダー側に委ねる）。
type TokenParser struct {
	secret []byte
}

// NewTokenParser はTokenParserを生成する。
func NewTokenParser(secret []byte) *TokenParser {
	return &TokenParser{secret: secret}
}

// parse はアクセストークンからsubject、email、有効期限を取り出す。
func (p *TokenParser) parse(tokenString string) (*accessClaims, error) {
	claims := &accessClaims{}

	if len(p.secret) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return claims, nil
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// expiry はクレームの有効期限を返す。expクレームがない場合はゼロ値を返す。
func (c *accessClaims) expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
