// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証プロバイダーが発行した認証済みプリンシパル（Identity）を表す。
// Metadataはプロバイダー固有の情報で、アプリケーション側では解釈しない。
type User struct {
	ID        string
	Email     string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Session は認証プロバイダーが発行した有効なログインセッションを表す。
// トークンの有効期限・リフレッシュ情報はプロバイダーが管理する。
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	User         *User
}

// Valid はセッションが指定時刻の時点で有効かどうかを返す。
func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.AccessToken == "" {
		return false
	}
	return now.Before(s.ExpiresAt)
}

// ExpiresWithin はセッションが指定時間以内に期限切れとなるかを返す。
func (s *Session) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if s == nil {
		return true
	}
	return !now.Add(margin).Before(s.ExpiresAt)
}

// AuthResult はサインイン・サインアップでプロバイダーが返す認証データ。
// メール確認が必要な場合、Sessionはnilとなる。
type AuthResult struct {
	User    *User
	Session *Session
}
