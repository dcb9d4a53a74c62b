package model

import "time"

// Client はコンサルティング契約中の顧客企業を表す。
type Client struct {
	ID        string
	Name      string
	Industry  string
	Status    ClientStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClientStatus は顧客の契約状態を表す。
type ClientStatus string

const (
	ClientStatusActive  ClientStatus = "active"
	ClientStatusPaused  ClientStatus = "paused"
	ClientStatusChurned ClientStatus = "churned"
)

// Valid は定義済みの契約状態かどうかを返す。
func (s ClientStatus) Valid() bool {
	switch s {
	case ClientStatusActive, ClientStatusPaused, ClientStatusChurned:
		return true
	}
	return false
}

// Agent は顧客ごとに稼働する会話エージェント（チャットボット等）を表す。
type Agent struct {
	ID                   string
	ClientID             string
	Name                 string
	Channel              AgentChannel
	Status               AgentStatus
	ConversationsHandled int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// AgentChannel はエージェントが応対するチャネル。
type AgentChannel string

const (
	AgentChannelWebchat   AgentChannel = "webchat"
	AgentChannelWhatsApp  AgentChannel = "whatsapp"
	AgentChannelInstagram AgentChannel = "instagram"
	AgentChannelEmail     AgentChannel = "email"
	AgentChannelVoice     AgentChannel = "voice"
)

// Valid は定義済みのチャネルかどうかを返す。
func (c AgentChannel) Valid() bool {
	switch c {
	case AgentChannelWebchat, AgentChannelWhatsApp, AgentChannelInstagram, AgentChannelEmail, AgentChannelVoice:
		return true
	}
	return false
}

// AgentStatus はエージェントの稼働状態。
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusInactive AgentStatus = "inactive"
)
