// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// 連携エンドポイントの検証エラー。
var (
	// ErrInvalidEndpoint はURLの形式が不正であることを示す。
	ErrInvalidEndpoint = errors.New("invalid endpoint URL")
	// ErrBlockedEndpoint はURLが内部ネットワークを指しているためブロックされたことを示す。
	ErrBlockedEndpoint = errors.New("blocked endpoint URL")
)

// EndpointGuard は外部連携エンドポイントへのアクセスに対するSSRF防止機能を定義する。
// 連携登録時の静的検証と、同期時のHTTPクライアント生成の両方で使用される。
type EndpointGuard interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// 接続時にDNS解決後のIPアドレスを検証し、内部ネットワークへの接続を拒否する。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateEndpoint はエンドポイントURLを事前に検証する。
	// 形式不正はErrInvalidEndpoint、内部ネットワーク宛てはErrBlockedEndpointをラップして返す。
	ValidateEndpoint(rawURL string) error
}

var allowedSchemes = []string{"http", "https"}

// blockedNetworks はDNS解決前の静的検証でブロックするネットワーク範囲。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"100.64.0.0/10", // キャリアグレードNAT
	"127.0.0.0/8",
	"169.254.0.0/16", // クラウドメタデータIPを含む
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

// blockedHostSuffixes は内部向けの名前解決に使われるホスト名のサフィックス。
var blockedHostSuffixes = []string{".localhost", ".local", ".internal"}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		networks = append(networks, network)
	}
	return networks
}

type endpointGuard struct {
	allowedPorts []int
}

// NewEndpointGuard はEndpointGuardを生成する。許可ポートは80と443。
func NewEndpointGuard() *endpointGuard {
	return &endpointGuard{allowedPorts: []int{80, 443}}
}

// NewSafeClient はsafeurlによるSSRF防止機能付きのHTTPクライアントを生成する。
// safeurlはnet.DialerのControlフックで検証するため、DNS再バインディングにも対応する。
func (g *endpointGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(g.allowedPorts...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateEndpoint はDNS解決を伴わない静的な検証を行う。
func (g *endpointGuard) ValidateEndpoint(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%w: empty URL", ErrInvalidEndpoint)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: disallowed scheme %q", ErrInvalidEndpoint, parsed.Scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("%w: credentials in URL are not allowed", ErrInvalidEndpoint)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidEndpoint)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("%w: %s", ErrBlockedEndpoint, ip)
			}
		}
		return nil
	}

	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	if lower == "localhost" {
		return fmt.Errorf("%w: %s", ErrBlockedEndpoint, host)
	}
	for _, suffix := range blockedHostSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return fmt.Errorf("%w: %s", ErrBlockedEndpoint, host)
		}
	}

	return nil
}

var _ EndpointGuard = (*endpointGuard)(nil)
