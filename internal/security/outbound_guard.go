// Package security は外部通信と利用者入力に対する防御を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// OutboundGuardService は取り込み元サービスやLLMプロバイダへの外向き通信を保護する。
type OutboundGuardService interface {
	// NewSafeClient は内部ネットワーク宛ての接続をダイヤル時に拒否するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateBaseURL は設定されたベースURLを起動時に静的検証する。
	ValidateBaseURL(rawURL string) error
}

var allowedSchemes = []string{"http", "https"}

// blockedNetworks はベースURLとして拒否するアドレス範囲。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	// クラウドメタデータ (169.254.169.254) を含む
	"169.254.0.0/16",
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

var blockedHostnames = []string{"localhost"}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("不正なCIDRです: %s: %v", cidr, err))
		}
		out = append(out, network)
	}
	return out
}

type outboundGuard struct {
	allowPrivate bool
}

// NewOutboundGuard はOutboundGuardServiceを生成する。
// allowPrivateがtrueの場合、内部ネットワーク宛ての通信を許可する（ローカル開発用）。
func NewOutboundGuard(allowPrivate bool) *outboundGuard {
	return &outboundGuard{allowPrivate: allowPrivate}
}

// NewSafeClient はsafeurlでダイヤル先IPを検証するクライアントを返す。
// DNS解決後のアドレスを検証するため、ValidateBaseURLを通過したホストが
// 内部アドレスへ解決された場合もここで遮断される。
func (g *outboundGuard) NewSafeClient(timeout time.Duration) *http.Client {
	if g.allowPrivate {
		return &http.Client{Timeout: timeout}
	}
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()
	return safeurl.Client(config).Client
}

// ValidateBaseURL はスキーム・ホスト・認証情報の有無を検証する。
// クエリやフラグメントを含むURLはパス結合で壊れるため拒否する。
func (g *outboundGuard) ValidateBaseURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URLが空です")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("URLを解析できません: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !slices.Contains(allowedSchemes, scheme) {
		return fmt.Errorf("許可されていないスキームです: %q", parsed.Scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("URLに認証情報を含めることはできません")
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("ベースURLにクエリやフラグメントを含めることはできません")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("ホストがありません: %s", rawURL)
	}
	if g.allowPrivate {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("内部アドレスは指定できません: %s", ip)
		}
		return nil
	}
	if slices.Contains(blockedHostnames, strings.ToLower(host)) {
		return fmt.Errorf("内部ホストは指定できません: %s", host)
	}
	return nil
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
