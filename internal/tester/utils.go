package tester

import (
	"Speedtest_Go/internal/trafficshaping"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 speedtest-go/1.0"

// Options 控制测速用 HTTP 客户端的构造
type Options struct {
	IPVersion       string        // "", "ipv4", "ipv6"
	Timeout         time.Duration // 单个请求的超时，0 表示不限
	RateLimitMB     float64       // 传输限速 (MB/s)，0 表示不限
	ThrottleBitrate int64         // 每个连接的流量整形 (bit/s)，0 表示关闭
	Resolver        *net.Resolver
	// Limiter 非空时所有 Transferer 共用它，RateLimitMB 即为总速率上限
	Limiter *rate.Limiter
}

// Nonce 生成防缓存的查询参数，计数器归调用方持有而不是全局共享
type Nonce struct {
	counter atomic.Int64
}

// Next 返回形如 "<毫秒时间戳>.<序号>" 的唯一值
func (n *Nonce) Next() string {
	seq := n.counter.Add(1) - 1
	return fmt.Sprintf("%.0f.%d", float64(time.Now().UnixNano())/1e6, seq)
}

// WithNonce 在 rawURL 的查询串中加入 x=<nonce>
func WithNonce(rawURL string, n *Nonce) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("x", n.Next())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ResolveReference 解析相对于服务器上传地址所在目录的资源，例如 latency.txt
func ResolveReference(base, ref string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return u.ResolveReference(r).String(), nil
}

// LookupNetwork 把 ip_version 配置转换为 net.Resolver 的网络类型
func LookupNetwork(ipVersion string) string {
	switch ipVersion {
	case "ipv4":
		return "ip4"
	case "ipv6":
		return "ip6"
	default:
		return "ip"
	}
}

func dialNetwork(ipVersion string) string {
	switch ipVersion {
	case "ipv4":
		return "tcp4"
	case "ipv6":
		return "tcp6"
	default:
		return "tcp"
	}
}

// getDialContext 创建拨号函数。设置了地址族偏好时，先解析主机名，
// 再强制连接到该地址族的第一个地址。
func getDialContext(opts Options) func(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	dial := dialer.DialContext
	if opts.IPVersion != "" {
		dial = func(ctx context.Context, _, address string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(address)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupIP(ctx, LookupNetwork(opts.IPVersion), host)
			if err != nil {
				return nil, err
			}
			if len(ips) == 0 {
				return nil, fmt.Errorf("%s 没有 %s 地址", host, opts.IPVersion)
			}
			return dialer.DialContext(ctx, dialNetwork(opts.IPVersion), net.JoinHostPort(ips[0].String(), port))
		}
	}
	if opts.ThrottleBitrate > 0 {
		dial = trafficshaping.NewDialer(opts.ThrottleBitrate, dial).DialContext
	}
	return dial
}

// newHTTPClient 为每个调用方创建独立的客户端 (独立的连接池)
func newHTTPClient(opts Options) *http.Client {
	return &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			Proxy:              http.ProxyFromEnvironment,
			DialContext:        getDialContext(opts),
			DisableCompression: true,
		},
	}
}

// NewLimiter 按 MB/s 创建限速器，rateLimitMB <= 0 时返回 nil
func NewLimiter(rateLimitMB float64) *rate.Limiter {
	if rateLimitMB <= 0 {
		return nil
	}
	// 桶大小也设置为速率上限，允许一定的突发
	limit := rate.Limit(rateLimitMB * 1024 * 1024)
	burst := int(rateLimitMB * 1024 * 1024)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(limit, burst)
}

// limitedReader 在每次读取前向限速器申请令牌
type limitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if burst := l.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	if err := l.limiter.WaitN(l.ctx, len(p)); err != nil {
		return 0, err
	}
	return l.r.Read(p)
}

func limitReader(ctx context.Context, r io.Reader, limiter *rate.Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &limitedReader{ctx: ctx, r: r, limiter: limiter}
}

func setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cache-Control", "no-cache")
}
