package tester

import (
	"Speedtest_Go/internal/util"
	"Speedtest_Go/pkg/model"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

const (
	// ProbeCount 每台服务器顺序探测的次数
	ProbeCount = 3
	// ProbePenalty 单次探测失败时计入的耗时 (秒)
	ProbePenalty = 3600.0
	// LatencyPath 探测资源，相对于服务器上传地址
	LatencyPath = "latency.txt"
	// LatencyMarker 探测资源的正确内容
	LatencyMarker = "test=test"
)

// Prober 通过 HTTP 请求 latency.txt 测量服务器延迟
type Prober struct {
	Client  *http.Client
	Timeout time.Duration // 每次探测的超时
	Nonce   *Nonce
}

// NewProber 创建 Prober，timeout 为单次探测的超时
func NewProber(opts Options, timeout time.Duration) *Prober {
	opts.Timeout = 0
	return &Prober{
		Client:  newHTTPClient(opts),
		Timeout: timeout,
		Nonce:   new(Nonce),
	}
}

// Probe 顺序探测 ProbeCount 次并返回延迟分值 (毫秒)。
// 失败的探测按 ProbePenalty 计入，服务器只会被排到后面而不会被剔除。
func (p *Prober) Probe(ctx context.Context, ep *model.Endpoint) float64 {
	latencies := make([]float64, 0, ProbeCount)
	for i := 0; i < ProbeCount; i++ {
		d, err := p.probeOnce(ctx, ep.URL)
		if err != nil {
			util.S.Warnw("延迟探测失败", "server", ep.ID, "url", ep.URL, "err", err)
			latencies = append(latencies, ProbePenalty)
			continue
		}
		latencies = append(latencies, d.Seconds())
	}
	score := ScoreLatency(latencies)
	util.S.Debugw("延迟探测完成", "server", ep.ID, "latencies", latencies, "score", score)
	return score
}

// ScoreLatency 把往返耗时 (秒) 换算成单程延迟分值：总和除以两倍次数，
// 单位毫秒，保留三位小数
func ScoreLatency(latencies []float64) float64 {
	if len(latencies) == 0 {
		return 0
	}
	var sum float64
	for _, l := range latencies {
		sum += l
	}
	ms := sum / float64(len(latencies)*2) * 1000
	return math.Round(ms*1000) / 1000
}

func (p *Prober) probeOnce(ctx context.Context, serverURL string) (time.Duration, error) {
	probeURL, err := ResolveReference(serverURL, LatencyPath)
	if err != nil {
		return 0, err
	}
	nonce := p.Nonce
	if nonce == nil {
		nonce = new(Nonce)
	}
	probeURL, err = WithNonce(probeURL, nonce)
	if err != nil {
		return 0, err
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return 0, err
	}
	setHeaders(req)
	// 每次探测都使用新连接
	req.Close = true

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	elapsed := time.Since(start)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("invalid status code: %d", resp.StatusCode)
	}
	marker := make([]byte, len(LatencyMarker))
	if _, err := io.ReadFull(resp.Body, marker); err != nil {
		return 0, fmt.Errorf("读取探测响应失败: %w", err)
	}
	if !bytes.Equal(marker, []byte(LatencyMarker)) {
		return 0, fmt.Errorf("探测响应内容不正确: %q", marker)
	}
	io.Copy(io.Discard, resp.Body)
	return elapsed, nil
}
