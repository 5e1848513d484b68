package tester

import (
	"Speedtest_Go/internal/payload"
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"
)

// Transferer 执行单个下载或上传任务。每个 worker 持有自己的 Transferer，
// 因而拥有独立的连接。
type Transferer struct {
	client  *http.Client
	nonce   *Nonce
	limiter *rate.Limiter
}

// NewTransferer 创建 Transferer。nonce 和 opts.Limiter 由调用方注入，可在多个 worker 间共享。
func NewTransferer(opts Options, nonce *Nonce) *Transferer {
	if nonce == nil {
		nonce = new(Nonce)
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewLimiter(opts.RateLimitMB)
	}
	return &Transferer{
		client:  newHTTPClient(opts),
		nonce:   nonce,
		limiter: limiter,
	}
}

// Download 完整读取 rawURL 的响应体并返回响应声明的字节数。
// 实际读取少于 Content-Length 视为失败。
func (t *Transferer) Download(ctx context.Context, rawURL string) (int64, error) {
	target, err := WithNonce(rawURL, t.nonce)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("创建请求失败: %w", err)
	}
	setHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("无效的状态码: %d", resp.StatusCode)
	}

	total, err := io.Copy(io.Discard, limitReader(ctx, resp.Body, t.limiter))
	if err != nil {
		return 0, fmt.Errorf("读取响应失败: %w", err)
	}
	size := resp.ContentLength
	if size < 0 {
		return total, nil
	}
	if total < size {
		return 0, fmt.Errorf("响应不完整: %d/%d 字节", total, size)
	}
	return size, nil
}

// Upload 向 rawURL POST 一个 size 字节的确定性请求体，返回发送的字节数
func (t *Transferer) Upload(ctx context.Context, rawURL string, size int64) (int64, error) {
	target, err := WithNonce(rawURL, t.nonce)
	if err != nil {
		return 0, err
	}
	src := payload.New(size)
	var body io.Reader = http.NoBody
	if src.Len() > 0 {
		body = limitReader(ctx, src, t.limiter)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return 0, fmt.Errorf("创建请求失败: %w", err)
	}
	req.ContentLength = src.Len()
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(limitReader(ctx, payload.New(size), t.limiter)), nil
	}
	setHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return 0, fmt.Errorf("无效的状态码: %d", resp.StatusCode)
	}
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return 0, fmt.Errorf("读取响应失败: %w", err)
	}
	return src.Len(), nil
}
