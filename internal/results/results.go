// Package results 汇总测速样本并计算吞吐量
package results

import (
	"Speedtest_Go/pkg/model"
	"sort"
	"time"

	"github.com/VividCortex/ewma"
)

// Results 累积一个方向的样本：原始列表、按尺寸的直方图与累计值
type Results struct {
	samples      []model.Sample
	histograms   map[int64][]float64
	totalSize    int64
	totalElapsed float64
	smoothed     ewma.MovingAverage
}

// New 创建空的 Results
func New() *Results {
	return &Results{
		histograms: make(map[int64][]float64),
		smoothed:   ewma.NewMovingAverage(),
	}
}

// Append 记录一个样本。失败样本只进入原始列表，不计入直方图和累计值。
func (r *Results) Append(s model.Sample) {
	r.samples = append(r.samples, s)
	if s.Failed() {
		return
	}
	r.histograms[s.Size] = append(r.histograms[s.Size], s.Elapsed)
	r.totalSize += s.Size
	r.totalElapsed += s.Elapsed
	if s.Elapsed > 0 {
		r.smoothed.Add(float64(s.Size) * 8 / s.Elapsed)
	}
}

// Merge 把 other 的每个原始样本重新追加到 r
func (r *Results) Merge(other *Results) {
	for _, s := range other.samples {
		r.Append(s)
	}
}

// Combine 返回 a 与 b 合并后的新 Results，不修改两者
func Combine(a, b *Results) *Results {
	out := New()
	out.Merge(a)
	out.Merge(b)
	return out
}

// Samples 返回原始样本列表的副本，包括失败样本
func (r *Results) Samples() []model.Sample {
	out := make([]model.Sample, len(r.samples))
	copy(out, r.samples)
	return out
}

// Failures 返回失败样本数
func (r *Results) Failures() int {
	n := 0
	for _, s := range r.samples {
		if s.Failed() {
			n++
		}
	}
	return n
}

// Histogram 返回每个尺寸成功样本的平均耗时 (秒)
func (r *Results) Histogram() map[int64]float64 {
	out := make(map[int64]float64, len(r.histograms))
	for size, elapsed := range r.histograms {
		var sum float64
		for _, e := range elapsed {
			sum += e
		}
		out[size] = sum / float64(len(elapsed))
	}
	return out
}

// Sizes 返回直方图中出现的尺寸，升序
func (r *Results) Sizes() []int64 {
	sizes := make([]int64, 0, len(r.histograms))
	for size := range r.histograms {
		sizes = append(sizes, size)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })
	return sizes
}

// TotalSize 返回成功样本的字节总数
func (r *Results) TotalSize() int64 { return r.totalSize }

// TotalElapsed 返回成功样本的耗时总和 (秒)
func (r *Results) TotalElapsed() float64 { return r.totalElapsed }

// TotalBits 返回成功样本的比特总数
func (r *Results) TotalBits() int64 { return r.totalSize * 8 }

// Speed 返回平均吞吐量 (bit/s)。没有成功样本时返回 0。
func (r *Results) Speed() float64 {
	if r.totalElapsed == 0 {
		return 0
	}
	return float64(r.TotalBits()) / r.totalElapsed
}

// Smoothed 返回逐样本吞吐量的指数加权移动平均 (bit/s)
func (r *Results) Smoothed() float64 {
	return r.smoothed.Value()
}

// ServerSnapshot 是选中服务器在测试完成时的快照
type ServerSnapshot struct {
	model.ServerInfo
	Distance float64 `json:"distance"`
	Latency  float64 `json:"latency"`
}

// Suite 是一次完整测速的结果
type Suite struct {
	Download  *Results
	Upload    *Results
	Server    ServerSnapshot
	Client    model.Client
	Timestamp time.Time
}

// NewSuite 以当前 UTC 时间创建 Suite
func NewSuite(server ServerSnapshot, client model.Client, download, upload *Results) *Suite {
	if download == nil {
		download = New()
	}
	if upload == nil {
		upload = New()
	}
	return &Suite{
		Download:  download,
		Upload:    upload,
		Server:    server,
		Client:    client,
		Timestamp: time.Now().UTC(),
	}
}

// TimestampString 返回带 Z 后缀的 ISO-8601 UTC 时间
func (s *Suite) TimestampString() string {
	return s.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
}
