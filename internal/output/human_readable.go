package output

import (
	"Speedtest_Go/internal/results"
	"fmt"
	"io"
	"strconv"
)

var iecPrefixes = []string{"", "Ki", "Mi", "Gi", "Ti", "Pi"}

// FormatIEC 以 1024 为进位格式化数值，保留两位小数并去掉多余的 0，
// 例如 FormatIEC(1536, "B") == "1.5 KiB"
func FormatIEC(v float64, unit string) string {
	i := 0
	for v >= 1024 && i < len(iecPrefixes)-1 {
		v /= 1024
		i++
	}
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = trimZeros(s)
	return s + " " + iecPrefixes[i] + unit
}

func trimZeros(s string) string {
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}

// HumanReadableResult 定义了一个对人类友好的结果结构
type HumanReadableResult struct {
	Server    string   `json:"Server"`
	Ping      string   `json:"Ping"`
	Download  string   `json:"Download"`
	Upload    string   `json:"Upload"`
	Smoothed  string   `json:"Smoothed"` // 下载速度的指数滑动平均
	Histogram []string `json:"Histogram"`
}

// ToHumanReadable 将测速结果转换为对人类友好的格式
func ToHumanReadable(s *results.Suite) HumanReadableResult {
	h := HumanReadableResult{
		Server:   fmt.Sprintf("%s (%s, %s) [%.2f km]", s.Server.Sponsor, s.Server.Name, s.Server.Country, s.Server.Distance),
		Ping:     fmt.Sprintf("%.3f ms", s.Server.Latency),
		Download: FormatIEC(s.Download.Speed(), "bit/s"),
		Upload:   FormatIEC(s.Upload.Speed(), "bit/s"),
		Smoothed: FormatIEC(s.Download.Smoothed(), "bit/s"),
	}
	h.Histogram = append(h.Histogram, histogramLines("download", s.Download)...)
	h.Histogram = append(h.Histogram, histogramLines("upload", s.Upload)...)
	return h
}

func histogramLines(dir string, r *results.Results) []string {
	hist := r.Histogram()
	var lines []string
	for _, size := range r.Sizes() {
		elapsed := hist[size]
		var speed float64
		if elapsed > 0 {
			speed = float64(size) * 8 / elapsed
		}
		lines = append(lines, fmt.Sprintf("%s %s: %.3f s, %s", dir, FormatIEC(float64(size), "B"), elapsed, FormatIEC(speed, "bit/s")))
	}
	if n := r.Failures(); n > 0 {
		lines = append(lines, fmt.Sprintf("%s: %d 个任务失败", dir, n))
	}
	return lines
}

// WriteHuman 输出完整的可读报告，包括每个尺寸的平均耗时
func WriteHuman(w io.Writer, s *results.Suite) error {
	h := ToHumanReadable(s)
	_, err := fmt.Fprintf(w, "Testing from %s (%s)\nHosted by %s: %s\nDownload: %s (EWMA %s)\nUpload: %s\n",
		s.Client.ISP.Name, s.Client.IP, h.Server, h.Ping, h.Download, h.Smoothed, h.Upload)
	if err != nil {
		return err
	}
	for _, line := range h.Histogram {
		if _, err := fmt.Fprintf(w, "  %s\n", line); err != nil {
			return err
		}
	}
	return nil
}

// WriteSimple 只输出延迟和两个方向的速度
func WriteSimple(w io.Writer, s *results.Suite) error {
	_, err := fmt.Fprintf(w, "Ping: %.3f ms\nDownload: %.2f Mbit/s\nUpload: %.2f Mbit/s\n",
		s.Server.Latency, s.Download.Speed()/1e6, s.Upload.Speed()/1e6)
	return err
}
