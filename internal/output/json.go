package output

import (
	"Speedtest_Go/internal/results"
	"Speedtest_Go/pkg/model"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Report 是测速结果的 JSON 形式
type Report struct {
	Download      float64                `json:"download"` // bit/s
	Upload        float64                `json:"upload"`   // bit/s
	Ping          float64                `json:"ping"`     // ms
	Server        results.ServerSnapshot `json:"server"`
	Timestamp     string                 `json:"timestamp"`
	BytesSent     int64                  `json:"bytes_sent"`
	BytesReceived int64                  `json:"bytes_received"`
	Share         *string                `json:"share"`
	Client        model.Client           `json:"client"`
}

// ToReport 将测速结果转换为 JSON 报告
func ToReport(s *results.Suite) Report {
	return Report{
		Download:      s.Download.Speed(),
		Upload:        s.Upload.Speed(),
		Ping:          s.Server.Latency,
		Server:        s.Server,
		Timestamp:     s.TimestampString(),
		BytesSent:     s.Upload.TotalSize(),
		BytesReceived: s.Download.TotalSize(),
		Client:        s.Client,
	}
}

// WriteJSON 将测速结果以 JSON 写入 w
func WriteJSON(w io.Writer, s *results.Suite) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ToReport(s)); err != nil {
		return fmt.Errorf("无法将结果序列化为 JSON: %w", err)
	}
	return nil
}

// WriteJSONFile 将测速结果写入到指定的 JSON 文件中
func WriteJSONFile(filePath string, s *results.Suite) error {
	data, err := json.MarshalIndent(ToReport(s), "", "  ")
	if err != nil {
		return fmt.Errorf("无法将结果序列化为 JSON: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("无法写入 JSON 文件 '%s': %w", filePath, err)
	}
	return nil
}
