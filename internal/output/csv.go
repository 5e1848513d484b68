package output

import (
	"Speedtest_Go/internal/results"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// CSVColumns 是 CSV 输出的列，顺序固定
var CSVColumns = []string{
	"Server ID",
	"Sponsor",
	"Server Name",
	"Timestamp",
	"Distance",
	"Ping",
	"Download",
	"Upload",
	"Share",
	"IP Address",
}

// CSVOptions 控制 CSV 输出
type CSVOptions struct {
	Delimiter rune // 0 表示逗号
	Header    bool // 是否先写表头
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// CSVRow 返回一次测速对应的 CSV 行
func CSVRow(s *results.Suite) []string {
	return []string{
		strconv.Itoa(s.Server.ID),
		s.Server.Sponsor,
		s.Server.Name,
		s.TimestampString(),
		formatFloat(s.Server.Distance),
		formatFloat(s.Server.Latency),
		formatFloat(s.Download.Speed()),
		formatFloat(s.Upload.Speed()),
		"",
		s.Client.IP,
	}
}

// WriteCSV 将测速结果写成一行 CSV，可选地先写表头
func WriteCSV(w io.Writer, s *results.Suite, opts CSVOptions) error {
	writer := csv.NewWriter(w)
	if opts.Delimiter != 0 {
		writer.Comma = opts.Delimiter
	}

	if opts.Header {
		if err := writer.Write(CSVColumns); err != nil {
			return fmt.Errorf("写入 CSV 表头失败: %w", err)
		}
	}
	if s != nil {
		if err := writer.Write(CSVRow(s)); err != nil {
			return fmt.Errorf("写入 CSV 行失败: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteCSVFile 将测速结果写入到指定的 CSV 文件中
func WriteCSVFile(filePath string, s *results.Suite, opts CSVOptions) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("无法创建 CSV 文件 '%s': %w", filePath, err)
	}
	defer file.Close()

	return WriteCSV(file, s, opts)
}
