// Package datasource 获取测试参数与服务器目录
package datasource

import (
	"Speedtest_Go/internal/geo"
	"Speedtest_Go/pkg/model"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// ErrConfiguration 表示测试参数或服务器目录不可用，属于致命错误
var ErrConfiguration = errors.New("configuration error")

const fetchTimeout = 10 * time.Second

var (
	downloadSizes = []int{350, 500, 750, 1000, 1500, 2000, 2500, 3000, 3500, 4000}
	uploadSizes   = []int{32768, 65536, 131072, 262144, 524288, 1048576, 7340032}
)

type settingsDoc struct {
	XMLName xml.Name `xml:"settings"`
	Client  struct {
		IP        string  `xml:"ip,attr"`
		Lat       float64 `xml:"lat,attr"`
		Lon       float64 `xml:"lon,attr"`
		ISP       string  `xml:"isp,attr"`
		ISPRating float64 `xml:"isprating,attr"`
		Rating    float64 `xml:"rating,attr"`
		ISPDlAvg  float64 `xml:"ispdlavg,attr"`
		ISPUlAvg  float64 `xml:"ispulavg,attr"`
		Country   string  `xml:"country,attr"`
	} `xml:"client"`
	ServerConfig struct {
		ThreadCount int    `xml:"threadcount,attr"`
		IgnoreIDs   string `xml:"ignoreids,attr"`
	} `xml:"server-config"`
	Download struct {
		ThreadsPerURL int `xml:"threadsperurl,attr"`
	} `xml:"download"`
	Upload struct {
		Ratio         int `xml:"ratio,attr"`
		Threads       int `xml:"threads,attr"`
		MaxChunkCount int `xml:"maxchunkcount,attr"`
	} `xml:"upload"`
}

// BuildURL 为不带协议的地址补上 http:// 或 https://
func BuildURL(addr string, secure bool) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	if secure {
		return "https://" + addr
	}
	return "http://" + addr
}

// FetchSettings 获取测试参数文档，返回测试参数与客户端信息。
// 任何失败都包装为 ErrConfiguration。
func FetchSettings(ctx context.Context, client *http.Client, configURL string, secure bool) (*model.TestParameters, *model.Client, error) {
	data, err := downloadURL(ctx, client, BuildURL(configURL, secure), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: 下载测试参数失败: %w", ErrConfiguration, err)
	}
	return ParseSettings(data)
}

// ParseSettings 解析测试参数 XML
func ParseSettings(data []byte) (*model.TestParameters, *model.Client, error) {
	var doc settingsDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: 解析测试参数失败: %w", ErrConfiguration, err)
	}

	ratio := doc.Upload.Ratio
	if ratio < 1 {
		ratio = 1
	}
	if ratio > len(uploadSizes) {
		ratio = len(uploadSizes)
	}
	ulSizes := append([]int(nil), uploadSizes[ratio-1:]...)
	ulCount := int(math.Ceil(float64(doc.Upload.MaxChunkCount) / float64(len(ulSizes))))
	if ulCount < 1 {
		ulCount = 1
	}
	dlCount := doc.Download.ThreadsPerURL
	if dlCount < 1 {
		dlCount = 1
	}

	params := &model.TestParameters{
		Download: model.Campaign{
			Sizes:   append([]int(nil), downloadSizes...),
			Count:   dlCount,
			Threads: doc.ServerConfig.ThreadCount * 2,
		},
		Upload: model.Campaign{
			Sizes:   ulSizes,
			Count:   ulCount,
			Threads: doc.Upload.Threads,
		},
		IgnoreIDs: ParseIDList(doc.ServerConfig.IgnoreIDs),
	}
	client := &model.Client{
		IP:     doc.Client.IP,
		CC:     doc.Client.Country,
		Point:  geo.Point{Latitude: doc.Client.Lat, Longitude: doc.Client.Lon},
		Rating: doc.Client.Rating,
		ISP: model.ISP{
			Name:    doc.Client.ISP,
			Rating:  doc.Client.ISPRating,
			AvgDown: doc.Client.ISPDlAvg,
			AvgUp:   doc.Client.ISPUlAvg,
		},
	}
	return params, client, nil
}

func downloadURL(ctx context.Context, client *http.Client, url string, query map[string]string) ([]byte, error) {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	q.Set("x", fmt.Sprintf("%.1f", float64(time.Now().UnixNano())/1e6))
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	return io.ReadAll(resp.Body)
}
