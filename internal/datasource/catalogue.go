package datasource

import (
	"Speedtest_Go/internal/geo"
	"Speedtest_Go/internal/util"
	"Speedtest_Go/pkg/model"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"os"
	"strconv"
)

type serverElement struct {
	URL     string  `xml:"url,attr"`
	Lat     float64 `xml:"lat,attr"`
	Lon     float64 `xml:"lon,attr"`
	Name    string  `xml:"name,attr"`
	Country string  `xml:"country,attr"`
	CC      string  `xml:"cc,attr"`
	Sponsor string  `xml:"sponsor,attr"`
	ID      int     `xml:"id,attr"`
	Host    string  `xml:"host,attr"`
}

type serversDoc struct {
	XMLName xml.Name        `xml:"settings"`
	Servers []serverElement `xml:"servers>server"`
}

// CatalogueOptions 控制服务器目录的获取
type CatalogueOptions struct {
	URLs      []string
	Secure    bool
	Threads   int    // 作为 threads 参数传给目录接口
	CachePath string // 为空表示不缓存
	IgnoreIDs []int
}

// LoadCatalogue 确保服务器目录可用：有缓存时读缓存，否则依次下载所有目录地址。
// 同一 ID 只保留第一次出现的记录，忽略列表中的服务器会被剔除。
func LoadCatalogue(ctx context.Context, client *http.Client, opts CatalogueOptions) ([]*model.Endpoint, error) {
	var elements []serverElement
	if opts.CachePath != "" {
		if data, err := os.ReadFile(opts.CachePath); err == nil {
			elements, err = parseServers(data)
			if err != nil {
				return nil, fmt.Errorf("%w: 解析缓存 '%s' 失败: %w", ErrConfiguration, opts.CachePath, err)
			}
			util.S.Infow("使用本地服务器目录缓存", "path", opts.CachePath)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: 读取缓存 '%s' 失败: %w", ErrConfiguration, opts.CachePath, err)
		}
	}

	if elements == nil {
		query := map[string]string{}
		if opts.Threads > 0 {
			query["threads"] = strconv.Itoa(opts.Threads)
		}
		var lastErr error
		for _, u := range opts.URLs {
			data, err := downloadURL(ctx, client, BuildURL(u, opts.Secure), query)
			if err != nil {
				util.S.Warnw("下载服务器目录失败", "url", u, "err", err)
				lastErr = err
				continue
			}
			parsed, err := parseServers(data)
			if err != nil {
				util.S.Warnw("解析服务器目录失败", "url", u, "err", err)
				lastErr = err
				continue
			}
			elements = append(elements, parsed...)
		}
		if len(elements) == 0 {
			if lastErr == nil {
				lastErr = fmt.Errorf("目录为空")
			}
			return nil, fmt.Errorf("%w: 无法获取服务器目录: %w", ErrConfiguration, lastErr)
		}
		elements = dedupe(elements)
		if opts.CachePath != "" {
			if err := writeCache(opts.CachePath, elements); err != nil {
				util.S.Warnw("写入服务器目录缓存失败", "path", opts.CachePath, "err", err)
			}
		}
	}

	ignore := make(map[int]bool, len(opts.IgnoreIDs))
	for _, id := range opts.IgnoreIDs {
		ignore[id] = true
	}
	var endpoints []*model.Endpoint
	for _, e := range dedupe(elements) {
		if ignore[e.ID] {
			continue
		}
		endpoints = append(endpoints, model.NewEndpoint(model.ServerInfo{
			ID:      e.ID,
			Name:    e.Name,
			URL:     e.URL,
			Host:    e.Host,
			Country: e.Country,
			CC:      e.CC,
			Sponsor: e.Sponsor,
			Point:   geo.Point{Latitude: e.Lat, Longitude: e.Lon},
		}))
	}
	return endpoints, nil
}

func parseServers(data []byte) ([]serverElement, error) {
	var doc serversDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Servers, nil
}

func dedupe(elements []serverElement) []serverElement {
	seen := make(map[int]bool, len(elements))
	out := make([]serverElement, 0, len(elements))
	for _, e := range elements {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	return out
}

func writeCache(filePath string, elements []serverElement) error {
	data, err := xml.MarshalIndent(serversDoc{Servers: elements}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, append([]byte(xml.Header), data...), 0644)
}
