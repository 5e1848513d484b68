package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigURL 测试参数文档地址 (不含协议)
	DefaultConfigURL = "www.speedtest.net/speedtest-config.php"
	// DefaultClosestServers 参与延迟探测的最近服务器数量
	DefaultClosestServers = 5
	// DefaultWorkers 未指定时每个方向的并发数
	DefaultWorkers = 2
)

// DefaultServersURLs 服务器目录地址 (不含协议)，按顺序全部读取
var DefaultServersURLs = []string{
	"www.speedtest.net/speedtest-servers-static.php",
	"c.speedtest.net/speedtest-servers-static.php",
	"www.speedtest.net/speedtest-servers.php",
	"c.speedtest.net/speedtest-servers.php",
}

// Config 结构用于映射 config.yaml 文件的内容
type Config struct {
	LatencyTestConcurrency int      `yaml:"latency_test_concurrency" json:"latency_test_concurrency"`
	ClosestServers         int      `yaml:"closest_servers" json:"closest_servers"`
	ProbeTimeout           float64  `yaml:"probe_timeout" json:"probe_timeout"`       // 秒
	TransferTimeout        float64  `yaml:"transfer_timeout" json:"transfer_timeout"` // 秒，0 表示不限
	CampaignTimeout        float64  `yaml:"campaign_timeout" json:"campaign_timeout"` // 秒，0 表示不限
	DownloadThreads        int      `yaml:"download_threads" json:"download_threads"`
	UploadThreads          int      `yaml:"upload_threads" json:"upload_threads"`
	IPVersion              string   `yaml:"ip_version" json:"ip_version"`
	ExcludeIDs             []int    `yaml:"exclude_ids" json:"exclude_ids"`
	ExcludeFile            string   `yaml:"exclude_file" json:"exclude_file"`
	ServerIDs              []int    `yaml:"server_ids" json:"server_ids"`
	FilterRegions          []string `yaml:"filter_regions" json:"filter_regions"`
	MiniURL                string   `yaml:"mini_url" json:"mini_url"`
	Secure                 bool     `yaml:"secure" json:"secure"`
	RateLimitMB            float64  `yaml:"rate_limit_mb" json:"rate_limit_mb"`
	ThrottleBitrate        int64    `yaml:"throttle_bitrate" json:"throttle_bitrate"`
	NoDownload             bool     `yaml:"no_download" json:"no_download"`
	NoUpload               bool     `yaml:"no_upload" json:"no_upload"`
	CatalogueCache         string   `yaml:"catalogue_cache" json:"catalogue_cache"`
	ConfigURL              string   `yaml:"config_url" json:"config_url"`
	ServersURLs            []string `yaml:"servers_urls" json:"servers_urls"`
}

// LoadConfig 从指定路径加载和解析 YAML 配置文件
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse 解析 YAML 内容，并补全缺省值
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize 校验取值并为零值字段填入默认值
func (c *Config) Normalize() error {
	switch c.IPVersion {
	case "", "ipv4", "ipv6":
	default:
		return fmt.Errorf("无效的 ip_version 配置: %s", c.IPVersion)
	}
	if c.LatencyTestConcurrency <= 0 {
		c.LatencyTestConcurrency = DefaultClosestServers
	}
	if c.ClosestServers <= 0 {
		c.ClosestServers = DefaultClosestServers
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10
	}
	if c.TransferTimeout < 0 || c.CampaignTimeout < 0 {
		return fmt.Errorf("超时配置不能为负数")
	}
	if c.ConfigURL == "" {
		c.ConfigURL = DefaultConfigURL
	}
	if len(c.ServersURLs) == 0 {
		c.ServersURLs = append([]string(nil), DefaultServersURLs...)
	}
	return nil
}

// Default 返回全部取默认值的配置
func Default() *Config {
	cfg := &Config{CampaignTimeout: 120}
	_ = cfg.Normalize()
	return cfg
}

// Seconds 把以秒为单位的浮点配置转换为 time.Duration
func Seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// Workers 决定一个方向的并发数：配置优先，其次是服务端建议值，最后是默认值
func Workers(configured, suggested int) int {
	if configured > 0 {
		return configured
	}
	if suggested > 0 {
		return suggested
	}
	return DefaultWorkers
}
