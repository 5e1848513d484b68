package model

import (
	"Speedtest_Go/internal/geo"
	"context"
	"fmt"
	"sync"
)

// ServerInfo 是测速服务器目录中一条记录的描述信息
type ServerInfo struct {
	ID      int       `json:"id"`
	Name    string    `json:"name"`
	URL     string    `json:"url"`
	Host    string    `json:"host"`
	Country string    `json:"country"`
	CC      string    `json:"cc"`
	Sponsor string    `json:"sponsor"`
	Point   geo.Point `json:"location"`
}

// Prober 对一个测速服务器做延迟探测，返回毫秒分值
type Prober interface {
	Probe(ctx context.Context, ep *Endpoint) float64
}

// Target 是测速目标的能力接口。真实服务器按需测量距离和延迟，
// 固定目标 (Mini / Null) 两者恒为 0。
type Target interface {
	Info() ServerInfo
	Distance(origin geo.Point) float64
	Latency(ctx context.Context, p Prober) float64
}

// cell 是只计算一次的缓存单元，之后永不失效
type cell struct {
	once  sync.Once
	value float64
}

func (c *cell) get(compute func() float64) float64 {
	c.once.Do(func() { c.value = compute() })
	return c.value
}

// Endpoint 是一个真实的测速服务器。距离和延迟在首次访问时计算并缓存，
// 需要新值的调用方应重新创建 Endpoint。
type Endpoint struct {
	ServerInfo
	distance cell
	latency  cell
}

// NewEndpoint 根据目录记录创建 Endpoint
func NewEndpoint(info ServerInfo) *Endpoint {
	return &Endpoint{ServerInfo: info}
}

// Info 返回描述信息
func (e *Endpoint) Info() ServerInfo { return e.ServerInfo }

// Distance 返回到 origin 的距离 (km)，只在第一次调用时计算
func (e *Endpoint) Distance(origin geo.Point) float64 {
	return e.distance.get(func() float64 { return geo.Distance(origin, e.Point) })
}

// Latency 返回探测得到的延迟分值 (ms)，只在第一次调用时探测
func (e *Endpoint) Latency(ctx context.Context, p Prober) float64 {
	return e.latency.get(func() float64 { return p.Probe(ctx, e) })
}

func (e *Endpoint) String() string {
	return fmt.Sprintf("%d) %s (%s, %s)", e.ID, e.Sponsor, e.Name, e.Country)
}

// FixedEndpoint 是不参与选择的固定目标，距离与延迟恒为 0
type FixedEndpoint struct {
	ServerInfo
}

// Info 返回描述信息
func (f *FixedEndpoint) Info() ServerInfo { return f.ServerInfo }

// Distance 恒为 0
func (f *FixedEndpoint) Distance(geo.Point) float64 { return 0 }

// Latency 恒为 0
func (f *FixedEndpoint) Latency(context.Context, Prober) float64 { return 0 }

const (
	miniName    = "Speedtest Mini Server"
	miniSponsor = "Speedtest Mini"
	// NullURL 是固定兜底目标的上传地址
	NullURL  = "http://sp5.atcc-gns.net:8080/speedtest/upload.php"
	nullHost = "sp5.atcc-gns.net:8080"
)

// NewMiniEndpoint 以给定的 URL 和 host 创建 Speedtest Mini 目标
func NewMiniEndpoint(url, host string) *FixedEndpoint {
	return &FixedEndpoint{ServerInfo{
		Name:    miniName,
		URL:     url,
		Host:    host,
		Sponsor: miniSponsor,
	}}
}

// NewNullEndpoint 返回固定的兜底目标，mini_url 设为 "null" 时使用
func NewNullEndpoint() *FixedEndpoint {
	return &FixedEndpoint{ServerInfo{
		Name:    miniName,
		URL:     NullURL,
		Host:    nullHost,
		Country: "Japan",
		CC:      "JP",
		Sponsor: miniSponsor,
	}}
}

// Sample 是一次传输的计时结果。Elapsed < 0 表示失败。
type Sample struct {
	Size    int64   `json:"size"`
	Elapsed float64 `json:"elapsed"`
}

// Failed 报告该样本是否为失败标记
func (s Sample) Failed() bool { return s.Elapsed < 0 }

// FailedSample 返回失败标记样本
func FailedSample() Sample { return Sample{Size: 0, Elapsed: -1} }

// Campaign 描述一个方向 (下载或上传) 的测试参数
type Campaign struct {
	Sizes   []int `json:"sizes"`   // 升序
	Count   int   `json:"count"`   // 每个尺寸重复次数
	Threads int   `json:"threads"` // 服务端建议的并发数
}

// JobCount 返回该方向的任务总数
func (c Campaign) JobCount() int {
	return len(c.Sizes) * c.Count
}

// TestParameters 是由配置文档给出的测试参数
type TestParameters struct {
	Download  Campaign `json:"download"`
	Upload    Campaign `json:"upload"`
	IgnoreIDs []int    `json:"ignore_ids"`
	IPVersion string   `json:"ip_version"` // "", "ipv4", "ipv6"
}

// ISP 描述客户端所在运营商
type ISP struct {
	Name    string  `json:"name"`
	Rating  float64 `json:"rating"`
	AvgDown float64 `json:"avg_down"`
	AvgUp   float64 `json:"avg_up"`
}

// Client 描述发起测速的客户端
type Client struct {
	IP     string    `json:"ipaddr"`
	CC     string    `json:"cc"`
	Point  geo.Point `json:"location"`
	Rating float64   `json:"rating"`
	ISP    ISP       `json:"isp"`
}
