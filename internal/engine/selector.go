package engine

import (
	"Speedtest_Go/internal/geo"
	"Speedtest_Go/internal/locations"
	"Speedtest_Go/internal/tester"
	"Speedtest_Go/internal/util"
	"Speedtest_Go/pkg/model"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrNoEndpoint 表示过滤后没有可用的测速服务器
var ErrNoEndpoint = errors.New("no endpoint available")

// LookupFunc 解析主机名，签名与 net.Resolver.LookupIP 相同
type LookupFunc func(ctx context.Context, network, host string) ([]net.IP, error)

const lookupTimeout = 10 * time.Second

// Selector 从服务器目录中选出延迟最低的服务器
type Selector struct {
	Prober        model.Prober
	Closest       int    // 参与探测的最近服务器数量
	Concurrency   int    // 并发探测数
	IPVersion     string // 非空时剔除没有该地址族的服务器
	Lookup        LookupFunc
	Regions       locations.RegionMap
	FilterRegions []string
	ServerIDs     []int // 非空时只考虑这些服务器
}

// Filter 按排除列表、指定 ID、区域和地址族过滤目录，保持目录顺序
func (s *Selector) Filter(ctx context.Context, catalogue []*model.Endpoint, exclude []int) []*model.Endpoint {
	excluded := make(map[int]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	only := make(map[int]bool, len(s.ServerIDs))
	for _, id := range s.ServerIDs {
		only[id] = true
	}
	regionFilter := make(map[string]bool)
	for _, r := range s.FilterRegions {
		regionFilter[r] = true
	}

	var candidates []*model.Endpoint
	for _, ep := range catalogue {
		if excluded[ep.ID] {
			continue
		}
		if len(only) > 0 && !only[ep.ID] {
			continue
		}
		if len(regionFilter) > 0 {
			region, ok := s.Regions.GetRegion(ep.CC)
			if !ok || !regionFilter[region] {
				continue
			}
		}
		candidates = append(candidates, ep)
	}

	if s.IPVersion == "" || len(candidates) == 0 {
		return candidates
	}
	return s.filterAddressFamily(ctx, candidates)
}

// filterAddressFamily 并发解析每台服务器的主机名，剔除没有所需地址族的服务器
func (s *Selector) filterAddressFamily(ctx context.Context, candidates []*model.Endpoint) []*model.Endpoint {
	lookup := s.Lookup
	if lookup == nil {
		lookup = net.DefaultResolver.LookupIP
	}
	network := tester.LookupNetwork(s.IPVersion)

	var wg sync.WaitGroup
	keep := make([]bool, len(candidates))
	semaphore := make(chan struct{}, s.concurrency())
	for i, ep := range candidates {
		wg.Add(1)
		go func(i int, ep *model.Endpoint) {
			semaphore <- struct{}{}
			defer func() {
				<-semaphore
				wg.Done()
			}()

			host := ep.Host
			if h, _, err := net.SplitHostPort(host); err == nil {
				host = h
			}
			lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
			defer cancel()
			ips, err := lookup(lctx, network, host)
			if err != nil || len(ips) == 0 {
				util.S.Debugw("服务器没有所需地址族", "server", ep.ID, "host", host, "ip_version", s.IPVersion, "err", err)
				return
			}
			keep[i] = true
		}(i, ep)
	}
	wg.Wait()

	var out []*model.Endpoint
	for i, ep := range candidates {
		if keep[i] {
			out = append(out, ep)
		}
	}
	return out
}

// RankByDistance 按到 origin 的距离升序排列，距离相同的保持原顺序
func RankByDistance(endpoints []*model.Endpoint, origin geo.Point) []*model.Endpoint {
	return geo.SortByDistance(endpoints, func(ep *model.Endpoint) float64 {
		return ep.Distance(origin)
	})
}

// SelectBest 过滤目录，对最近的 Closest 台服务器并行探测延迟，
// 返回延迟分值最低者，分值相同时取目录中靠前的。
func (s *Selector) SelectBest(ctx context.Context, catalogue []*model.Endpoint, origin geo.Point, exclude []int) (*model.Endpoint, error) {
	candidates := s.Filter(ctx, catalogue, exclude)
	if len(candidates) == 0 {
		return nil, ErrNoEndpoint
	}
	order := make(map[*model.Endpoint]int, len(candidates))
	for i, ep := range candidates {
		order[ep] = i
	}

	closest := s.Closest
	if closest <= 0 {
		closest = 5
	}
	ranked := RankByDistance(candidates, origin)
	if len(ranked) > closest {
		ranked = ranked[:closest]
	}

	latencies := make([]float64, len(ranked))
	var g errgroup.Group
	g.SetLimit(s.concurrency())
	for i, ep := range ranked {
		g.Go(func() error {
			latencies[i] = ep.Latency(ctx, s.Prober)
			util.S.Infow("服务器延迟", "server", ep.ID, "sponsor", ep.Sponsor, "distance", ep.Distance(origin), "latency", latencies[i])
			return nil
		})
	}
	_ = g.Wait()

	best := 0
	for i := 1; i < len(ranked); i++ {
		if latencies[i] < latencies[best] ||
			(latencies[i] == latencies[best] && order[ranked[i]] < order[ranked[best]]) {
			best = i
		}
	}
	return ranked[best], nil
}

func (s *Selector) concurrency() int {
	if s.Concurrency <= 0 {
		return 1
	}
	return s.Concurrency
}
