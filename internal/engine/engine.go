package engine

import (
	"Speedtest_Go/internal/config"
	"Speedtest_Go/internal/datasource"
	"Speedtest_Go/internal/locations"
	"Speedtest_Go/internal/results"
	"Speedtest_Go/internal/tester"
	"Speedtest_Go/internal/util"
	"Speedtest_Go/pkg/model"
	"context"
	"fmt"
	"net/url"
	"strings"
)

// ProgressCallback 是一个用于报告进度的回调函数类型
type ProgressCallback func(message string)

// session 保存一次运行中共享的测试参数
type session struct {
	cfg     *config.Config
	params  *model.TestParameters
	client  *model.Client
	exclude []int
}

// Run 启动完整的测速流程：获取参数、选择服务器、下载测试、上传测试
func Run(ctx context.Context, cfg *config.Config, locationsPath string, progressCb ProgressCallback) (*results.Suite, error) {
	if progressCb == nil {
		progressCb = func(string) {}
	}

	// --- 1. 获取测试参数 ---
	progressCb("步骤 1/4: 获取测试参数...")
	s, err := newSession(ctx, cfg)
	if err != nil {
		return nil, err
	}
	progressCb(fmt.Sprintf("客户端 %s (%s)，运营商 %s", s.client.IP, s.client.CC, s.client.ISP.Name))

	opts := tester.Options{
		IPVersion:       cfg.IPVersion,
		Timeout:         config.Seconds(cfg.TransferTimeout),
		RateLimitMB:     cfg.RateLimitMB,
		ThrottleBitrate: cfg.ThrottleBitrate,
		Limiter:         tester.NewLimiter(cfg.RateLimitMB),
	}
	prober := tester.NewProber(opts, config.Seconds(cfg.ProbeTimeout))

	// --- 2. 选择服务器 ---
	progressCb("步骤 2/4: 选择测速服务器...")
	target, err := s.selectTarget(ctx, locationsPath, prober)
	if err != nil {
		return nil, err
	}
	info := target.Info()
	snapshot := results.ServerSnapshot{
		ServerInfo: info,
		Distance:   target.Distance(s.client.Point),
		Latency:    target.Latency(ctx, prober),
	}
	progressCb(fmt.Sprintf("选中服务器 %s (%s, %s) [%.2f km]: %.3f ms",
		info.Sponsor, info.Name, info.Country, snapshot.Distance, snapshot.Latency))

	nonce := new(tester.Nonce)
	newTransfer := func() Transfer { return tester.NewTransferer(opts, nonce) }

	// --- 3. 下载测试 ---
	download := results.New()
	if cfg.NoDownload {
		progressCb("步骤 3/4: 已跳过下载测试")
	} else {
		progressCb("步骤 3/4: 下载测试...")
		jobs, err := DownloadJobs(info.URL, s.params.Download)
		if err != nil {
			return nil, fmt.Errorf("生成下载任务失败: %w", err)
		}
		download = RunCampaign(ctx, CampaignPlan{
			Direction: Download,
			Jobs:      jobs,
			Workers:   config.Workers(cfg.DownloadThreads, s.params.Download.Threads),
			Timeout:   config.Seconds(cfg.CampaignTimeout),
			OnSample:  sampleReporter(Download, len(jobs), progressCb),
		}, newTransfer)
		progressCb(fmt.Sprintf("下载速度: %.2f Mbit/s", download.Speed()/1e6))
	}

	// --- 4. 上传测试 ---
	upload := results.New()
	if cfg.NoUpload {
		progressCb("步骤 4/4: 已跳过上传测试")
	} else {
		progressCb("步骤 4/4: 上传测试...")
		jobs := UploadJobs(info.URL, s.params.Upload)
		upload = RunCampaign(ctx, CampaignPlan{
			Direction: Upload,
			Jobs:      jobs,
			Workers:   config.Workers(cfg.UploadThreads, s.params.Upload.Threads),
			Timeout:   config.Seconds(cfg.CampaignTimeout),
			OnSample:  sampleReporter(Upload, len(jobs), progressCb),
		}, newTransfer)
		progressCb(fmt.Sprintf("上传速度: %.2f Mbit/s", upload.Speed()/1e6))
	}

	return results.NewSuite(snapshot, *s.client, download, upload), nil
}

// ListServers 获取服务器目录，按与选择服务器时相同的条件过滤，再按到客户端的距离排序
func ListServers(ctx context.Context, cfg *config.Config, locationsPath string) ([]*model.Endpoint, *model.Client, error) {
	s, err := newSession(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	catalogue, err := s.loadCatalogue(ctx)
	if err != nil {
		return nil, nil, err
	}
	sel, err := s.newSelector(locationsPath, nil)
	if err != nil {
		return nil, nil, err
	}
	return RankByDistance(sel.Filter(ctx, catalogue, s.exclude), s.client.Point), s.client, nil
}

func newSession(ctx context.Context, cfg *config.Config) (*session, error) {
	params, client, err := datasource.FetchSettings(ctx, nil, cfg.ConfigURL, cfg.Secure)
	if err != nil {
		return nil, err
	}
	params.IPVersion = cfg.IPVersion

	exclude := append([]int(nil), cfg.ExcludeIDs...)
	if cfg.ExcludeFile != "" {
		ids, err := datasource.LoadIDsFromFile(cfg.ExcludeFile)
		if err != nil {
			return nil, fmt.Errorf("加载排除列表失败: %w", err)
		}
		exclude = append(exclude, ids...)
	}
	exclude = append(exclude, params.IgnoreIDs...)
	util.S.Debugw("测试参数", "params", params, "exclude", exclude)

	return &session{cfg: cfg, params: params, client: client, exclude: exclude}, nil
}

func (s *session) loadCatalogue(ctx context.Context) ([]*model.Endpoint, error) {
	return datasource.LoadCatalogue(ctx, nil, datasource.CatalogueOptions{
		URLs:      s.cfg.ServersURLs,
		Secure:    s.cfg.Secure,
		Threads:   s.params.Download.Threads,
		CachePath: s.cfg.CatalogueCache,
		IgnoreIDs: s.params.IgnoreIDs,
	})
}

// selectTarget 返回测速目标。配置了 mini_url 时跳过选择。
func (s *session) selectTarget(ctx context.Context, locationsPath string, prober model.Prober) (model.Target, error) {
	if s.cfg.MiniURL != "" {
		return newMiniTarget(s.cfg.MiniURL)
	}

	catalogue, err := s.loadCatalogue(ctx)
	if err != nil {
		return nil, err
	}
	sel, err := s.newSelector(locationsPath, prober)
	if err != nil {
		return nil, err
	}
	best, err := sel.SelectBest(ctx, catalogue, s.client.Point, s.exclude)
	if err != nil {
		return nil, fmt.Errorf("选择服务器失败: %w", err)
	}
	return best, nil
}

func (s *session) newSelector(locationsPath string, prober model.Prober) (*Selector, error) {
	var regionMap locations.RegionMap
	if len(s.cfg.FilterRegions) > 0 {
		var err error
		regionMap, err = locations.LoadLocationsFromFile(locationsPath)
		if err != nil {
			return nil, fmt.Errorf("加载 locations.json 失败: %w", err)
		}
	}
	return &Selector{
		Prober:        prober,
		Closest:       s.cfg.ClosestServers,
		Concurrency:   s.cfg.LatencyTestConcurrency,
		IPVersion:     s.cfg.IPVersion,
		Regions:       regionMap,
		FilterRegions: s.cfg.FilterRegions,
		ServerIDs:     s.cfg.ServerIDs,
	}, nil
}

// nullMini 作为 mini_url 时选用内置的兜底目标
const nullMini = "null"

// newMiniTarget 把 Speedtest Mini 地址转换为固定目标，上传地址为 <mini>/speedtest/upload.php
func newMiniTarget(miniURL string) (model.Target, error) {
	if miniURL == nullMini {
		return model.NewNullEndpoint(), nil
	}
	u, err := url.Parse(miniURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("无效的 mini_url '%s'", miniURL)
	}
	uploadURL := miniURL
	if !strings.HasSuffix(u.Path, "/upload.php") {
		uploadURL = strings.TrimSuffix(miniURL, "/") + "/speedtest/upload.php"
	}
	return model.NewMiniEndpoint(uploadURL, u.Host), nil
}

func sampleReporter(dir Direction, total int, progressCb ProgressCallback) func(model.Sample) {
	done := 0
	return func(sample model.Sample) {
		done++
		if sample.Failed() {
			progressCb(fmt.Sprintf("%s %d/%d: 失败", dir, done, total))
			return
		}
		progressCb(fmt.Sprintf("%s %d/%d: %d 字节, %.3f 秒", dir, done, total, sample.Size, sample.Elapsed))
	}
}
