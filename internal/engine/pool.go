package engine

import (
	"Speedtest_Go/internal/config"
	"Speedtest_Go/internal/results"
	"Speedtest_Go/internal/tester"
	"Speedtest_Go/internal/util"
	"Speedtest_Go/pkg/model"
	"context"
	"fmt"
	"sync"
	"time"
)

// Direction 表示测速方向
type Direction string

const (
	Download Direction = "download"
	Upload   Direction = "upload"
)

// Transfer 执行单个传输任务，返回传输的字节数
type Transfer interface {
	Download(ctx context.Context, url string) (int64, error)
	Upload(ctx context.Context, url string, size int64) (int64, error)
}

// TransferFactory 为每个 worker 创建独立的 Transfer
type TransferFactory func() Transfer

// Job 是一个传输任务。下载任务只需要 URL，上传任务还需要 Size。
type Job struct {
	URL  string
	Size int64
}

// CampaignPlan 描述一次单方向测速
type CampaignPlan struct {
	Direction Direction
	Jobs      []Job
	Workers   int
	Timeout   time.Duration      // 等待全部样本的期限，0 表示不限
	OnSample  func(model.Sample) // 每收到一个样本调用一次，可为空
}

// DownloadJobs 为每个尺寸生成 Count 个 random{S}x{S}.jpg 下载任务
func DownloadJobs(serverURL string, c model.Campaign) ([]Job, error) {
	jobs := make([]Job, 0, c.JobCount())
	for _, size := range c.Sizes {
		u, err := tester.ResolveReference(serverURL, fmt.Sprintf("random%dx%d.jpg", size, size))
		if err != nil {
			return nil, err
		}
		for i := 0; i < c.Count; i++ {
			jobs = append(jobs, Job{URL: u})
		}
	}
	return jobs, nil
}

// UploadJobs 为每个尺寸生成 Count 个上传任务
func UploadJobs(serverURL string, c model.Campaign) []Job {
	jobs := make([]Job, 0, c.JobCount())
	for _, size := range c.Sizes {
		for i := 0; i < c.Count; i++ {
			jobs = append(jobs, Job{URL: serverURL, Size: int64(size)})
		}
	}
	return jobs
}

// RunCampaign 把全部任务放入队列，启动固定数量的 worker，
// 并从结果通道中恰好取回 len(Jobs) 个样本后通知 worker 退出。
// 样本按完成顺序收集。超过 Timeout 时缺少的样本记为失败。
func RunCampaign(ctx context.Context, plan CampaignPlan, newTransfer TransferFactory) *results.Results {
	res := results.New()
	total := len(plan.Jobs)
	if total == 0 {
		return res
	}

	jobs := make(chan Job, total)
	for _, job := range plan.Jobs {
		jobs <- job
	}
	// 容量等于任务数，worker 发送样本永远不会阻塞
	samples := make(chan model.Sample, total)
	done := make(chan struct{})

	transferCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := plan.Workers
	if workers <= 0 {
		workers = config.DefaultWorkers
	}
	util.S.Debugw("启动测速 worker", "direction", plan.Direction, "workers", workers, "jobs", total)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(t Transfer) {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				case job := <-jobs:
					samples <- runJob(transferCtx, plan.Direction, t, job)
				}
			}
		}(newTransfer())
	}

	var deadline <-chan time.Time
	if plan.Timeout > 0 {
		timer := time.NewTimer(plan.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	collected := 0
collect:
	for collected < total {
		select {
		case s := <-samples:
			res.Append(s)
			collected++
			if plan.OnSample != nil {
				plan.OnSample(s)
			}
		case <-deadline:
			util.S.Warnw("测速超时，未完成的任务记为失败", "direction", plan.Direction, "missing", total-collected)
			break collect
		case <-ctx.Done():
			util.S.Warnw("测速被取消，未完成的任务记为失败", "direction", plan.Direction, "missing", total-collected)
			break collect
		}
	}
	for ; collected < total; collected++ {
		res.Append(model.FailedSample())
	}

	close(done)
	// 只有超时或取消时才会有仍在进行的传输
	cancel()
	wg.Wait()
	return res
}

func runJob(ctx context.Context, dir Direction, t Transfer, job Job) model.Sample {
	start := time.Now()
	var (
		n   int64
		err error
	)
	switch dir {
	case Upload:
		n, err = t.Upload(ctx, job.URL, job.Size)
	default:
		n, err = t.Download(ctx, job.URL)
	}
	elapsed := time.Since(start).Seconds()
	if err != nil {
		util.S.Errorw("传输失败", "direction", dir, "url", job.URL, "err", err)
		return model.FailedSample()
	}
	return model.Sample{Size: n, Elapsed: elapsed}
}
