package engine

import (
	"Speedtest_Go/pkg/model"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransfer 按 URL/Size 返回固定结果，遇到 block 时阻塞到 ctx 取消
type fakeTransfer struct {
	fail  map[string]bool
	block bool
	calls *int32
}

func (f *fakeTransfer) Download(ctx context.Context, url string) (int64, error) {
	atomic.AddInt32(f.calls, 1)
	if f.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if f.fail[url] {
		return 0, errors.New("boom")
	}
	return 1000, nil
}

func (f *fakeTransfer) Upload(ctx context.Context, url string, size int64) (int64, error) {
	atomic.AddInt32(f.calls, 1)
	if f.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return size, nil
}

func TestDownloadJobs(t *testing.T) {
	jobs, err := DownloadJobs("http://a.example/speedtest/upload.php", model.Campaign{Sizes: []int{100, 200}, Count: 2})
	require.NoError(t, err)
	require.Len(t, jobs, 4)
	assert.Equal(t, "http://a.example/speedtest/random100x100.jpg", jobs[0].URL)
	assert.Equal(t, "http://a.example/speedtest/random100x100.jpg", jobs[1].URL)
	assert.Equal(t, "http://a.example/speedtest/random200x200.jpg", jobs[3].URL)
}

func TestUploadJobs(t *testing.T) {
	jobs := UploadJobs("http://a.example/upload.php", model.Campaign{Sizes: []int{32768, 65536}, Count: 3})
	require.Len(t, jobs, 6)
	assert.EqualValues(t, 32768, jobs[0].Size)
	assert.EqualValues(t, 65536, jobs[5].Size)
	assert.Equal(t, "http://a.example/upload.php", jobs[5].URL)
}

func TestRunCampaignCollectsEverySample(t *testing.T) {
	var calls int32
	var created int32
	jobs, err := DownloadJobs("http://a.example/upload.php", model.Campaign{Sizes: []int{100, 200}, Count: 1})
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []model.Sample
	res := RunCampaign(context.Background(), CampaignPlan{
		Direction: Download,
		Jobs:      jobs,
		Workers:   2,
		OnSample: func(s model.Sample) {
			mu.Lock()
			seen = append(seen, s)
			mu.Unlock()
		},
	}, func() Transfer {
		atomic.AddInt32(&created, 1)
		return &fakeTransfer{calls: &calls}
	})

	assert.Len(t, res.Samples(), 2)
	assert.Zero(t, res.Failures())
	assert.EqualValues(t, 2000, res.TotalSize())
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.EqualValues(t, 2, atomic.LoadInt32(&created))
	assert.Len(t, seen, 2)
}

func TestRunCampaignFailuresBecomeSentinels(t *testing.T) {
	var calls int32
	jobs, err := DownloadJobs("http://a.example/upload.php", model.Campaign{Sizes: []int{100, 200, 300}, Count: 2})
	require.NoError(t, err)
	fail := map[string]bool{"http://a.example/random200x200.jpg": true}

	res := RunCampaign(context.Background(), CampaignPlan{Direction: Download, Jobs: jobs, Workers: 3},
		func() Transfer { return &fakeTransfer{fail: fail, calls: &calls} })

	assert.Len(t, res.Samples(), 6)
	assert.Equal(t, 2, res.Failures())
	assert.EqualValues(t, 4000, res.TotalSize())
	for _, s := range res.Samples() {
		if s.Failed() {
			assert.Equal(t, model.FailedSample(), s)
		}
	}
}

func TestRunCampaignUpload(t *testing.T) {
	var calls int32
	jobs := UploadJobs("http://a.example/upload.php", model.Campaign{Sizes: []int{10, 20}, Count: 2})
	res := RunCampaign(context.Background(), CampaignPlan{Direction: Upload, Jobs: jobs},
		func() Transfer { return &fakeTransfer{calls: &calls} })
	assert.Len(t, res.Samples(), 4)
	assert.EqualValues(t, 60, res.TotalSize())
	assert.Equal(t, []int64{10, 20}, res.Sizes())
}

func TestRunCampaignDeadline(t *testing.T) {
	var calls int32
	jobs := UploadJobs("http://a.example/upload.php", model.Campaign{Sizes: []int{10}, Count: 4})

	start := time.Now()
	res := RunCampaign(context.Background(), CampaignPlan{Direction: Upload, Jobs: jobs, Workers: 2, Timeout: 50 * time.Millisecond},
		func() Transfer { return &fakeTransfer{block: true, calls: &calls} })

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Len(t, res.Samples(), 4)
	assert.Equal(t, 4, res.Failures())
	assert.Zero(t, res.Speed())
}

func TestRunCampaignCancelled(t *testing.T) {
	var calls int32
	jobs := UploadJobs("http://a.example/upload.php", model.Campaign{Sizes: []int{10}, Count: 3})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res := RunCampaign(ctx, CampaignPlan{Direction: Upload, Jobs: jobs, Workers: 1},
		func() Transfer { return &fakeTransfer{block: true, calls: &calls} })
	assert.Len(t, res.Samples(), 3)
	assert.Equal(t, 3, res.Failures())
}

func TestRunCampaignEmpty(t *testing.T) {
	res := RunCampaign(context.Background(), CampaignPlan{Direction: Download}, func() Transfer {
		t.Fatal("不应创建 Transfer")
		return nil
	})
	assert.Empty(t, res.Samples())
}
