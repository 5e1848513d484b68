package model

import (
	"Speedtest_Go/internal/geo"
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingProber struct {
	calls int32
	value float64
}

func (p *countingProber) Probe(context.Context, *Endpoint) float64 {
	atomic.AddInt32(&p.calls, 1)
	return p.value
}

func TestEndpointCachesOnce(t *testing.T) {
	ep := NewEndpoint(ServerInfo{ID: 1, Point: geo.Point{Latitude: 10, Longitude: 10}})
	origin := geo.Point{}
	d := ep.Distance(origin)
	assert.Greater(t, d, 0.0)
	// 之后换一个原点也不会重新计算
	assert.Equal(t, d, ep.Distance(geo.Point{Latitude: 10, Longitude: 10}))

	p := &countingProber{value: 12.5}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, 12.5, ep.Latency(context.Background(), p))
		}()
	}
	wg.Wait()
	p.value = 99
	assert.Equal(t, 12.5, ep.Latency(context.Background(), p))
	assert.EqualValues(t, 1, atomic.LoadInt32(&p.calls))
}

func TestFixedEndpoints(t *testing.T) {
	p := &countingProber{value: 5}
	for _, target := range []Target{NewNullEndpoint(), NewMiniEndpoint("http://mini.example/speedtest/upload.php", "mini.example")} {
		assert.Zero(t, target.Distance(geo.Point{Latitude: 50, Longitude: 50}))
		assert.Zero(t, target.Latency(context.Background(), p))
		assert.Equal(t, "Speedtest Mini", target.Info().Sponsor)
		assert.Zero(t, target.Info().ID)
	}
	assert.Zero(t, p.calls)
	assert.Equal(t, NullURL, NewNullEndpoint().URL)
}

func TestSampleAndCampaign(t *testing.T) {
	assert.True(t, FailedSample().Failed())
	assert.False(t, Sample{Size: 10, Elapsed: 0}.Failed())
	c := Campaign{Sizes: []int{100, 200, 300}, Count: 4}
	assert.Equal(t, 12, c.JobCount())
}
