package results

import (
	"Speedtest_Go/pkg/model"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendSkipsFailuresInTotals(t *testing.T) {
	r := New()
	r.Append(model.Sample{Size: 1000, Elapsed: 1.0})
	r.Append(model.FailedSample())

	assert.EqualValues(t, 1000, r.TotalSize())
	assert.Equal(t, 1.0, r.TotalElapsed())
	assert.Len(t, r.Samples(), 2)
	assert.Equal(t, 1, r.Failures())
	assert.Equal(t, map[int64]float64{1000: 1.0}, r.Histogram())
}

func TestHistogramMean(t *testing.T) {
	r := New()
	r.Append(model.Sample{Size: 500, Elapsed: 1})
	r.Append(model.Sample{Size: 500, Elapsed: 3})
	r.Append(model.Sample{Size: 100, Elapsed: 0.5})
	h := r.Histogram()
	assert.Equal(t, 2.0, h[500])
	assert.Equal(t, 0.5, h[100])
	assert.Equal(t, []int64{100, 500}, r.Sizes())
}

func TestSpeed(t *testing.T) {
	r := New()
	r.Append(model.Sample{Size: 1_000_000, Elapsed: 8.0})
	assert.Equal(t, 1_000_000.0, r.Speed())
	assert.EqualValues(t, 8_000_000, r.TotalBits())

	empty := New()
	empty.Append(model.FailedSample())
	assert.Zero(t, empty.Speed())
}

func TestMerge(t *testing.T) {
	a := New()
	a.Append(model.Sample{Size: 100, Elapsed: 1})
	a.Append(model.FailedSample())
	b := New()
	b.Append(model.Sample{Size: 200, Elapsed: 2})

	ab := Combine(a, b)
	ba := Combine(b, a)
	assert.Equal(t, ab.TotalSize(), ba.TotalSize())
	assert.Equal(t, ab.TotalElapsed(), ba.TotalElapsed())
	assert.Equal(t, ab.Histogram(), ba.Histogram())
	assert.Len(t, ab.Samples(), 3)
	// 原对象不变
	assert.Len(t, a.Samples(), 2)

	a.Merge(a)
	assert.Len(t, a.Samples(), 4)
	assert.EqualValues(t, 200, a.TotalSize())
}

func TestSmoothed(t *testing.T) {
	r := New()
	assert.Zero(t, r.Smoothed())
	r.Append(model.Sample{Size: 1000, Elapsed: 1})
	assert.Equal(t, 8000.0, r.Smoothed())
	r.Append(model.Sample{Size: 1000, Elapsed: 0.5})
	assert.Greater(t, r.Smoothed(), 8000.0)
	assert.Less(t, r.Smoothed(), 16000.0)
}

func TestSuiteTimestamp(t *testing.T) {
	s := NewSuite(ServerSnapshot{}, model.Client{}, nil, nil)
	require.NotNil(t, s.Download)
	require.NotNil(t, s.Upload)
	s.Timestamp = time.Date(2024, 3, 1, 12, 30, 5, 123456000, time.UTC)
	assert.Equal(t, "2024-03-01T12:30:05.123456Z", s.TimestampString())
	assert.Regexp(t, regexp.MustCompile(`Z$`), NewSuite(ServerSnapshot{}, model.Client{}, nil, nil).TimestampString())
}
