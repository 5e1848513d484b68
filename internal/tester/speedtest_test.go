package tester

import (
	"Speedtest_Go/internal/payload"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload(t *testing.T) {
	body := bytes.Repeat([]byte("a"), 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("x"))
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write(body)
	}))
	defer srv.Close()

	tr := NewTransferer(Options{}, nil)
	n, err := tr.Download(context.Background(), srv.URL+"/random350x350.jpg")
	require.NoError(t, err)
	assert.EqualValues(t, len(body), n)
}

func TestDownloadChunked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		w.Write(make([]byte, 1000))
	}))
	defer srv.Close()

	n, err := NewTransferer(Options{}, nil).Download(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, n)
}

func TestDownloadErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()
	_, err := NewTransferer(Options{}, nil).Download(context.Background(), srv.URL)
	assert.Error(t, err)

	short := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.Write(make([]byte, 10))
	}))
	defer short.Close()
	_, err = NewTransferer(Options{}, nil).Download(context.Background(), short.URL)
	assert.Error(t, err)
}

func TestUpload(t *testing.T) {
	const size = 32768
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.EqualValues(t, size, r.ContentLength)
		data, _ := io.ReadAll(r.Body)
		received <- data
		w.Write([]byte("size=" + strconv.Itoa(len(data))))
	}))
	defer srv.Close()

	n, err := NewTransferer(Options{}, nil).Upload(context.Background(), srv.URL+"/upload.php", size)
	require.NoError(t, err)
	assert.EqualValues(t, size, n)
	want, _ := io.ReadAll(payload.New(size))
	assert.Equal(t, want, <-received)
}

func TestUploadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	_, err := NewTransferer(Options{}, nil).Upload(context.Background(), srv.URL, 100)
	assert.Error(t, err)
}

func TestRateLimitedDownload(t *testing.T) {
	body := make([]byte, 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	// 0.03 MB/s 的桶约 31KB，读完 64KB 至少要等一秒
	tr := NewTransferer(Options{RateLimitMB: 0.03}, nil)
	start := time.Now()
	n, err := tr.Download(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.EqualValues(t, len(body), n)
	assert.Greater(t, time.Since(start), 500*time.Millisecond)
}

func TestSharedLimiter(t *testing.T) {
	body := make([]byte, 32*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	// 0.02 MB/s 的桶约 20KB。单独读 32KB 约需 0.6 秒，两个 worker 共用一个桶约需 2 秒
	opts := Options{RateLimitMB: 0.02, Limiter: NewLimiter(0.02)}
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := NewTransferer(opts, nil).Download(context.Background(), srv.URL)
			assert.NoError(t, err)
			assert.EqualValues(t, len(body), n)
		}()
	}
	wg.Wait()
	assert.Greater(t, time.Since(start), 1500*time.Millisecond)
}
