package datasource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settingsXML = `<?xml version="1.0" encoding="UTF-8"?>
<settings>
<client ip="203.0.113.7" lat="35.6895" lon="139.6917" isp="Example ISP" isprating="3.7" rating="0" ispdlavg="0" ispulavg="0" loggedin="0" country="JP" />
<server-config threadcount="4" ignoreids="10,20,,x" notonmap="" forcepingid="" preferredserverid="" />
<licensekey>abc</licensekey>
<customer>speedtest</customer>
<download testlength="10" initialtest="250K" mintestsize="250K" threadsperurl="4" />
<upload testlength="10" ratio="5" initialtest="0" mintestsize="32K" threads="2" maxchunksize="512K" maxchunkcount="50" threadsperurl="4" />
<latency testlength="10" waittime="50" timeout="20" />
</settings>`

const serversXML = `<?xml version="1.0" encoding="UTF-8"?>
<settings>
<servers>
<server url="http://a.example:8080/speedtest/upload.php" lat="35.68" lon="139.76" name="Tokyo" country="Japan" cc="JP" sponsor="A" id="1" host="a.example:8080" />
<server url="http://b.example:8080/speedtest/upload.php" lat="34.69" lon="135.50" name="Osaka" country="Japan" cc="JP" sponsor="B" id="2" host="b.example:8080" />
<server url="http://c.example:8080/speedtest/upload.php" lat="37.56" lon="126.97" name="Seoul" country="Korea" cc="KR" sponsor="C" id="10" host="c.example:8080" />
</servers>
</settings>`

func TestParseSettings(t *testing.T) {
	params, client, err := ParseSettings([]byte(settingsXML))
	require.NoError(t, err)

	assert.Equal(t, []int{350, 500, 750, 1000, 1500, 2000, 2500, 3000, 3500, 4000}, params.Download.Sizes)
	assert.Equal(t, 4, params.Download.Count)
	assert.Equal(t, 8, params.Download.Threads)
	assert.Equal(t, []int{524288, 1048576, 7340032}, params.Upload.Sizes)
	assert.Equal(t, 17, params.Upload.Count)
	assert.Equal(t, 2, params.Upload.Threads)
	assert.Equal(t, []int{10, 20}, params.IgnoreIDs)

	assert.Equal(t, "203.0.113.7", client.IP)
	assert.Equal(t, "JP", client.CC)
	assert.Equal(t, 35.6895, client.Point.Latitude)
	assert.Equal(t, "Example ISP", client.ISP.Name)
	assert.Equal(t, 3.7, client.ISP.Rating)
}

func TestParseSettingsInvalid(t *testing.T) {
	_, _, err := ParseSettings([]byte("<settings"))
	assert.True(t, errors.Is(err, ErrConfiguration))

	params, _, err := ParseSettings([]byte(`<settings><upload ratio="0" maxchunkcount="0"/></settings>`))
	require.NoError(t, err)
	assert.Len(t, params.Upload.Sizes, 7)
	assert.Equal(t, 1, params.Upload.Count)
	assert.Equal(t, 1, params.Download.Count)
}

func TestFetchSettings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/speedtest-config.php" {
			http.NotFound(w, r)
			return
		}
		assert.NotEmpty(t, r.URL.Query().Get("x"))
		w.Write([]byte(settingsXML))
	}))
	defer srv.Close()

	params, client, err := FetchSettings(context.Background(), srv.Client(), srv.URL+"/speedtest-config.php", false)
	require.NoError(t, err)
	assert.Equal(t, 4, params.Download.Count)
	assert.Equal(t, "JP", client.CC)

	_, _, err = FetchSettings(context.Background(), srv.Client(), srv.URL+"/missing", false)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestLoadCatalogue(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		switch r.URL.Path {
		case "/servers.php", "/servers-static.php":
			assert.Equal(t, "8", r.URL.Query().Get("threads"))
			w.Write([]byte(serversXML))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cache := filepath.Join(t.TempDir(), "servers.xml")
	opts := CatalogueOptions{
		URLs:      []string{srv.URL + "/servers-static.php", srv.URL + "/broken.php", srv.URL + "/servers.php"},
		Threads:   8,
		CachePath: cache,
		IgnoreIDs: []int{10},
	}
	eps, err := LoadCatalogue(context.Background(), srv.Client(), opts)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, 1, eps[0].ID)
	assert.Equal(t, "Osaka", eps[1].Name)
	assert.Equal(t, "b.example:8080", eps[1].Host)
	assert.Equal(t, 135.50, eps[1].Point.Longitude)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))

	_, err = os.Stat(cache)
	require.NoError(t, err)

	// 第二次读取缓存，不再访问网络
	eps, err = LoadCatalogue(context.Background(), srv.Client(), opts)
	require.NoError(t, err)
	assert.Len(t, eps, 2)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestLoadCatalogueUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	_, err := LoadCatalogue(context.Background(), srv.Client(), CatalogueOptions{URLs: []string{srv.URL}})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestLoadIDsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exclude.txt")
	require.NoError(t, os.WriteFile(path, []byte("# 排除\n12\n\n 34 \n12\n"), 0644))
	ids, err := LoadIDsFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []int{12, 34}, ids)

	require.NoError(t, os.WriteFile(path, []byte("abc\n"), 0644))
	_, err = LoadIDsFromFile(path)
	assert.Error(t, err)

	_, err = LoadIDsFromFile(filepath.Join(t.TempDir(), "none"))
	assert.Error(t, err)
}

func TestBuildURL(t *testing.T) {
	assert.Equal(t, "http://www.speedtest.net/x.php", BuildURL("www.speedtest.net/x.php", false))
	assert.Equal(t, "https://www.speedtest.net/x.php", BuildURL("www.speedtest.net/x.php", true))
	assert.Equal(t, "http://127.0.0.1/x", BuildURL("http://127.0.0.1/x", true))
}
