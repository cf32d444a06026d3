package fetch

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgharvest/pkg/config"
	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/logger"
)

func newTestClient(limiter *recordingLimiter) *Client {
	cfg := config.DefaultConfig().Fetch
	if limiter == nil {
		return NewClient(cfg, 4, nil, logger.NewNopLogger())
	}
	return NewClient(cfg, 4, limiter, logger.NewNopLogger())
}

type recordingLimiter struct {
	mu    sync.Mutex
	hosts []string
}

func (l *recordingLimiter) Allow(host string) bool { return true }
func (l *recordingLimiter) Reset()                 {}
func (l *recordingLimiter) Wait(ctx context.Context, host string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hosts = append(l.hosts, host)
	return ctx.Err()
}

func TestFetchImage(t *testing.T) {
	var gotReferer, gotAccept, gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		gotAccept = r.Header.Get("Accept")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	limiter := &recordingLimiter{}
	client := newTestClient(limiter)

	img, err := client.FetchImage(context.Background(), server.URL+"/a.png", "https://mp.weixin.qq.com/s/x", 1024)
	require.NoError(t, err)

	assert.Equal(t, []byte("png-bytes"), img.Data)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, "https://mp.weixin.qq.com/s/x", gotReferer)
	assert.Contains(t, gotAccept, "image/")
	assert.NotEmpty(t, gotUA)
	assert.Len(t, limiter.hosts, 1)
	assert.Equal(t, strings.TrimPrefix(server.URL, "http://"), limiter.hosts[0])
}

func TestFetchImageConfiguredReferer(t *testing.T) {
	var gotReferer string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		_, _ = w.Write([]byte("x"))
	}))
	defer server.Close()

	cfg := config.DefaultConfig().Fetch
	cfg.Referer = "https://override.example/"
	client := NewClient(cfg, 1, nil, logger.NewNopLogger())

	_, err := client.FetchImage(context.Background(), server.URL, "https://article.example/", 1024)
	require.NoError(t, err)
	assert.Equal(t, "https://override.example/", gotReferer)
}

func TestFetchImageStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected errs.ErrorType
	}{
		{http.StatusNotFound, errs.ErrorTypeNotFound},
		{http.StatusForbidden, errs.ErrorTypeClient},
		{http.StatusRequestTimeout, errs.ErrorTypeTimeout},
		{http.StatusTooManyRequests, errs.ErrorTypeRateLimit},
		{http.StatusBadGateway, errs.ErrorTypeServerError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := newTestClient(nil).FetchImage(context.Background(), server.URL, "", 1024)
			require.Error(t, err)
			assert.Equal(t, tt.expected, errs.TypeOf(err))

			var typed *errs.Error
			require.ErrorAs(t, err, &typed)
			assert.Equal(t, tt.status, typed.Code)
		})
	}
}

func TestFetchImageTooLargeByContentLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		_, _ = w.Write(bytes.Repeat([]byte("a"), 4096))
	}))
	defer server.Close()

	_, err := newTestClient(nil).FetchImage(context.Background(), server.URL, "", 1024)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeTooLarge))
	assert.Contains(t, err.Error(), "content length")
}

func TestFetchImageTooLargeWhileStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 8; i++ {
			_, _ = w.Write(bytes.Repeat([]byte("b"), 256))
			flusher.Flush()
		}
	}))
	defer server.Close()

	_, err := newTestClient(nil).FetchImage(context.Background(), server.URL, "", 1024)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeTooLarge))
	assert.Contains(t, err.Error(), "response body exceeds")
}

func TestFetchImageExactlyAtLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("c"), 1024))
	}))
	defer server.Close()

	img, err := newTestClient(nil).FetchImage(context.Background(), server.URL, "", 1024)
	require.NoError(t, err)
	assert.Len(t, img.Data, 1024)
}

func TestFetchDecodesCompressedBodies(t *testing.T) {
	payload := []byte(strings.Repeat("<p>hello</p>", 50))

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write(payload)
	require.NoError(t, gw.Close())

	var br bytes.Buffer
	bw := brotli.NewWriter(&br)
	_, _ = bw.Write(payload)
	require.NoError(t, bw.Close())

	for encoding, body := range map[string][]byte{"gzip": gz.Bytes(), "br": br.Bytes()} {
		t.Run(encoding, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Contains(t, r.Header.Get("Accept-Encoding"), "br")
				w.Header().Set("Content-Encoding", encoding)
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				_, _ = w.Write(body)
			}))
			defer server.Close()

			page, err := newTestClient(nil).FetchPage(context.Background(), server.URL, 1<<20)
			require.NoError(t, err)
			assert.Equal(t, string(payload), page.Body)
			assert.Equal(t, http.StatusOK, page.StatusCode)
		})
	}
}

func TestFetchPageFollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html></html>"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	page, err := newTestClient(nil).FetchPage(context.Background(), server.URL+"/old", 1024)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/new", page.FinalURL)
	assert.Equal(t, server.URL+"/old", page.URL)
}

func TestFetchTimeoutIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(nil).FetchImage(ctx, server.URL, "", 1024)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeTimeout, errs.TypeOf(err))
	assert.True(t, errs.IsRetryable(errs.TypeOf(err)))
}

func TestFetchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(nil).FetchImage(ctx, "http://127.0.0.1:1/a.jpg", "", 1024)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeCancelled, errs.TypeOf(err))
}

func TestFetchNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(nil).FetchImage(context.Background(), url, "", 1024)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeNetwork, errs.TypeOf(err))
}

func TestFetchInvalidURL(t *testing.T) {
	_, err := newTestClient(nil).FetchImage(context.Background(), "http://[::1", "", 1024)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeValidation, errs.TypeOf(err))
}

func TestClientSharedAcrossGoroutines(t *testing.T) {
	var mu sync.Mutex
	userAgents := make(map[string]int)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		userAgents[r.Header.Get("User-Agent")]++
		mu.Unlock()
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer server.Close()

	client := newTestClient(&recordingLimiter{})

	const workers = 16
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.FetchImage(context.Background(), server.URL+"/img.jpg", "", 1024)
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		assert.NoError(t, err)
	}
	assert.Equal(t, map[string]int{config.DefaultConfig().Fetch.UserAgent: workers}, userAgents)
}
