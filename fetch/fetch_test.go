package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/ferry/proxy"
	"github.com/pithecene-io/ferry/types"
)

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

// rangeServer serves data with full Range and HEAD support.
func rangeServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "video.mp4", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProbe_HeadWithRanges(t *testing.T) {
	data := payload(1000)
	srv := rangeServer(t, data)

	res, err := New(Config{}).Probe(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if res.Size != 1000 || !res.AcceptRanges {
		t.Errorf("got %+v, want size 1000 with ranges", res)
	}
}

func TestProbe_HeadRefusedFallsBackToRangeGet(t *testing.T) {
	data := payload(4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		http.ServeContent(w, r, "v.mp4", time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	res, err := New(Config{}).Probe(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if res.Size != 4096 || !res.AcceptRanges {
		t.Errorf("got %+v, want size 4096 with ranges", res)
	}
}

func TestProbe_NoRangeSupport(t *testing.T) {
	data := payload(300)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "none")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(data)
		}
	}))
	defer srv.Close()

	res, err := New(Config{}).Probe(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	// HEAD carries no body so no length; the range probe gets the whole 200 body.
	if res.Size != 300 {
		t.Errorf("Size = %d, want 300", res.Size)
	}
	if res.AcceptRanges {
		t.Error("expected AcceptRanges=false")
	}
}

func TestProbe_UnknownSizeIsPlanningError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		// Flushing before the body forces chunked encoding with no length.
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("streamed"))
	}))
	defer srv.Close()

	res, err := New(Config{}).Probe(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected an error for an unknown size")
	}
	if !errors.Is(err, types.ErrPlanning) {
		t.Errorf("expected ErrPlanning, got %v", err)
	}
	if res.Size != types.UnknownSize {
		t.Errorf("Size = %d, want UnknownSize", res.Size)
	}
}

func TestFetchPart_BoundedRange(t *testing.T) {
	data := payload(1000)
	srv := rangeServer(t, data)
	dst := filepath.Join(t.TempDir(), "part-1")

	var counted atomic.Int64
	r := types.Range{Index: 1, Start: 250, End: 499}
	part, err := New(Config{}).FetchPart(context.Background(), srv.URL, r, dst, func(n int64) { counted.Add(n) })
	if err != nil {
		t.Fatalf("FetchPart failed: %v", err)
	}
	if part.Index != 1 || part.BytesReceived != 250 {
		t.Errorf("unexpected part %+v", part)
	}
	if counted.Load() != 250 {
		t.Errorf("onBytes total = %d, want 250", counted.Load())
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data[250:500]) {
		t.Error("part content does not match source bytes 250-499")
	}
}

func TestFetchPart_OpenRange(t *testing.T) {
	data := payload(1000)
	srv := rangeServer(t, data)
	dst := filepath.Join(t.TempDir(), "part-3")

	part, err := New(Config{}).FetchPart(context.Background(), srv.URL, types.Range{Index: 3, Start: 750, End: types.OpenEnd}, dst, nil)
	if err != nil {
		t.Fatalf("FetchPart failed: %v", err)
	}
	if part.BytesReceived != 250 {
		t.Errorf("BytesReceived = %d, want 250", part.BytesReceived)
	}
}

func TestFetchPart_WholeFileSendsNoRange(t *testing.T) {
	data := payload(64)
	var sawRange atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			sawRange.Store(true)
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "part-0")
	part, err := New(Config{}).FetchPart(context.Background(), srv.URL, types.Range{Index: 0, Start: 0, End: types.OpenEnd}, dst, nil)
	if err != nil {
		t.Fatalf("FetchPart failed: %v", err)
	}
	if sawRange.Load() {
		t.Error("whole-file fetch must not send a Range header")
	}
	if part.BytesReceived != 64 {
		t.Errorf("BytesReceived = %d, want 64", part.BytesReceived)
	}
}

func TestFetchPart_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		r       types.Range
		reason  string
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			r:      types.Range{Index: 0, Start: 0, End: 99},
			reason: "HTTP 404",
		},
		{
			name: "range ignored",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write(payload(200))
			},
			r:      types.Range{Index: 1, Start: 100, End: 199},
			reason: "download error",
		},
		{
			name: "zero bytes",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			r:      types.Range{Index: 0, Start: 0, End: types.OpenEnd},
			reason: "download error",
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			r:      types.Range{Index: 2, Start: 200, End: types.OpenEnd},
			reason: "HTTP 502",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			dst := filepath.Join(t.TempDir(), "part")
			_, err := New(Config{}).FetchPart(context.Background(), srv.URL, tt.r, dst, nil)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errors.Is(err, types.ErrFetchFailed) {
				t.Errorf("expected ErrFetchFailed, got %v", err)
			}
			if got := Describe(err); got != tt.reason {
				t.Errorf("Describe = %q, want %q", got, tt.reason)
			}
			if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
				t.Error("failed fetch must not leave a part file behind")
			}
		})
	}
}

func TestFetchPart_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 50 * time.Millisecond})
	_, err := f.FetchPart(context.Background(), srv.URL, types.Range{Start: 0, End: 9}, filepath.Join(t.TempDir(), "p"), nil)
	if !errors.Is(err, types.ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
	if got := Describe(err); got != "timed out" {
		t.Errorf("Describe = %q, want timed out", got)
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		in                string
		start, end, total int64
		wantErr           bool
	}{
		{"bytes 0-0/12345", 0, 0, 12345, false},
		{"bytes 200-1000/67589", 200, 1000, 67589, false},
		{"bytes 5-9/*", 5, 9, types.UnknownSize, false},
		{"bytes 9-5/10", 0, 0, 0, true},
		{"items 0-1/2", 0, 0, 0, true},
		{"bytes 0-1", 0, 0, 0, true},
		{"", 0, 0, 0, true},
	}
	for _, tt := range tests {
		start, end, total, err := ParseContentRange(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseContentRange(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			continue
		}
		if start != tt.start || end != tt.end || total != tt.total {
			t.Errorf("ParseContentRange(%q) = %d,%d,%d", tt.in, start, end, total)
		}
	}
}

func TestFetchPart_ThroughProxy(t *testing.T) {
	data := payload(1000)
	var hosts []string
	var mu sync.Mutex
	// A plain HTTP proxy receives absolute-form request URLs.
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hosts = append(hosts, r.URL.Host)
		mu.Unlock()
		http.ServeContent(w, r, "video.mp4", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(proxySrv.Close)

	sel, err := proxy.NewSelector(proxy.Pool{Endpoints: []string{proxySrv.URL}})
	if err != nil {
		t.Fatal(err)
	}
	f := New(Config{Proxy: sel.ProxyFunc()})

	dst := filepath.Join(t.TempDir(), "part-1")
	part, err := f.FetchPart(context.Background(), "http://origin.invalid/video.mp4", types.Range{Index: 1, Start: 0, End: 99}, dst, nil)
	if err != nil {
		t.Fatalf("FetchPart failed: %v", err)
	}
	if part.BytesReceived != 100 {
		t.Errorf("BytesReceived = %d, want 100", part.BytesReceived)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(hosts) != 1 || hosts[0] != "origin.invalid" {
		t.Errorf("proxy saw hosts %v", hosts)
	}
	if sel.Stats().StickyEntries != 1 {
		t.Errorf("expected one sticky origin, got %+v", sel.Stats())
	}
}
