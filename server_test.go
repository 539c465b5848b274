package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zachkp/folio/internal/eventloop"
	"github.com/Zachkp/folio/internal/lazyembed"
	"github.com/Zachkp/folio/internal/page"
	"github.com/Zachkp/folio/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testSite struct {
	srv    *server
	router *gin.Engine
	store  *store.Store
	loops  []*eventloop.Manual
}

func (ts *testSite) drain(d time.Duration) {
	for _, l := range ts.loops {
		l.Advance(d)
	}
}

func newTestSite(t *testing.T) *testSite {
	t.Helper()
	t.Setenv("ADMIN_PASSWORD", "s3cret")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	cfg.RateLimit.Burst = 1000

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "site.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ts := &testSite{store: st}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := page.NewRegistry(page.RegistryConfig{Loader: cfg.loader, Sections: cfg.pageSections()},
		page.WithLoopFactory(func() (eventloop.Loop, func()) {
			loop := eventloop.NewManual(time.Unix(1_700_000_000, 0))
			ts.loops = append(ts.loops, loop)
			return loop, func() {}
		}),
		page.WithRegistryLogger(logger),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ts.srv = newServer(ctx, cfg, logger, reg, st)
	ts.router = ts.srv.routes()
	return ts
}

func (ts *testSite) do(method, target string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")
	req.Header.Set("DNT", "1")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testSite) createSession(t *testing.T) sessionResponse {
	t.Helper()
	w := ts.do(http.MethodPost, "/api/sessions", map[string]any{"width": 1280, "height": 800})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

var heroRegion = lazyembed.Rect{Width: 1280, Height: 800}

func TestIndex_RendersEverySlotAsPlaceholder(t *testing.T) {
	ts := newTestSite(t)
	w := ts.do(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	for _, sec := range defaultSections() {
		assert.Contains(t, w.Body.String(), `data-slot="`+sec.Slot+`"`)
	}
	assert.NotContains(t, w.Body.String(), "<iframe")
}

func TestSessionAPI_MountLoadFlow(t *testing.T) {
	ts := newTestSite(t)
	sess := ts.createSession(t)
	require.Len(t, sess.Slots, 6)
	assert.Equal(t, lazyembed.Idle, sess.Slots[0].State)
	base := "/api/sessions/" + sess.ID

	w := ts.do(http.MethodPost, base+"/slots/hero/mount", regionRequest{Region: heroRegion})
	require.Equal(t, http.StatusAccepted, w.Code)

	ts.drain(0)
	frag := ts.do(http.MethodGet, base+"/slots/hero", nil)
	require.Equal(t, http.StatusOK, frag.Code)
	assert.Contains(t, frag.Body.String(), `data-state="scheduled"`)

	ts.drain(time.Second)
	frag = ts.do(http.MethodGet, base+"/slots/hero", nil)
	assert.Contains(t, frag.Body.String(), `<iframe src="https://my.spline.design/worldplanet-4hxZ1pfd6ey7FJAvxeatcrst/"`)

	require.Equal(t, http.StatusAccepted, ts.do(http.MethodPost, base+"/slots/hero/loaded", nil).Code)
	ts.drain(0)

	state := ts.do(http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, state.Code)
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(state.Body.Bytes(), &resp))
	assert.True(t, resp.Slots[0].Loaded)
	assert.Equal(t, lazyembed.Full, resp.Slots[0].Class)
	assert.Equal(t, 50*time.Millisecond, resp.Slots[0].Delay, "hero is a fast slot")
}

func TestSessionAPI_FailureRendersFallback(t *testing.T) {
	ts := newTestSite(t)
	base := "/api/sessions/" + ts.createSession(t).ID

	ts.do(http.MethodPost, base+"/slots/about/mount", regionRequest{Region: heroRegion})
	ts.drain(time.Second)
	w := ts.do(http.MethodPost, base+"/slots/about/failed", failedRequest{Reason: "refused to frame"})
	require.Equal(t, http.StatusAccepted, w.Code)
	ts.drain(0)

	frag := ts.do(http.MethodGet, base+"/slots/about", nil)
	assert.Contains(t, frag.Body.String(), "embed-fallback")
	assert.Contains(t, frag.Body.String(), FallbackText)
}

func TestSessionAPI_ScrollBringsSlotIntoView(t *testing.T) {
	ts := newTestSite(t)
	base := "/api/sessions/" + ts.createSession(t).ID

	ts.do(http.MethodPost, base+"/slots/projects/mount", regionRequest{Region: lazyembed.Rect{Y: 4000, Width: 1280, Height: 800}})
	ts.drain(time.Second)
	frag := ts.do(http.MethodGet, base+"/slots/projects", nil)
	assert.Contains(t, frag.Body.String(), `data-state="idle"`)

	w := ts.do(http.MethodPost, base+"/viewport", map[string]any{"width": 1280, "height": 800, "scrollY": 3600})
	require.Equal(t, http.StatusAccepted, w.Code)
	ts.drain(time.Second)
	frag = ts.do(http.MethodGet, base+"/slots/projects", nil)
	assert.Contains(t, frag.Body.String(), "<iframe")
}

func TestSessionAPI_Errors(t *testing.T) {
	ts := newTestSite(t)
	base := "/api/sessions/" + ts.createSession(t).ID

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/api/sessions", map[string]any{"width": 0, "height": 800}).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/sessions/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPost, base+"/slots/footer/mount", regionRequest{Region: heroRegion}).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, base+"/slots/footer", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, base+"/slots/hero/layout", "not an object").Code)

	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, base, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPost, base+"/slots/hero/loaded", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, base, nil).Code)
}

func TestSessionAPI_UnmountResetsToPlaceholder(t *testing.T) {
	ts := newTestSite(t)
	base := "/api/sessions/" + ts.createSession(t).ID

	ts.do(http.MethodPost, base+"/slots/contact/mount", regionRequest{Region: heroRegion})
	ts.drain(time.Second)
	require.Equal(t, http.StatusAccepted, ts.do(http.MethodDelete, base+"/slots/contact", nil).Code)
	ts.drain(0)

	frag := ts.do(http.MethodGet, base+"/slots/contact", nil)
	assert.Contains(t, frag.Body.String(), `data-state="idle"`)
}

func TestEvents_StreamsSnapshots(t *testing.T) {
	ts := newTestSite(t)
	sess := ts.createSession(t)
	httpSrv := httptest.NewServer(ts.router)
	defer httpSrv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpSrv.URL+"/api/sessions/"+sess.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan lazyembed.Snapshot, 32)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var snap lazyembed.Snapshot
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap) == nil && snap.Slot != "" {
				events <- snap
			}
		}
	}()

	for i := 0; i < 6; i++ {
		select {
		case snap := <-events:
			assert.Equal(t, lazyembed.Idle, snap.State)
		case <-time.After(2 * time.Second):
			t.Fatal("initial snapshots not streamed")
		}
	}

	ts.do(http.MethodPost, "/api/sessions/"+sess.ID+"/slots/hero/mount", regionRequest{Region: heroRegion})
	ts.drain(time.Second)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-events:
			if snap.Slot == "hero" && snap.State == lazyembed.Mounted {
				assert.Equal(t, lazyembed.Live, snap.Presentation)
				return
			}
		case <-deadline:
			t.Fatal("mounted snapshot not streamed")
		}
	}
}

func TestRateLimiter(t *testing.T) {
	l := newIPLimiter(1, 2)
	now := time.Unix(0, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("1.1.1.1"))
	assert.True(t, l.allow("1.1.1.1"))
	assert.False(t, l.allow("1.1.1.1"))
	assert.True(t, l.allow("2.2.2.2"), "buckets are per client")

	now = now.Add(time.Second)
	assert.True(t, l.allow("1.1.1.1"))

	now = now.Add(time.Hour)
	l.allow("3.3.3.3")
	assert.Len(t, l.clients, 1, "idle clients are forgotten")
}

func postForm(ts *testSite, target string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func TestContact(t *testing.T) {
	ts := newTestSite(t)

	w := postForm(ts, "/contact", url.Values{"fullName": {"Ada"}, "email": {"ada@example.com"}, "message": {"Hi there"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Thank you")

	w = postForm(ts, "/contact", url.Values{"fullName": {"Ada"}, "email": {"not-an-email"}, "message": {"Hi"}})
	assert.Contains(t, w.Body.String(), "valid email")

	msgs, err := ts.store.RecentMessages(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hi there", msgs[0].Body)
}

func TestAdmin(t *testing.T) {
	ts := newTestSite(t)

	w := ts.do(http.MethodGet, "/admin/dashboard", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/admin/login", w.Header().Get("Location"))

	w = postForm(ts, "/admin/login", url.Values{"username": {"admin"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postForm(ts, "/admin/login", url.Values{"username": {"admin"}, "password": {"s3cret"}})
	require.Equal(t, http.StatusFound, w.Code)
	var token *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "admin_token" {
			token = c
		}
	}
	require.NotNil(t, token)

	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	req.AddCookie(token)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Embeds")

	req = httptest.NewRequest(http.MethodGet, "/admin/api/embeds", nil)
	req.AddCookie(token)
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"live_sessions":0`)
}

func TestVisitorTracking(t *testing.T) {
	ts := newTestSite(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "curl/8")
	ts.router.ServeHTTP(httptest.NewRecorder(), req)

	require.Eventually(t, func() bool {
		v, err := ts.store.RecentVisitors(context.Background(), 10)
		return err == nil && len(v) == 1
	}, 2*time.Second, 10*time.Millisecond)

	v, _ := ts.store.RecentVisitors(context.Background(), 10)
	assert.Len(t, v[0].HashedIP, 16)
	assert.Equal(t, "/", v[0].Path)
}
