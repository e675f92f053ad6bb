package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bizkut/callsignscrapper/scraper"
)

const rowsPerPage = 3

// registrySite imitates the register: a landing page with a search form,
// result pages behind a session cookie and a windowed pager.
type registrySite struct {
	mu sync.Mutex

	pages     int
	hits      []string
	failOnce  map[int]bool
	blockAll  bool
	postBacks bool
}

func (s *registrySite) record(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = append(s.hits, r.Method+" "+r.URL.RequestURI())
}

func (s *registrySite) Hits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.hits...)
}

func (s *registrySite) shouldFail(page int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOnce[page] {
		delete(s.failOnce, page)
		return true
	}
	return false
}

func (s *registrySite) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		if s.blockAll {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `<html><head><title>Just a moment...</title></head><body>Checking your browser</body></html>`)
			return
		}
		if r.URL.Query().Get("type") != "AARadio" {
			http.Error(w, "missing type", http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodGet:
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
			fmt.Fprint(w, `<html><head><title>Register of Apparatus Assignments</title></head><body>
<form method="post" action="/register?type=AARadio">
  <input type="hidden" name="token" value="t0k3n">
  <select name="kind"><option value="AARadio" selected>Amateur</option><option value="Other">Other</option></select>
  <input type="text" name="q" value="">
  <input type="submit" name="btnSearch" value="Search">
  <input type="submit" name="btnReset" value="Reset">
</form></body></html>`)
		case http.MethodPost:
			if err := r.ParseForm(); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if r.PostForm.Get("token") != "t0k3n" || r.PostForm.Get("btnSearch") != "Search" ||
				r.PostForm.Get("kind") != "AARadio" || r.PostForm.Has("btnReset") {
				http.Error(w, "bad form", http.StatusBadRequest)
				return
			}
			if !hasSession(r) {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			if s.postBacks {
				if target := r.PostForm.Get("__EVENTTARGET"); target != "" {
					page, _ := strconv.Atoi(strings.TrimPrefix(r.PostForm.Get("__EVENTARGUMENT"), "Page$"))
					s.writePage(w, page)
					return
				}
			}
			s.writePage(w, 1)
		}
	})
	mux.HandleFunc("/register/results", func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		if !hasSession(r) {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `<html><head><title>Forbidden</title></head></html>`)
			return
		}
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil || page < 1 || page > s.pages {
			http.NotFound(w, r)
			return
		}
		if s.shouldFail(page) {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		s.writePage(w, page)
	})
	return mux
}

func hasSession(r *http.Request) bool {
	c, err := r.Cookie("sid")
	return err == nil && c.Value == "abc"
}

func (s *registrySite) link(page int, text string) string {
	if s.postBacks {
		return fmt.Sprintf(`<a href="javascript:__doPostBack('ctl00$grid','Page$%d')">%s</a>`, page, text)
	}
	return fmt.Sprintf(`<a href="/register/results?page=%d">%s</a>`, page, text)
}

func (s *registrySite) writePage(w http.ResponseWriter, page int) {
	var b strings.Builder
	b.WriteString(`<html><head><title>Register of Apparatus Assignments</title></head><body>`)
	if s.postBacks {
		b.WriteString(`<form method="post" action="/register?type=AARadio">
<input type="hidden" name="__VIEWSTATE" value="vs">
<input type="hidden" name="__EVENTTARGET" value="">
<input type="hidden" name="__EVENTARGUMENT" value="">
<input type="hidden" name="token" value="t0k3n">
<input type="hidden" name="kind" value="AARadio">
<input type="hidden" name="btnSearch" value="Search">`)
	}
	b.WriteString(`<table><tr><th>No.</th><th>Holder</th><th>Call Sign</th><th>Assign No</th><th>Expiry</th></tr>`)
	for i := 1; i <= rowsPerPage; i++ {
		n := (page-1)*rowsPerPage + i
		fmt.Fprintf(&b, "<tr><td> %d </td><td>Holder\n  %d</td><td>9W2%04d</td><td>AA-%d</td><td>31/12/2026</td></tr>", n, n, n, n)
	}
	b.WriteString(`<tr><td colspan="5">Showing page results</td></tr></table>`)
	b.WriteString(`<ul class="pagination">`)
	for p := page - 1; p <= page+1; p++ {
		if p < 1 || p > s.pages {
			continue
		}
		if p == page {
			fmt.Fprintf(&b, `<li class="active"><span>%d</span></li>`, p)
			continue
		}
		fmt.Fprintf(&b, `<li>%s</li>`, s.link(p, strconv.Itoa(p)))
	}
	if page < s.pages {
		fmt.Fprintf(&b, `<li>%s</li>`, s.link(page+1, "Next"))
	}
	b.WriteString(`</ul>`)
	if s.postBacks {
		b.WriteString(`</form>`)
	}
	b.WriteString(`</body></html>`)
	fmt.Fprint(w, b.String())
}

func newTestClient(t *testing.T, site *registrySite) *Client {
	t.Helper()
	srv := httptest.NewServer(site.handler())
	t.Cleanup(srv.Close)
	c, err := New(Config{
		BaseURL:       srv.URL + "/register",
		ApparatusType: "AARadio",
		UserAgent:     "callsign-scraper-test",
		Timeout:       5 * time.Second,
		Retries:       2,
		RetryWait:     time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func ordinals(rows []scraper.RawRow) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Ordinal)
	}
	return out
}

func walk(t *testing.T, f scraper.PageFetcher) [][]string {
	t.Helper()
	ctx := context.Background()
	var pages [][]string
	for i := 0; i < 20; i++ {
		rows, err := f.CurrentRows(ctx)
		require.NoError(t, err)
		pages = append(pages, ordinals(rows))
		ok, err := f.AdvancePage(ctx)
		require.NoError(t, err)
		if !ok {
			return pages
		}
	}
	t.Fatalf("pagination did not end")
	return nil
}

func TestClient_WalksAllPages(t *testing.T) {
	site := &registrySite{pages: 3}
	c := newTestClient(t, site)

	f, err := c.Open(context.Background(), scraper.Identity{ID: "a"}, 1)
	require.NoError(t, err)
	defer f.Close()

	blocked, err := f.IsSoftBlocked(context.Background())
	require.NoError(t, err)
	require.False(t, blocked)

	rows, err := f.CurrentRows(context.Background())
	require.NoError(t, err)
	require.Equal(t, scraper.RawRow{Ordinal: "1", Holder: "Holder\n  1", CallSign: "9W20001", AssignNo: "AA-1", Expiry: "31/12/2026"}, rows[0])

	require.Equal(t, [][]string{{"1", "2", "3"}, {"4", "5", "6"}, {"7", "8", "9"}}, walk(t, f))
	require.Equal(t, []string{
		"GET /register?type=AARadio",
		"POST /register?type=AARadio",
		"GET /register/results?page=2",
		"GET /register/results?page=3",
	}, site.Hits())
}

func TestClient_OpenSeeksStartPage(t *testing.T) {
	site := &registrySite{pages: 5}
	c := newTestClient(t, site)

	f, err := c.Open(context.Background(), scraper.Identity{ID: "b"}, 4)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.CurrentRows(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"10", "11", "12"}, ordinals(rows))
	require.Equal(t, []string{
		"GET /register?type=AARadio",
		"POST /register?type=AARadio",
		"GET /register/results?page=2",
		"GET /register/results?page=3",
		"GET /register/results?page=4",
	}, site.Hits())
}

func TestClient_OpenBeyondLastPage(t *testing.T) {
	c := newTestClient(t, &registrySite{pages: 2})
	_, err := c.Open(context.Background(), scraper.Identity{ID: "c"}, 5)
	require.Error(t, err)
	require.True(t, errors.Is(err, scraper.ErrPageOutOfRange), "got %v", err)
}

func TestClient_SoftBlock(t *testing.T) {
	site := &registrySite{pages: 2, blockAll: true}
	c := newTestClient(t, site)

	f, err := c.Open(context.Background(), scraper.Identity{ID: "d"}, 1)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.CurrentRows(context.Background())
	require.NoError(t, err)
	require.Empty(t, rows)
	blocked, err := f.IsSoftBlocked(context.Background())
	require.NoError(t, err)
	require.True(t, blocked)
	// Three attempts: the first request and two retries.
	require.Len(t, site.Hits(), 3)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	site := &registrySite{pages: 3, failOnce: map[int]bool{2: true}}
	c := newTestClient(t, site)

	f, err := c.Open(context.Background(), scraper.Identity{ID: "e"}, 1)
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, [][]string{{"1", "2", "3"}, {"4", "5", "6"}, {"7", "8", "9"}}, walk(t, f))
	hits := site.Hits()
	require.Equal(t, 2, strings.Count(strings.Join(hits, "\n"), "page=2"))
}

func TestClient_PostBackPager(t *testing.T) {
	site := &registrySite{pages: 3, postBacks: true}
	c := newTestClient(t, site)

	f, err := c.Open(context.Background(), scraper.Identity{ID: "f"}, 1)
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, [][]string{{"1", "2", "3"}, {"4", "5", "6"}, {"7", "8", "9"}}, walk(t, f))

	g, err := c.Open(context.Background(), scraper.Identity{ID: "g"}, 3)
	require.NoError(t, err)
	defer g.Close()
	rows, err := g.CurrentRows(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"7", "8", "9"}, ordinals(rows))
}

func TestClient_CancelledContext(t *testing.T) {
	c := newTestClient(t, &registrySite{pages: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Open(ctx, scraper.Identity{ID: "h"}, 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	c, err := New(Config{BaseURL: "https://example.org/register?lang=en", ApparatusType: "AARadio"})
	require.NoError(t, err)
	require.Equal(t, "https://example.org/register?lang=en&type=AARadio", c.LandingURL())
}
