package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeState(t *testing.T) {
	st, err := decodeState(nil)
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = decodeState([]byte("{not json"))
	assert.Error(t, err)

	st, err = decodeState([]byte(`{"cookies":[{"name":"sid","value":"1","domain":"example.com","path":"/"}],
		"origins":[{"origin":"https://example.com","localStorage":{"k":"v"}}]}`))
	require.NoError(t, err)
	require.Len(t, st.cookieParams(), 1)
	assert.Equal(t, "sid", st.cookieParams()[0].Name)

	js, err := st.Origins[0].restoreScript()
	require.NoError(t, err)
	assert.Contains(t, js, `location.origin !== "https://example.com"`)
	assert.Contains(t, js, `{"k":"v"}`)
}

func TestShouldBlock(t *testing.T) {
	set := map[string]bool{"images": true, "fonts": true}
	assert.True(t, shouldBlock(set, "Image"))
	assert.True(t, shouldBlock(set, "Font"))
	assert.False(t, shouldBlock(set, "Stylesheet"))
	assert.False(t, shouldBlock(set, "XHR"))
	assert.False(t, shouldBlock(set, "Fetch"))
}

// portal is a minimal stand-in for the TMC web portal: a login form that
// sets a cookie and a visits page whose grid fetches its rows over XHR.
func portal(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()

	r.Get("/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><form action="/login" method="post">
			<input name="username" id="username">
			<button type="submit" class="_button-login-id">Continue</button>
		</form></body></html>`)
	})
	r.Post("/login", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: r.Form.Get("username"), Path: "/"})
		http.Redirect(w, r, "/MORRISONS/TMCWebPortal/Site/Visits/218?siteIdEncoded=False", http.StatusFound)
	})
	r.Get("/MORRISONS/TMCWebPortal/Site/Visits/{site}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body>
			<div class="ui-jqgrid-hdiv"><table class="ui-jqgrid-htable"><thead><tr><th>PTA Time</th></tr></thead></table></div>
			<table class="ui-jqgrid-btable"><tbody><tr class="jqgfirstrow"><td></td></tr></tbody></table>
			<script>
				localStorage.setItem("site", %q);
				fetch("/MORRISONS/TMCWebPortal/Site/ListVisits?site=%s").then(r => r.json()).then(d => {
					const tb = document.querySelector("table.ui-jqgrid-btable tbody");
					for (const row of d.Rows) {
						const tr = document.createElement("tr");
						tr.innerHTML = "<td>" + row["PTA Time"] + "</td>";
						tb.appendChild(tr);
					}
				});
			</script></body></html>`, chi.URLParam(r, "site"), chi.URLParam(r, "site"))
	})
	r.Get("/MORRISONS/TMCWebPortal/Site/ListVisits", func(w http.ResponseWriter, r *http.Request) {
		user := ""
		if c, err := r.Cookie("sid"); err == nil {
			user = c.Value
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"User": user,
			"Rows": []map[string]any{{"PTA Time": "06:30"}, {"PTA Time": "09:15"}},
		})
	})

	r.Get("/burst", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><script>
			Promise.all([1, 2, 3].map(n => fetch("/burst/" + n)))
				.then(() => fetch("/burst/4"))
				.then(() => { document.body.insertAdjacentHTML("beforeend", "<p id='done'>done</p>"); });
		</script></body></html>`)
	})
	r.Get("/burst/{n}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"n":%s}`, chi.URLParam(r, "n"))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func startManager(t *testing.T) *Manager {
	t.Helper()
	if testing.Short() {
		t.Skip("browser test skipped in -short mode")
	}
	if _, ok := launcher.LookPath(); !ok {
		t.Skip("no Chrome/Chromium binary found")
	}
	m := NewManager(Config{Headless: true, ResourceBlocking: []string{"images", "fonts"}})
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	require.NoError(t, m.Start(ctx))
	t.Cleanup(func() { m.Close() })
	return m
}

func TestTab_LoginCaptureAndRestore(t *testing.T) {
	srv := portal(t)
	m := startManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	page, err := m.OpenPage(ctx, nil)
	require.NoError(t, err)
	defer page.Close()

	require.NoError(t, page.Navigate(ctx, srv.URL+"/login"))
	ok, err := page.Visible(ctx, "input[name='username']")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = page.ButtonLabeled(ctx, []string{"continue"})
	require.NoError(t, err)
	assert.True(t, ok)

	var mu sync.Mutex
	var bodies []string
	stop := page.OnResponse(ctx, func(r Response) {
		if !strings.Contains(r.URL, "/ListVisits") {
			return
		}
		b, err := r.Body()
		if err != nil {
			return
		}
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
	})

	require.NoError(t, page.Fill(ctx, "#username", "Store218"))
	require.NoError(t, page.ClickAndWait(ctx, "button._button-login-id"))
	require.NoError(t, page.WaitVisible(ctx, "table.ui-jqgrid-btable tbody tr:not(.jqgfirstrow)"))
	assert.Contains(t, page.URL(), "/Site/Visits/218")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bodies) > 0
	}, 10*time.Second, 50*time.Millisecond)
	stop()
	stop()

	mu.Lock()
	assert.Contains(t, bodies[0], `"User":"Store218"`)
	mu.Unlock()

	body, err := page.FirstHTML(ctx, "table.ui-jqgrid-btable", true)
	require.NoError(t, err)
	assert.Contains(t, body, "09:15")

	_, err = page.FirstHTML(ctx, "table.missing", false)
	assert.ErrorIs(t, err, ErrNoElement)

	state, err := page.ExportState(ctx)
	require.NoError(t, err)
	var st struct {
		Cookies []*proto.NetworkCookie `json:"cookies"`
		Origins []originStorage        `json:"origins"`
	}
	require.NoError(t, json.Unmarshal(state, &st))
	require.NotEmpty(t, st.Origins)
	assert.Equal(t, "218", st.Origins[0].LocalStorage["site"])

	// A second manager restores the session from the exported blob.
	m2 := startManager(t)
	page2, err := m2.OpenPage(ctx, state)
	require.NoError(t, err)
	defer page2.Close()

	got := make(chan string, 1)
	stop2 := page2.OnResponse(ctx, func(r Response) {
		if strings.Contains(r.URL, "/ListVisits") {
			if b, err := r.Body(); err == nil {
				select {
				case got <- string(b):
				default:
				}
			}
		}
	})
	defer stop2()

	require.NoError(t, page2.Navigate(ctx, srv.URL+"/MORRISONS/TMCWebPortal/Site/Visits/218?siteIdEncoded=False"))
	require.NoError(t, page2.Reload(ctx))
	select {
	case b := <-got:
		assert.Contains(t, b, `"User":"Store218"`)
	case <-time.After(15 * time.Second):
		t.Fatal("no ListVisits response after restoring the session")
	}

	shot := t.TempDir() + "/shot.png"
	require.NoError(t, page2.Screenshot(ctx, shot))
	assert.FileExists(t, shot)
}

func TestTab_ResponsesDeliveredOneAtATime(t *testing.T) {
	// WHAT: Listener calls never overlap and follow arrival order.
	// WHY: The first matching response must win the capture, not the
	// fastest body read.
	srv := portal(t)
	m := startManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	page, err := m.OpenPage(ctx, nil)
	require.NoError(t, err)
	defer page.Close()

	var mu sync.Mutex
	var active, peak int
	var order []string
	stop := page.OnResponse(ctx, func(r Response) {
		if !strings.Contains(r.URL, "/burst/") {
			return
		}
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()

		_, _ = r.Body()
		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		active--
		order = append(order, r.URL[strings.LastIndex(r.URL, "/")+1:])
		mu.Unlock()
	})
	defer stop()

	require.NoError(t, page.Navigate(ctx, srv.URL+"/burst"))
	require.NoError(t, page.WaitVisible(ctx, "#done"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 4
	}, 10*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, peak)
	assert.Equal(t, "4", order[3], "the chained request finished last")
}

func TestManager_HeadfulWithoutXvfbFailsFast(t *testing.T) {
	t.Setenv("DISPLAY", "")
	t.Setenv("PATH", t.TempDir())

	m := NewManager(Config{Headless: false})
	defer m.Close()

	start := time.Now()
	err := m.Start(context.Background())
	require.ErrorIs(t, err, ErrNoXvfb)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDisplaySocket(t *testing.T) {
	assert.Equal(t, "/tmp/.X11-unix/X99", displaySocket(":99"))
	assert.Equal(t, "/tmp/.X11-unix/X1", displaySocket(":1.0"))
}

func TestWaitDisplay_TimesOut(t *testing.T) {
	err := waitDisplay(context.Background(), ":65000", 100*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_ClosedRefusesStart(t *testing.T) {
	m := NewManager(Config{})
	require.NoError(t, m.Close())
	assert.Error(t, m.Start(context.Background()))

	_, err := m.OpenPage(context.Background(), nil)
	assert.Error(t, err)
}
