package session

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

const (
	fakeUser     = "alice@contoso.com"
	fakePassword = "hunter2"
)

// fakeTenant is a SharePoint site plus identity provider that issues a new
// FedAuth cookie per login and can revoke it.
type fakeTenant struct {
	site *httptest.Server
	idp  *httptest.Server

	logins atomic.Int32 // completed credential type probes
	probes atomic.Int32

	mu    sync.Mutex
	valid map[string]bool
	seq   int
}

func newFakeTenant(t *testing.T) *fakeTenant {
	t.Helper()

	f := &fakeTenant{valid: map[string]bool{}}

	site := http.NewServeMux()
	site.HandleFunc("GET /sites/team", func(w http.ResponseWriter, r *http.Request) {
		if f.authenticated(r) {
			fmt.Fprint(w, "team site")
			return
		}

		http.Redirect(w, r, f.idp.URL+"/authorize", http.StatusFound)
	})
	site.HandleFunc("GET /sites/team/_layouts/15/userphoto.aspx", func(w http.ResponseWriter, r *http.Request) {
		f.probes.Add(1)

		if f.authenticated(r) {
			w.Header().Set("Content-Type", "image/png")
			return
		}

		http.Redirect(w, r, f.idp.URL+"/authorize", http.StatusFound)
	})
	site.HandleFunc("POST /_forms/default.aspx", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.seq++
		v := fmt.Sprintf("fedauth-%d", f.seq)
		f.valid[v] = true
		f.mu.Unlock()

		http.SetCookie(w, &http.Cookie{Name: "FedAuth", Value: v, Path: "/"})
		http.Redirect(w, r, f.siteURL(), http.StatusFound)
	})

	idp := http.NewServeMux()
	idp.HandleFunc("GET /authorize", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("ESTSAUTH"); err == nil && c.Value == "ok" {
			fmt.Fprintf(w, `<form action="%s/_forms/default.aspx"><input name="t" value="x"/></form>`, f.site.URL)
			return
		}

		http.SetCookie(w, &http.Cookie{Name: "buid", Value: "b", Path: "/"})
		fmt.Fprint(w, `{"sCtx":"ctx"}`)
	})
	idp.HandleFunc("POST /common/GetCredentialType", func(w http.ResponseWriter, _ *http.Request) {
		f.logins.Add(1)
		fmt.Fprintf(w, `{"Credentials":{"FederationRedirectUrl":"%s/adfs"}}`, f.idp.URL)
	})
	idp.HandleFunc("GET /adfs", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<form></form>")
	})
	idp.HandleFunc("POST /adfs", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()

		if r.PostForm.Get("UserName") != fakeUser || r.PostForm.Get("Password") != fakePassword {
			fmt.Fprint(w, "Incorrect user ID or password.")
			return
		}

		fmt.Fprintf(w, `<form action="%s/relay"><input name="wresult" value="r"/></form>`, f.idp.URL)
	})
	idp.HandleFunc("POST /relay", func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "ESTSAUTH", Value: "ok", Path: "/"})
	})

	f.site = httptest.NewServer(site)
	f.idp = httptest.NewServer(idp)
	t.Cleanup(f.site.Close)
	t.Cleanup(f.idp.Close)

	return f
}

func (f *fakeTenant) siteURL() string { return f.site.URL + "/sites/team" }

func (f *fakeTenant) authenticated(r *http.Request) bool {
	c, err := r.Cookie("FedAuth")
	if err != nil {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.valid[c.Value]
}

// revokeAll invalidates every issued session.
func (f *fakeTenant) revokeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.valid = map[string]bool{}
}
