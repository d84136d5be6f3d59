package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knowyouranimal/kya/internal/api"
	"github.com/stretchr/testify/require"
)

// sessionServer mimics the backend's cookie sessions for one user and one admin.
func sessionServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	group := func(prefix, cookie, email, role string) {
		mux.HandleFunc("POST "+prefix+"/login", func(w http.ResponseWriter, r *http.Request) {
			var in credentials
			_ = json.NewDecoder(r.Body).Decode(&in)
			if in.Email != email || in.Password != "pa55" {
				write(w, http.StatusUnauthorized, map[string]string{"message": "Invalid email or password"})
				return
			}
			http.SetCookie(w, &http.Cookie{Name: cookie, Value: "jwt-" + role, Path: "/", HttpOnly: true, MaxAge: 7 * 24 * 3600})
			write(w, http.StatusOK, map[string]any{"message": "Logged in successfully", "user": User{ID: "u-" + role, Username: role, Email: email, Role: role}})
		})
		mux.HandleFunc("POST "+prefix+"/logout", func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{Name: cookie, Value: "", Path: "/", HttpOnly: true, Expires: time.Unix(0, 0)})
			write(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
		})
		mux.HandleFunc("GET "+prefix+"/profile", func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(cookie)
			if err != nil || c.Value != "jwt-"+role {
				write(w, http.StatusUnauthorized, map[string]string{"message": "Not authorized"})
				return
			}
			write(w, http.StatusOK, map[string]any{"user": User{ID: "u-" + role, Username: role, Email: email, Role: role}})
		})
	}
	group("/api/auth", "token", "farmer@example.com", "user")
	group("/api/admin", "adminToken", "admin@example.com", "admin")
	mux.HandleFunc("POST /api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		var in credentials
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Email == "farmer@example.com" {
			write(w, http.StatusConflict, map[string]string{"message": "User already exists"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "token", Value: "jwt-new", Path: "/", MaxAge: 3600})
		write(w, http.StatusCreated, map[string]any{"user": User{ID: "u-new", Username: in.Username, Email: in.Email}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newAPI(t *testing.T, srv *httptest.Server, jar http.CookieJar) *api.Client {
	t.Helper()
	return api.New(srv.URL+"/api", api.WithHTTPClient(&http.Client{Jar: jar}))
}

func TestLoginProfileLogout(t *testing.T) {
	ctx := context.Background()
	srv := sessionServer(t)
	jar, err := OpenJar(filepath.Join(t.TempDir(), "cookies.json"))
	require.NoError(t, err)
	c := NewUser(newAPI(t, srv, jar))

	_, err = c.Profile(ctx)
	require.True(t, api.IsStatus(err, http.StatusUnauthorized))

	u, err := c.Login(ctx, " farmer@example.com ", "pa55")
	require.NoError(t, err)
	require.Equal(t, "farmer@example.com", u.Email)

	u, err = c.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, "u-user", u.ID)

	require.NoError(t, c.Logout(ctx))
	_, err = c.Profile(ctx)
	require.True(t, api.IsStatus(err, http.StatusUnauthorized))
}

func TestLogin_Errors(t *testing.T) {
	srv := sessionServer(t)
	jar, err := OpenJar(filepath.Join(t.TempDir(), "cookies.json"))
	require.NoError(t, err)
	c := NewUser(newAPI(t, srv, jar))

	_, err = c.Login(context.Background(), "farmer@example.com", "wrong")
	require.ErrorContains(t, err, "Invalid email or password")

	_, err = c.Login(context.Background(), "", "x")
	require.ErrorContains(t, err, "email and password are required")
}

func TestAdminSessionIsSeparate(t *testing.T) {
	ctx := context.Background()
	srv := sessionServer(t)
	jar, err := OpenJar(filepath.Join(t.TempDir(), "cookies.json"))
	require.NoError(t, err)
	a := newAPI(t, srv, jar)
	admin, user := NewAdmin(a), NewUser(a)

	u, err := admin.Login(ctx, "admin@example.com", "pa55")
	require.NoError(t, err)
	require.Equal(t, "admin", u.Role)

	_, err = user.Profile(ctx)
	require.True(t, api.IsStatus(err, http.StatusUnauthorized))
	u, err = admin.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, "admin@example.com", u.Email)

	_, err = admin.Register(ctx, "x", "y", "z")
	require.ErrorContains(t, err, "admins cannot register")
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	srv := sessionServer(t)
	jar, err := OpenJar(filepath.Join(t.TempDir(), "cookies.json"))
	require.NoError(t, err)
	c := NewUser(newAPI(t, srv, jar))

	u, err := c.Register(ctx, "ravi", "ravi@example.com", "pa55")
	require.NoError(t, err)
	require.Equal(t, "ravi", u.Username)

	_, err = c.Register(ctx, "dup", "farmer@example.com", "pa55")
	require.True(t, api.IsStatus(err, http.StatusConflict))

	_, err = c.Register(ctx, "", "a@b.c", "p")
	require.ErrorContains(t, err, "all fields are required")
}

func TestJar_PersistsSession(t *testing.T) {
	ctx := context.Background()
	srv := sessionServer(t)
	path := filepath.Join(t.TempDir(), "kya", "cookies.json")

	jar, err := OpenJar(path)
	require.NoError(t, err)
	_, err = NewUser(newAPI(t, srv, jar)).Login(ctx, "farmer@example.com", "pa55")
	require.NoError(t, err)
	require.NoError(t, jar.Save())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// a later run picks the session up from disk
	jar, err = OpenJar(path)
	require.NoError(t, err)
	c := NewUser(newAPI(t, srv, jar))
	u, err := c.Profile(ctx)
	require.NoError(t, err)
	require.Equal(t, "farmer@example.com", u.Email)

	require.NoError(t, c.Logout(ctx))
	require.NoError(t, jar.Save())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(raw))
}

func TestJar_DropsExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	require.NoError(t, os.WriteFile(path, []byte(`{"http://127.0.0.1:3000":[
		{"name":"token","value":"old","path":"/","expires":"`+past+`"},
		{"name":"adminToken","value":"live","path":"/","expires":"`+future+`"}
	]}`), 0o600))

	jar, err := OpenJar(path)
	require.NoError(t, err)
	u, _ := http.NewRequest(http.MethodGet, "http://127.0.0.1:3000/api/auth/profile", nil)
	cookies := jar.Cookies(u.URL)
	require.Len(t, cookies, 1)
	require.Equal(t, "adminToken", cookies[0].Name)
}

func TestJar_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := OpenJar(path)
	require.ErrorContains(t, err, "parsing cookies")
}
