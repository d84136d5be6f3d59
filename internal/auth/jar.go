package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

type storedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"httpOnly,omitempty"`
}

func (s storedCookie) expired(now time.Time) bool {
	return !s.Expires.IsZero() && !s.Expires.After(now)
}

func (s storedCookie) cookie() *http.Cookie {
	return &http.Cookie{
		Name:     s.Name,
		Value:    s.Value,
		Path:     s.Path,
		Domain:   s.Domain,
		Expires:  s.Expires,
		Secure:   s.Secure,
		HttpOnly: s.HttpOnly,
	}
}

// Jar is an http.CookieJar whose cookies survive between runs in a JSON file.
type Jar struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	jar     *cookiejar.Jar
	entries map[string]map[string]storedCookie // origin -> name -> cookie
}

// OpenJar loads the jar saved at path. A missing file gives an empty jar.
func OpenJar(path string) (*Jar, error) {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	j := &Jar{path: path, now: time.Now, jar: inner, entries: make(map[string]map[string]storedCookie)}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return j, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cookies: %w", err)
	}
	var saved map[string][]storedCookie
	if err := json.Unmarshal(raw, &saved); err != nil {
		return nil, fmt.Errorf("parsing cookies %s: %w", path, err)
	}
	for origin, cookies := range saved {
		u, err := url.Parse(origin)
		if err != nil {
			continue
		}
		live := make([]*http.Cookie, 0, len(cookies))
		for _, c := range cookies {
			if !c.expired(j.now()) {
				live = append(live, c.cookie())
			}
		}
		j.SetCookies(u, live)
	}
	return j, nil
}

func origin(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.jar.SetCookies(u, cookies)

	j.mu.Lock()
	defer j.mu.Unlock()
	key := origin(u)
	m := j.entries[key]
	if m == nil {
		m = make(map[string]storedCookie)
		j.entries[key] = m
	}
	now := j.now()
	for _, c := range cookies {
		s := storedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		}
		if c.MaxAge > 0 {
			s.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		if c.MaxAge < 0 || s.expired(now) || c.Value == "" {
			delete(m, c.Name)
			continue
		}
		m[c.Name] = s
	}
	if len(m) == 0 {
		delete(j.entries, key)
	}
}

func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

// Save writes the live cookies to the jar's file with owner-only permissions.
func (j *Jar) Save() error {
	j.mu.Lock()
	out := make(map[string][]storedCookie, len(j.entries))
	now := j.now()
	for key, m := range j.entries {
		for _, c := range m {
			if !c.expired(now) {
				out[key] = append(out[key], c)
			}
		}
		sort.Slice(out[key], func(a, b int) bool { return out[key][a].Name < out[key][b].Name })
	}
	j.mu.Unlock()

	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cookies: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return fmt.Errorf("creating cookie directory: %w", err)
	}
	if err := os.WriteFile(j.path, raw, 0o600); err != nil {
		return fmt.Errorf("writing cookies: %w", err)
	}
	return nil
}
