package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/knowyouranimal/kya/internal/api"
	"github.com/stretchr/testify/require"
)

// backend is an in-memory stand-in for the catalog routes.
type backend struct {
	mu      sync.Mutex
	animals map[string]Animal
	nextID  int
	admin   bool
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	notFound := map[string]string{"message": "Animal not found"}

	mux.HandleFunc("GET /api/animals", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := []Animal{}
		for _, a := range b.animals {
			list = append(list, Animal{ID: a.ID, Slug: a.Slug, Name: a.Name, NameHi: a.NameHi, Image: a.Image, Description: a.Description})
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
		reply(w, http.StatusOK, map[string]any{"animals": list})
	})
	mux.HandleFunc("GET /api/animals/{slug}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		a, ok := b.animals[r.PathValue("slug")]
		if !ok {
			reply(w, http.StatusNotFound, notFound)
			return
		}
		reply(w, http.StatusOK, map[string]any{"animal": a})
	})
	mux.HandleFunc("POST /api/animals", b.adminOnly(func(w http.ResponseWriter, r *http.Request) {
		var a Animal
		_ = json.NewDecoder(r.Body).Decode(&a)
		if _, ok := b.animals[a.Slug]; ok {
			reply(w, http.StatusConflict, map[string]string{"message": "Animal with this slug already exists"})
			return
		}
		a.ID = b.id()
		b.animals[a.Slug] = a
		reply(w, http.StatusCreated, map[string]any{"message": "Animal created successfully", "animal": a})
	}))
	mux.HandleFunc("PUT /api/animals/{slug}", b.adminOnly(func(w http.ResponseWriter, r *http.Request) {
		a, ok := b.animals[r.PathValue("slug")]
		if !ok {
			reply(w, http.StatusNotFound, notFound)
			return
		}
		var u AnimalUpdate
		_ = json.NewDecoder(r.Body).Decode(&u)
		if u.Name != nil {
			a.Name = *u.Name
		}
		if u.NameHi != nil {
			a.NameHi = *u.NameHi
		}
		if u.Description != nil {
			a.Description = *u.Description
		}
		b.animals[a.Slug] = a
		reply(w, http.StatusOK, map[string]any{"animal": a})
	}))
	mux.HandleFunc("DELETE /api/animals/{slug}", b.adminOnly(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := b.animals[r.PathValue("slug")]; !ok {
			reply(w, http.StatusNotFound, notFound)
			return
		}
		delete(b.animals, r.PathValue("slug"))
		reply(w, http.StatusOK, map[string]string{"message": "Animal deleted successfully"})
	}))
	mux.HandleFunc("POST /api/animals/{slug}/diseases", b.adminOnly(func(w http.ResponseWriter, r *http.Request) {
		a, ok := b.animals[r.PathValue("slug")]
		if !ok {
			reply(w, http.StatusNotFound, notFound)
			return
		}
		var d Disease
		_ = json.NewDecoder(r.Body).Decode(&d)
		d.ID = b.id()
		a.Diseases = append(a.Diseases, d)
		b.animals[a.Slug] = a
		reply(w, http.StatusCreated, map[string]any{"animal": a})
	}))
	mux.HandleFunc("DELETE /api/animals/{slug}/diseases/{id}", b.adminOnly(func(w http.ResponseWriter, r *http.Request) {
		a, ok := b.animals[r.PathValue("slug")]
		if !ok {
			reply(w, http.StatusNotFound, notFound)
			return
		}
		for i, d := range a.Diseases {
			if d.ID == r.PathValue("id") {
				a.Diseases = append(a.Diseases[:i], a.Diseases[i+1:]...)
				b.animals[a.Slug] = a
				reply(w, http.StatusOK, map[string]any{"animal": a})
				return
			}
		}
		reply(w, http.StatusNotFound, map[string]string{"message": "Disease not found"})
	}))
	return mux
}

func (b *backend) adminOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if !b.admin {
			reply(w, http.StatusUnauthorized, map[string]string{"message": "Not authorized"})
			return
		}
		h(w, r)
	}
}

func (b *backend) id() string {
	b.nextID++
	return strconv.Itoa(b.nextID)
}

func newCatalog(t *testing.T, admin bool) (*Client, *backend) {
	t.Helper()
	b := &backend{animals: map[string]Animal{
		"cow": {ID: "c1", Slug: "cow", Name: "Cow", NameHi: "गाय", Diseases: []Disease{
			{ID: "d1", Name: "Foot-and-mouth disease", NameHi: "खुरपका-मुंहपका", Symptoms: []string{"fever", "blisters"}},
		}},
		"goat": {ID: "g1", Slug: "goat", Name: "Goat", NameHi: "बकरी"},
	}, admin: admin, nextID: 100}
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)
	return New(api.New(srv.URL + "/api")), b
}

func TestList(t *testing.T) {
	c, _ := newCatalog(t, false)
	animals, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, animals, 2)
	require.Equal(t, "Cow", animals[0].Name)
	require.Equal(t, "बकरी", animals[1].DisplayName("hi"))
	require.Empty(t, animals[0].Diseases)
}

func TestGet(t *testing.T) {
	c, _ := newCatalog(t, false)
	cow, err := c.Get(context.Background(), "cow")
	require.NoError(t, err)
	require.Equal(t, "गाय", cow.DisplayName("hi"))
	require.Equal(t, "Cow", cow.DisplayName("en"))
	require.Len(t, cow.Diseases, 1)
	require.Equal(t, "खुरपका-मुंहपका", cow.Diseases[0].DisplayName("hi"))
	require.Equal(t, []string{"fever", "blisters"}, cow.Diseases[0].Symptoms)

	_, err = c.Get(context.Background(), "yak")
	require.True(t, api.IsStatus(err, http.StatusNotFound))
	require.ErrorContains(t, err, "Animal not found")

	_, err = c.Get(context.Background(), " ")
	require.ErrorContains(t, err, "slug is required")
}

func TestDisplayNameFallsBack(t *testing.T) {
	require.Equal(t, "Rabbit", Animal{Name: "Rabbit"}.DisplayName("hi"))
	require.Equal(t, "Mastitis", Disease{Name: "Mastitis"}.DisplayName("hi"))
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	c, _ := newCatalog(t, true)

	a, err := c.Create(ctx, Animal{Slug: " Rabbit ", Name: "Rabbit", NameHi: "खरगोश"})
	require.NoError(t, err)
	require.Equal(t, "rabbit", a.Slug)
	require.NotEmpty(t, a.ID)

	_, err = c.Create(ctx, Animal{Slug: "cow", Name: "Cow"})
	require.True(t, api.IsStatus(err, http.StatusConflict))

	_, err = c.Create(ctx, Animal{Slug: "x"})
	require.ErrorContains(t, err, "slug and name are required")
}

func TestEdits_RequireAdmin(t *testing.T) {
	c, _ := newCatalog(t, false)
	_, err := c.Create(context.Background(), Animal{Slug: "duck", Name: "Duck"})
	require.True(t, api.IsStatus(err, http.StatusUnauthorized))
	require.True(t, api.IsStatus(c.Delete(context.Background(), "cow"), http.StatusUnauthorized))
}

func TestUpdate(t *testing.T) {
	c, _ := newCatalog(t, true)
	desc := "Dairy animal"
	a, err := c.Update(context.Background(), "goat", AnimalUpdate{Description: &desc})
	require.NoError(t, err)
	require.Equal(t, "Dairy animal", a.Description)
	require.Equal(t, "Goat", a.Name, "unset fields are kept")

	_, err = c.Update(context.Background(), "yak", AnimalUpdate{Description: &desc})
	require.True(t, api.IsStatus(err, http.StatusNotFound))
}

func TestDelete(t *testing.T) {
	c, _ := newCatalog(t, true)
	require.NoError(t, c.Delete(context.Background(), "goat"))
	_, err := c.Get(context.Background(), "goat")
	require.True(t, api.IsStatus(err, http.StatusNotFound))
	require.True(t, api.IsStatus(c.Delete(context.Background(), "goat"), http.StatusNotFound))
}

func TestDiseases(t *testing.T) {
	ctx := context.Background()
	c, _ := newCatalog(t, true)

	a, err := c.AddDisease(ctx, "cow", Disease{ID: "ignored", Name: " Mastitis ", Symptoms: []string{"swollen udder"}})
	require.NoError(t, err)
	require.Len(t, a.Diseases, 2)
	added := a.Diseases[1]
	require.Equal(t, "Mastitis", added.Name)
	require.NotEqual(t, "ignored", added.ID)

	_, err = c.AddDisease(ctx, "cow", Disease{})
	require.ErrorContains(t, err, "disease name is required")

	a, err = c.DeleteDisease(ctx, "cow", added.ID)
	require.NoError(t, err)
	require.Len(t, a.Diseases, 1)

	_, err = c.DeleteDisease(ctx, "cow", "nope")
	require.ErrorContains(t, err, "Disease not found")
}
