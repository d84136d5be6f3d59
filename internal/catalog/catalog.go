// Package catalog reads and edits the animal and disease catalog served by
// the Know Your Animal backend. Reads are public; edits need an admin session.
package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/knowyouranimal/kya/internal/api"
)

// Disease is one disease entry of an animal.
type Disease struct {
	ID         string   `json:"_id,omitempty"`
	Name       string   `json:"name"`
	NameHi     string   `json:"nameHi,omitempty"`
	Symptoms   []string `json:"symptoms,omitempty"`
	Causes     string   `json:"causes,omitempty"`
	Treatment  string   `json:"treatment,omitempty"`
	Prevention []string `json:"prevention,omitempty"`
}

// DisplayName returns the Hindi name for lang "hi" when one is set.
func (d Disease) DisplayName(lang string) string {
	return pick(lang, d.Name, d.NameHi)
}

// Animal is a catalog entry. List results carry no diseases.
type Animal struct {
	ID          string    `json:"_id,omitempty"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	NameHi      string    `json:"nameHi,omitempty"`
	Image       string    `json:"image,omitempty"`
	Description string    `json:"description,omitempty"`
	Diseases    []Disease `json:"diseases,omitempty"`
}

func (a Animal) DisplayName(lang string) string {
	return pick(lang, a.Name, a.NameHi)
}

func pick(lang, en, hi string) string {
	if lang == "hi" && hi != "" {
		return hi
	}
	return en
}

// AnimalUpdate changes only the fields that are set.
type AnimalUpdate struct {
	Name        *string    `json:"name,omitempty"`
	NameHi      *string    `json:"nameHi,omitempty"`
	Image       *string    `json:"image,omitempty"`
	Description *string    `json:"description,omitempty"`
	Diseases    *[]Disease `json:"diseases,omitempty"`
}

type animalsEnvelope struct {
	Animals []Animal `json:"animals"`
}

type animalEnvelope struct {
	Message string `json:"message"`
	Animal  Animal `json:"animal"`
}

type Client struct {
	api *api.Client
}

func New(c *api.Client) *Client {
	return &Client{api: c}
}

func animalPath(slug string) string {
	return "/animals/" + url.PathEscape(slug)
}

// List returns every animal, sorted by name by the server.
func (c *Client) List(ctx context.Context) ([]Animal, error) {
	var env animalsEnvelope
	if err := c.api.Do(ctx, http.MethodGet, "/animals", nil, &env); err != nil {
		return nil, err
	}
	if env.Animals == nil {
		env.Animals = []Animal{}
	}
	return env.Animals, nil
}

// Get returns the animal with the given slug, diseases included.
func (c *Client) Get(ctx context.Context, slug string) (Animal, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return Animal{}, errors.New("catalog: slug is required")
	}
	var env animalEnvelope
	if err := c.api.Do(ctx, http.MethodGet, animalPath(slug), nil, &env); err != nil {
		return Animal{}, err
	}
	return env.Animal, nil
}

// Create adds an animal. Slug and name are required; the server lowercases
// the slug.
func (c *Client) Create(ctx context.Context, a Animal) (Animal, error) {
	a.Slug = strings.ToLower(strings.TrimSpace(a.Slug))
	a.Name = strings.TrimSpace(a.Name)
	if a.Slug == "" || a.Name == "" {
		return Animal{}, errors.New("catalog: slug and name are required")
	}
	var env animalEnvelope
	if err := c.api.Do(ctx, http.MethodPost, "/animals", a, &env); err != nil {
		return Animal{}, err
	}
	return env.Animal, nil
}

func (c *Client) Update(ctx context.Context, slug string, u AnimalUpdate) (Animal, error) {
	var env animalEnvelope
	if err := c.api.Do(ctx, http.MethodPut, animalPath(slug), u, &env); err != nil {
		return Animal{}, err
	}
	return env.Animal, nil
}

func (c *Client) Delete(ctx context.Context, slug string) error {
	return c.api.Do(ctx, http.MethodDelete, animalPath(slug), nil, nil)
}

// AddDisease appends a disease and returns the updated animal.
func (c *Client) AddDisease(ctx context.Context, slug string, d Disease) (Animal, error) {
	d.ID = ""
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return Animal{}, errors.New("catalog: disease name is required")
	}
	var env animalEnvelope
	if err := c.api.Do(ctx, http.MethodPost, animalPath(slug)+"/diseases", d, &env); err != nil {
		return Animal{}, err
	}
	return env.Animal, nil
}

func (c *Client) DeleteDisease(ctx context.Context, slug, diseaseID string) (Animal, error) {
	var env animalEnvelope
	path := animalPath(slug) + "/diseases/" + url.PathEscape(diseaseID)
	if err := c.api.Do(ctx, http.MethodDelete, path, nil, &env); err != nil {
		return Animal{}, err
	}
	return env.Animal, nil
}
