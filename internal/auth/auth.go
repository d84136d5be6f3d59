// Package auth signs users and admins in to the Know Your Animal backend.
// The backend keeps the session in an HTTP-only cookie, so the api.Client
// given to New must use a cookie jar (see OpenJar).
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/knowyouranimal/kya/internal/api"
)

// User is the profile returned by the backend.
type User struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role,omitempty"`
}

type userEnvelope struct {
	Message string `json:"message"`
	User    User   `json:"user"`
}

type credentials struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Client talks to one of the two session route groups: /auth for users and
// /admin for administrators.
type Client struct {
	api   *api.Client
	admin bool
}

func NewUser(c *api.Client) *Client {
	return &Client{api: c}
}

func NewAdmin(c *api.Client) *Client {
	return &Client{api: c, admin: true}
}

func (c *Client) prefix() string {
	if c.admin {
		return "/admin"
	}
	return "/auth"
}

// Register creates a user account and signs it in.
func (c *Client) Register(ctx context.Context, username, email, password string) (User, error) {
	if c.admin {
		return User{}, errors.New("auth: admins cannot register")
	}
	in := credentials{Username: strings.TrimSpace(username), Email: strings.TrimSpace(email), Password: password}
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return User{}, errors.New("auth: all fields are required")
	}
	var env userEnvelope
	if err := c.api.Do(ctx, http.MethodPost, "/auth/register", in, &env); err != nil {
		return User{}, err
	}
	return env.User, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	in := credentials{Email: strings.TrimSpace(email), Password: password}
	if in.Email == "" || in.Password == "" {
		return User{}, errors.New("auth: email and password are required")
	}
	var env userEnvelope
	if err := c.api.Do(ctx, http.MethodPost, c.prefix()+"/login", in, &env); err != nil {
		return User{}, err
	}
	return env.User, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.api.Do(ctx, http.MethodPost, c.prefix()+"/logout", nil, nil)
}

// Profile returns the signed-in user. It fails with a 401 *api.Error when
// there is no session.
func (c *Client) Profile(ctx context.Context) (User, error) {
	var env userEnvelope
	if err := c.api.Do(ctx, http.MethodGet, c.prefix()+"/profile", nil, &env); err != nil {
		return User{}, err
	}
	return env.User, nil
}
