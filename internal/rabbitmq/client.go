package rabbitmq

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/jwulff/indieclock-go/internal/metrics"
)

// DefaultVhost is the virtual host devices are provisioned in.
const DefaultVhost = "/"

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// maxErrorBody bounds how much of an error response is kept for diagnostics.
const maxErrorBody = 4096

// Client is an HTTP client for the RabbitMQ management API.
type Client struct {
	BaseURL    string
	Username   string
	Password   string
	Vhost      string
	HTTPClient *http.Client
}

// NewClient creates a new management client for the default vhost.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Username: username,
		Password: password,
		Vhost:    DefaultVhost,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// Endpoint returns the full API URL for an already escaped path.
func (c *Client) Endpoint(path string) string {
	return c.BaseURL + path
}

func (c *Client) userPath(username string) string {
	return "/users/" + url.PathEscape(username)
}

func (c *Client) permissionsPath(kind, username string) string {
	return "/" + kind + "/" + url.PathEscape(c.vhost()) + "/" + url.PathEscape(username)
}

func (c *Client) vhost() string {
	if c.Vhost == "" {
		return DefaultVhost
	}
	return c.Vhost
}

// do sends a request to the management API. route is the templated path used
// for metrics. A non-nil out is filled from the JSON response body.
func (c *Client) do(ctx context.Context, method, route, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Endpoint(path), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.Username, c.Password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		metrics.AdminRequestDuration.WithLabelValues(method, route, "error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	metrics.AdminRequestDuration.WithLabelValues(method, route, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RequestError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// GetUser returns a principal, or ErrPrincipalNotFound.
func (c *Client) GetUser(ctx context.Context, username string) (*User, error) {
	var user User
	err := c.do(ctx, http.MethodGet, "/users/{name}", c.userPath(username), nil, &user)
	if IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrPrincipalNotFound, username)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// PrincipalExists reports whether a principal with the given name exists.
func (c *Client) PrincipalExists(ctx context.Context, username string) (bool, error) {
	_, err := c.GetUser(ctx, username)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// EnsurePrincipal creates the principal unless it already exists. An existing
// principal keeps its secret: secrets are never rotated once minted.
// Check and create are not atomic; concurrent calls for the same username
// may both report Created and the last secret written wins. Callers pass the
// stored secret of a device, so racing calls write the same value.
func (c *Client) EnsurePrincipal(ctx context.Context, username, secret string) (EnsureResult, error) {
	exists, err := c.PrincipalExists(ctx, username)
	if err != nil {
		return 0, err
	}
	if exists {
		return AlreadyExisted, nil
	}

	body := userRequest{Password: secret, Tags: ""}
	if err := c.do(ctx, http.MethodPut, "/users/{name}", c.userPath(username), body, nil); err != nil {
		return 0, err
	}
	return Created, nil
}

// DeletePrincipal removes a principal. Deleting an unknown principal succeeds.
func (c *Client) DeletePrincipal(ctx context.Context, username string) error {
	err := c.do(ctx, http.MethodDelete, "/users/{name}", c.userPath(username), nil, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// ListPrincipals returns every principal known to the broker.
func (c *Client) ListPrincipals(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, "/users", "/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// SetPermissions overwrites the principal's resource permissions in the vhost.
func (c *Client) SetPermissions(ctx context.Context, username string, perms Permissions) error {
	body := Permissions{Configure: perms.Configure, Write: perms.Write, Read: perms.Read}
	return c.do(ctx, http.MethodPut, "/permissions/{vhost}/{name}", c.permissionsPath("permissions", username), body, nil)
}

// GetPermissions returns the principal's resource permissions in the vhost,
// or ErrPrincipalNotFound when none are set.
func (c *Client) GetPermissions(ctx context.Context, username string) (*Permissions, error) {
	var perms Permissions
	err := c.do(ctx, http.MethodGet, "/permissions/{vhost}/{name}", c.permissionsPath("permissions", username), nil, &perms)
	if IsNotFound(err) {
		return nil, fmt.Errorf("%w: no permissions for %s", ErrPrincipalNotFound, username)
	}
	if err != nil {
		return nil, err
	}
	return &perms, nil
}

// SetTopicPermissions overwrites the principal's routing-key permissions on an exchange.
func (c *Client) SetTopicPermissions(ctx context.Context, username string, perms TopicPermissions) error {
	return c.do(ctx, http.MethodPut, "/topic-permissions/{vhost}/{name}", c.permissionsPath("topic-permissions", username), perms, nil)
}

// Nodes returns the cluster nodes.
func (c *Client) Nodes(ctx context.Context) ([]Node, error) {
	var nodes []Node
	if err := c.do(ctx, http.MethodGet, "/nodes", "/nodes", nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// EnabledPlugins returns the sorted union of plugins enabled on any node.
func (c *Client) EnabledPlugins(ctx context.Context) ([]string, error) {
	nodes, err := c.Nodes(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var plugins []string
	for _, node := range nodes {
		for _, p := range node.EnabledPlugins {
			if !seen[p] {
				seen[p] = true
				plugins = append(plugins, p)
			}
		}
	}
	sort.Strings(plugins)
	return plugins, nil
}

// MQTTEnabled reports whether the MQTT plugin is enabled.
func (c *Client) MQTTEnabled(ctx context.Context) (bool, error) {
	plugins, err := c.EnabledPlugins(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range plugins {
		if p == MQTTPlugin {
			return true, nil
		}
	}
	return false, nil
}

// Overview queries cluster-wide information. It doubles as a connectivity check.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	var overview Overview
	if err := c.do(ctx, http.MethodGet, "/overview", "/overview", nil, &overview); err != nil {
		return nil, err
	}
	return &overview, nil
}

// ExportDefinitions returns the broker definitions (users, permissions,
// vhosts, ...). Only the users and permissions sections are interpreted.
func (c *Client) ExportDefinitions(ctx context.Context) (Definitions, error) {
	var defs Definitions
	if err := c.do(ctx, http.MethodGet, "/definitions", "/definitions", nil, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// ImportDefinitions merges defs into the broker definitions.
func (c *Client) ImportDefinitions(ctx context.Context, defs Definitions) error {
	return c.do(ctx, http.MethodPost, "/definitions", "/definitions", defs, nil)
}

// PersistPrincipal adds the principal and its vhost permissions to the broker
// definitions so they survive a broker rebuilt from its definitions file.
// It reports false when the principal was already listed.
func (c *Client) PersistPrincipal(ctx context.Context, username, secret string, perms Permissions) (bool, error) {
	defs, err := c.ExportDefinitions(ctx)
	if err != nil {
		return false, fmt.Errorf("export definitions: %w", err)
	}

	var users []definitionUser
	if err := defs.section("users", &users); err != nil {
		return false, err
	}
	for _, u := range users {
		if u.Name == username {
			return false, nil
		}
	}
	var permissions []Permissions
	if err := defs.section("permissions", &permissions); err != nil {
		return false, err
	}

	users = append(users, definitionUser{Name: username, Password: secret, Tags: ""})
	permissions = append(permissions, Permissions{
		User:      username,
		Vhost:     c.vhost(),
		Configure: perms.Configure,
		Write:     perms.Write,
		Read:      perms.Read,
	})
	if err := defs.set("users", users); err != nil {
		return false, err
	}
	if err := defs.set("permissions", permissions); err != nil {
		return false, err
	}

	if err := c.ImportDefinitions(ctx, defs); err != nil {
		return false, fmt.Errorf("import definitions: %w", err)
	}
	return true, nil
}
