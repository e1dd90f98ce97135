// Package rabbitmq is a client for the RabbitMQ management HTTP API.
//
// Only the operations needed to provision per-device MQTT principals are
// implemented: users, permissions, topic permissions, and node plugins.
// The client never retries; callers own the retry policy.
package rabbitmq

import (
	"fmt"

	"github.com/goccy/go-json"
)

// MQTTPlugin is the plugin that exposes the broker over MQTT.
const MQTTPlugin = "rabbitmq_mqtt"

// EnsureResult reports what EnsurePrincipal did.
type EnsureResult int

const (
	Created EnsureResult = iota + 1
	AlreadyExisted
)

func (r EnsureResult) String() string {
	switch r {
	case Created:
		return "created"
	case AlreadyExisted:
		return "already-existed"
	default:
		return "unknown"
	}
}

// User is a broker principal as listed by the management API.
type User struct {
	Name string `json:"name"`
	Tags any    `json:"tags"`
}

// userRequest is the body of PUT /users/{name}.
type userRequest struct {
	Password string `json:"password"`
	Tags     string `json:"tags"`
}

// Permissions are the resource permission regexes of a principal in a vhost.
type Permissions struct {
	User      string `json:"user,omitempty"`
	Vhost     string `json:"vhost,omitempty"`
	Configure string `json:"configure"`
	Write     string `json:"write"`
	Read      string `json:"read"`
}

// TopicPermissions restrict routing keys on one exchange.
type TopicPermissions struct {
	Exchange string `json:"exchange"`
	Write    string `json:"write"`
	Read     string `json:"read"`
}

// Node is the subset of GET /nodes the client reads.
type Node struct {
	Name           string   `json:"name"`
	Running        bool     `json:"running"`
	EnabledPlugins []string `json:"enabled_plugins"`
}

// Overview is the subset of GET /overview the client reads.
type Overview struct {
	ClusterName       string `json:"cluster_name"`
	RabbitMQVersion   string `json:"rabbitmq_version"`
	ManagementVersion string `json:"management_version"`
}

// Definitions is a broker definitions document. Sections the client does not
// interpret are passed through untouched.
type Definitions map[string]json.RawMessage

// definitionUser is one entry of the users section. Exports carry
// password_hash; imports accept a plain password for new users.
type definitionUser struct {
	Name             string `json:"name"`
	Password         string `json:"password,omitempty"`
	PasswordHash     string `json:"password_hash,omitempty"`
	HashingAlgorithm string `json:"hashing_algorithm,omitempty"`
	Tags             any    `json:"tags"`
	Limits           any    `json:"limits,omitempty"`
}

func (d Definitions) section(name string, out any) error {
	raw, ok := d[name]
	if !ok || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode definitions %s: %w", name, err)
	}
	return nil
}

func (d Definitions) set(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode definitions %s: %w", name, err)
	}
	d[name] = raw
	return nil
}
