// Package topics maps a device's topic prefix onto broker permission patterns
// and concrete MQTT topics.
//
// RabbitMQ's MQTT plugin translates topic separators: the wire topic
// "awtrix_u1_ab12/notify" becomes the routing key "awtrix_u1_ab12.notify".
// Permission patterns must therefore use the dot (administration) form while
// publishers use the slash (wire) form.
package topics

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	// AdminSeparator separates prefix segments in administration patterns.
	AdminSeparator = "."
	// WireSeparator separates topic levels on the MQTT wire.
	WireSeparator = "/"

	// BroadcastExchange is the shared topic exchange the MQTT plugin publishes through.
	BroadcastExchange = "amq.topic"
	// SubscriptionQueuePattern matches the plugin's per-client subscription queues.
	SubscriptionQueuePattern = "mqtt-subscription-.*"

	// ContributionsApp is the custom app name shown on the display.
	ContributionsApp = "github-contributions"

	prefixKind = "awtrix"
)

// ErrInvalidPrefix is returned for prefixes that could escape their namespace.
var ErrInvalidPrefix = errors.New("invalid topic prefix")

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)

// Patterns are the resource permission regexes for one principal.
type Patterns struct {
	Configure string
	Write     string
	Read      string
}

// TopicPatterns are routing-key permission regexes on a single exchange.
type TopicPatterns struct {
	Exchange string
	Write    string
	Read     string
}

// Topics are the concrete wire topics a device listens on.
type Topics struct {
	Display   string
	Sync      string
	Notify    string
	SwitchApp string
}

// ValidatePrefix rejects prefixes containing wire separators, MQTT wildcards
// or regex metacharacters.
func ValidatePrefix(prefix string) error {
	if !prefixPattern.MatchString(prefix) {
		return fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	return nil
}

// ToWirePrefix converts an administration-style prefix to its wire form.
func ToWirePrefix(prefix string) string {
	return strings.ReplaceAll(prefix, AdminSeparator, WireSeparator)
}

// ToAdminPrefix converts a wire-style prefix to its administration form.
func ToAdminPrefix(wire string) string {
	return strings.ReplaceAll(wire, WireSeparator, AdminSeparator)
}

// PermissionPatterns returns the resource permissions for a device prefix.
// Configure omits the broadcast exchange: devices never declare or delete it.
func PermissionPatterns(prefix string) Patterns {
	own := ToAdminPrefix(prefix) + ".*"
	shared := strings.Join([]string{own, regexp.QuoteMeta(BroadcastExchange), SubscriptionQueuePattern}, "|")
	return Patterns{
		Configure: own + "|" + SubscriptionQueuePattern,
		Write:     shared,
		Read:      shared,
	}
}

// TopicPermissions returns routing-key permissions confining a device to its
// own subtree of the broadcast exchange.
func TopicPermissions(prefix string) TopicPatterns {
	key := "^" + regexp.QuoteMeta(ToAdminPrefix(prefix)+AdminSeparator) + ".*"
	return TopicPatterns{
		Exchange: BroadcastExchange,
		Write:    key,
		Read:     key,
	}
}

// DeviceTopics returns the wire topics for a device prefix.
func DeviceTopics(prefix string) Topics {
	base := ToWirePrefix(prefix)
	display := base + "/custom/" + ContributionsApp
	return Topics{
		Display:   display,
		Sync:      display + "/sync",
		Notify:    base + "/notify",
		SwitchApp: base + "/switch",
	}
}

// NewTopicPrefix generates an opaque prefix for a new device of the given owner.
func NewTopicPrefix(ownerID string) (string, error) {
	suffix, err := randomHex(6)
	if err != nil {
		return "", err
	}
	prefix := fmt.Sprintf("%s_%s_%s", prefixKind, ownerID, suffix)
	if err := ValidatePrefix(prefix); err != nil {
		return "", err
	}
	return prefix, nil
}

// IsDevicePrefix reports whether name looks like a generated device prefix.
func IsDevicePrefix(name string) bool {
	return strings.HasPrefix(name, prefixKind+"_")
}

// NewSecret generates a high-entropy principal secret.
func NewSecret() (string, error) {
	return randomHex(16)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
