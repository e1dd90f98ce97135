package domain

import "time"

// Device represents one physical display paired to exactly one owning account.
type Device struct {
	ID                string
	OwnerID           string
	Name              string
	TopicPrefix       string
	PrincipalUsername string
	// PrincipalSecret is kept verbatim so the principal can be recreated with
	// the same secret after a broker restart. It is never regenerated.
	PrincipalSecret string
	CreatedAt       time.Time
}

// NewDevice creates a new device record.
func NewDevice(id, ownerID, name string, creds Credentials) *Device {
	return &Device{
		ID:                id,
		OwnerID:           ownerID,
		Name:              name,
		TopicPrefix:       creds.TopicPrefix,
		PrincipalUsername: creds.Username,
		PrincipalSecret:   creds.Secret,
		CreatedAt:         time.Now().UTC(),
	}
}

// Credentials returns the broker credentials bound to the device.
func (d *Device) Credentials() Credentials {
	return Credentials{
		Username:    d.PrincipalUsername,
		Secret:      d.PrincipalSecret,
		TopicPrefix: d.TopicPrefix,
	}
}

// Credentials are the broker-side credentials handed to a device owner.
type Credentials struct {
	Username    string `json:"username"`
	Secret      string `json:"password"`
	TopicPrefix string `json:"topicPrefix"`
	BrokerURL   string `json:"broker,omitempty"`
}
