// Package messages defines the AWTRIX payloads published to devices.
//
// Each message kind has its own type carrying only the fields that kind uses.
// All payloads are UTF-8 JSON objects.
package messages

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/jwulff/indieclock-go/internal/domain"
	"github.com/jwulff/indieclock-go/internal/topics"
)

// ErrEmptyText is returned for notifications without text.
var ErrEmptyText = errors.New("notification text is required")

// Payload is implemented by every message variant.
type Payload interface {
	Kind() domain.MessageKind
}

// Encode serializes a payload to JSON.
func Encode(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.Kind(), err)
	}
	return data, nil
}

// Display draws a bitmap as the contributions custom app.
type Display struct {
	Draw []Draw `json:"draw"`
	Wake bool   `json:"wake"`
}

// Draw is one drawing instruction.
type Draw struct {
	Bitmap *BitmapDraw `json:"db,omitempty"`
}

// BitmapDraw places a bitmap at (X, Y). It encodes as [x, y, w, h, [pixels...]].
type BitmapDraw struct {
	X, Y   int
	Bitmap *domain.Bitmap
}

// MarshalJSON implements json.Marshaler.
func (b BitmapDraw) MarshalJSON() ([]byte, error) {
	if b.Bitmap == nil {
		return nil, errors.New("bitmap draw without bitmap")
	}
	return json.Marshal([]any{b.X, b.Y, b.Bitmap.Width, b.Bitmap.Height, b.Bitmap.Pixels})
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *BitmapDraw) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 5 {
		return fmt.Errorf("bitmap draw: expected 5 elements, got %d", len(parts))
	}

	var width, height int
	for i, dst := range []*int{&b.X, &b.Y, &width, &height} {
		if err := json.Unmarshal(parts[i], dst); err != nil {
			return fmt.Errorf("bitmap draw element %d: %w", i, err)
		}
	}

	var pixels []uint32
	if err := json.Unmarshal(parts[4], &pixels); err != nil {
		return fmt.Errorf("bitmap draw pixels: %w", err)
	}
	if len(pixels) != width*height {
		return fmt.Errorf("pixel data size mismatch: expected %d, got %d", width*height, len(pixels))
	}

	b.Bitmap = &domain.Bitmap{Width: width, Height: height, Pixels: pixels}
	return nil
}

// NewDisplay wraps a full-screen bitmap and wakes the display.
func NewDisplay(bitmap *domain.Bitmap) Display {
	return Display{
		Draw: []Draw{{Bitmap: &BitmapDraw{Bitmap: bitmap}}},
		Wake: true,
	}
}

// Kind implements Payload.
func (Display) Kind() domain.MessageKind { return domain.MessageKindDisplay }

// ParseDisplay decodes a display payload and returns its first bitmap.
func ParseDisplay(data []byte) (*domain.Bitmap, error) {
	var d Display
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse display payload: %w", err)
	}
	for _, draw := range d.Draw {
		if draw.Bitmap != nil {
			return draw.Bitmap.Bitmap, nil
		}
	}
	return nil, errors.New("display payload has no bitmap")
}

// Notification is a one-off message shown on currently connected devices.
type Notification struct {
	Text        string `json:"text"`
	Icon        string `json:"icon,omitempty"`
	Color       string `json:"color,omitempty"`
	Duration    int    `json:"duration,omitempty"`
	Effect      string `json:"effect,omitempty"`
	Fade        bool   `json:"fade"`
	Rainbow     bool   `json:"rainbow"`
	Stack       bool   `json:"stack"`
	Wake        bool   `json:"wake"`
	Sound       string `json:"sound,omitempty"`
	Volume      int    `json:"volume,omitempty"`
	RTTTL       string `json:"rtttl,omitempty"`
	Loop        bool   `json:"loop"`
	ScrollSpeed int    `json:"scrollSpeed,omitempty"`
	Autoscale   bool   `json:"autoscale"`
}

// Notification defaults.
const (
	DefaultIcon        = "bell"
	DefaultColor       = "#ffffff"
	DefaultDuration    = 5
	DefaultEffect      = "scroll"
	DefaultScrollSpeed = 50
)

// NewNotification creates a notification with default presentation.
func NewNotification(text string) Notification {
	return Notification{Text: text, Fade: true, Autoscale: true}.WithDefaults()
}

// WithDefaults fills unset presentation fields.
func (n Notification) WithDefaults() Notification {
	if n.Icon == "" {
		n.Icon = DefaultIcon
	}
	if n.Color == "" {
		n.Color = DefaultColor
	}
	if n.Duration <= 0 {
		n.Duration = DefaultDuration
	}
	if n.Effect == "" {
		n.Effect = DefaultEffect
	}
	if n.ScrollSpeed <= 0 {
		n.ScrollSpeed = DefaultScrollSpeed
	}
	return n
}

// Validate checks the notification can be shown.
func (n Notification) Validate() error {
	if n.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// Kind implements Payload.
func (Notification) Kind() domain.MessageKind { return domain.MessageKindNotify }

// SwitchApp asks the device to bring an app to the foreground.
type SwitchApp struct {
	Name string `json:"name"`
}

// Kind implements Payload.
func (SwitchApp) Kind() domain.MessageKind { return domain.MessageKindSwitch }

// SyncRequest asks the device to pull fresh data for an app.
type SyncRequest struct {
	Action    string    `json:"action"`
	App       string    `json:"app"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId"`
}

// NewSyncRequest creates a sync directive for the contributions app.
func NewSyncRequest(now time.Time) SyncRequest {
	return SyncRequest{
		Action:    "sync",
		App:       topics.ContributionsApp,
		Timestamp: now.UTC(),
		RequestID: fmt.Sprintf("sync_%d", now.UnixMilli()),
	}
}

// Kind implements Payload.
func (SyncRequest) Kind() domain.MessageKind { return domain.MessageKindSync }
