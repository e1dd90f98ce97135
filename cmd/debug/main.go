package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/pflag"

	"github.com/jwulff/indieclock-go/internal/config"
	"github.com/jwulff/indieclock-go/internal/domain"
	"github.com/jwulff/indieclock-go/internal/messages"
	"github.com/jwulff/indieclock-go/internal/publisher"
	"github.com/jwulff/indieclock-go/internal/render"
	"github.com/jwulff/indieclock-go/internal/topics"
)

func main() {
	kind := pflag.String("kind", "display", "payload to build: display, notify, switch or sync")
	text := pflag.String("text", "Hello", "notification text")
	app := pflag.String("app", topics.ContributionsApp, "app to switch to")
	publish := pflag.Bool("publish", false, "publish the payload using MQTT_* settings")
	pflag.Usage = func() {
		fmt.Println("Usage: debug [flags] <topic-prefix>")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() < 1 {
		pflag.Usage()
		os.Exit(1)
	}
	prefix := pflag.Arg(0)
	if err := topics.ValidatePrefix(prefix); err != nil {
		config.Exitf("Error: %v", err)
	}
	t := topics.DeviceTopics(prefix)

	var (
		bitmap   *domain.Bitmap
		payload  messages.Payload
		topic    string
		qos      byte = publisher.QoSAtLeastOnce
		retained bool
	)
	switch *kind {
	case "display":
		now := time.Now()
		bitmap = render.RenderContributions(sampleSeries(now), now)
		payload = messages.NewDisplay(bitmap)
		topic, retained = t.Display, true
	case "notify":
		payload = messages.NewNotification(*text).WithDefaults()
		topic = t.Notify
	case "switch":
		payload = messages.SwitchApp{Name: *app}
		topic = t.SwitchApp
	case "sync":
		payload = messages.NewSyncRequest(time.Now())
		topic, qos = t.Sync, publisher.QoSAtMostOnce
	default:
		config.Exitf("Error: unknown kind %q", *kind)
	}

	data, err := messages.Encode(payload)
	if err != nil {
		config.Exitf("Error: %v", err)
	}
	pretty, _ := json.MarshalIndent(payload, "", "  ")

	fmt.Println("Message structure:")
	fmt.Printf("  Kind: %s\n", payload.Kind())
	fmt.Printf("  Topic: %s\n", topic)
	fmt.Printf("  QoS: %d  Retained: %v\n", qos, retained)
	fmt.Printf("  Wire size: %d bytes\n", len(data))
	fmt.Println()
	fmt.Println(string(pretty))

	if bitmap != nil {
		decoded, err := messages.ParseDisplay(data)
		if err != nil {
			config.Exitf("Error: display payload does not decode: %v", err)
		}
		if !decoded.Equal(bitmap) {
			config.Exitf("Error: display payload does not round-trip")
		}
		fmt.Println()
		fmt.Print(render.Preview(decoded))
	}

	if !*publish {
		return
	}

	cfg, err := config.Load()
	if err != nil {
		config.Exitf("Error: %v", err)
	}
	transport := publisher.NewMQTTTransport(publisher.MQTTOptions{
		URL:            cfg.MQTT.URL,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		ClientIDPrefix: cfg.MQTT.ClientIDPrefix + "-debug",
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		PublishTimeout: cfg.MQTT.PublishTimeout,
	})
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.MQTT.ConnectTimeout+cfg.MQTT.PublishTimeout)
	defer cancel()
	go func() { _ = transport.Run(ctx) }()

	fmt.Printf("\nPublishing to %s...\n", cfg.MQTT.URL)
	for !transport.IsConnected() {
		select {
		case <-ctx.Done():
			config.Exitf("Error: could not connect: %v", ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
	if err := transport.Publish(ctx, topic, qos, retained, data); err != nil {
		config.Exitf("Error: %v", err)
	}
	fmt.Println("Published")
}

// sampleSeries produces a deterministic ramp so every tier shows up.
func sampleSeries(today time.Time) domain.ContributionSeries {
	earliest := render.EarliestMonday(today)
	var series domain.ContributionSeries
	for d := earliest; !d.After(today); d = d.AddDate(0, 0, 1) {
		series = append(series, domain.ContributionDay{
			Date:  d.Format(domain.DateLayout),
			Count: (d.YearDay() * 7) % 13,
		})
	}
	return series
}
