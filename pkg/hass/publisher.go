package hass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"

	"github.com/cwbridge/cwbridge/pkg/entity"
	"github.com/cwbridge/cwbridge/pkg/log"
	"github.com/cwbridge/cwbridge/pkg/types"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
	payloadNone    = "None"

	publishTimeout = 10 * time.Second
)

// ErrNotConnected is returned while the broker connection is down. The next
// refresh publishes again.
var ErrNotConnected = errors.New("mqtt broker not connected")

// Publisher exposes entities to Home Assistant through MQTT discovery. A
// Publisher without a client discards everything.
type Publisher struct {
	client          mqtt.Client
	discoveryPrefix string
	topicPrefix     string
}

// Configured sets up the MQTT publisher.
// It uses lflag to register command-line flags for configuration.
func Configured() *Publisher {
	broker := lflag.String("mqtt-broker", "", "MQTT broker URL (e.g. tcp://localhost:1883), empty disables MQTT")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	clientID := lflag.String("mqtt-client-id", "", "MQTT client id, defaults to a random id")
	discoveryPrefix := lflag.String("mqtt-discovery-prefix", "homeassistant", "Home Assistant discovery prefix")
	topicPrefix := lflag.String("mqtt-topic-prefix", "cwbridge", "Prefix for state topics")

	p := &Publisher{}
	lflag.Do(func() {
		p.discoveryPrefix = *discoveryPrefix
		p.topicPrefix = *topicPrefix
		if *broker == "" {
			return
		}

		id := *clientID
		if id == "" {
			id = "cwbridge-" + uuid.NewString()
		}
		opts := mqtt.NewClientOptions()
		opts.AddBroker(*broker)
		opts.SetClientID(id)
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectTimeout(10 * time.Second)
		if *username != "" {
			opts.SetUsername(*username)
		}
		if *password != "" {
			opts.SetPassword(*password)
		}
		p.client = mqtt.NewClient(opts)
	})
	return p
}

// NewPublisher returns a Publisher using an existing client.
func NewPublisher(client mqtt.Client, discoveryPrefix, topicPrefix string) *Publisher {
	return &Publisher{
		client:          client,
		discoveryPrefix: discoveryPrefix,
		topicPrefix:     topicPrefix,
	}
}

// Enabled reports whether a broker is configured.
func (p *Publisher) Enabled() bool {
	return p != nil && p.client != nil
}

// Connect starts connecting to the broker. The client keeps retrying in the
// background if the broker is not reachable yet.
func (p *Publisher) Connect(ctx context.Context) error {
	if !p.Enabled() {
		log.Ctx(ctx).InfoContext(ctx, "mqtt disabled, entities are only available over http")
		return nil
	}
	token := p.client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		log.Ctx(ctx).WarnContext(ctx, "mqtt broker not reachable yet, retrying in background")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to mqtt broker: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "connected to mqtt broker")
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.Enabled() && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

func (p *Publisher) entityTopic(entryID string, e entity.Entity, suffix string) string {
	return fmt.Sprintf("%s/%s/%s/%s", p.topicPrefix, entryID, e.UniqueID(), suffix)
}

func (p *Publisher) availabilityTopic(entryID string) string {
	return fmt.Sprintf("%s/%s/availability", p.topicPrefix, entryID)
}

func (p *Publisher) discoveryTopic(e entity.Entity) string {
	return fmt.Sprintf("%s/%s/%s/config", p.discoveryPrefix, e.Platform(), e.UniqueID())
}

func (p *Publisher) discoveryPayload(entryID string, e entity.Entity) map[string]any {
	desc := e.Description()
	dev := e.Device()
	cfg := map[string]any{
		"name":               desc.Name,
		"unique_id":          e.UniqueID(),
		"availability_topic": p.availabilityTopic(entryID),
		"device": map[string]any{
			"identifiers":  dev.Identifiers,
			"manufacturer": dev.Manufacturer,
			"model":        dev.Model,
			"name":         dev.Name,
		},
	}
	set := func(k, v string) {
		if v != "" {
			cfg[k] = v
		}
	}
	set("icon", desc.Icon)
	set("device_class", desc.DeviceClass)
	set("unit_of_measurement", desc.Unit)
	set("state_class", desc.StateClass)
	return cfg
}

// Announce publishes the retained discovery configs of the entities.
func (p *Publisher) Announce(ctx context.Context, entryID string, sensors []entity.Sensor, ev *entity.FCRDEvent) error {
	if !p.Enabled() {
		return nil
	}
	bctx, cancel, err := p.batch(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	var errs []error
	for _, s := range sensors {
		cfg := p.discoveryPayload(entryID, s)
		cfg["state_topic"] = p.entityTopic(entryID, s, "state")
		if _, ok := s.(entity.HasExtraAttributes); ok {
			cfg["json_attributes_topic"] = p.entityTopic(entryID, s, "attributes")
		}
		if err := p.sendJSON(bctx, p.discoveryTopic(s), cfg, true); err != nil {
			errs = append(errs, err)
		}
	}
	if ev != nil {
		cfg := p.discoveryPayload(entryID, ev)
		cfg["state_topic"] = p.entityTopic(entryID, ev, "event")
		cfg["event_types"] = ev.EventTypes()
		if err := p.sendJSON(bctx, p.discoveryTopic(ev), cfg, true); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to announce entities", slog.Any("error", err))
		return err
	}
	log.Ctx(ctx).DebugContext(ctx, "announced entities", slog.Int("sensors", len(sensors)))
	return nil
}

// PublishState publishes the state and attributes of every sensor.
func (p *Publisher) PublishState(ctx context.Context, entryID string, resp types.Response, sensors []entity.Sensor) error {
	if !p.Enabled() {
		return nil
	}
	bctx, cancel, err := p.batch(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	var errs []error
	for _, s := range sensors {
		payload := payloadNone
		if v, ok := s.NativeValue(resp); ok {
			payload = fmt.Sprint(v)
		}
		if err := p.send(bctx, p.entityTopic(entryID, s, "state"), payload, true); err != nil {
			errs = append(errs, err)
		}
		if a, ok := s.(entity.HasExtraAttributes); ok {
			if err := p.sendJSON(bctx, p.entityTopic(entryID, s, "attributes"), a.ExtraAttributes(resp), true); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to publish state", slog.Any("error", err))
		return err
	}
	return nil
}

// PublishAvailability marks all entities of the entry online or offline.
func (p *Publisher) PublishAvailability(ctx context.Context, entryID string, online bool) error {
	if !p.Enabled() {
		return nil
	}
	bctx, cancel, err := p.batch(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	payload := payloadOffline
	if online {
		payload = payloadOnline
	}
	return p.send(bctx, p.availabilityTopic(entryID), payload, true)
}

// FireEvent publishes a single event of the event entity.
func (p *Publisher) FireEvent(ctx context.Context, entryID string, ev *entity.FCRDEvent, eventType string) error {
	if !p.Enabled() {
		return nil
	}
	bctx, cancel, err := p.batch(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	log.Ctx(ctx).InfoContext(ctx, "firing event", slog.String("event", eventType))
	return p.sendJSON(bctx, p.entityTopic(entryID, ev, "event"), map[string]any{
		"event_type": eventType,
	}, false)
}

// batch bounds a group of publishes by one shared deadline so a stalled
// broker holds up a refresh for at most publishTimeout.
func (p *Publisher) batch(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if !p.client.IsConnectionOpen() {
		return nil, nil, ErrNotConnected
	}
	bctx, cancel := context.WithTimeout(ctx, publishTimeout)
	return bctx, cancel, nil
}

func (p *Publisher) sendJSON(ctx context.Context, topic string, payload any, retain bool) error {
	bs, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.send(ctx, topic, bs, retain)
}

func (p *Publisher) send(ctx context.Context, topic string, payload any, retain bool) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	token := p.client.Publish(topic, 0, retain, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publishing %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}
