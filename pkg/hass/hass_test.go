package hass

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbridge/cwbridge/pkg/entity"
	"github.com/cwbridge/cwbridge/pkg/types"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

type message struct {
	retained bool
	payload  []byte
}

// stalledToken never completes.
type stalledToken struct{}

func (stalledToken) Wait() bool                     { return false }
func (stalledToken) WaitTimeout(time.Duration) bool { return false }
func (stalledToken) Error() error                   { return nil }
func (stalledToken) Done() <-chan struct{}          { return make(chan struct{}) }

type fakeClient struct {
	mqtt.Client

	mu       sync.Mutex
	messages map[string]message
	err      error
	closed   bool
	stalled  bool
	attempts int
}

func newFakeClient() *fakeClient {
	return &fakeClient{messages: map[string]message{}}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.stalled {
		return stalledToken{}
	}
	if c.err != nil {
		return doneToken{err: c.err}
	}
	var bs []byte
	switch p := payload.(type) {
	case string:
		bs = []byte(p)
	case []byte:
		bs = p
	}
	c.messages[topic] = message{retained: retained, payload: bs}
	return doneToken{}
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeClient) get(t *testing.T, topic string) message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.messages[topic]
	require.True(t, ok, topic)
	return m
}

func testResponse() types.Response {
	annual := 1000.0
	return types.Response{
		ID:             "4711",
		DisplayName:    "Villa",
		DailyRevenue:   &types.DailyRevenue{Today: 12.5, Tomorrow: 3},
		MonthlyRevenue: &types.MonthlyRevenue{Net: 100, Estimate: 300, DailyAverage: 10},
		AnnualRevenue:  &annual,
		Power:          &types.PowerMetrics{BatterySOC: 55},
		Meter: &types.MeterMetrics{
			FCRDStatus: types.FCRDActivated,
		},
	}
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher()
	payload := types.SignalPayload{Signal: types.SignalFCRD}

	t.Run("no handlers", func(t *testing.T) {
		assert.NoError(t, d.Send(ctx, "nobody", payload))
	})

	t.Run("delivers and disconnects", func(t *testing.T) {
		var got []types.SignalPayload
		disconnect := d.Connect("sig", func(_ context.Context, p types.SignalPayload) error {
			got = append(got, p)
			return nil
		})
		require.NoError(t, d.Send(ctx, "sig", payload))
		require.NoError(t, d.Send(ctx, "other", payload))
		assert.Len(t, got, 1)

		disconnect()
		require.NoError(t, d.Send(ctx, "sig", payload))
		assert.Len(t, got, 1)
	})

	t.Run("joins errors", func(t *testing.T) {
		errA := errors.New("a")
		errB := errors.New("b")
		da := d.Connect("err", func(context.Context, types.SignalPayload) error { return errA })
		db := d.Connect("err", func(context.Context, types.SignalPayload) error { return errB })
		defer da()
		defer db()

		err := d.Send(ctx, "err", payload)
		assert.ErrorIs(t, err, errA)
		assert.ErrorIs(t, err, errB)
	})
}

func TestPublisherAnnounce(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	p := NewPublisher(client, "homeassistant", "cwbridge")
	resp := testResponse()
	sensors, ev := entity.Build(resp, types.Options{})

	require.NoError(t, p.Announce(ctx, "entry1", sensors, ev))

	m := client.get(t, "homeassistant/sensor/checkwattUid_4711/config")
	assert.True(t, m.retained)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal(m.payload, &cfg))
	assert.Equal(t, "checkwattUid_4711", cfg["unique_id"])
	assert.Equal(t, "cwbridge/entry1/checkwattUid_4711/state", cfg["state_topic"])
	assert.Equal(t, "cwbridge/entry1/checkwattUid_4711/attributes", cfg["json_attributes_topic"])
	assert.Equal(t, "cwbridge/entry1/availability", cfg["availability_topic"])
	assert.Equal(t, "monetary", cfg["device_class"])
	assert.Equal(t, "SEK", cfg["unit_of_measurement"])
	device := cfg["device"].(map[string]any)
	assert.Equal(t, "Villa", device["name"])

	m = client.get(t, "homeassistant/sensor/checkwattUid_Annual_4711/config")
	cfg = nil
	require.NoError(t, json.Unmarshal(m.payload, &cfg))
	assert.NotContains(t, cfg, "json_attributes_topic")

	m = client.get(t, "homeassistant/event/checkwattUid_fcr_d_event_4711/config")
	cfg = nil
	require.NoError(t, json.Unmarshal(m.payload, &cfg))
	assert.Equal(t, "cwbridge/entry1/checkwattUid_fcr_d_event_4711/event", cfg["state_topic"])
	assert.Len(t, cfg["event_types"], 3)
}

func TestPublisherState(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	p := NewPublisher(client, "homeassistant", "cwbridge")
	resp := testResponse()
	sensors, ev := entity.Build(resp, types.Options{CM10Sensor: true})

	require.NoError(t, p.PublishState(ctx, "entry1", resp, sensors))
	assert.Equal(t, "12.5", string(client.get(t, "cwbridge/entry1/checkwattUid_4711/state").payload))
	assert.Equal(t, "55", string(client.get(t, "cwbridge/entry1/checkwattUid_battery_soc_4711/state").payload))
	assert.Equal(t, "None", string(client.get(t, "cwbridge/entry1/checkwattUid_cm10_4711/state").payload))

	var attrs map[string]any
	require.NoError(t, json.Unmarshal(client.get(t, "cwbridge/entry1/checkwattUid_Monthly_4711/attributes").payload, &attrs))
	assert.Equal(t, 300.0, attrs[entity.AttrMonthEstimate])

	require.NoError(t, p.PublishAvailability(ctx, "entry1", true))
	assert.Equal(t, "online", string(client.get(t, "cwbridge/entry1/availability").payload))
	require.NoError(t, p.PublishAvailability(ctx, "entry1", false))
	assert.Equal(t, "offline", string(client.get(t, "cwbridge/entry1/availability").payload))

	require.NoError(t, p.FireEvent(ctx, "entry1", ev, entity.EventFCRDActivated))
	m := client.get(t, "cwbridge/entry1/checkwattUid_fcr_d_event_4711/event")
	assert.False(t, m.retained)
	assert.JSONEq(t, `{"event_type":"fcrd_activated"}`, string(m.payload))
}

func TestPublisherErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.err = errors.New("not connected")
	p := NewPublisher(client, "homeassistant", "cwbridge")
	resp := testResponse()
	sensors, ev := entity.Build(resp, types.Options{})

	assert.ErrorContains(t, p.Announce(ctx, "entry1", sensors, ev), "not connected")
	assert.ErrorContains(t, p.PublishState(ctx, "entry1", resp, sensors), "not connected")
	assert.Error(t, p.FireEvent(ctx, "entry1", ev, entity.EventFCRDActivated))
}

func TestPublisherNotConnected(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.closed = true
	p := NewPublisher(client, "homeassistant", "cwbridge")
	resp := testResponse()
	sensors, ev := entity.Build(resp, types.Options{})

	assert.ErrorIs(t, p.Announce(ctx, "entry1", sensors, ev), ErrNotConnected)
	assert.ErrorIs(t, p.PublishState(ctx, "entry1", resp, sensors), ErrNotConnected)
	assert.ErrorIs(t, p.PublishAvailability(ctx, "entry1", true), ErrNotConnected)
	assert.ErrorIs(t, p.FireEvent(ctx, "entry1", ev, entity.EventFCRDActivated), ErrNotConnected)
	assert.Zero(t, client.attempts)
	assert.Empty(t, client.messages)
}

func TestPublisherStalledBroker(t *testing.T) {
	client := newFakeClient()
	client.stalled = true
	p := NewPublisher(client, "homeassistant", "cwbridge")
	resp := testResponse()
	sensors, _ := entity.Build(resp, types.Options{ShowDetails: true})
	require.Greater(t, len(sensors), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := p.PublishState(ctx, "entry1", resp, sensors)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// the whole batch shares one deadline
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, client.attempts)
}

func TestPublisherDisabled(t *testing.T) {
	ctx := context.Background()
	var p *Publisher
	assert.False(t, p.Enabled())

	p = NewPublisher(nil, "homeassistant", "cwbridge")
	assert.False(t, p.Enabled())
	resp := testResponse()
	sensors, ev := entity.Build(resp, types.Options{})
	assert.NoError(t, p.Connect(ctx))
	assert.NoError(t, p.Announce(ctx, "entry1", sensors, ev))
	assert.NoError(t, p.PublishState(ctx, "entry1", resp, sensors))
	assert.NoError(t, p.PublishAvailability(ctx, "entry1", true))
	assert.NoError(t, p.FireEvent(ctx, "entry1", ev, entity.EventFCRDActivated))
	p.Close()
}
