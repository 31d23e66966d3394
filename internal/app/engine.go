// Package app contains the Run entrypoints for the cpr_assist binaries,
// wiring MQTT transport and hardware to the cadence engine.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/resq-tech/cpr_assist/internal/accel"
	"github.com/resq-tech/cpr_assist/internal/cadence"
	"github.com/resq-tech/cpr_assist/internal/config"
)

// feedbackMessage is the retained JSON document on the feedback topic:
// the session snapshot plus the sensor-link connectivity flag, which is
// owned by the transport layer rather than the session.
type feedbackMessage struct {
	cadence.Snapshot
	Connected bool `json:"connected"`
}

// tickMessage is published on the metronome topic for remote sounders.
type tickMessage struct {
	SessionID string `json:"session_id"`
	TimeMS    int64  `json:"ts_ms"`
}

// reminderMessage is published when a mouth-to-mouth break is due.
type reminderMessage struct {
	SessionID string `json:"session_id"`
	TimeMS    int64  `json:"ts_ms"`
}

// RunEngine runs the cadence engine service: it subscribes to the sample
// topic, feeds every sample through the session pipeline, and publishes
// feedback, reminder and metronome messages.
func RunEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var connected atomic.Bool

	// The MQTT client is assigned before the session starts publishing;
	// callbacks only fire after Connect.
	var client mqtt.Client

	publish := func(topic string, payload any) {
		if client == nil || !client.IsConnected() {
			return
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			logger.Error("engine: marshal error", zap.String("topic", topic), zap.Error(err))
			return
		}
		retained := topic == cfg.Topics.Feedback
		if token := client.Publish(topic, cfg.MQTT.QoS, retained, raw); token.Wait() && token.Error() != nil {
			logger.Warn("engine: publish error", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}

	var session *cadence.Session
	session = cadence.NewSession(engineParams(cfg.Engine), nil, cadence.Sinks{
		OnTick: func() {
			publish(cfg.Topics.Metronome, tickMessage{
				SessionID: session.ID(),
				TimeMS:    time.Now().UnixMilli(),
			})
		},
		OnMouthToMouthDue: func() {
			logger.Info("engine: mouth-to-mouth reminder due")
			publish(cfg.Topics.Reminder, reminderMessage{
				SessionID: session.ID(),
				TimeMS:    time.Now().UnixMilli(),
			})
		},
		OnPush: func(t time.Time, hz float64) {
			logger.Debug("engine: push accepted",
				zap.Time("at", t),
				zap.Float64("frequency_hz", hz),
			)
		},
		OnFeedback: func(snap cadence.Snapshot) {
			publish(cfg.Topics.Feedback, feedbackMessage{
				Snapshot:  snap,
				Connected: connected.Load(),
			})
		},
	})

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(cfg.MQTT.ClientID + "-engine").
		SetAutoReconnect(true).
		SetCleanSession(true)
	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		connected.Store(true)
		logger.Info("engine: connected to MQTT broker", zap.String("broker", cfg.MQTT.Broker))

		// (Re)subscribe on every connect so a broker restart does not
		// silently drop the sample stream.
		token := c.Subscribe(cfg.Topics.Samples, cfg.MQTT.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			var sample accel.Sample
			if err := json.Unmarshal(msg.Payload(), &sample); err != nil {
				logger.Warn("engine: sample unmarshal error", zap.Error(err))
				return
			}
			if err := session.IngestSample(sample); err != nil {
				logger.Warn("engine: sample rejected", zap.Error(err))
			}
		})
		token.Wait()
		if token.Error() != nil {
			logger.Error("engine: subscribe error", zap.Error(token.Error()))
			return
		}
		logger.Info("engine: subscribed to sample topic", zap.String("topic", cfg.Topics.Samples))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		connected.Store(false)
		logger.Warn("engine: MQTT connection lost", zap.Error(err))
	})

	client = mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	defer client.Disconnect(250)

	if err := session.Start(); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	logger.Info("engine: session started", zap.String("session_id", session.ID()))

	// Refresh the retained feedback periodically so monitors see a live
	// document even between compressions.
	refresh := time.NewTicker(time.Second)
	defer refresh.Stop()

	for {
		select {
		case <-refresh.C:
			publish(cfg.Topics.Feedback, feedbackMessage{
				Snapshot:  session.Snapshot(),
				Connected: connected.Load(),
			})
		case <-ctx.Done():
			session.Stop()
			logger.Info("engine: session stopped",
				zap.String("session_id", session.ID()),
				zap.Uint64("discarded_samples", session.DiscardedSamples()),
			)
			return nil
		}
	}
}

// engineParams maps the config section onto the engine parameters.
func engineParams(e config.EngineConfig) cadence.Params {
	return cadence.Params{
		FilterErrorMeasure: e.FilterErrorMeasure,
		FilterProcessNoise: e.FilterProcessNoise,
		AccelThreshold:     e.AccelThreshold,
		SmoothingAlpha:     e.SmoothingAlpha,
		Debounce:           time.Duration(e.DebounceMS) * time.Millisecond,
		ReminderInterval:   e.ReminderInterval,
		MetronomePeriod:    time.Duration(e.MetronomePeriodMS) * time.Millisecond,
	}
}
