package app

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/resq-tech/cpr_assist/internal/config"
)

// RunConsole subscribes to the feedback and reminder topics and prints
// guidance lines to the terminal. Handy when bringing up a sensor
// without the web monitor.
func RunConsole(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(cfg.MQTT.ClientID + "-console").
		SetAutoReconnect(true)
	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	defer client.Disconnect(250)
	logger.Info("console: connected to MQTT broker", zap.String("broker", cfg.MQTT.Broker))

	feedbackToken := client.Subscribe(cfg.Topics.Feedback, cfg.MQTT.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		var fb feedbackMessage
		if err := json.Unmarshal(msg.Payload(), &fb); err != nil {
			logger.Warn("console: feedback unmarshal error", zap.Error(err))
			return
		}

		link := "LINK"
		if !fb.Connected {
			link = "----"
		}
		fmt.Printf(
			"[CADENCE] %6.1f cpm  %-16s  pushes=%3d  next-breath=%2d  dropped=%d  %s\n",
			fb.RateBPM, fb.Instruction, fb.PushCount, fb.PushesUntilReminder,
			fb.DiscardedSamples, link,
		)
	})
	feedbackToken.Wait()
	if feedbackToken.Error() != nil {
		return feedbackToken.Error()
	}
	logger.Info("console: subscribed", zap.String("topic", cfg.Topics.Feedback))

	reminderToken := client.Subscribe(cfg.Topics.Reminder, cfg.MQTT.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		fmt.Println("[BREATH]  mouth-to-mouth due")
	})
	reminderToken.Wait()
	if reminderToken.Error() != nil {
		return reminderToken.Error()
	}
	logger.Info("console: subscribed", zap.String("topic", cfg.Topics.Reminder))

	<-ctx.Done()
	return nil
}
