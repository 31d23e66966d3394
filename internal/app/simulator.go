package app

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/resq-tech/cpr_assist/internal/accel"
	"github.com/resq-tech/cpr_assist/internal/config"
)

// compressionSim generates a synthetic chest-compression waveform: a
// sinusoid on the z axis riding on gravity, plus a little deterministic
// noise on all axes. Deliberately simple; it only has to exercise the
// detector, not model a chest.
type compressionSim struct {
	rateHz    float64 // compressions per second
	amplitude float64 // m/s² peak above gravity
	noise     float64 // m/s² noise amplitude
	phase     float64
	sampleHz  float64
}

func newCompressionSim(cfg config.SimulatorConfig, sampleRateHz int) *compressionSim {
	return &compressionSim{
		rateHz:    cfg.RateBPM / 60.0,
		amplitude: cfg.Amplitude,
		noise:     cfg.Noise,
		sampleHz:  float64(sampleRateHz),
	}
}

// next advances one sample period and returns the reading. The z axis
// points down through the chest, so the push half of the cycle drives z
// above gravity and the release half below it.
func (s *compressionSim) next(now time.Time) accel.Sample {
	s.phase += s.rateHz / s.sampleHz
	if s.phase >= 1.0 {
		s.phase -= 1.0
	}

	wave := s.amplitude * math.Sin(2*math.Pi*s.phase)
	return accel.Sample{
		X:           s.noise * cheapNoise(s.phase*3.1),
		Y:           s.noise * cheapNoise(s.phase*5.7),
		Z:           accel.Gravity + wave + s.noise*cheapNoise(s.phase*9.3),
		TimestampMS: now.UnixMilli(),
	}
}

// cheapNoise is a deterministic pseudo-noise in [-1, 1).
func cheapNoise(x float64) float64 {
	v := math.Sin(x*12345.678) * 9876.543
	return 2*(v-math.Floor(v)) - 1
}

// RunSimulator publishes a synthetic compression stream to the sample
// topic at the configured sample rate, for bench runs without hardware.
func RunSimulator(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(cfg.MQTT.ClientID + "-simulator").
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
	logger.Info("simulator: connected to MQTT broker",
		zap.String("broker", cfg.MQTT.Broker),
		zap.Float64("rate_bpm", cfg.Simulator.RateBPM),
	)

	sim := newCompressionSim(cfg.Simulator, cfg.Engine.SampleRateHz)
	period := time.Second / time.Duration(cfg.Engine.SampleRateHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case t := <-ticker.C:
			sample := sim.next(t)
			payload, err := json.Marshal(sample)
			if err != nil {
				logger.Error("simulator: marshal error", zap.Error(err))
				continue
			}
			if token := client.Publish(cfg.Topics.Samples, cfg.MQTT.QoS, false, payload); token.Wait() && token.Error() != nil {
				logger.Warn("simulator: publish error", zap.Error(token.Error()))
			}
		case <-ctx.Done():
			logger.Info("simulator: stopped")
			return nil
		}
	}
}
