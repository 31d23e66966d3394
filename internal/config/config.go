// Package config loads the application configuration from a single yaml
// file, fills in defaults, and applies environment overrides for the
// broker credentials.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for every binary in this repo.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Topics    TopicsConfig    `yaml:"topics"`
	Engine    EngineConfig    `yaml:"engine"`
	Serial    SerialConfig    `yaml:"serial"`
	Web       WebConfig       `yaml:"web"`
	Display   DisplayConfig   `yaml:"display"`
	Simulator SimulatorConfig `yaml:"simulator"`
}

// MQTTConfig describes the broker connection. ClientID is a prefix; each
// binary appends its own role so several of them can share one file.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

// TopicsConfig names the MQTT topics the components meet on.
type TopicsConfig struct {
	Samples   string `yaml:"samples"`
	Feedback  string `yaml:"feedback"`
	Reminder  string `yaml:"reminder"`
	Metronome string `yaml:"metronome"`
}

// EngineConfig holds the cadence engine tunables. The defaults are the
// values the wearable was calibrated with; treat them as configuration,
// not constants.
type EngineConfig struct {
	SampleRateHz       int     `yaml:"sample_rate_hz"`
	AccelThreshold     float64 `yaml:"accel_threshold"`
	FilterErrorMeasure float64 `yaml:"filter_error_measure"`
	FilterProcessNoise float64 `yaml:"filter_process_noise"`
	SmoothingAlpha     float64 `yaml:"smoothing_alpha"`
	DebounceMS         int     `yaml:"debounce_ms"`
	ReminderInterval   int     `yaml:"reminder_interval"`
	MetronomePeriodMS  int     `yaml:"metronome_period_ms"`
}

// SerialConfig describes the wearable dev-kit serial port.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate uint   `yaml:"baud_rate"`
}

// WebConfig describes the web monitor.
type WebConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	StaticDir  string `yaml:"static_dir"`
}

// DisplayConfig describes the OLED/buzzer feedback head. An empty
// I2CBus selects the first available bus.
type DisplayConfig struct {
	I2CBus           string `yaml:"i2c_bus"`
	BuzzerPin        string `yaml:"buzzer_pin"`
	BuzzerPulseMS    int    `yaml:"buzzer_pulse_ms"`
	UpdateIntervalMS int    `yaml:"update_interval_ms"`
}

// SimulatorConfig describes the synthetic compression producer.
type SimulatorConfig struct {
	RateBPM   float64 `yaml:"rate_bpm"`
	Amplitude float64 `yaml:"amplitude"`
	Noise     float64 `yaml:"noise"`
}

// Default returns a configuration suitable for a local broker and the
// calibrated engine parameters.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "cpr-assist",
			QoS:      0,
		},
		Topics: TopicsConfig{
			Samples:   "cpr/accel",
			Feedback:  "cpr/feedback",
			Reminder:  "cpr/reminder",
			Metronome: "cpr/metronome",
		},
		Engine: EngineConfig{
			SampleRateHz:       30,
			AccelThreshold:     2.0,
			FilterErrorMeasure: 5.0,
			FilterProcessNoise: 0.9,
			SmoothingAlpha:     0.6,
			DebounceMS:         20,
			ReminderInterval:   30,
			MetronomePeriodMS:  545,
		},
		Serial: SerialConfig{
			Port:     "/dev/ttyUSB0",
			BaudRate: 115200,
		},
		Web: WebConfig{
			ListenAddr: ":8080",
			StaticDir:  "web",
		},
		Display: DisplayConfig{
			I2CBus:           "",
			BuzzerPin:        "GPIO17",
			BuzzerPulseMS:    30,
			UpdateIntervalMS: 200,
		},
		Simulator: SimulatorConfig{
			RateBPM:   110,
			Amplitude: 6.0,
			Noise:     0.3,
		},
	}
}

// Load reads the yaml file at path on top of the defaults. An empty path
// returns the defaults. Environment variables CPR_MQTT_BROKER,
// CPR_MQTT_USERNAME, CPR_MQTT_PASSWORD and CPR_MQTT_QOS override the
// file in any case.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if broker := os.Getenv("CPR_MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}
	if username := os.Getenv("CPR_MQTT_USERNAME"); username != "" {
		c.MQTT.Username = username
	}
	if password := os.Getenv("CPR_MQTT_PASSWORD"); password != "" {
		c.MQTT.Password = password
	}
	if qos := os.Getenv("CPR_MQTT_QOS"); qos != "" {
		if v, err := strconv.Atoi(qos); err == nil && v >= 0 && v <= 2 {
			c.MQTT.QoS = byte(v)
		}
	}
}

func (c *Config) validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0-2, got %d", c.MQTT.QoS)
	}
	for name, topic := range map[string]string{
		"topics.samples":   c.Topics.Samples,
		"topics.feedback":  c.Topics.Feedback,
		"topics.reminder":  c.Topics.Reminder,
		"topics.metronome": c.Topics.Metronome,
	} {
		if topic == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	if c.Engine.SampleRateHz <= 0 {
		return fmt.Errorf("engine.sample_rate_hz must be positive, got %d", c.Engine.SampleRateHz)
	}
	if c.Engine.SmoothingAlpha <= 0 || c.Engine.SmoothingAlpha > 1 {
		return fmt.Errorf("engine.smoothing_alpha must be in (0,1], got %v", c.Engine.SmoothingAlpha)
	}
	if c.Engine.AccelThreshold <= 0 {
		return fmt.Errorf("engine.accel_threshold must be positive, got %v", c.Engine.AccelThreshold)
	}
	if c.Engine.ReminderInterval <= 0 {
		return fmt.Errorf("engine.reminder_interval must be positive, got %d", c.Engine.ReminderInterval)
	}
	if c.Engine.MetronomePeriodMS <= 0 {
		return fmt.Errorf("engine.metronome_period_ms must be positive, got %d", c.Engine.MetronomePeriodMS)
	}
	if c.Engine.DebounceMS < 0 {
		return fmt.Errorf("engine.debounce_ms must not be negative, got %d", c.Engine.DebounceMS)
	}
	return nil
}
