package app

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/resq-tech/cpr_assist/internal/config"
)

// displayData holds the latest feedback for the render loop.
type displayData struct {
	mu       sync.RWMutex
	feedback feedbackMessage
	have     bool
}

// RunDisplay drives the bedside feedback head: an SSD1306 OLED showing
// the guidance instruction and rate, plus a GPIO buzzer pulsed on each
// metronome tick.
func RunDisplay(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Initialize periph.
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(cfg.Display.I2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	logger.Info("display: OLED initialized", zap.String("i2c_bus", cfg.Display.I2CBus))

	buzzer := gpioreg.ByName(cfg.Display.BuzzerPin)
	if buzzer == nil {
		return fmt.Errorf("buzzer pin %q not found", cfg.Display.BuzzerPin)
	}
	if err := buzzer.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to drive buzzer pin: %w", err)
	}
	logger.Info("display: buzzer ready", zap.String("pin", cfg.Display.BuzzerPin))

	if err := showSplash(dev); err != nil {
		logger.Warn("display: splash error", zap.Error(err))
	}

	data := &displayData{}

	// Connect to MQTT.
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(cfg.MQTT.ClientID + "-display").
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
	logger.Info("display: connected to MQTT broker", zap.String("broker", cfg.MQTT.Broker))

	fbToken := client.Subscribe(cfg.Topics.Feedback, cfg.MQTT.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		var fb feedbackMessage
		if err := json.Unmarshal(msg.Payload(), &fb); err != nil {
			logger.Warn("display: feedback unmarshal error", zap.Error(err))
			return
		}
		data.mu.Lock()
		data.feedback = fb
		data.have = true
		data.mu.Unlock()
	})
	fbToken.Wait()
	if fbToken.Error() != nil {
		return fbToken.Error()
	}

	// Each metronome tick pulses the buzzer. Pulses are short enough
	// that overlapping ticks are not a concern at any sane period.
	pulse := time.Duration(cfg.Display.BuzzerPulseMS) * time.Millisecond
	tickToken := client.Subscribe(cfg.Topics.Metronome, cfg.MQTT.QoS, func(_ mqtt.Client, _ mqtt.Message) {
		go func() {
			if err := buzzer.Out(gpio.High); err != nil {
				return
			}
			time.Sleep(pulse)
			buzzer.Out(gpio.Low)
		}()
	})
	tickToken.Wait()
	if tickToken.Error() != nil {
		return tickToken.Error()
	}
	logger.Info("display: subscribed",
		zap.String("feedback", cfg.Topics.Feedback),
		zap.String("metronome", cfg.Topics.Metronome),
	)

	// Render loop.
	ticker := time.NewTicker(time.Duration(cfg.Display.UpdateIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			data.mu.RLock()
			fb, have := data.feedback, data.have
			data.mu.RUnlock()

			if err := renderFeedback(dev, fb, have); err != nil {
				logger.Warn("display: render error", zap.Error(err))
			}
		case <-ctx.Done():
			buzzer.Out(gpio.Low)
			return nil
		}
	}
}

func blankImage() *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))
	for i := range img.Pix {
		img.Pix[i] = 0
	}
	return img
}

func newDrawer(img *image1bit.VerticalLSB) *font.Drawer {
	return &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
}

func renderFeedback(dev *ssd1306.Dev, fb feedbackMessage, have bool) error {
	img := blankImage()
	drawer := newDrawer(img)

	if !have {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("CPR Assist"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
		return dev.Draw(dev.Bounds(), img, image.Point{})
	}

	drawer.Dot = fixed.P(0, 13)
	drawer.DrawBytes([]byte(fb.Instruction))

	drawer.Dot = fixed.P(0, 26)
	drawer.DrawBytes([]byte(fmt.Sprintf("%5.1f cpm", fb.RateBPM)))

	drawer.Dot = fixed.P(0, 39)
	drawer.DrawBytes([]byte(fmt.Sprintf("breath in %2d", fb.PushesUntilReminder)))

	drawer.Dot = fixed.P(0, 52)
	status := "sensor ok"
	if !fb.Connected {
		status = "no sensor!"
	}
	drawer.DrawBytes([]byte(status))

	return dev.Draw(dev.Bounds(), img, image.Point{})
}

func showSplash(dev *ssd1306.Dev) error {
	img := blankImage()
	drawer := newDrawer(img)

	drawer.Dot = fixed.P(10, 26)
	drawer.DrawBytes([]byte("CPR Assist"))
	drawer.Dot = fixed.P(5, 43)
	drawer.DrawBytes([]byte("starting up"))

	return dev.Draw(dev.Bounds(), img, image.Point{})
}
