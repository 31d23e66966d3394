package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	serial "github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/resq-tech/cpr_assist/internal/accel"
	"github.com/resq-tech/cpr_assist/internal/config"
)

// The wearable dev kit frames accelerometer samples as proprietary NMEA
// sentences over its serial console:
//
//	$PCPR,<x>,<y>,<z>,<millis>*hh
//
// with x/y/z in m/s² and millis the device uptime. The framing buys us
// checksums and resynchronization for free on a noisy UART.
const sentencePCPR = "PCPR"

type pcprSentence struct {
	nmea.BaseSentence
	X      float64
	Y      float64
	Z      float64
	Millis int64
}

var registerPCPR sync.Once

func registerSentenceParser() error {
	var err error
	registerPCPR.Do(func() {
		err = nmea.RegisterParser(sentencePCPR, func(s nmea.BaseSentence) (nmea.Sentence, error) {
			p := nmea.NewParser(s)
			return pcprSentence{
				BaseSentence: s,
				X:            p.Float64(0, "x"),
				Y:            p.Float64(1, "y"),
				Z:            p.Float64(2, "z"),
				Millis:       p.Int64(3, "millis"),
			}, p.Err()
		})
	})
	return err
}

// RunSerialProducer opens the dev-kit serial port, parses PCPR sentences,
// and republishes them as JSON samples on the sample topic.
func RunSerialProducer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := registerSentenceParser(); err != nil {
		return fmt.Errorf("failed to register PCPR parser: %w", err)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(cfg.MQTT.ClientID + "-serial").
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

	serialOpts := serial.OpenOptions{
		PortName:        cfg.Serial.Port,
		BaudRate:        cfg.Serial.BaudRate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}
	port, err := serial.Open(serialOpts)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", cfg.Serial.Port, err)
	}
	defer port.Close()
	logger.Info("serial: port opened",
		zap.String("port", cfg.Serial.Port),
		zap.Uint("baud", cfg.Serial.BaudRate),
	)

	emit := func(sample accel.Sample) {
		payload, err := json.Marshal(sample)
		if err != nil {
			logger.Error("serial: marshal error", zap.Error(err))
			return
		}
		if token := client.Publish(cfg.Topics.Samples, cfg.MQTT.QoS, false, payload); token.Wait() && token.Error() != nil {
			logger.Warn("serial: publish error", zap.Error(token.Error()))
		}
	}
	return pumpSamples(ctx, port, emit)
}

// pumpSamples reads PCPR-framed lines from the port and hands decoded
// samples to emit, until ctx is cancelled or the port fails. The port is
// closed on cancellation to unblock a read waiting on a quiet device.
func pumpSamples(ctx context.Context, port io.ReadCloser, emit func(accel.Sample)) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			port.Close()
		case <-stop:
		}
	}()

	// Device uptime is anchored to the wall clock on the first frame so
	// inter-sample intervals keep the device's timing, not the host's
	// read jitter.
	var baseWall time.Time
	var baseMillis int64
	anchored := false

	reader := bufio.NewReader(port)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("serial read error: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "$") {
			continue
		}

		sentence, err := nmea.Parse(line)
		if err != nil {
			// Partial or corrupted frame; the next '$' resyncs.
			continue
		}
		frame, ok := sentence.(pcprSentence)
		if !ok {
			continue
		}

		if !anchored {
			baseWall = time.Now()
			baseMillis = frame.Millis
			anchored = true
		}
		ts := baseWall.Add(time.Duration(frame.Millis-baseMillis) * time.Millisecond)

		emit(accel.Sample{
			X:           frame.X,
			Y:           frame.Y,
			Z:           frame.Z,
			TimestampMS: ts.UnixMilli(),
		})
	}
}
