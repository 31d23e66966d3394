package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resq-tech/cpr_assist/internal/accel"
)

// pcprLine frames a sentence body with the NMEA '$'/'*hh' envelope and a
// computed checksum, the way the dev kit firmware does.
func pcprLine(body string) string {
	var cs byte
	for i := 0; i < len(body); i++ {
		cs ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X", body, cs)
}

func TestParsePCPRSentence(t *testing.T) {
	require.NoError(t, registerSentenceParser())

	sentence, err := nmea.Parse(pcprLine("PCPR,1.5,-0.25,12.5,34567"))
	require.NoError(t, err)

	frame, ok := sentence.(pcprSentence)
	require.True(t, ok, "expected a PCPR frame, got %T", sentence)

	assert.InDelta(t, 1.5, frame.X, 1e-9)
	assert.InDelta(t, -0.25, frame.Y, 1e-9)
	assert.InDelta(t, 12.5, frame.Z, 1e-9)
	assert.Equal(t, int64(34567), frame.Millis)
}

func TestParsePCPRRejectsBadChecksum(t *testing.T) {
	require.NoError(t, registerSentenceParser())

	_, err := nmea.Parse("$PCPR,1.5,-0.25,12.5,34567*00")
	assert.Error(t, err, "a corrupted frame must not parse")
}

func TestParsePCPRRejectsShortSentence(t *testing.T) {
	require.NoError(t, registerSentenceParser())

	_, err := nmea.Parse(pcprLine("PCPR,1.5,-0.25"))
	assert.Error(t, err, "a truncated frame must not parse")
}

func TestOtherSentenceTypesAreNotOurs(t *testing.T) {
	require.NoError(t, registerSentenceParser())

	sentence, err := nmea.Parse(pcprLine("GPGLL,3953.88008971,N,10506.75318910,W,034138.00,A,D"))
	require.NoError(t, err)

	_, ok := sentence.(pcprSentence)
	assert.False(t, ok, "a GLL sentence must not decode as a sample frame")
}

func TestPumpSamplesDecodesFrames(t *testing.T) {
	require.NoError(t, registerSentenceParser())

	pr, pw := io.Pipe()
	samples := make(chan accel.Sample, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		errc <- pumpSamples(ctx, pr, func(s accel.Sample) { samples <- s })
	}()

	lines := []string{
		"noise before the first frame",
		pcprLine("PCPR,1.0,0.0,12.0,1000"),
		pcprLine("PCPR,0.5,0.0,-8.0,1033"),
	}
	go pw.Write([]byte(strings.Join(lines, "\r\n") + "\r\n"))

	recv := func() accel.Sample {
		select {
		case s := <-samples:
			return s
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for a sample")
			return accel.Sample{}
		}
	}

	first := recv()
	assert.InDelta(t, 1.0, first.X, 1e-9)
	assert.InDelta(t, 12.0, first.Z, 1e-9)

	second := recv()
	assert.InDelta(t, -8.0, second.Z, 1e-9)

	// Inter-sample spacing follows the device uptime, not host read
	// timing: 1033-1000 device millis stay 33 ms apart on the wire.
	assert.Equal(t, int64(33), second.TimestampMS-first.TimestampMS)

	cancel()
	require.NoError(t, <-errc, "cancellation is a clean stop, not a read error")
}

func TestPumpSamplesStopsOnCancelWhilePortIsQuiet(t *testing.T) {
	require.NoError(t, registerSentenceParser())

	// The pipe never produces a byte, so the read blocks exactly like a
	// serial port with a silent device.
	pr, _ := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- pumpSamples(ctx, pr, func(accel.Sample) {})
	}()

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not stop on cancellation")
	}
}
