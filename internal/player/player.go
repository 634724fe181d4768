// Package player runs a playback session: it decodes the input file,
// selects a backend through the playback facade, pushes PCM at the
// producer's pace, and wires telemetry to the configured sinks.
package player

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/chipstream-io/chipstream/internal/conf"
	"github.com/chipstream-io/chipstream/internal/errors"
	"github.com/chipstream-io/chipstream/internal/logging"
	"github.com/chipstream-io/chipstream/internal/mqtt"
	"github.com/chipstream-io/chipstream/internal/observability"
	"github.com/chipstream-io/chipstream/internal/playback"
	"github.com/chipstream-io/chipstream/internal/render"
	"github.com/chipstream-io/chipstream/internal/watchdog"
)

// decodeChunkFrames is how many frames each decoder read produces. Eight
// quanta keeps the pump loop comfortably ahead of the render callback
// without hogging the staging buffer.
const decodeChunkFrames = 8 * conf.BlockSize

// snapshotSource is implemented by controllers that expose their
// telemetry stream.
type snapshotSource interface {
	Snapshots() <-chan render.Snapshot
}

// Run plays the given WAV file until it ends or the process receives an
// interrupt.
func Run(settings *conf.Settings, inputPath string) error {
	logger := logging.ForService("player")
	if logger == nil {
		logger = slog.Default().With("service", "player")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Decode header first so adapter selection sees the real stream shape.
	inFile, err := os.Open(inputPath)
	if err != nil {
		return errors.New(err).
			Component("player").
			Category(errors.CategoryFileIO).
			Context("path", inputPath).
			Build()
	}
	defer inFile.Close()

	decoder := wav.NewDecoder(inFile)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return errors.Newf("input %s is not a valid WAV file", inputPath).
			Component("player").
			Category(errors.CategoryValidation).
			Build()
	}
	if decoder.BitDepth != 16 {
		return errors.Newf("unsupported bit depth %d, only 16-bit PCM input is supported", decoder.BitDepth).
			Component("player").
			Category(errors.CategoryValidation).
			Build()
	}

	spec := playback.TrackSpec{
		Title:      strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath)),
		SampleRate: int(decoder.SampleRate),
		Channels:   int(decoder.NumChans),
	}

	session, err := newSession(settings, logger)
	if err != nil {
		return err
	}
	defer session.close()
	logger.Debug(session.Describe())

	rc := playback.RuntimeContext{
		Settings:      settings,
		StallObserver: session.stallObserver(),
	}
	sel, err := session.facade.Load(ctx, spec, rc)
	if err != nil {
		if session.metrics != nil {
			var unavail *playback.UnavailableError
			if errors.As(err, &unavail) {
				for id := range unavail.Reasons {
					session.metrics.Playback.RecordProbeFailure(id)
					session.metrics.Playback.RecordAdapterSelection(id, "failed")
				}
			}
		}
		return err
	}
	if session.metrics != nil {
		session.metrics.Playback.RecordAdapterSelection(sel.AdapterID, "selected")
	}
	logger.Info("playback session starting",
		"input", inputPath,
		"adapter", sel.AdapterID,
		"sample_rate", spec.SampleRate,
		"channels", spec.Channels)

	controller := session.facade.ActiveController()
	session.watchTelemetry(ctx, sel.AdapterID, controller)

	if err := controller.Play(); err != nil {
		return err
	}

	if err := pump(ctx, decoder, sel.Feed, spec.Channels, spec.SampleRate, logger); err != nil {
		return err
	}

	drain(ctx, sel.Feed, spec.SampleRate)

	if err := controller.Stop(); err != nil {
		logger.Error("stop failed", "error", err)
	}

	if session.metrics != nil {
		session.metrics.Playback.AddFramesDelivered(sel.AdapterID, float64(sel.Feed.FramesDelivered()))
		session.metrics.Playback.AddFramesDropped(sel.AdapterID, float64(sel.Feed.FramesDropped()))
	}

	final := controller.Telemetry()
	logger.Info("playback session finished",
		"frames_delivered", sel.Feed.FramesDelivered(),
		"frames_dropped", sel.Feed.FramesDropped(),
		"frames_consumed", final.FramesConsumed,
		"underruns", final.Underruns,
		"silent_frames", final.SilentFrames)
	return nil
}

// pump reads PCM from the decoder and pushes it through the feed, pacing
// itself on ring headroom so the producer never busy-spins.
func pump(ctx context.Context, decoder *wav.Decoder, feed *playback.Feed, channels, sampleRate int, logger *slog.Logger) error {
	buf := &audio.IntBuffer{
		Data:   make([]int, decodeChunkFrames*channels),
		Format: &audio.Format{SampleRate: sampleRate, NumChannels: channels},
	}
	pcm := make([]byte, len(buf.Data)*conf.SampleDepth)
	quantumInterval := time.Duration(conf.BlockSize) * time.Second / time.Duration(sampleRate)

	for {
		select {
		case <-ctx.Done():
			logger.Info("playback interrupted")
			return nil
		default:
		}

		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return errors.New(err).
				Component("player").
				Category(errors.CategoryFileIO).
				Context("operation", "decode").
				Build()
		}
		if n == 0 {
			return nil // end of input
		}

		// Round down to whole frames; a truncated final frame is dropped.
		samples := n - n%channels
		for i := 0; i < samples; i++ {
			binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(buf.Data[i])))
		}

		if _, err := feed.Push(pcm[:samples*conf.SampleDepth]); err != nil {
			return err
		}

		// Wait until the staged leftovers moved on and the ring has room
		// for a whole chunk, so the next push never drops. Staged bytes
		// only advance on a push, so nudge the feed while waiting.
		for feed.StagedBytes() > 0 || feed.AvailableWrite() < decodeChunkFrames {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(quantumInterval):
			}
			if _, err := feed.Push(nil); err != nil {
				return err
			}
		}
	}
}

// drain waits for the consumer to play out what is already buffered.
func drain(ctx context.Context, feed *playback.Feed, sampleRate int) {
	quantumInterval := time.Duration(conf.BlockSize) * time.Second / time.Duration(sampleRate)
	for feed.Occupancy() > 0 || feed.StagedBytes() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(quantumInterval):
		}
		if feed.StagedBytes() > 0 {
			if _, err := feed.Push(nil); err != nil {
				return
			}
		}
	}
}

// session bundles the optional telemetry sinks and the facade.
type session struct {
	facade  *playback.Facade
	metrics *observability.Metrics

	endpoint   *observability.Endpoint
	observer   *observability.SnapshotObserver
	mqttClient mqtt.Client
	publisher  *mqtt.Publisher
	pubCh      chan render.Snapshot

	logger *slog.Logger
}

func newSession(settings *conf.Settings, logger *slog.Logger) (*session, error) {
	s := &session{
		facade: playback.NewFacade(settings.Realtime.Playback.ProbeCacheTTL),
		logger: logger,
	}

	preferred := settings.Realtime.Playback.Preferred
	for _, d := range []playback.Descriptor{
		playback.NewMalgoDescriptor(),
		playback.NewFileDescriptor(),
		playback.NewNullDescriptor(),
	} {
		if err := s.facade.RegisterAdapter(d, d.ID == preferred); err != nil {
			return nil, err
		}
	}

	if settings.Realtime.Metrics.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return nil, err
		}
		s.metrics = m
		s.observer = observability.NewSnapshotObserver(m)
		s.endpoint = observability.NewEndpoint(m, settings.Realtime.Metrics.Listen, logger)
		s.endpoint.Start()
	}

	if settings.Realtime.MQTT.Enabled {
		client, err := mqtt.NewClient(settings)
		if err != nil {
			return nil, err
		}
		connectCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = client.Connect(connectCtx)
		cancel()
		if err != nil {
			// Telemetry publishing is best effort; play without it.
			logger.Warn("MQTT connect failed, continuing without telemetry publishing", "error", err)
		} else {
			s.mqttClient = client
			s.publisher = mqtt.NewPublisher(client, settings.Realtime.MQTT.Topic)
			s.pubCh = make(chan render.Snapshot, 8)
		}
	}

	return s, nil
}

// stallObserver forwards aggregated watchdog warnings into the stall
// metrics, labeled with whichever adapter is live when they fire. Returns
// nil when metrics are disabled.
func (s *session) stallObserver() watchdog.WarningObserver {
	if s.metrics == nil {
		return nil
	}
	return func(w watchdog.Warning) {
		s.metrics.Playback.RecordStallWarning(s.facade.GetActiveAdapterID(), w.Worst.Seconds())
	}
}

// watchTelemetry fans the controller's snapshot stream out to the metrics
// observer and the MQTT publisher.
func (s *session) watchTelemetry(ctx context.Context, adapter string, controller playback.Controller) {
	src, ok := controller.(snapshotSource)
	if !ok {
		return
	}
	if s.observer == nil && s.publisher == nil {
		return
	}

	if s.publisher != nil {
		go s.publisher.Run(ctx, adapter, s.pubCh)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-src.Snapshots():
				if !ok {
					return
				}
				if s.observer != nil {
					s.observer.Record(adapter, snap)
				}
				if s.pubCh != nil {
					select {
					case s.pubCh <- snap:
					default:
					}
				}
			}
		}
	}()
}

func (s *session) close() {
	s.facade.Teardown()
	if s.endpoint != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.endpoint.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("metrics endpoint shutdown failed", "error", err)
		}
		cancel()
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
}

// Describe returns a one-line summary of the configured sinks, used by
// debug logging at session start.
func (s *session) Describe() string {
	parts := []string{"facade"}
	if s.metrics != nil {
		parts = append(parts, "metrics")
	}
	if s.publisher != nil {
		parts = append(parts, "mqtt")
	}
	return fmt.Sprintf("session sinks: %s", strings.Join(parts, ", "))
}
