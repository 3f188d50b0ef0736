// SPDX-License-Identifier: MIT
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"pdmstream/internal/analysis"
	"pdmstream/internal/audio"
	"pdmstream/internal/config"
	applog "pdmstream/internal/log"
	"pdmstream/internal/observe"
	"pdmstream/internal/transport"
	"pdmstream/internal/transport/udp"
	"pdmstream/internal/tui"
)

// app owns the capture session and every consumer wired to it.
type app struct {
	cfg       *config.Config
	session   *audio.Session
	exporter  *observe.Exporter
	recorder  *audio.Recorder
	spectrum  *analysis.Spectrum
	pipeline  *analysis.Pipeline
	transport transport.Multi
	websocket *transport.WebSocketTransport
	sender    *udp.Sender
	publisher *udp.Publisher
	consumers []audio.FrameFunc
	filtered  bool

	logBuf syncBuffer
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.build(); err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build() error {
	cc := a.cfg.Capture

	mode, err := audio.ParseDispatchMode(cc.Dispatch)
	if err != nil {
		return err
	}
	opts := []audio.Option{audio.WithDispatchMode(mode)}

	if a.cfg.Metrics.Enabled {
		a.exporter, err = observe.NewExporter(a.cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		opts = append(opts, audio.WithMetrics(a.exporter.Metrics))
	}

	periph, err := audio.NewPortAudioPeripheral(audio.PortAudioConfig{
		DeviceID:        cc.Device,
		SampleRate:      float64(cc.SampleRate),
		Channels:        cc.Channels,
		FramesPerBuffer: cc.FramesPerBuffer,
		LowLatency:      cc.LowLatency,
		LeftGainDB:      cc.LeftGainDB,
		RightGainDB:     cc.RightGainDB,
	})
	if err != nil {
		return err
	}
	a.session = audio.NewSession(periph, opts...)

	pair := audio.NewBufferPair(cc.BlockLength)
	if err := a.session.Init(pair.Block(audio.BlockA), pair.Block(audio.BlockB)); err != nil {
		_ = periph.Close()
		a.session = nil
		return err
	}
	if err := a.configureFilter(); err != nil {
		return err
	}

	if err := a.buildTransports(); err != nil {
		return err
	}
	if err := a.buildAnalysis(); err != nil {
		return err
	}
	if a.cfg.Recording.Enabled {
		a.buildRecorder(mode)
	}

	consumers := a.consumers
	a.session.OnBlockReady(func(f audio.Frame) {
		for _, c := range consumers {
			c(f)
		}
	})
	return nil
}

func (a *app) configureFilter() error {
	coeffs, err := a.cfg.Coefficients()
	if err != nil {
		return err
	}
	if coeffs.Order() == 0 {
		return nil
	}
	if a.cfg.Capture.Channels != 1 {
		applog.Warnf("Weighting filter applies to mono capture only; disabled for %d channels", a.cfg.Capture.Channels)
		return nil
	}
	if err := a.session.ConfigureFilter(coeffs.Numerator, coeffs.Denominator, coeffs.DelayLine()); err != nil {
		return err
	}
	a.filtered = true
	applog.Infof("Weighting %s enabled (order %d at %d Hz)", strings.ToUpper(a.cfg.Filter.Weighting), coeffs.Order(), a.cfg.Capture.SampleRate)
	return nil
}

func (a *app) buildTransports() error {
	t := a.cfg.Transport
	if applog.GetLevel() <= applog.LevelDebug {
		a.transport = append(a.transport, transport.NewLoggingTransport())
	}
	if t.WebSocketEnabled {
		a.websocket = transport.NewWebSocketTransport(t.WebSocketAddr)
		a.transport = append(a.transport, a.websocket)
	}
	if t.UDPEnabled {
		sender, err := udp.NewSender(t.UDPTargetAddress)
		if err != nil {
			return err
		}
		a.sender = sender
	}
	return nil
}

func (a *app) buildAnalysis() error {
	ac := a.cfg.Analysis
	var out transport.Transport
	if len(a.transport) > 0 {
		out = a.transport
	}

	var procs []analysis.FrameProcessor
	if ac.Enabled {
		win, err := analysis.ParseWindowFunc(ac.FFTWindow)
		if err != nil {
			applog.Warnf("Analysis: %v, using %v", err, win)
		}
		frames := a.cfg.Capture.BlockLength / a.cfg.Capture.Channels
		rate := float64(a.cfg.Capture.SampleRate)
		a.spectrum, err = analysis.NewSpectrum(frames, rate, a.cfg.Capture.Channels, win)
		if err != nil {
			return err
		}
		bands, err := analysis.LogBands(ac.Bands, rate)
		if err != nil {
			return err
		}
		be, err := analysis.NewBandEnergy(out, a.spectrum, bands)
		if err != nil {
			return err
		}
		procs = append(procs, a.spectrum, be, analysis.NewOnset(ac.OnsetSensitivity, out))
	}

	if out != nil || len(procs) > 0 {
		a.pipeline = analysis.NewPipeline(out, procs...)
		a.consumers = append(a.consumers, a.pipeline.Consume)
	}

	if a.sender != nil {
		var spectrum udp.SpectrumSource
		if a.spectrum != nil {
			spectrum = a.spectrum
		}
		pub, err := udp.NewPublisher(a.cfg.Transport.UDPSendInterval, a.sender, a.session, spectrum)
		if err != nil {
			return err
		}
		a.publisher = pub
	}
	return nil
}

func (a *app) buildRecorder(mode audio.DispatchMode) {
	rc := a.cfg.Recording
	var gate *audio.Gate
	if rc.SilenceThreshold > 0 {
		gate = audio.NewGate(rc.SilenceThreshold)
	}
	a.recorder = audio.NewRecorder(a.cfg.Capture.SampleRate, a.cfg.Capture.Channels, a.cfg.Capture.BlockLength, gate)
	a.consumers = append(a.consumers, a.recorder.Consume)
	if mode == audio.DispatchInline {
		applog.Warnf("Recording with inline dispatch writes to disk from the capture callback; consider --dispatch deferred")
	}
}

func (a *app) start() error {
	if a.exporter != nil {
		a.exporter.Serve()
	}
	if a.websocket != nil {
		a.websocket.Start()
	}
	if a.recorder != nil {
		if err := os.MkdirAll(a.cfg.Recording.OutputDir, 0o755); err != nil {
			return fmt.Errorf("recording: %w", err)
		}
		name := audio.Filename(a.cfg.Recording.OutputDir, time.Now())
		if err := a.recorder.Start(name); err != nil {
			return err
		}
		applog.Infof("Recording to %s", name)
	}
	if err := a.session.Start(); err != nil {
		return err
	}
	if a.publisher != nil {
		a.publisher.Start()
	}
	return nil
}

func (a *app) meterOptions() tui.MeterOptions {
	opts := tui.MeterOptions{Weighted: a.filtered}
	if a.spectrum != nil {
		opts.Peak = a.spectrum
	}
	return opts
}

// close tears everything down in reverse dependency order. Safe on a
// partially built app.
func (a *app) close() error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.session != nil {
		errs = append(errs, a.session.Close())
		st := a.session.Stats()
		applog.Infof("Captured %d blocks (%d overruns, %d faults)", st.Blocks, st.Overruns, st.Faults)
	}
	if a.recorder != nil && a.recorder.Recording() {
		errs = append(errs, a.recorder.Stop())
		written, skipped := a.recorder.Frames()
		applog.Infof("Recording saved (%d frames written, %d silent frames skipped)", written, skipped)
	}
	if len(a.transport) > 0 {
		errs = append(errs, a.transport.Close())
	}
	if a.sender != nil {
		errs = append(errs, a.sender.Close())
	}
	if a.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.exporter.Close(ctx))
		cancel()
	}
	return errors.Join(errs...)
}

// syncBuffer collects log output while the meter owns the terminal.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}
