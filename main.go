// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"pdmstream/cmd"
	"pdmstream/internal/audio"
	applog "pdmstream/internal/log"
	"pdmstream/internal/tui"
	"pdmstream/pkg/build"
)

// main is the entry point. The program flow is divided into three phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and load configuration
//   - Initialize PortAudio
//   - Execute one-off commands if requested
//
// 2. Concurrent Phase (Hot Path):
//   - Bind the capture blocks and weighting filter to the session
//   - Start capture; frames flow to the recorder, analysis and transports
//   - Run the level meter or wait for a signal
//
// 3. Shutdown Phase (Cold Path):
//   - Stop publishers and capture
//   - Finalize the recording
//   - Close transports and the metrics endpoint
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(); err != nil {
		applog.Debugf("Build info incomplete, using development values: %v", err)
	}

	// One thread for the capture callback, one for consumers and I/O.
	runtime.GOMAXPROCS(2)

	options, err := cmd.ParseArgs(os.Args[1:], os.Stdout)
	if err != nil {
		applog.Fatalf("%v", err)
	}
	switch options.Command {
	case cmd.CommandRun, cmd.CommandList:
	default:
		return
	}

	if level, ok := applog.ParseLevel(options.Config.LogLevel); ok {
		applog.SetLevel(level)
	}

	if err := audio.Initialize(); err != nil {
		applog.Fatalf("%v", err)
	}
	defer audio.Terminate()

	if options.Command == cmd.CommandList {
		if err := listDevices(options.Interactive); err != nil {
			applog.Errorf("%v", err)
		}
		return
	}

	if options.Pick {
		id, err := tui.PickDevice()
		if err != nil {
			applog.Errorf("%v", err)
			return
		}
		options.Config.Capture.Device = id
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(options.Config)
	if err != nil {
		applog.Errorf("%v", err)
		return
	}

	// Capture begins here: from now on the peripheral invokes the session
	// handler for every filled block.
	if err := a.start(); err != nil {
		applog.Errorf("%v", err)
		_ = a.close()
		return
	}

	if options.TUIMode {
		// Logs would tear the alternate screen. Buffer them and replay to
		// stderr once the meter exits.
		applog.SetOutput(&a.logBuf)
		if err := tui.RunMeter(ctx, a.session, a.meterOptions()); err != nil {
			applog.Errorf("Meter: %v", err)
		}
		applog.SetOutput(os.Stderr)
		_, _ = os.Stderr.Write(a.logBuf.Bytes())
	} else {
		fmt.Printf("Capturing. '%s --help' for usage information, Ctrl+C to stop.\n", build.Get().Name)
		<-ctx.Done()
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	if err := a.close(); err != nil {
		applog.Errorf("Shutdown: %v", err)
	}
}

func listDevices(interactive bool) error {
	if !interactive {
		return audio.ListDevices(os.Stdout)
	}
	id, err := tui.PickDevice()
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}
