// SPDX-License-Identifier: MIT
package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pdmstream/internal/config"
)

func TestParseArgsDefaults(t *testing.T) {
	opts, err := ParseArgs(nil, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if opts.Command != CommandRun || opts.TUIMode {
		t.Errorf("options = %+v", opts)
	}
	want := config.Default()
	if opts.Config.Capture != want.Capture || opts.Config.Filter.Weighting != want.Filter.Weighting {
		t.Errorf("config = %+v, want defaults", opts.Config.Capture)
	}
}

func TestParseArgsFlagsOverride(t *testing.T) {
	opts, err := ParseArgs([]string{
		"--sample-rate", "20000", "--block", "256", "--dispatch", "deferred",
		"-w", "Z", "--record", "--tui", "--analysis", "--udp",
	}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	c := opts.Config
	if c.Capture.SampleRate != 20000 || c.Capture.BlockLength != 256 || c.Capture.Dispatch != "deferred" {
		t.Errorf("capture = %+v", c.Capture)
	}
	if c.Filter.Weighting != "Z" || !c.Recording.Enabled || !c.Analysis.Enabled || !c.Transport.UDPEnabled {
		t.Errorf("config = %+v", c)
	}
	if !opts.TUIMode {
		t.Error("--tui not applied")
	}
}

func TestParseArgsFlagBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "capture:\n  sample_rate: 31250\n  block_length: 1024\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	opts, err := ParseArgs([]string{"--config", path, "--block", "128"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if opts.Config.Capture.SampleRate != 31250 || opts.Config.Capture.BlockLength != 128 {
		t.Errorf("capture = %+v", opts.Config.Capture)
	}
}

func TestParseArgsRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"channels", []string{"--channels", "3"}, "capture.channels"},
		{"dispatch", []string{"--dispatch", "sometimes"}, "capture.dispatch"},
		{"A weighting at unsupported rate", []string{"--sample-rate", "44100"}, "filter.weighting"},
		{"unknown flag", []string{"--bogus"}, "unknown flag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArgs(tt.args, &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestListCommand(t *testing.T) {
	opts, err := ParseArgs([]string{"list", "-i"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if opts.Command != CommandList || !opts.Interactive {
		t.Errorf("options = %+v", opts)
	}
}

func TestWeightingCommand(t *testing.T) {
	var out bytes.Buffer
	opts, err := ParseArgs([]string{"weighting", "--sample-rate", "16125"}, &out)
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if opts.Command != CommandDone {
		t.Errorf("Command = %q", opts.Command)
	}
	got := out.String()
	for _, want := range []string{"weighting A at 16125 Hz, order 7", "numerator", "15625", "62500"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}

	out.Reset()
	if _, err := ParseArgs([]string{"weighting", "-w", "Z"}, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "no filter") {
		t.Errorf("Z output = %q", out.String())
	}
}

func TestVersionFlag(t *testing.T) {
	var out bytes.Buffer
	opts, err := ParseArgs([]string{"--version"}, &out)
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if opts.Command != "" || !strings.Contains(out.String(), "pdmstream") {
		t.Errorf("command %q, output %q", opts.Command, out.String())
	}
}
