// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pdmstream/internal/config"
	"pdmstream/internal/filter"
	"pdmstream/pkg/build"
)

// Commands recognized by main.
const (
	CommandRun  = "run"
	CommandList = "list"
	// CommandDone marks a subcommand that completed inside the CLI.
	CommandDone = "done"
)

// Options is the parsed command line.
type Options struct {
	Config      *config.Config
	Command     string // Empty when only help or version was printed.
	TUIMode     bool   // Show the level meter while capturing.
	Pick        bool   // Choose the input device interactively.
	Interactive bool   // list: use the device picker.
}

// flagValues holds raw flag values; only flags set on the command line
// override the loaded configuration.
type flagValues struct {
	configPath  string
	logLevel    string
	device      int
	sampleRate  int
	blockLength int
	channels    int
	framesPer   int
	lowLatency  bool
	dispatch    string
	weighting   string
	record      bool
	outputDir   string
	analysis    bool
	websocket   bool
	udp         bool
	udpTarget   string
	metrics     bool
}

// ParseArgs parses args (without the program name), loads the configuration
// and applies flag overrides.
func ParseArgs(args []string, stdout io.Writer) (*Options, error) {
	info := build.Get()
	options := &Options{}
	var fv flagValues

	rootCmd := &cobra.Command{
		Use:           info.Name,
		Short:         info.Description,
		Version:       info.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(fv.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg, &fv)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			options.Config = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			options.Command = CommandRun
			return nil
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available input devices",
		Run: func(cmd *cobra.Command, _ []string) {
			options.Command = CommandList
		},
	}
	listCmd.Flags().BoolVarP(&options.Interactive, "interactive", "i", false,
		"Pick a device in a terminal UI and print its ID")
	rootCmd.AddCommand(listCmd)

	weightingCmd := &cobra.Command{
		Use:   "weighting",
		Short: "Print the weighting filter coefficients for the configured sample rate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			options.Command = CommandDone
			return PrintWeighting(cmd.OutOrStdout(), options.Config)
		},
	}
	rootCmd.AddCommand(weightingCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&fv.configPath, "config", "", "Path to a YAML configuration file (default ./config.yaml if present)")
	pf.StringVar(&fv.logLevel, "log-level", config.DefaultLogLevel, "Log level: debug, info, warn or error")

	// Capture
	pf.IntVarP(&fv.device, "device", "d", config.DefaultDeviceID,
		"Input device ID. Use 'list' command to see available devices.")
	pf.IntVarP(&fv.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz); selects the weighting table")
	pf.IntVarP(&fv.blockLength, "block", "n", config.DefaultBlockLength,
		"Samples per capture block (interleaved across channels)")
	pf.IntVarP(&fv.channels, "channels", "c", config.DefaultChannels,
		"Number of channels to capture (1=mono, 2=stereo)")
	pf.IntVarP(&fv.framesPer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"Host frames per buffer (affects latency)")
	pf.BoolVarP(&fv.lowLatency, "low-latency", "l", false,
		"Use the device's low input latency")
	pf.StringVar(&fv.dispatch, "dispatch", config.DefaultDispatch,
		"Frame delivery: inline (in the capture callback) or deferred (worker)")
	pf.StringVarP(&fv.weighting, "weighting", "w", config.DefaultWeighting,
		"Weighting filter: Z (none) or A")

	// Consumers
	pf.BoolVarP(&fv.record, "record", "r", false, "Record delivered frames to a WAV file")
	pf.StringVarP(&fv.outputDir, "output", "o", config.DefaultOutputDir, "Directory for recordings")
	pf.BoolVar(&fv.analysis, "analysis", false, "Enable spectrum, band and onset analysis")
	pf.BoolVar(&fv.websocket, "websocket", false, "Broadcast levels to websocket clients")
	pf.BoolVar(&fv.udp, "udp", false, "Publish levels as UDP packets")
	pf.StringVar(&fv.udpTarget, "udp-target", config.DefaultUDPTargetAddress, "UDP target address (host:port)")
	pf.BoolVar(&fv.metrics, "metrics", false, "Serve Prometheus metrics")

	rootCmd.Flags().BoolVarP(&options.TUIMode, "tui", "t", false, "Show a live level meter")
	rootCmd.Flags().BoolVarP(&options.Pick, "pick", "p", false, "Choose the input device interactively")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	return options, nil
}

// applyFlags copies every flag set on the command line into cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config, fv *flagValues) {
	changed := cmd.Flags().Changed
	if changed("log-level") {
		cfg.LogLevel = fv.logLevel
	}
	if changed("device") {
		cfg.Capture.Device = fv.device
	}
	if changed("sample-rate") {
		cfg.Capture.SampleRate = fv.sampleRate
	}
	if changed("block") {
		cfg.Capture.BlockLength = fv.blockLength
	}
	if changed("channels") {
		cfg.Capture.Channels = fv.channels
	}
	if changed("frames-per-buffer") {
		cfg.Capture.FramesPerBuffer = fv.framesPer
	}
	if changed("low-latency") {
		cfg.Capture.LowLatency = fv.lowLatency
	}
	if changed("dispatch") {
		cfg.Capture.Dispatch = fv.dispatch
	}
	if changed("weighting") {
		cfg.Filter.Weighting = fv.weighting
		cfg.Filter.Numerator, cfg.Filter.Denominator = nil, nil
	}
	if changed("record") {
		cfg.Recording.Enabled = fv.record
	}
	if changed("output") {
		cfg.Recording.OutputDir = fv.outputDir
	}
	if changed("analysis") {
		cfg.Analysis.Enabled = fv.analysis
	}
	if changed("websocket") {
		cfg.Transport.WebSocketEnabled = fv.websocket
	}
	if changed("udp") {
		cfg.Transport.UDPEnabled = fv.udp
	}
	if changed("udp-target") {
		cfg.Transport.UDPTargetAddress = fv.udpTarget
	}
	if changed("metrics") {
		cfg.Metrics.Enabled = fv.metrics
	}
}

// PrintWeighting writes the coefficient table selected by cfg, followed by
// the sample rates with A-weighting tables.
func PrintWeighting(w io.Writer, cfg *config.Config) error {
	c, err := cfg.Coefficients()
	if err != nil {
		return err
	}
	rate := cfg.Capture.SampleRate
	if c.Order() == 0 {
		fmt.Fprintf(w, "weighting %s at %d Hz: no filter\n", cfg.Filter.Weighting, rate)
	} else {
		fmt.Fprintf(w, "weighting %s at %d Hz, order %d\n", strings.ToUpper(cfg.Filter.Weighting), rate, c.Order())
		fmt.Fprintf(w, "  %-3s %22s %22s\n", "k", "numerator", "denominator")
		for k := range c.Order() {
			fmt.Fprintf(w, "  %-3d %22.15g %22.15g\n", k, c.Numerator[k], c.Denominator[k])
		}
	}

	rates := filter.SupportedRates()
	names := make([]string, len(rates))
	for i, r := range rates {
		names[i] = fmt.Sprint(r)
	}
	fmt.Fprintf(w, "A-weighting rates (Hz): %s\n", strings.Join(names, ", "))
	return nil
}
