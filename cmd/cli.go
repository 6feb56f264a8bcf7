// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pulse/internal/config"
	"pulse/pkg/build"
)

// ParseArgs builds the runtime configuration from defaults, the YAML
// config file, environment overrides and command line flags, in that
// order. The returned config carries the selected command ("" for
// live analysis).
func ParseArgs() (*config.Config, error) {
	buildInfo := build.GetBuildFlags()

	var (
		configPath string
		flagCfg    = config.New()
	)

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         "Real-time music analysis: levels, spectrum, tempo and beat phase",
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return nil // Live analysis, the default
		},
	}

	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Run: func(cmd *cobra.Command, args []string) {
			flagCfg.Command = "list"
		},
	}
	rootCmd.AddCommand(listCmd)

	analyzeCmd := &cobra.Command{
		Use:   "analyze <file.wav>",
		Short: "Analyze a WAV file offline and print the tempo estimate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return fmt.Errorf("cannot read %s: %w", args[0], err)
			}
			flagCfg.Command = "analyze"
			flagCfg.AnalyzePath = args[0]
			return nil
		},
	}
	rootCmd.AddCommand(analyzeCmd)

	// Audio device configuration.
	rootCmd.PersistentFlags().IntVarP(&flagCfg.Audio.DeviceID, "device", "d", config.DefaultDeviceID,
		"Input device ID. Use 'list' to see available devices.")
	rootCmd.PersistentFlags().IntVarP(&flagCfg.Audio.Channels, "channels", "c", config.DefaultChannels,
		"Capture channels (analysis always uses channel 0)")
	rootCmd.PersistentFlags().Float64VarP(&flagCfg.Audio.SampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate in Hertz (Hz)")
	rootCmd.PersistentFlags().IntVarP(&flagCfg.Audio.HopSize, "hop-size", "b", config.DefaultHopSize,
		"Samples per analysis hop (power of 2)")
	rootCmd.PersistentFlags().BoolVarP(&flagCfg.Audio.LowLatency, "low-latency", "l", config.DefaultLowLatency,
		"Request low latency from the capture device")

	// Recording configuration.
	rootCmd.PersistentFlags().BoolVarP(&flagCfg.Record, "record", "r", false,
		"Mirror live capture to a WAV file")
	rootCmd.PersistentFlags().StringVarP(&flagCfg.OutputFile, "output", "o", "",
		"Recording file name. Default is pulse-DD-MM-YYYY-HHMMSS.wav")

	// Diagnostics configuration.
	rootCmd.PersistentFlags().BoolVar(&flagCfg.Diag.WebSocketEnabled, "ws", false,
		"Serve diagnostic frames over WebSocket")
	rootCmd.PersistentFlags().StringVar(&flagCfg.Diag.WebSocketAddr, "ws-addr", flagCfg.Diag.WebSocketAddr,
		"Diagnostics WebSocket listen address")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to YAML config file (default pulse.yaml if present)")
	rootCmd.PersistentFlags().BoolVarP(&flagCfg.Debug, "verbose", "v", false,
		"Enable debug logging")

	rootCmd.SetArgs(os.Args[1:])
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}

	// File and environment first, then explicit flags on top.
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg, flagCfg, rootCmd)

	if cfg.Record && cfg.OutputFile == "" {
		cfg.OutputFile = "pulse-" +
			time.Now().UTC().Format("02-01-2006-150405") + ".wav"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags copies flag values the user actually set onto cfg, so
// untouched flags don't clobber file or environment settings.
func applyFlags(cfg, flagCfg *config.Config, root *cobra.Command) {
	cfg.Command = flagCfg.Command
	cfg.AnalyzePath = flagCfg.AnalyzePath

	if f := root.PersistentFlags(); f != nil {
		if f.Changed("device") {
			cfg.Audio.DeviceID = flagCfg.Audio.DeviceID
		}
		if f.Changed("channels") {
			cfg.Audio.Channels = flagCfg.Audio.Channels
		}
		if f.Changed("sample-rate") {
			cfg.Audio.SampleRate = flagCfg.Audio.SampleRate
		}
		if f.Changed("hop-size") {
			cfg.Audio.HopSize = flagCfg.Audio.HopSize
		}
		if f.Changed("low-latency") {
			cfg.Audio.LowLatency = flagCfg.Audio.LowLatency
		}
		if f.Changed("record") {
			cfg.Record = flagCfg.Record
		}
		if f.Changed("output") {
			cfg.OutputFile = flagCfg.OutputFile
		}
		if f.Changed("ws") {
			cfg.Diag.WebSocketEnabled = flagCfg.Diag.WebSocketEnabled
		}
		if f.Changed("ws-addr") {
			cfg.Diag.WebSocketAddr = flagCfg.Diag.WebSocketAddr
		}
		if f.Changed("verbose") {
			cfg.Debug = flagCfg.Debug
		}
	}
}
