// SPDX-License-Identifier: MIT
package config

import "time"

// Compiled-in defaults and limits for a capture session.
const (
	// Capture defaults. 16125 Hz is the rate a 1.032 MHz PDM clock yields
	// with a 64x decimation ratio.
	DefaultDeviceID        = MinDeviceID
	DefaultSampleRate      = 16125
	DefaultBlockLength     = 512
	DefaultFramesPerBuffer = 256
	DefaultChannels        = 1
	DefaultDispatch        = "inline"
	DefaultWeighting       = "A"

	DefaultLogLevel         = "info"
	DefaultOutputDir        = "./recordings"
	DefaultSilenceThreshold = 0.01

	DefaultFFTWindow        = "hann"
	DefaultBands            = 8
	DefaultOnsetSensitivity = 1.5

	DefaultWebSocketAddr    = ":8080"
	DefaultUDPTargetAddress = "127.0.0.1:9090"
	DefaultUDPSendInterval  = 33 * time.Millisecond // ~30Hz
	DefaultMetricsAddr      = ":9464"

	// Limits.
	MinDeviceID    = -1 // -1 represents the system default device.
	MinSampleRate  = 8000
	MaxSampleRate  = 192000
	MaxBlockLength = 16384
	MaxGainDB      = 20.0
	MinGainDB      = -20.0
	MaxBands       = 64
)
