package config

// Core configuration constants defining the boundaries and defaults
// for the music-analysis engine.
const (
	// Default values for audio capture.
	DefaultChannels   = 1           // Mono analysis input
	DefaultDeviceID   = MinDeviceID // System default device
	DefaultSampleRate = 16000       // Nyquist 8 kHz covers the top analysis band
	DefaultHopSize    = 256         // 16 ms hops at 16 kHz (62.5 Hz analysis rate)
	DefaultLowLatency = false

	// Hardware and processing limits.
	MinDeviceID   = -1     // -1 represents the system default device
	MinSampleRate = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate = 192000 // Maximum supported sample rate (Hz)
	MaxHopSize    = 8192   // Maximum hop size (power of 2)
	MinHopSize    = 64     // Minimum hop size (power of 2)

	// Tempo search range, 1 BPM resolution. The ceiling stays below
	// 2x the floor's octave to reduce half/double-tempo ambiguity.
	DefaultBPMMin = 48
	DefaultBPMMax = 143
)

// Audio holds capture settings frozen at startup.
type Audio struct {
	DeviceID   int     `yaml:"device_id"`   // Input device index (-1 for default)
	SampleRate float64 `yaml:"sample_rate"` // Sample rate in Hz
	HopSize    int     `yaml:"hop_size"`    // Samples per analysis hop (power of 2)
	Channels   int     `yaml:"channels"`    // Capture channels (analysis uses channel 0)
	LowLatency bool    `yaml:"low_latency"` // Request low latency from the device
}

// Analysis holds per-hop feature extraction tuning. All smoothing is
// expressed as real time constants in seconds so behavior does not
// depend on the configured hop rate.
type Analysis struct {
	DCTau float64 `yaml:"dc_tau"` // DC estimate time constant (s)

	AGCTargetRMS   float64 `yaml:"agc_target_rms"`  // Loudness target for gain convergence
	AGCAttackTau   float64 `yaml:"agc_attack_tau"`  // Gain rise time constant (s), fast
	AGCReleaseTau  float64 `yaml:"agc_release_tau"` // Gain fall time constant (s), slow
	AGCMinGain     float64 `yaml:"agc_min_gain"`
	AGCMaxGain     float64 `yaml:"agc_max_gain"`
	AGCClipReduce  float64 `yaml:"agc_clip_reduce"`   // Multiplier applied when clipping is detected
	AGCIdleTau     float64 `yaml:"agc_idle_tau"`      // Return-to-unity time constant while gated (s)
	NoiseFloorMin  float64 `yaml:"noise_floor_min"`   // Absolute floor for the noise tracker
	NoiseFloorRise float64 `yaml:"noise_floor_rise"`  // Floor rise coefficient per hop
	NoiseFloorFall float64 `yaml:"noise_floor_fall"`  // Floor fall coefficient per hop
	RMSDbFloor     float64 `yaml:"rms_db_floor"`      // dB mapped to 0.0
	RMSDbCeil      float64 `yaml:"rms_db_ceil"`       // dB mapped to 1.0
	FluxScale      float64 `yaml:"flux_scale"`        // Scale for the UI-facing flux value
	TauFast        float64 `yaml:"tau_fast"`          // Reactive smoothing time constant (s)
	TauSlow        float64 `yaml:"tau_slow"`          // Heavy smoothing time constant (s)
	SilenceRMS     float64 `yaml:"silence_rms"`       // Mapped RMS below this counts as silence
	SilenceHold    float64 `yaml:"silence_hold"`      // Seconds below threshold before isSilent
	SilenceTau     float64 `yaml:"silence_tau"`       // silentScale decay time constant (s)
	NoveltyStatTau float64 `yaml:"novelty_stat_tau"`  // Running mean/variance time constant (s)
	NoveltyZScale  float64 `yaml:"novelty_z_scale"`   // Soft scale on the standardized tempo novelty
	AutorangeTau   float64 `yaml:"autorange_tau"`     // Band/chroma magnitude follower (s)
	AutorangeFloor float64 `yaml:"autorange_floor"`   // Follower floor, caps effective gain
}

// Tempo holds tempo-tracker tuning.
type Tempo struct {
	BPMMin float64 `yaml:"bpm_min"`
	BPMMax float64 `yaml:"bpm_max"`

	HistoryLen   int     `yaml:"history_len"`   // Novelty ring length in hops
	NoveltyDecay float64 `yaml:"novelty_decay"` // Per-hop multiplier fading old onsets
	SmoothTau    float64 `yaml:"smooth_tau"`    // Resonator magnitude smoothing (s)
	ScaleTau     float64 `yaml:"scale_tau"`     // Novelty autorange follower (s)

	// Winner hysteresis: a challenger needs this relative advantage for
	// this many consecutive hops before it displaces the winner.
	HysteresisAdvantage float64 `yaml:"hysteresis_advantage"`
	HysteresisHops      int     `yaml:"hysteresis_hops"`

	// Soft prior around the locked tempo. Bonus is multiplicative,
	// width is in BPM. A soft bias, never a hard constraint.
	PriorBonus    float64 `yaml:"prior_bonus"`
	PriorWidthBPM float64 `yaml:"prior_width_bpm"`

	// A sharp onset train excites the resonator at double the beat
	// tempo as strongly as the beat itself. When the bin at half the
	// leading tempo holds at least this fraction of the leader's
	// energy, the slower bin wins.
	SubharmonicRatio float64 `yaml:"subharmonic_ratio"`

	// Minimum inter-onset interval in seconds. Zero derives the floor
	// from BPMMax (the fastest plausible beat).
	MinOnsetInterval float64 `yaml:"min_onset_interval"`
	RejectedGain     float64 `yaml:"rejected_gain"` // Attenuation for sub-beat onsets

	LockThreshold     float64 `yaml:"lock_threshold"`     // Confidence to enter Pending
	UnlockThreshold   float64 `yaml:"unlock_threshold"`   // Confidence collapse level
	StableHops        int     `yaml:"stable_hops"`        // Winner stability required before Pending
	VerifyWindow      float64 `yaml:"verify_window"`      // Pending survival time before Verified (s)
	JumpLimitBPM      float64 `yaml:"jump_limit_bpm"`     // Abrupt jump that forces Unlocked
	ConfidenceWindow  int     `yaml:"confidence_window"`  // +-bins counted as agreeing with the winner
	SilenceContrast   float64 `yaml:"silence_contrast"`   // Novelty contrast below which input is silent
	BeatShiftFraction float64 `yaml:"beat_shift_fraction"` // Phase lead as fraction of beat period
}

// Clock holds render-side beat clock tuning.
type Clock struct {
	BPMTau          float64 `yaml:"bpm_tau"`           // BPM smoothing time constant (s)
	ConfidenceTau   float64 `yaml:"confidence_tau"`    // Confidence smoothing time constant (s)
	BeatStrengthTau float64 `yaml:"beat_strength_tau"` // Beat envelope decay (s)
	CorrectionGain  float64 `yaml:"correction_gain"`   // Phase pull per new observation
	DownbeatGain    float64 `yaml:"downbeat_gain"`     // Stronger pull on downbeats
	MaxCorrection   float64 `yaml:"max_correction"`    // Cap on a single correction (cycles)
	ConfidenceFloor float64 `yaml:"confidence_floor"`  // Below this the clock coasts
}

// Render holds the demo render loop settings.
type Render struct {
	FrameRate int `yaml:"frame_rate"` // Target render ticks per second
}

// Diagnostics holds optional observability settings. Disabling them
// must not alter runtime behavior.
type Diagnostics struct {
	WebSocketEnabled bool   `yaml:"websocket_enabled"`
	WebSocketAddr    string `yaml:"websocket_addr"`
	StatsInterval    float64 `yaml:"stats_interval"` // Seconds between stats log lines (0 disables)
}

// Config is the complete runtime configuration, frozen at startup.
// It is constructed from defaults, an optional YAML file, environment
// overrides, and command line flags, in that order.
type Config struct {
	Debug    bool        `yaml:"debug"`
	LogLevel string      `yaml:"log_level"`

	// CLI-only settings, never read from YAML.
	Command     string `yaml:"-"` // One-off command ("list", "analyze")
	AnalyzePath string `yaml:"-"` // WAV file for the analyze command
	Record      bool   `yaml:"-"` // Mirror live capture to a WAV file
	OutputFile  string `yaml:"-"` // Recording destination

	Audio    Audio       `yaml:"audio"`
	Analysis Analysis    `yaml:"analysis"`
	Tempo    Tempo       `yaml:"tempo"`
	Clock    Clock       `yaml:"clock"`
	Render   Render      `yaml:"render"`
	Diag     Diagnostics `yaml:"diagnostics"`
}

// HopRate returns analysis hops per second.
func (c *Config) HopRate() float64 {
	if c.Audio.HopSize <= 0 {
		return 0
	}
	return c.Audio.SampleRate / float64(c.Audio.HopSize)
}

// HopSeconds returns the duration of one hop in seconds.
func (c *Config) HopSeconds() float64 {
	if c.Audio.SampleRate <= 0 {
		return 0
	}
	return float64(c.Audio.HopSize) / c.Audio.SampleRate
}

// New returns a Config populated with defaults. The defaults are a
// working profile for live capture; tests override individual fields.
func New() *Config {
	return &Config{
		Debug:    false,
		LogLevel: "info",
		Audio: Audio{
			DeviceID:   DefaultDeviceID,
			SampleRate: DefaultSampleRate,
			HopSize:    DefaultHopSize,
			Channels:   DefaultChannels,
			LowLatency: DefaultLowLatency,
		},
		Analysis: Analysis{
			DCTau:          0.5,
			AGCTargetRMS:   0.25,
			AGCAttackTau:   0.15,
			AGCReleaseTau:  2.0,
			AGCMinGain:     0.5,
			AGCMaxGain:     32.0,
			AGCClipReduce:  0.8,
			AGCIdleTau:     4.0,
			NoiseFloorMin:  0.001,
			NoiseFloorRise: 0.002,
			NoiseFloorFall: 0.05,
			RMSDbFloor:     -60,
			RMSDbCeil:      -10,
			FluxScale:      4.0,
			TauFast:        0.045,
			TauSlow:        0.5,
			SilenceRMS:     0.04,
			SilenceHold:    1.0,
			SilenceTau:     0.6,
			NoveltyStatTau: 4.0,
			NoveltyZScale:  0.25,
			AutorangeTau:   2.0,
			AutorangeFloor: 0.02,
		},
		Tempo: Tempo{
			BPMMin:              DefaultBPMMin,
			BPMMax:              DefaultBPMMax,
			HistoryLen:          1024,
			NoveltyDecay:        0.999,
			SmoothTau:           0.15,
			ScaleTau:            2.0,
			HysteresisAdvantage: 1.1,
			HysteresisHops:      5,
			PriorBonus:          0.35,
			PriorWidthBPM:       3.0,
			SubharmonicRatio:    0.5,
			MinOnsetInterval:    0, // derive from BPMMax
			RejectedGain:        0.15,
			LockThreshold:       0.3,
			UnlockThreshold:     0.15,
			StableHops:          6,
			VerifyWindow:        2.5,
			JumpLimitBPM:        20,
			ConfidenceWindow:    8,
			SilenceContrast:     0.02,
			BeatShiftFraction:   0.08,
		},
		Clock: Clock{
			BPMTau:          0.5,
			ConfidenceTau:   0.35,
			BeatStrengthTau: 0.15,
			CorrectionGain:  0.25,
			DownbeatGain:    0.35,
			MaxCorrection:   0.1,
			ConfidenceFloor: 0.1,
		},
		Render: Render{
			FrameRate: 120,
		},
		Diag: Diagnostics{
			WebSocketEnabled: false,
			WebSocketAddr:    "127.0.0.1:8731",
			StatsInterval:    10,
		},
	}
}
