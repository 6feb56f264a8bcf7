// Package transport streams diagnostic analysis state to external
// observers. Transports are strictly read-only taps: disabling every
// transport changes nothing about analysis behavior.
package transport

import "pulse/internal/analysis"

// Transport sends diagnostic frames to some sink.
// Implementations must be safe for concurrent use.
type Transport interface {
	Send(frame *Frame) error
	Close() error
}

// Frame is the wire representation of one diagnostic update. It is a
// snapshot plus analyzer internals that are useful when tuning but are
// not part of the snapshot contract.
type Frame struct {
	Snapshot analysis.Snapshot `json:"snapshot"`

	LockState       string  `json:"lock_state"`
	OnsetsAccepted  uint64  `json:"onsets_accepted"`
	OnsetsRejected  uint64  `json:"onsets_rejected"`
	LockTransitions uint64  `json:"lock_transitions"`
	AGCGain         float64 `json:"agc_gain"`
	NoiseFloor      float64 `json:"noise_floor"`
	ClipCount       uint64  `json:"clip_count"`
	Hops            uint64  `json:"hops"`
	Overruns        uint64  `json:"overruns"`
}
