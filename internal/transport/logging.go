package transport

import (
	applog "pulse/internal/log"
)

// LoggingTransport writes diagnostic frames to the application log.
// Useful headless, or when a WebSocket client is overkill.
type LoggingTransport struct{}

func NewLoggingTransport() *LoggingTransport {
	return &LoggingTransport{}
}

// Send logs a condensed one-line view of the frame at debug level.
func (lt *LoggingTransport) Send(frame *Frame) error {
	if !applog.Enabled(applog.LevelDebug) {
		return nil
	}
	applog.Debugf("diag: bpm=%.1f conf=%.2f state=%s rms=%.3f flux=%.3f gain=%.2f floor=%.4f onsets=%d/%d hops=%d",
		frame.Snapshot.BPM, frame.Snapshot.Confidence01, frame.LockState,
		frame.Snapshot.RMS, frame.Snapshot.Flux, frame.AGCGain, frame.NoiseFloor,
		frame.OnsetsAccepted, frame.OnsetsRejected, frame.Hops)
	return nil
}

// Close is a no-op.
func (lt *LoggingTransport) Close() error {
	return nil
}

var _ Transport = (*LoggingTransport)(nil)
