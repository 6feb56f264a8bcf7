package analysis

// HopFunc receives one complete hop of samples. The slice is reused
// between calls; implementations must not retain it.
type HopFunc func(hop []int32)

// HopAccumulator buffers capture chunks of arbitrary size into
// fixed-size analysis hops. Hop boundaries are derived from the
// monotonic sample counter, never from wall-clock time, so the hop
// cadence is sample-accurate regardless of chunk sizing or capture
// jitter.
//
// Owned exclusively by the analysis loop; not safe for concurrent use.
type HopAccumulator struct {
	hop     []int32
	fill    int
	samples uint64 // Total samples ever pushed
	onHop   HopFunc
}

// NewHopAccumulator creates an accumulator that emits hops of hopSize
// samples to onHop.
func NewHopAccumulator(hopSize int, onHop HopFunc) *HopAccumulator {
	return &HopAccumulator{
		hop:   make([]int32, hopSize),
		onHop: onHop,
	}
}

// Push appends a capture chunk, emitting as many complete hops as the
// data yields. A chunk may complete zero, one, or several hops.
func (a *HopAccumulator) Push(chunk []int32) {
	a.samples += uint64(len(chunk))
	for len(chunk) > 0 {
		n := copy(a.hop[a.fill:], chunk)
		a.fill += n
		chunk = chunk[n:]
		if a.fill == len(a.hop) {
			a.onHop(a.hop)
			a.fill = 0
		}
	}
}

// SampleCount returns the total number of samples pushed so far.
func (a *HopAccumulator) SampleCount() uint64 {
	return a.samples
}

// Pending returns how many samples are buffered toward the next hop.
func (a *HopAccumulator) Pending() int {
	return a.fill
}
