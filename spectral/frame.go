// Package spectral maintains rolling intensity maps over the usable audio
// window (local decodes and remote-reported interference) and recommends the
// lowest-cost open transmit offset via a windowed occupancy search.
package spectral

import (
	"sync"
	"time"

	"qsointel/decode"
)

// Config holds the tuning constants of the occupancy map and gap finder.
// The penalty weights are tuned defaults, not invariants; callers may adjust
// them through the configuration file.
type Config struct {
	BandwidthHz       int           `yaml:"bandwidth_hz"`        // Usable audio window, 1 Hz bins
	LocalRadiusHz     int           `yaml:"local_radius_hz"`     // Half-width raised per local decode
	RemoteRadiusHz    int           `yaml:"remote_radius_hz"`    // Half-width raised per remote report
	GapWindowHz       int           `yaml:"gap_window_hz"`       // Sliding occupancy window width
	RemoteWeight      float64       `yaml:"remote_weight"`       // Remote intensity multiplier in the cost
	CenterBiasPerHz   float64       `yaml:"center_bias_per_hz"`  // Linear penalty per Hz from band center
	GuardRadiusHz     int           `yaml:"guard_radius_hz"`     // Protected-frequency exclusion radius
	GuardPenalty      float64       `yaml:"guard_penalty"`       // Cost added inside the guard radius
	EdgeGuardHz       int           `yaml:"edge_guard_hz"`       // Excluded margin at each band edge
	HysteresisHz      int           `yaml:"hysteresis_hz"`       // Minimum visible recommendation change
	DecayFactor       float64       `yaml:"decay_factor"`        // Local intensity multiplier per tick
	DecayFloor        float64       `yaml:"decay_floor"`         // Values below this snap to zero
	DecayHold         time.Duration `yaml:"decay_hold"`          // Quiet period before decay starts
	RemoteFreshAge    time.Duration `yaml:"remote_fresh_age"`    // Reports younger than this get full weight
	RemoteMaxAge      time.Duration `yaml:"remote_max_age"`      // Reports older than this are ignored
	WaterfallDepth    int           `yaml:"waterfall_depth"`     // Retained history snapshots
	WaterfallInterval time.Duration `yaml:"waterfall_interval"`  // Minimum spacing between snapshots
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		BandwidthHz:       3000,
		LocalRadiusHz:     25,
		RemoteRadiusHz:    20,
		GapWindowHz:       50,
		RemoteWeight:      2.0,
		CenterBiasPerHz:   0.02,
		GuardRadiusHz:     150,
		GuardPenalty:      1e9,
		EdgeGuardHz:       200,
		HysteresisHz:      20,
		DecayFactor:       0.95,
		DecayFloor:        1.0,
		DecayHold:         12 * time.Second,
		RemoteFreshAge:    60 * time.Second,
		RemoteMaxAge:      600 * time.Second,
		WaterfallDepth:    32,
		WaterfallInterval: time.Second,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.BandwidthHz <= 0 {
		c.BandwidthHz = d.BandwidthHz
	}
	if c.LocalRadiusHz <= 0 {
		c.LocalRadiusHz = d.LocalRadiusHz
	}
	if c.RemoteRadiusHz <= 0 {
		c.RemoteRadiusHz = d.RemoteRadiusHz
	}
	if c.GapWindowHz <= 0 {
		c.GapWindowHz = d.GapWindowHz
	}
	if c.RemoteWeight <= 0 {
		c.RemoteWeight = d.RemoteWeight
	}
	if c.CenterBiasPerHz < 0 {
		c.CenterBiasPerHz = d.CenterBiasPerHz
	}
	if c.GuardRadiusHz <= 0 {
		c.GuardRadiusHz = d.GuardRadiusHz
	}
	if c.GuardPenalty <= 0 {
		c.GuardPenalty = d.GuardPenalty
	}
	if c.EdgeGuardHz < 0 {
		c.EdgeGuardHz = d.EdgeGuardHz
	}
	if c.HysteresisHz < 0 {
		c.HysteresisHz = d.HysteresisHz
	}
	if c.DecayFactor <= 0 || c.DecayFactor >= 1 {
		c.DecayFactor = d.DecayFactor
	}
	if c.DecayFloor <= 0 {
		c.DecayFloor = d.DecayFloor
	}
	if c.DecayHold <= 0 {
		c.DecayHold = d.DecayHold
	}
	if c.RemoteFreshAge <= 0 {
		c.RemoteFreshAge = d.RemoteFreshAge
	}
	if c.RemoteMaxAge <= c.RemoteFreshAge {
		c.RemoteMaxAge = d.RemoteMaxAge
	}
	if c.WaterfallDepth <= 0 {
		c.WaterfallDepth = d.WaterfallDepth
	}
	if c.WaterfallInterval <= 0 {
		c.WaterfallInterval = d.WaterfallInterval
	}
}

// Interference is one remote-reported signal near the target's frequency.
type Interference struct {
	OffsetHz int
	SNR      int
	Age      time.Duration
}

// Frame is the process-wide spectral state: two parallel 1 Hz intensity
// arrays, a bounded history ring for the fading waterfall view, and the
// current recommendation. All mutation goes through the frame's mutex;
// readers receive copies.
type Frame struct {
	mu  sync.Mutex
	cfg Config

	local  []float64 // Local decode intensity, 0-100 per bin
	remote []float64 // Remote interference intensity, 0-100 per bin

	protectedHz    int // Target's own offset; 0 means none
	recommendation int
	hasRec         bool

	lastLocalIngest time.Time
	waterfall       *historyRing
	lastSnapshot    time.Time
}

// NewFrame constructs a frame with normalized configuration.
func NewFrame(cfg Config) *Frame {
	cfg.normalize()
	return &Frame{
		cfg:       cfg,
		local:     make([]float64, cfg.BandwidthHz),
		remote:    make([]float64, cfg.BandwidthHz),
		waterfall: newHistoryRing(cfg.WaterfallDepth),
	}
}

// localIntensityForSNR maps an SNR in dB to a display intensity in [40,100].
// The mapping is monotonically non-decreasing so stronger signals never paint
// fainter than weaker ones.
func localIntensityForSNR(snr int) float64 {
	v := 40 + (float64(snr)+24)*1.2
	if v < 40 {
		return 40
	}
	if v > 100 {
		return 100
	}
	return v
}

// remoteIntensityForSNR maps a remote report's SNR into [20,100].
func remoteIntensityForSNR(snr int) float64 {
	v := 20 + (float64(snr)+25)*2
	if v < 20 {
		return 20
	}
	if v > 100 {
		return 100
	}
	return v
}

// IngestLocalDecodes raises the local intensity around each decode's audio
// frequency. Intensities only increase here; signals persist visually until
// the decay tick clears them.
func (f *Frame) IngestLocalDecodes(decodes []decode.Decode, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ingested := false
	for _, d := range decodes {
		if d.FreqHz < 0 || d.FreqHz >= f.cfg.BandwidthHz {
			continue
		}
		intensity := localIntensityForSNR(d.SNR)
		lo := d.FreqHz - f.cfg.LocalRadiusHz
		hi := d.FreqHz + f.cfg.LocalRadiusHz
		if lo < 0 {
			lo = 0
		}
		if hi >= f.cfg.BandwidthHz {
			hi = f.cfg.BandwidthHz - 1
		}
		for b := lo; b <= hi; b++ {
			if f.local[b] < intensity {
				f.local[b] = intensity
			}
		}
		ingested = true
	}
	if ingested {
		f.lastLocalIngest = now
		f.maybeSnapshotLocked(now)
	}
}

// IngestRemoteInterference replaces the remote array with the supplied batch.
// Overlapping reports combine by maximum so repeated sightings of the same
// station do not double-count.
func (f *Frame) IngestRemoteInterference(reports []Interference) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fresh := make([]float64, f.cfg.BandwidthHz)
	for _, r := range reports {
		if r.OffsetHz < 0 || r.OffsetHz >= f.cfg.BandwidthHz {
			continue
		}
		weight := f.ageWeight(r.Age)
		if weight <= 0 {
			continue
		}
		intensity := remoteIntensityForSNR(r.SNR) * weight
		lo := r.OffsetHz - f.cfg.RemoteRadiusHz
		hi := r.OffsetHz + f.cfg.RemoteRadiusHz
		if lo < 0 {
			lo = 0
		}
		if hi >= f.cfg.BandwidthHz {
			hi = f.cfg.BandwidthHz - 1
		}
		for b := lo; b <= hi; b++ {
			if fresh[b] < intensity {
				fresh[b] = intensity
			}
		}
	}
	f.remote = fresh
}

// ageWeight fades a remote report linearly from full weight at RemoteFreshAge
// to zero at RemoteMaxAge.
func (f *Frame) ageWeight(age time.Duration) float64 {
	if age <= f.cfg.RemoteFreshAge {
		return 1.0
	}
	if age >= f.cfg.RemoteMaxAge {
		return 0
	}
	span := (f.cfg.RemoteMaxAge - f.cfg.RemoteFreshAge).Seconds()
	return 1.0 - (age-f.cfg.RemoteFreshAge).Seconds()/span
}

// DecayTick multiplies the local array by the decay factor and snaps small
// values to exactly zero so cleared signals fully disappear. Decay only runs
// after a quiet hold period with no new local decodes.
func (f *Frame) DecayTick(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.lastLocalIngest.IsZero() && now.Sub(f.lastLocalIngest) < f.cfg.DecayHold {
		return
	}
	for b := range f.local {
		f.local[b] *= f.cfg.DecayFactor
		if f.local[b] < f.cfg.DecayFloor {
			f.local[b] = 0
		}
	}
	f.maybeSnapshotLocked(now)
}

// SetProtectedFrequency marks the current target's own offset. The gap finder
// never recommends transmitting within the guard radius of it. Zero clears
// the protection.
func (f *Frame) SetProtectedFrequency(hz int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.protectedHz = hz
}

// Recommendation returns the current best offset and whether one has been
// computed yet.
func (f *Frame) Recommendation() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recommendation, f.hasRec
}

// Snapshot copies the current intensity arrays for rendering.
func (f *Frame) Snapshot() (local, remote []float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	local = append([]float64(nil), f.local...)
	remote = append([]float64(nil), f.remote...)
	return local, remote
}

func (f *Frame) maybeSnapshotLocked(now time.Time) {
	if now.Sub(f.lastSnapshot) < f.cfg.WaterfallInterval {
		return
	}
	f.lastSnapshot = now
	f.waterfall.add(Row{Time: now, Local: append([]float64(nil), f.local...)})
}

// Waterfall returns the retained history rows, newest last.
func (f *Frame) Waterfall() []Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waterfall.rows()
}
