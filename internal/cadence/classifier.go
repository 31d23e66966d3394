package cadence

// Guidance is the discrete instruction bucket shown to the rescuer.
// The names follow the instruction, not the measured direction: a slow
// cadence maps to GuidanceMuchFaster ("push much faster").
type Guidance string

const (
	GuidanceMuchFaster Guidance = "much_faster"
	GuidanceFaster     Guidance = "faster"
	GuidanceFine       Guidance = "fine"
	GuidanceSlower     Guidance = "slower"
	GuidanceMuchSlower Guidance = "much_slower"
)

// Band edges in compressions per minute. The 100–120 band is the AHA
// target window for adult CPR.
const (
	bandMuchFasterBPM = 70.0
	bandFasterBPM     = 100.0
	bandFineBPM       = 120.0
	bandSlowerBPM     = 150.0
)

// Classify maps a smoothed frequency to a guidance category. The bands
// partition the whole real line; ties at band edges belong to the lower
// band, i.e. the slower-instruction side.
func Classify(hz float64) Guidance {
	bpm := hz * 60
	switch {
	case bpm < bandMuchFasterBPM:
		return GuidanceMuchFaster
	case bpm < bandFasterBPM:
		return GuidanceFaster
	case bpm <= bandFineBPM:
		return GuidanceFine
	case bpm <= bandSlowerBPM:
		return GuidanceSlower
	default:
		return GuidanceMuchSlower
	}
}

// Instruction returns the display text for the category.
func (g Guidance) Instruction() string {
	switch g {
	case GuidanceMuchFaster:
		return "PUSH MUCH FASTER"
	case GuidanceFaster:
		return "PUSH FASTER"
	case GuidanceFine:
		return "GOOD PACE"
	case GuidanceSlower:
		return "PUSH SLOWER"
	case GuidanceMuchSlower:
		return "PUSH MUCH SLOWER"
	default:
		return "UNKNOWN"
	}
}
