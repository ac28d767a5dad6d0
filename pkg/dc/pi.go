package dc

// Mode selects which clock is disciplined against which: the master's
// own local clock corrected toward the reference slave (ModeRefClock),
// the bus's reference slave clock corrected toward the master
// (ModeMasterClock), or the master's clock broadcast as the bus
// reference outright (ModeMasterAsRefClock).
type Mode int

const (
	ModeRefClock Mode = iota
	ModeMasterClock
	ModeMasterAsRefClock
)

// actDiffBound is the largest tolerable act_diff (ns) before the
// controller flags a step as desynced; the correction is still returned.
const actDiffBound = 1_000_000 // 1ms

// DefaultKp/DefaultKi are the proportional/integral gains a Controller
// uses absent an explicit override.
const (
	DefaultKp = 1.0
	DefaultKi = 0.1
)

// integralBound caps the accumulated integral term to prevent windup
// during a sustained desync.
const integralBound = 10 * float64(actDiffBound)

// Controller disciplines one slave's clock. Its behavior depends on
// Mode: ModeRefClock runs a PI loop correcting the master's own running
// clock toward the slave's measured act_diff; ModeMasterClock instead
// nudges the slave's own system-time offset by half of act_diff per
// step (no integral term, to avoid overshoot); ModeMasterAsRefClock
// computes no correction at all, since the master broadcasts its own
// clock as the bus reference instead of disciplining toward one.
type Controller struct {
	mode Mode

	kp float64
	ki float64

	integral float64
}

// NewController creates a Controller for the given mode and PI gains.
func NewController(mode Mode, kp, ki float64) *Controller {
	return &Controller{mode: mode, kp: kp, ki: ki}
}

// Result is one control step's output.
type Result struct {
	Correction int64 // ns to add to the disciplined clock's running offset
	Desynced   bool  // true if actDiff exceeded actDiffBound this step
}

// Step runs one control iteration given the latest measured act_diff
// (the difference between the slave's local time and the reference
// time, in nanoseconds).
func (c *Controller) Step(actDiff int64) Result {
	desynced := actDiff > actDiffBound || actDiff < -actDiffBound

	switch c.mode {
	case ModeMasterClock:
		return Result{Correction: actDiff / 2, Desynced: desynced}
	case ModeMasterAsRefClock:
		return Result{Desynced: desynced}
	default: // ModeRefClock
		p := c.kp * float64(actDiff)
		c.integral += c.ki * float64(actDiff)
		if c.integral > integralBound {
			c.integral = integralBound
		} else if c.integral < -integralBound {
			c.integral = -integralBound
		}
		return Result{Correction: int64(p + c.integral), Desynced: desynced}
	}
}

// Reset clears the integral term, e.g. after a resync or a large jump.
func (c *Controller) Reset() { c.integral = 0 }
