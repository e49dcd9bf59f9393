package orchestrator

import (
	"fmt"
	"math"
	"time"
)

// CrashPolicy bounds automatic recovery after a kernel crash.
type CrashPolicy struct {
	MaxRestarts int           // restarts allowed within Window; 0 disables recovery
	Window      time.Duration // sliding window crashes are counted in; zero means the whole session
	BaseDelay   time.Duration // delay before the first restart
	MaxDelay    time.Duration
	Multiplier  float64 // exponential backoff factor
}

// DefaultCrashPolicy leaves a crashed kernel down until the client asks for
// a start or restart.
func DefaultCrashPolicy() CrashPolicy {
	return CrashPolicy{
		MaxRestarts: 0,
		Window:      time.Minute,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
	}
}

// Enabled reports whether crashes trigger automatic restarts at all.
func (p CrashPolicy) Enabled() bool {
	return p.MaxRestarts > 0
}

// Delay calculates the delay before restart attempt n (1-indexed).
func (p CrashPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 {
		delay = math.Min(delay, float64(p.MaxDelay))
	}
	return time.Duration(delay)
}

func (p CrashPolicy) exhaustedMessage(crashes int) string {
	return fmt.Sprintf("kernel crashed %d times within %s; automatic restart disabled, send start or restart to recover",
		crashes, p.Window)
}

// crashTracker counts crashes inside the policy window. It is only touched
// by the control loop.
type crashTracker struct {
	policy CrashPolicy
	now    func() time.Time
	times  []time.Time
}

func newCrashTracker(policy CrashPolicy) *crashTracker {
	return &crashTracker{policy: policy, now: time.Now}
}

// record notes a crash and returns how many crashes fall inside the window,
// and whether another automatic restart is allowed.
func (t *crashTracker) record() (int, bool) {
	now := t.now()
	if t.policy.Window > 0 {
		cutoff := now.Add(-t.policy.Window)
		kept := t.times[:0]
		for _, at := range t.times {
			if at.After(cutoff) {
				kept = append(kept, at)
			}
		}
		t.times = kept
	}
	t.times = append(t.times, now)

	n := len(t.times)
	return n, t.policy.Enabled() && n <= t.policy.MaxRestarts
}
