package call

// Verdict is the outcome of one supervisor tick
type Verdict int

const (
	VerdictIdle Verdict = iota
	VerdictContinue
	VerdictRecovered
	VerdictExhausted
)

// Supervisor bounds how long a session waits for a dropped link to come
// back. It never renegotiates; the link recovers on its own or not at all.
type Supervisor struct {
	max      int
	attempts int
	active   bool
}

func NewSupervisor(maxAttempts int) *Supervisor {
	return &Supervisor{max: maxAttempts}
}

// Start arms the supervisor. Returns false if it was already active.
func (sv *Supervisor) Start() bool {
	if sv.active {
		return false
	}
	sv.active = true
	return true
}

// Tick records one poll of the link
func (sv *Supervisor) Tick(linkConnected bool) Verdict {
	if !sv.active {
		return VerdictIdle
	}
	sv.attempts++
	if linkConnected {
		sv.active = false
		return VerdictRecovered
	}
	if sv.attempts >= sv.max {
		sv.active = false
		return VerdictExhausted
	}
	return VerdictContinue
}

// Reset stops the supervisor and clears the attempt count
func (sv *Supervisor) Reset() {
	sv.active = false
	sv.attempts = 0
}

func (sv *Supervisor) Active() bool  { return sv.active }
func (sv *Supervisor) Attempts() int { return sv.attempts }
