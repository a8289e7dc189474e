package domain

// StepStatus is the progress state of one guided-session step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepActive   StepStatus = "active"
	StepComplete StepStatus = "complete"
)

// Step is one step of a guided plan.
type Step struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
}

// GuidedSessionData is a generated multi-step plan with trackable
// per-step completion.
type GuidedSessionData struct {
	Title     string `json:"title"`
	Objective string `json:"objective"`
	Steps     []Step `json:"steps"`
}

// InitStatuses sets the initial step statuses for a freshly generated
// plan: first step active, the rest pending. Plans delivered with
// pre-seeded statuses are left untouched.
func (g *GuidedSessionData) InitStatuses() {
	for i := range g.Steps {
		if g.Steps[i].Status != "" {
			return
		}
	}
	for i := range g.Steps {
		if i == 0 {
			g.Steps[i].Status = StepActive
		} else {
			g.Steps[i].Status = StepPending
		}
	}
}

// Complete marks step i complete. If the completed step was active, the
// immediately following step is promoted from pending to active. Steps
// never move backward from complete. Out-of-range indexes are ignored.
func (g *GuidedSessionData) Complete(i int) {
	if i < 0 || i >= len(g.Steps) {
		return
	}
	wasActive := g.Steps[i].Status == StepActive
	g.Steps[i].Status = StepComplete
	if wasActive && i+1 < len(g.Steps) && g.Steps[i+1].Status == StepPending {
		g.Steps[i+1].Status = StepActive
	}
}

// Done reports whether every step is complete.
func (g *GuidedSessionData) Done() bool {
	for i := range g.Steps {
		if g.Steps[i].Status != StepComplete {
			return false
		}
	}
	return len(g.Steps) > 0
}
