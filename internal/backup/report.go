package backup

import (
	"time"
)

type Phase string

const (
	PhaseRoles    Phase = "roles"
	PhaseChannels Phase = "channels"
	PhaseMembers  Phase = "members"
	PhaseBans     Phase = "bans"
	PhasePrepare  Phase = "prepare"
	PhaseSettings Phase = "settings"
)

type Action string

const (
	ActionSaved     Action = "saved"
	ActionCreated   Action = "created"
	ActionReused    Action = "reused"
	ActionEdited    Action = "edited"
	ActionDeleted   Action = "deleted"
	ActionBanned    Action = "banned"
	ActionGranted   Action = "granted"
	ActionUnchanged Action = "unchanged"
)

// Result is the outcome of one item. Skip is nil when the item succeeded.
type Result struct {
	Kind       string     `json:"kind"`
	LocalID    string     `json:"local_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	AssignedID string     `json:"assigned_id,omitempty"`
	Action     Action     `json:"action,omitempty"`
	Skip       *SkipError `json:"skip,omitempty"`
}

func (r Result) OK() bool {
	return r.Skip == nil
}

type PhaseReport struct {
	Phase   Phase      `json:"phase"`
	Results []Result   `json:"results"`
	Err     *SkipError `json:"error,omitempty"`
}

func (p *PhaseReport) ok(kind, localID, name, assignedID string, action Action) {
	p.Results = append(p.Results, Result{
		Kind:       kind,
		LocalID:    localID,
		Name:       name,
		AssignedID: assignedID,
		Action:     action,
	})
}

func (p *PhaseReport) skip(kind, localID, name string, err error) {
	p.Results = append(p.Results, Result{
		Kind:    kind,
		LocalID: localID,
		Name:    name,
		Skip:    Classify(err),
	})
}

// Report collects every per-item outcome of a build or restore. A phase with a non-nil
// Err stopped early; its Results hold what ran before that.
type Report struct {
	GuildID  string         `json:"guild_id"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Phases   []*PhaseReport `json:"phases"`
}

func newReport(guildID string) *Report {
	return &Report{GuildID: guildID, Started: time.Now().UTC()}
}

func (r *Report) phase(p Phase) *PhaseReport {
	pr := &PhaseReport{Phase: p, Results: []Result{}}
	r.Phases = append(r.Phases, pr)
	return pr
}

// Phase returns the report for p, or nil if it did not run.
func (r *Report) Phase(p Phase) *PhaseReport {
	for _, pr := range r.Phases {
		if pr.Phase == p {
			return pr
		}
	}
	return nil
}

type Counts struct {
	OK      int `json:"ok"`
	Skipped int `json:"skipped"`
}

func (r *Report) Counts() map[Phase]Counts {
	counts := make(map[Phase]Counts, len(r.Phases))
	for _, pr := range r.Phases {
		c := counts[pr.Phase]
		for _, res := range pr.Results {
			if res.OK() {
				c.OK++
			} else {
				c.Skipped++
			}
		}
		counts[pr.Phase] = c
	}
	return counts
}

func (r *Report) Succeeded() int {
	n := 0
	for _, c := range r.Counts() {
		n += c.OK
	}
	return n
}

func (r *Report) Skipped() int {
	n := 0
	for _, c := range r.Counts() {
		n += c.Skipped
	}
	return n
}

// Skips returns every skipped item across phases, in execution order.
func (r *Report) Skips() []Result {
	var out []Result
	for _, pr := range r.Phases {
		for _, res := range pr.Results {
			if !res.OK() {
				out = append(out, res)
			}
		}
	}
	return out
}

// Failed lists the phases that stopped early.
func (r *Report) Failed() []Phase {
	var out []Phase
	for _, pr := range r.Phases {
		if pr.Err != nil {
			out = append(out, pr.Phase)
		}
	}
	return out
}

func (r *Report) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}
