package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tenant_schema_guard/internal/change"
	"tenant_schema_guard/internal/db"
	"tenant_schema_guard/internal/diff"
	"tenant_schema_guard/internal/reference"
	"tenant_schema_guard/internal/risk"
	"tenant_schema_guard/internal/schema"
)

var ErrNoReference = errors.New("plan requires a loaded reference")

// Plan is the reviewable result of one diff. Counts and manual steps are
// always derived from Changes.
type Plan struct {
	ID               string          `json:"plan_id"`
	TenantID         string          `json:"tenant_id"`
	CreatedAt        time.Time       `json:"created_at"`
	ReferenceVersion string          `json:"reference_version"`
	ReferenceHash    string          `json:"reference_version_hash"`
	Changes          []change.Change `json:"changes"`
	BootstrapSQL     string          `json:"bootstrap_sql,omitempty"`
	Hint             string          `json:"hint,omitempty"`
	Missing          []string        `json:"missing,omitempty"`
}

// Input is everything Build needs. Exactly one of Live and Bootstrap is set.
type Input struct {
	TenantID  string
	Reference *reference.Reference
	Live      *schema.Snapshot
	Bootstrap *db.BootstrapRequired
	Now       time.Time
}

// Build diffs the reference against the live snapshot. A bootstrap signal
// short-circuits to a plan carrying only the bootstrap script.
func Build(in Input) (*Plan, error) {
	if in.Reference == nil {
		return nil, ErrNoReference
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	p := &Plan{
		ID:               uuid.NewString(),
		TenantID:         in.TenantID,
		CreatedAt:        now,
		ReferenceVersion: in.Reference.Version,
		ReferenceHash:    in.Reference.Hash,
		Changes:          []change.Change{},
	}
	if in.Bootstrap != nil {
		p.BootstrapSQL = in.Bootstrap.SQL
		p.Hint = in.Bootstrap.Hint
		p.Missing = append([]string(nil), in.Bootstrap.Missing...)
		return p, nil
	}
	if in.Live == nil {
		return nil, fmt.Errorf("build plan for tenant %s: live snapshot missing", in.TenantID)
	}
	p.Changes = diff.Compare(in.Reference.Snapshot, in.Live, in.Reference.Curated)
	return p, nil
}

// BootstrapRequired reports whether the plan is a bootstrap short-circuit.
func (p *Plan) BootstrapRequired() bool {
	return p.BootstrapSQL != ""
}

// Counts tallies changes per risk level.
func (p *Plan) Counts() map[risk.Level]int {
	return change.Tally(p.Changes)
}

// Tier returns the changes at the given levels in execution order.
func (p *Plan) Tier(levels ...risk.Level) []change.Change {
	return change.InApplyOrder(change.Filter(p.Changes, levels...))
}

// Find returns the change with the given id.
func (p *Plan) Find(id string) (change.Change, bool) {
	for _, c := range p.Changes {
		if c.ID == id {
			return c, true
		}
	}
	return change.Change{}, false
}

// ManualSteps bundles the SQL of every non-SAFE change for operator review.
func (p *Plan) ManualSteps() string {
	var b strings.Builder
	for _, c := range p.Tier(risk.Caution, risk.Destructive) {
		note := ""
		if !c.Curated {
			note = " (generated, not reviewed)"
		}
		fmt.Fprintf(&b, "-- [%s] %s%s\n", c.Level, c.Title, note)
		b.WriteString(strings.TrimSuffix(strings.TrimSpace(c.SQL), ";"))
		b.WriteString(";\n\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

type planJSON Plan

// MarshalJSON adds the derived summary counts and manual steps.
func (p Plan) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		planJSON
		SummaryCounts map[risk.Level]int `json:"summary_counts"`
		ManualSteps   string             `json:"manual_steps"`
	}{
		planJSON:      planJSON(p),
		SummaryCounts: p.Counts(),
		ManualSteps:   p.ManualSteps(),
	})
}
