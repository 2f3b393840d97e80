package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"tenant_schema_guard/internal/executor"
	"tenant_schema_guard/internal/history"
	"tenant_schema_guard/internal/plan"
	"tenant_schema_guard/internal/preflight"
	"tenant_schema_guard/internal/risk"
	"tenant_schema_guard/internal/store"
)

var (
	safeColor        = color.New(color.FgGreen)
	cautionColor     = color.New(color.FgYellow)
	destructiveColor = color.New(color.FgRed, color.Bold)
	mutedColor       = color.New(color.FgHiBlack)
)

func levelColor(l risk.Level) *color.Color {
	switch l {
	case risk.Safe:
		return safeColor
	case risk.Caution:
		return cautionColor
	default:
		return destructiveColor
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderPlan(w io.Writer, p *plan.Plan) {
	fmt.Fprintf(w, "Plan %s for tenant %s\n", p.ID, p.TenantID)
	fmt.Fprintf(w, "Reference %s (%s)\n", p.ReferenceVersion, shortHash(p.ReferenceHash))

	if p.BootstrapRequired() {
		fmt.Fprintf(w, "\n%s missing: %s\n", destructiveColor.Sprint("BOOTSTRAP REQUIRED"), strings.Join(p.Missing, ", "))
		fmt.Fprintf(w, "%s\n\n%s\n", p.Hint, p.BootstrapSQL)
		return
	}
	if len(p.Changes) == 0 {
		fmt.Fprintf(w, "\n%s\n", safeColor.Sprint("No drift. Tenant matches the reference."))
		return
	}

	counts := p.Counts()
	parts := make([]string, 0, 3)
	for _, l := range risk.Levels() {
		parts = append(parts, levelColor(l).Sprintf("%s %d", l, counts[l]))
	}
	fmt.Fprintf(w, "\n%s\n\n", strings.Join(parts, "  "))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LEVEL\tCHANGE\tTITLE")
	for _, c := range p.Tier(risk.Levels()...) {
		title := c.Title
		if !c.Curated && c.Level != risk.Safe {
			title += mutedColor.Sprint(" (generated, not reviewed)")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", levelColor(c.Level).Sprint(c.Level), c.ID, title)
	}
	_ = tw.Flush()

	if steps := p.ManualSteps(); steps != "" {
		fmt.Fprintf(w, "\nManual steps:\n%s\n", steps)
	}
}

// planSummary is one row of a multi-tenant plan run.
type planSummary struct {
	TenantID  string             `json:"tenant_id"`
	Tenant    string             `json:"tenant"`
	PlanID    string             `json:"plan_id,omitempty"`
	Bootstrap bool               `json:"bootstrap_required,omitempty"`
	Counts    map[risk.Level]int `json:"summary_counts,omitempty"`
	Error     string             `json:"error,omitempty"`
}

func renderSummaries(w io.Writer, rows []planSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TENANT\tPLAN\tSAFE\tCAUTION\tDESTRUCTIVE\tSTATUS")
	for _, r := range rows {
		status := safeColor.Sprint("ok")
		switch {
		case r.Error != "":
			status = destructiveColor.Sprint(r.Error)
		case r.Bootstrap:
			status = cautionColor.Sprint("bootstrap required")
		case r.Counts[risk.Caution]+r.Counts[risk.Destructive] > 0:
			status = cautionColor.Sprint("needs review")
		case r.Counts[risk.Safe] > 0:
			status = "drift"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", r.Tenant, r.PlanID,
			r.Counts[risk.Safe], r.Counts[risk.Caution], r.Counts[risk.Destructive], status)
	}
	_ = tw.Flush()
}

func renderResult(w io.Writer, res executor.Result) {
	state := string(res.State)
	switch res.State {
	case executor.StateCommitted:
		state = safeColor.Sprint(state)
	case executor.StatePartiallyFailed:
		state = cautionColor.Sprint(state)
	default:
		state = destructiveColor.Sprint(state)
	}
	fmt.Fprintf(w, "Plan %s: %s\n", res.PlanID, state)
	if res.Error != "" {
		fmt.Fprintf(w, "%s: %s\n", res.Code, res.Error)
	}
	for _, s := range res.Statements {
		mark := safeColor.Sprint("ok  ")
		switch {
		case !s.Executed:
			mark = mutedColor.Sprint("skip")
		case !s.OK:
			mark = destructiveColor.Sprint("fail")
		}
		line := fmt.Sprintf("  %s %s", mark, oneLine(s.Statement))
		if s.Note != "" {
			line += mutedColor.Sprintf(" (%s)", s.Note)
		}
		if s.Error != "" {
			line += fmt.Sprintf(" [%s] %s", s.ErrorKind, s.Error)
		}
		fmt.Fprintln(w, line)
	}
}

func renderPreflight(w io.Writer, results []preflight.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No preflight queries.")
		return
	}
	for _, r := range results {
		if !r.OK {
			fmt.Fprintf(w, "%s %s\n  %s [%s] %s\n", destructiveColor.Sprint("fail"), r.ChangeID, oneLine(r.Query), r.ErrorKind, r.Error)
			continue
		}
		rows := 0
		if r.Rows != nil {
			rows = len(r.Rows.Rows)
		}
		fmt.Fprintf(w, "%s %s\n  %s (%d rows)\n", safeColor.Sprint("ok  "), r.ChangeID, oneLine(r.Query), rows)
	}
}

func renderHistory(w io.Writer, records []history.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTATUS\tPLAN\tACTOR\tREFERENCE")
	for _, r := range records {
		pid := "-"
		if r.PlanID != nil {
			pid = r.PlanID.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.CreatedAt.Format("2006-01-02 15:04:05"), r.Status, pid, r.Actor, shortHash(r.SSOTHash))
	}
	_ = tw.Flush()
}

func renderTenants(w io.Writer, tenants []store.Tenant) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tHOST\tDATABASE\tNAMESPACE\tACTIVE")
	for _, t := range tenants {
		active := safeColor.Sprint("yes")
		if !t.IsActive {
			active = mutedColor.Sprint("no")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s:%d\t%s\t%s\t%s\n", t.ID, t.Name, t.Host, t.Port, t.DBName, t.Namespace, active)
	}
	_ = tw.Flush()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
