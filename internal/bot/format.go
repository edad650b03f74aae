package bot

import (
	"fmt"
	"strings"

	"feedfilter/internal/engine"
	"feedfilter/internal/model"
)

const (
	statusActive   = "active"
	statusPaused   = "paused"
	statusDisabled = "disabled"

	// maxDiagnostics bounds the diagnostics reply to one message.
	maxDiagnostics = 20
)

// FormatStatus summarizes how many rules are enabled.
func FormatStatus(rules []model.Rule) string {
	if len(rules) == 0 {
		return "Ready to filter your feed!"
	}
	active := 0
	for _, r := range rules {
		if r.Enabled {
			active++
		}
	}
	return fmt.Sprintf("%d of %d filters active", active, len(rules))
}

// ShortID abbreviates a rule ID for display. Commands accept the prefix.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// FormatRuleList formats the persisted rules, disabled ones included.
func FormatRuleList(rules []model.Rule) string {
	if len(rules) == 0 {
		return "You have no filters yet. Use /addrule <type> [name] to add one."
	}
	var b strings.Builder
	b.WriteString(FormatStatus(rules))
	b.WriteString("\n")
	for _, r := range rules {
		status := statusActive
		if !r.Enabled {
			status = statusDisabled
		}
		fmt.Fprintf(&b, "\n%s %s (%s) [%s]\n", ShortID(r.ID), r.Name, r.Type.Label(), status)
		if len(r.Keywords) > 0 {
			fmt.Fprintf(&b, "   keywords: %s\n", strings.Join(r.Keywords, ", "))
		}
		if r.Description != "" {
			fmt.Fprintf(&b, "   %s\n", r.Description)
		}
	}
	return b.String()
}

// FormatExemptions formats the exemption settings.
func FormatExemptions(ex model.ExemptionConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Following only: %s\n", onOff(ex.FollowingOnly))
	fmt.Fprintf(&b, "Completely hide: %s\n", onOff(ex.CompletelyHide))
	if len(ex.Usernames) == 0 {
		b.WriteString("Exempt users: none")
	} else {
		fmt.Fprintf(&b, "Exempt users: %s", strings.Join(ex.Usernames, ", "))
	}
	return b.String()
}

// FormatStats formats engine statistics.
func FormatStats(s model.Stats) string {
	return fmt.Sprintf("Hidden posts: %d\nActive filters: %d", s.HiddenCount, s.ActiveFilters)
}

// FormatDiagnostics formats per-post diagnostics in document order.
func FormatDiagnostics(diags []engine.Diagnostic) string {
	if len(diags) == 0 {
		return "No posts in the document."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Posts: %d\n", len(diags))
	for i, d := range diags {
		if i == maxDiagnostics {
			fmt.Fprintf(&b, "\n... and %d more", len(diags)-maxDiagnostics)
			break
		}
		handle := d.Handle
		if handle == "" {
			handle = "(unknown)"
		} else {
			handle = "@" + handle
		}
		verdict := "shown"
		switch {
		case d.Exempt:
			verdict = "exempt: " + d.ExemptReason
		case d.Hide:
			verdict = fmt.Sprintf("hidden by %s: %s", d.Rule, d.Reason)
		}
		fmt.Fprintf(&b, "\n%s %s, %s\n", d.Fingerprint, handle, verdict)
		if len(d.Candidates) > 1 {
			fmt.Fprintf(&b, "   candidates: %s\n", strings.Join(d.Candidates, ", "))
		}
		if d.AdSignal != "" {
			fmt.Fprintf(&b, "   ad signal: %s\n", d.AdSignal)
		}
	}
	return b.String()
}

// FormatSourceList formats a list of feed sources for display.
func FormatSourceList(sources []model.Source) string {
	if len(sources) == 0 {
		return "You have no sources yet. Use /addsource <url> to add one."
	}
	var b strings.Builder
	b.WriteString("Your sources:\n")
	for _, s := range sources {
		status := statusActive
		if !s.IsActive {
			status = statusPaused
		}
		fmt.Fprintf(&b, "\n#%d %s  (every %d min) [%s]\n", s.ID, s.Name, s.IntervalMinutes, status)
		if s.LastCheckAt != nil {
			fmt.Fprintf(&b, "   last check: %s\n", s.LastCheckAt.Format("2006-01-02 15:04 UTC"))
		}
	}
	return b.String()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
