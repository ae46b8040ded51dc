package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/internal/tally"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// 모든 커맨드가 동일한 출력 포맷을 사용하도록 통일
// ═══════════════════════════════════════════════════════════

var (
	okColor      = color.New(color.FgHiGreen)
	warnColor    = color.New(color.FgYellow)
	errColor     = color.New(color.FgRed)
	headColor    = color.New(color.FgHiCyan, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
	leaderColor  = color.New(color.FgHiMagenta)
	pendingColor = color.New(color.FgHiYellow)
)

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
}

// PrintSeparator prints a visual separator
func PrintSeparator() {
	fmt.Println("───────────────────────────────────────────────────────────")
}

// PrintDoubleSeparator prints a double-line separator
func PrintDoubleSeparator() {
	fmt.Println("═══════════════════════════════════════════════════════════")
}

// PrintHeader prints a titled block header
func PrintHeader(title string) {
	fmt.Println()
	PrintDoubleSeparator()
	fmt.Printf("  %s\n", headColor.Sprint(title))
	PrintSeparator()
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Println()
	fmt.Printf("⚠️  %s\n", warnColor.Sprint(message))
	fmt.Println()
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Printf("✅ %s\n", okColor.Sprint(message))
}

// unitName prints a unit reference the way operators read it
func unitName(ref contracts.UnitRef) string {
	key := ref.Key
	if key == contracts.NationalKey {
		key = "national"
	}
	if ref.Label == "" {
		return fmt.Sprintf("%s %s", ref.Level, key)
	}
	return fmt.Sprintf("%s %s (%s)", ref.Level, key, ref.Label)
}

func stateColor(state contracts.PublicationState) *color.Color {
	if state == contracts.Published {
		return okColor
	}
	return pendingColor
}

// PrintResponse prints a results response
func PrintResponse(resp *tally.Response) {
	PrintHeader("Results · " + unitName(resp.Scope))

	if resp.Status == tally.StatusPendingPublication {
		fmt.Printf("  Status    : %s\n", pendingColor.Sprint("pending publication"))
		if resp.Publication != nil && resp.Publication.DecidedBy != "" {
			fmt.Printf("  Decided by: %s\n", resp.Publication.DecidedBy)
		}
		PrintDoubleSeparator()
		return
	}
	if resp.Gate != nil && resp.Gate.WouldBlock {
		fmt.Printf("  Gate      : %s\n", warnColor.Sprintf("%s mode, external readers would be blocked", resp.Gate.Mode))
	}

	r := resp.Result
	fmt.Printf("  Revision  : %d (as of %s)\n", r.Revision, r.AsOf.Format(time.RFC3339))
	fmt.Printf("  Cells     : %d/%d eligible, %d published\n", r.Coverage.EligibleCells, r.Coverage.TotalCells, r.Coverage.PublishedCells)
	if r.Coverage.PendingCells > 0 {
		fmt.Printf("  Pending   : %s\n", pendingColor.Sprint(strings.Join(r.Coverage.PendingCellCodes, ", ")))
	}
	if len(r.Coverage.InconsistentCells) > 0 {
		fmt.Printf("  Excluded  : %s\n", errColor.Sprint(strings.Join(r.Coverage.InconsistentCells, ", ")))
	}
	if len(r.Coverage.WithheldCells) > 0 {
		fmt.Printf("  Withheld  : %s\n", pendingColor.Sprint(strings.Join(r.Coverage.WithheldCells, ", ")))
	}
	if r.Narrowed {
		fmt.Printf("  Scope     : %s\n", dimColor.Sprint("narrowed to assigned cells"))
	}

	PrintSeparator()
	if r.NoData {
		fmt.Printf("  %s\n", dimColor.Sprint("No data yet"))
		PrintDoubleSeparator()
		return
	}

	t := r.Totals
	fmt.Printf("  Registered: %d (M %d / F %d)\n", t.Registered, t.RegisteredMen, t.RegisteredWomen)
	fmt.Printf("  Voters    : %d (M %d / F %d)\n", t.Voters, t.VotersMen, t.VotersWomen)
	fmt.Printf("  Turnout   : %.2f%%\n", r.Rates.Turnout)
	fmt.Printf("  Null      : %d (%.2f%%)\n", t.NullBallots, r.Rates.NullBallots)
	fmt.Printf("  Blank     : %d (%.2f%%)\n", t.BlankBallots, r.Rates.BlankBallots)
	fmt.Printf("  Expressed : %d\n", t.Expressed)

	PrintSeparator()
	var top int64
	for _, c := range r.Candidates {
		if c.Score > top {
			top = c.Score
		}
	}
	for _, c := range r.Candidates {
		name := c.Name
		if c.Sponsor != nil {
			name += " [" + c.Sponsor.Code + "]"
		}
		line := fmt.Sprintf("  %2d. %-36s %10d  %6.2f%%", c.Slot, name, c.Score, c.Percentage)
		if c.Score == top {
			line = leaderColor.Sprint(line)
		}
		fmt.Println(line)
	}
	PrintDoubleSeparator()
}

// PrintTransition prints the outcome of a release or withdraw
func PrintTransition(action string, report *contracts.TransitionReport) {
	PrintHeader(action)
	fmt.Printf("  Revision  : %d\n", report.Revision)
	fmt.Printf("  Changed   : %d %s\n", len(report.Changed), okColor.Sprint(strings.Join(report.Changed, ", ")))
	for code, reason := range report.Skipped {
		fmt.Printf("  Skipped   : %s %s\n", code, dimColor.Sprint(reason))
	}
	PrintDoubleSeparator()
}

// PrintFlag prints a publication flag change
func PrintFlag(flag *contracts.PublicationFlag) {
	key := flag.UnitKey
	if key == contracts.NationalKey {
		key = "national"
	}
	fmt.Printf("  %-12s %-16s %s  %s\n",
		flag.Level, key, stateColor(flag.State).Sprintf("%-14s", flag.State),
		dimColor.Sprintf("%s @ %s", flag.ChangedBy, flag.ChangedAt.Format(time.RFC3339)))
}

// PrintAudit prints a consistency audit report
func PrintAudit(report *tally.AuditReport) {
	PrintHeader("Consistency audit")
	fmt.Printf("  Revision  : %d\n", report.Revision)
	fmt.Printf("  Checks    : %d\n", report.Checks)
	fmt.Printf("  Cells     : %d eligible, %d pending\n", report.EligibleCells, report.PendingCells)
	PrintSeparator()

	if report.OK() {
		PrintSuccess("All roll-ups are consistent")
		PrintDoubleSeparator()
		return
	}
	for _, code := range report.InconsistentCells {
		fmt.Printf("  %s cell %s has inconsistent rows\n", errColor.Sprint("✗"), code)
	}
	for _, m := range report.Mismatches {
		fmt.Printf("  %s %s\n", errColor.Sprint("✗"), m.String())
	}
	PrintDoubleSeparator()
}
