package core

import (
	"fmt"
	"strings"
	"time"
)

const ioReportWidth = 75

// momentClock formats history timestamps for operator reports.
const momentClock = "2006-01-02 15:04:05.000000"

// ReportRunningTimes renders one line per recorded moment, with the elapsed
// time since the previous moment on end marks, followed by the total running
// time across the history.
func ReportRunningTimes(history []StepMoment) string {
	var b strings.Builder
	b.WriteString("RUNNING TIMES\n")
	b.WriteString("-------------\n")
	var start, last time.Time
	for i, m := range history {
		indent := strings.Repeat("  ", m.Indent)
		switch m.Mark {
		case MarkBegin:
			fmt.Fprintf(&b, "%s%s begin at %s\n", indent, m.Step, m.Timestamp.Format(momentClock))
		case MarkEnd:
			prev := last
			if prev.IsZero() {
				prev = m.Timestamp
			}
			fmt.Fprintf(&b, "%s%s (%s) ends at %s\n", indent, m.Step, m.Timestamp.Sub(prev), m.Timestamp.Format(momentClock))
		}
		if i == 0 {
			start = m.Timestamp
		}
		last = m.Timestamp
	}
	if len(history) > 0 {
		fmt.Fprintf(&b, "TOTAL RUNNING TIME: %s\n", history[len(history)-1].Timestamp.Sub(start))
	}
	return b.String()
}

// ReportIO renders the dataset flow: the starting inputs, then an arrow into
// each completed step, and an arrow into its outputs whenever a moment
// carries any.
func ReportIO(history []StepMoment) string {
	var b strings.Builder
	b.WriteString("\n\n")
	writeCentered(&b, "SHOW IO")
	writeCentered(&b, "-------")
	b.WriteString("\n")
	for i, m := range history {
		if i == 0 {
			writeCentered(&b, strings.Join(m.Inputs, ","))
		}
		if m.Mark == MarkEnd {
			writeFlowArrow(&b)
			writeCentered(&b, m.Step)
		}
		if len(m.Outputs) != 0 {
			writeFlowArrow(&b)
			writeCentered(&b, strings.Join(m.Outputs, ","))
		}
	}
	return b.String()
}

// ReportHistory renders the running-times and dataset-flow reports for the
// recorded history.
func (rc *ExecutionContext) ReportHistory() string {
	history := rc.History()
	return ReportRunningTimes(history) + ReportIO(history)
}

func writeFlowArrow(b *strings.Builder) {
	writeCentered(b, " | ")
	writeCentered(b, `\|/`)
	writeCentered(b, " ' ")
}

func writeCentered(b *strings.Builder, s string) {
	if pad := (ioReportWidth - len(s)) / 2; pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	b.WriteString(s)
	b.WriteByte('\n')
}
