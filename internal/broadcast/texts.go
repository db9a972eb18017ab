package broadcast

import (
	"fmt"
	"strings"
	"time"

	"tokbot/internal/directory"
)

func StartText(total int) string {
	return fmt.Sprintf("Broadcast started\nTotal users: %d", total)
}

func SummaryText(s Summary) string {
	var b strings.Builder
	b.WriteString("✅ Broadcast finished\n")
	fmt.Fprintf(&b, "👥 Total users: %d\n", s.Total)
	fmt.Fprintf(&b, "👍 Sent: %d\n", s.Sent)
	fmt.Fprintf(&b, "👎 Not sent: %d\n", s.Failed)
	fmt.Fprintf(&b, "🕐 Elapsed: %d seconds", int(s.Elapsed.Seconds()))
	return b.String()
}

const listFailedText = "⚠️ Broadcast aborted: could not load the user list"

// StatusText renders job statuses for /mailstatus, newest first.
func StatusText(jobs []JobStatus) string {
	if len(jobs) == 0 {
		return "No broadcasts yet"
	}
	var b strings.Builder
	for i, j := range jobs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		state := "finished"
		if j.Running {
			state = "running"
		} else if j.Err != "" {
			state = "failed: " + j.Err
		}
		fmt.Fprintf(&b, "%s (%s)\nstarted %s\nprogress %d/%d, sent %d, not sent %d",
			j.ID, state, j.StartedAt.Format("2006-01-02 15:04:05"), j.Attempted, j.Total, j.Sent, j.Failed)
	}
	return b.String()
}

// HistoryText renders finished broadcasts from the audit trail, newest first.
// It survives restarts, unlike the in-memory job status.
func HistoryText(entries []directory.AuditEntry) string {
	var b strings.Builder
	b.WriteString("History:")
	n := 0
	for _, e := range entries {
		if e.Action != auditAction {
			continue
		}
		n++
		fmt.Fprintf(&b, "\n%s by %d: total %d, sent %d, not sent %d, %s",
			e.At.Local().Format("2006-01-02 15:04"), e.ActorID, e.Total, e.OK, e.Fail,
			(time.Duration(e.TookMS) * time.Millisecond).Round(time.Second))
	}
	if n == 0 {
		return ""
	}
	return b.String()
}
