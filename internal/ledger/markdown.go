package ledger

import (
	"fmt"
	"strings"
	"time"
)

// renderMarkdown produces the human-readable summary, grouped by status.
func (l *Ledger) renderMarkdown() string {
	var b strings.Builder
	title := strings.ToUpper(string(l.category[:1])) + string(l.category[1:])

	fmt.Fprintf(&b, "# TODO List: %s\n\n", title)
	fmt.Fprintf(&b, "Generated: %s\n\n", l.opts.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Stats**: %d total | %d not started | %d in progress | %d completed | %d failed | %d no-op\n\n",
		len(l.items),
		l.CountByStatus(StatusNotStarted),
		l.CountByStatus(StatusInProgress),
		l.CountByStatus(StatusCompleted),
		l.CountByStatus(StatusFailed),
		l.CountByStatus(StatusNoOp))
	b.WriteString("---\n")

	for _, status := range AllStatuses {
		var group []*Item
		for _, it := range l.items {
			if it.Status == status {
				group = append(group, it)
			}
		}
		if len(group) == 0 {
			continue
		}

		fmt.Fprintf(&b, "\n## %s\n", statusHeading(status))
		for _, it := range group {
			check := " "
			if it.Status == StatusCompleted {
				check = "x"
			}
			fmt.Fprintf(&b, "\n### [%s] %s: %s\n\n", check, it.ID, it.Title)
			fmt.Fprintf(&b, "- **Priority**: %s\n", it.Priority)
			fmt.Fprintf(&b, "- **Category**: %s\n", it.Category)
			if it.EstimatedComplexity != "" {
				fmt.Fprintf(&b, "- **Complexity**: %s\n", it.EstimatedComplexity)
			}
			if len(it.FilesAffected) > 0 {
				fmt.Fprintf(&b, "- **Files**: %s\n", strings.Join(it.FilesAffected, ", "))
			}
			if len(it.Dependencies) > 0 {
				fmt.Fprintf(&b, "- **Dependencies**: %s\n", strings.Join(it.Dependencies, ", "))
			}
			if it.ConsecutiveFailures > 0 {
				fmt.Fprintf(&b, "- **Failures**: %d\n", it.ConsecutiveFailures)
			}
			if it.Description != "" {
				fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(it.Description))
			}
			if it.CompletedAt != nil {
				fmt.Fprintf(&b, "\n*Completed: %s*\n", it.CompletedAt.Format(time.RFC3339))
			}
		}
	}
	return b.String()
}

func statusHeading(s Status) string {
	switch s {
	case StatusInProgress:
		return "In Progress"
	case StatusNotStarted:
		return "Not Started"
	case StatusNoOp:
		return "No-Op"
	case StatusFailed:
		return "Failed"
	default:
		return "Completed"
	}
}
