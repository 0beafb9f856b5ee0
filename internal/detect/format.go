package detect

import (
	"fmt"
	"strings"
)

// FormatText renders a change list one line per node.
func FormatText(changes []Change) string {
	var sb strings.Builder
	for _, c := range changes {
		sb.WriteString(fmt.Sprintf("%s %s %s\n", actionChar(c.Action), c.EntityKind, c.ID))
	}

	s := Summarize(changes)
	if s.Added+s.Modified+s.Removed > 0 {
		sb.WriteString(fmt.Sprintf("\nSummary: %d nodes (%d added, %d modified, %d removed)\n",
			s.Added+s.Modified+s.Removed, s.Added, s.Modified, s.Removed))
	}
	return sb.String()
}

func actionChar(a Action) string {
	switch a {
	case ActionAdded:
		return "+"
	case ActionRemoved:
		return "-"
	case ActionModified:
		return "~"
	default:
		return "?"
	}
}
