package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/julianstephens/ptlog/internal/client"
	"github.com/julianstephens/ptlog/internal/constants"
	"github.com/julianstephens/ptlog/internal/models"
	"github.com/julianstephens/ptlog/internal/queue"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// summary is what the queue table shows for one payload. Undecodable
// payloads are still listed.
func summary(item queue.Item) (exercise, performed, sets string) {
	var sub models.Submission
	if err := json.Unmarshal(item.Payload, &sub); err != nil {
		return "?", "?", "?"
	}
	performed = "-"
	if !sub.PerformedAt.IsZero() {
		performed = sub.PerformedAt.Local().Format("2006-01-02 15:04")
	}
	return sub.ExerciseID, performed, strconv.Itoa(len(sub.Sets))
}

func state(item queue.Item) string {
	if !item.ClaimedAt.IsZero() && time.Since(item.ClaimedAt) < constants.ClaimLease {
		return "sending"
	}
	return "waiting"
}

func renderQueue(w io.Writer, items []queue.Item) {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("#", "KEY", "EXERCISE", "PERFORMED", "SETS", "QUEUED", "STATE")

	for i, item := range items {
		exercise, performed, sets := summary(item)
		t.Row(
			strconv.Itoa(i+1),
			item.IdempotencyKey,
			exercise,
			performed,
			sets,
			item.EnqueuedAt.Local().Format(time.DateTime),
			state(item),
		)
	}
	fmt.Fprintln(w, t.Render())
}

func renderReport(w io.Writer, r client.Report) {
	for _, key := range r.Committed {
		fmt.Fprintln(w, okStyle.Render("✓ "+key+" committed"))
	}
	for _, key := range r.Duplicate {
		fmt.Fprintln(w, okStyle.Render("✓ "+key+" already recorded"))
	}
	if r.StoppedAt != "" {
		msg := fmt.Sprintf("⏸ %s not delivered, %d submission(s) still queued", r.StoppedAt, r.Remaining)
		if r.LastError != nil {
			msg += ": " + r.LastError.Error()
		}
		fmt.Fprintln(w, warningStyle.Render(msg))
	}
	if r.Sent() == 0 && r.StoppedAt == "" {
		fmt.Fprintln(w, mutedStyle.Render("Queue is empty"))
	}
}
