package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/julianstephens/ptlog/internal/client"
	"github.com/julianstephens/ptlog/internal/models"
	"github.com/julianstephens/ptlog/internal/queue"
)

// SubmitCmd records one exercise session, either from flags or from a JSON
// document in the submission format.
type SubmitCmd struct {
	File        string    `arg:"" optional:"" help:"JSON submission file, '-' for stdin."`
	Exercise    string    `help:"Exercise ID." short:"e"`
	Set         []string  `help:"Set as N:reps=10,seconds=30,distance=1.5,side=left,manual,<param>=<value>. Repeatable." short:"s"`
	Patient     string    `help:"Patient to log for (caregivers only)."`
	Notes       string    `help:"Free-text notes."`
	PerformedAt time.Time `help:"When the exercise was performed (RFC 3339). Defaults to now." name:"performed-at"`
	QueueFirst  bool      `help:"Persist to the local queue before the first attempt." name:"queue-first"`
}

func (c *SubmitCmd) Run(ctx *Context) error {
	identity, err := ctx.Identity()
	if err != nil {
		return err
	}
	sub, err := c.build()
	if err != nil {
		return err
	}
	s, err := ctx.Queue()
	if err != nil {
		return err
	}

	sender := client.NewSender(ctx.Client(identity), queue.New(s, identity),
		client.WithQueueFirst(c.QueueFirst),
		client.WithSenderRejectionHandler(ctx.surface))

	res, err := sender.Send(ctx.Ctx, sub)
	if err != nil {
		return err
	}

	switch {
	case res.Outcome == client.OutcomeCommitted && res.Receipt != nil:
		fmt.Fprintln(ctx.Out, okStyle.Render(fmt.Sprintf("✓ Logged %d set(s) as %s", res.Receipt.SetsCommitted, res.Receipt.ID)))
	case res.Outcome == client.OutcomeCommitted, res.Outcome == client.OutcomeDuplicate:
		fmt.Fprintln(ctx.Out, okStyle.Render("✓ Logged "+res.IdempotencyKey))
	case res.Outcome == client.OutcomeRejected:
		return fmt.Errorf("submission %s was rejected", res.IdempotencyKey)
	case res.Queued:
		fmt.Fprintln(ctx.Out, warningStyle.Render("⏸ Server unreachable, saved "+res.IdempotencyKey+" for later. Run 'ptlog queue flush' to retry."))
	}
	return nil
}

func (c *SubmitCmd) build() (models.Submission, error) {
	var sub models.Submission

	if c.File != "" {
		data, err := readInput(c.File)
		if err != nil {
			return sub, err
		}
		if err := json.Unmarshal(data, &sub); err != nil {
			return sub, fmt.Errorf("invalid submission document: %w", err)
		}
	} else {
		if c.Exercise == "" || len(c.Set) == 0 {
			return sub, errors.New("either a submission file or --exercise with at least one --set is required")
		}
		sub.ExerciseID = c.Exercise
		for _, spec := range c.Set {
			set, err := parseSetSpec(spec)
			if err != nil {
				return sub, err
			}
			sub.Sets = append(sub.Sets, set)
		}
	}

	if c.Patient != "" {
		sub.PatientID = c.Patient
	}
	if c.Notes != "" {
		notes := c.Notes
		sub.Notes = &notes
	}
	if !c.PerformedAt.IsZero() {
		sub.PerformedAt = c.PerformedAt
	}
	if sub.PerformedAt.IsZero() {
		sub.PerformedAt = time.Now().UTC().Truncate(time.Second)
	}
	return sub, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// parseSetSpec reads "N:key=value,...". The set number is always explicit.
// Keys other than reps, seconds, distance, side and manual become
// parameters.
func parseSetSpec(spec string) (models.SetPayload, error) {
	var set models.SetPayload

	num, rest, _ := strings.Cut(spec, ":")
	n, err := strconv.Atoi(strings.TrimSpace(num))
	if err != nil || n < 1 {
		return set, fmt.Errorf("set %q: must start with a set number, e.g. 1:reps=10", spec)
	}
	set.SetNumber = n

	params := map[string]string{}
	for _, field := range strings.Split(rest, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		key, value, hasValue := strings.Cut(field, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "reps", "seconds":
			v, err := strconv.Atoi(value)
			if err != nil {
				return set, fmt.Errorf("set %d: %s must be an integer", n, key)
			}
			if key == "reps" {
				set.Reps = &v
			} else {
				set.Seconds = &v
			}
		case "distance":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return set, fmt.Errorf("set %d: distance must be a number", n)
			}
			set.Distance = &v
		case "side":
			set.Side = models.Side(value)
		case "manual":
			set.ManualEntry = !hasValue || value == "true"
		default:
			if !hasValue || key == "" {
				return set, fmt.Errorf("set %d: %q must be name=value", n, field)
			}
			params[key] = value
		}
	}
	set.Parameters = models.ParametersFromMap(params)
	return set, nil
}
