package cli

import (
	"errors"
	"fmt"

	"github.com/julianstephens/ptlog/internal/backup"
	"github.com/julianstephens/ptlog/internal/keyring"
	"github.com/julianstephens/ptlog/internal/queue"
)

// DoctorCmd checks the client side: queue database, session, server
// reachability, keyring and backups.
type DoctorCmd struct{}

type check struct {
	name string
	// warn marks checks whose failure does not fail the command
	warn bool
	run  func(ctx *Context) (string, error)
}

func (cmd *DoctorCmd) Run(ctx *Context) error {
	checks := []check{
		{name: "Queue database", run: checkQueue},
		{name: "Session", warn: true, run: checkSession},
		{name: "Server reachable", warn: true, run: checkServer},
		{name: "OS keyring", warn: true, run: checkKeyring},
		{name: "Queue backups", warn: true, run: checkBackups},
	}

	failed := false
	for _, c := range checks {
		detail, err := c.run(ctx)
		switch {
		case err == nil:
			line := "✓ " + c.name + ": OK"
			if detail != "" {
				line += " (" + detail + ")"
			}
			fmt.Fprintln(ctx.Out, okStyle.Render(line))
		case c.warn:
			fmt.Fprintln(ctx.Out, warningStyle.Render("⚠ "+c.name+": "+err.Error()))
		default:
			fmt.Fprintln(ctx.Out, errorStyle.Render("❌ "+c.name+": "+err.Error()))
			failed = true
		}
	}

	if failed {
		return errors.New("one or more health checks failed")
	}
	return nil
}

func checkQueue(ctx *Context) (string, error) {
	s, err := ctx.Queue()
	if err != nil {
		return "", err
	}
	owners, err := s.Owners(ctx.Ctx)
	if err != nil {
		return "", err
	}
	total := 0
	for _, owner := range owners {
		items, err := s.Pending(ctx.Ctx, owner)
		if err != nil {
			return "", err
		}
		total += len(items)
	}
	return fmt.Sprintf("%d queued", total), nil
}

func checkSession(ctx *Context) (string, error) {
	s, err := ctx.Queue()
	if err != nil {
		return "", err
	}
	sess, err := s.CurrentSession(ctx.Ctx)
	if errors.Is(err, queue.ErrNoSession) {
		return "", errors.New("not signed in")
	}
	if err != nil {
		return "", err
	}
	return sess.Identity, nil
}

func checkServer(ctx *Context) (string, error) {
	identity, _ := ctx.Identity()
	if err := ctx.Client(identity).Health(ctx.Ctx); err != nil {
		return "", fmt.Errorf("%s: %w", ctx.ServerURL, err)
	}
	return ctx.ServerURL, nil
}

func checkKeyring(*Context) (string, error) {
	if !keyring.IsAvailable() {
		return "", keyring.ErrKeyringUnavailable
	}
	return "", nil
}

func checkBackups(ctx *Context) (string, error) {
	snapshots, err := backup.NewManager(ctx.QueuePath()).List()
	if err != nil {
		return "", err
	}
	if len(snapshots) == 0 {
		return "", errors.New("none yet, run 'ptlog queue backup create'")
	}
	return fmt.Sprintf("%d, latest %s", len(snapshots), snapshots[0].Timestamp.Local().Format("2006-01-02 15:04")), nil
}
