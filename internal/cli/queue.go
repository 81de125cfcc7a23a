package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/julianstephens/ptlog/internal/backup"
	"github.com/julianstephens/ptlog/internal/client"
	"github.com/julianstephens/ptlog/internal/constants"
	"github.com/julianstephens/ptlog/internal/queue"
)

type QueueListCmd struct{}

func (c *QueueListCmd) Run(ctx *Context) error {
	identity, err := ctx.Identity()
	if err != nil {
		return err
	}
	s, err := ctx.Queue()
	if err != nil {
		return err
	}
	items, err := queue.New(s, identity).Pending(ctx.Ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}
	if len(items) == 0 {
		fmt.Fprintln(ctx.Out, mutedStyle.Render("No queued submissions for "+identity))
		return nil
	}
	renderQueue(ctx.Out, items)
	return nil
}

// QueueFlushCmd replays the queue once, or keeps replaying with --watch.
type QueueFlushCmd struct {
	Watch    bool          `help:"Keep replaying until interrupted." short:"w"`
	Interval time.Duration `help:"Delay between replay passes with --watch." default:"${replay_interval}"`
}

func (c *QueueFlushCmd) Run(ctx *Context) error {
	identity, err := ctx.Identity()
	if err != nil {
		return err
	}
	s, err := ctx.Queue()
	if err != nil {
		return err
	}

	replayer := client.NewReplayer(ctx.Client(identity), queue.New(s, identity),
		client.WithRejectionHandler(ctx.surface))

	if c.Watch {
		interval := c.Interval
		if interval <= 0 {
			interval = constants.DefaultReplayInterval
		}
		fmt.Fprintln(ctx.Out, mutedStyle.Render(fmt.Sprintf("Replaying every %s, Ctrl+C to stop", interval)))
		return replayer.Watch(ctx.Ctx, interval, func(r client.Report) { renderReport(ctx.Out, r) })
	}

	report, err := replayer.Replay(ctx.Ctx)
	renderReport(ctx.Out, report)
	return err
}

type QueueWithdrawCmd struct {
	Key string `arg:"" help:"Idempotency key of the queued submission."`
}

func (c *QueueWithdrawCmd) Run(ctx *Context) error {
	identity, err := ctx.Identity()
	if err != nil {
		return err
	}
	s, err := ctx.Queue()
	if err != nil {
		return err
	}

	err = queue.New(s, identity).Withdraw(ctx.Ctx, c.Key)
	switch {
	case errors.Is(err, queue.ErrNotQueued):
		return fmt.Errorf("no queued submission %s for %s", c.Key, identity)
	case errors.Is(err, queue.ErrInFlight):
		return fmt.Errorf("submission %s is being sent and cannot be withdrawn", c.Key)
	case err != nil:
		return err
	}
	fmt.Fprintln(ctx.Out, okStyle.Render("✓ Withdrew "+c.Key))
	return nil
}

type QueueBackupCreateCmd struct{}

func (c *QueueBackupCreateCmd) Run(ctx *Context) error {
	// the queue must exist before it can be snapshotted
	if _, err := ctx.Queue(); err != nil {
		return err
	}
	path, err := backup.NewManager(ctx.QueuePath()).Snapshot()
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.Out, okStyle.Render("✓ Backup written to "+path))
	return nil
}

type QueueBackupListCmd struct{}

func (c *QueueBackupListCmd) Run(ctx *Context) error {
	snapshots, err := backup.NewManager(ctx.QueuePath()).List()
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(ctx.Out, mutedStyle.Render("No queue backups"))
		return nil
	}
	for _, s := range snapshots {
		fmt.Fprintf(ctx.Out, "  %s  %s  %d bytes\n", s.Timestamp.Local().Format(time.DateTime), filepath.Base(s.Path), s.Size)
	}
	return nil
}

type QueueBackupRestoreCmd struct {
	Path string `arg:"" help:"Backup file to restore." type:"existingfile"`
	Yes  bool   `help:"Do not ask for confirmation." short:"y"`
}

func (c *QueueBackupRestoreCmd) Run(ctx *Context) error {
	if !c.Yes {
		confirmed := false
		err := huh.NewConfirm().
			Title("Replace the local queue with " + filepath.Base(c.Path) + "?").
			Description("The current queue is backed up first.").
			Value(&confirmed).
			Run()
		if err != nil {
			return fmt.Errorf("interactive form error: %w", err)
		}
		if !confirmed {
			fmt.Fprintln(ctx.Out, "Cancelled")
			return nil
		}
	}

	// restore needs the database closed
	ctx.Close()
	if err := backup.NewManager(ctx.QueuePath()).Restore(c.Path); err != nil {
		return err
	}
	fmt.Fprintln(ctx.Out, okStyle.Render("✓ Queue restored from "+filepath.Base(c.Path)))
	return nil
}
