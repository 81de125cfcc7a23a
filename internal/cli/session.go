package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/julianstephens/ptlog/internal/backup"
	"github.com/julianstephens/ptlog/internal/keyring"
	"github.com/julianstephens/ptlog/internal/logger"
	"github.com/julianstephens/ptlog/internal/queue"
)

type SessionLoginCmd struct {
	Identity string `arg:"" help:"Identity to sign in as."`
	Token    string `help:"API token for the server, stored in the OS keyring." env:"PTLOG_TOKEN"`
}

func (c *SessionLoginCmd) Run(ctx *Context) error {
	s, err := ctx.Queue()
	if err != nil {
		return err
	}

	if prev, err := s.CurrentSession(ctx.Ctx); err == nil && prev.Identity != c.Identity {
		items, err := s.Pending(ctx.Ctx, prev.Identity)
		if err == nil && len(items) > 0 {
			fmt.Fprintln(ctx.Out, warningStyle.Render(fmt.Sprintf(
				"%d queued submission(s) stay with %s and are sent when %s signs in again",
				len(items), prev.Identity, prev.Identity)))
		}
	}

	if c.Token != "" {
		if err := keyring.SetToken(c.Identity, c.Token); err != nil {
			return err
		}
	}
	if err := s.SignIn(ctx.Ctx, c.Identity, time.Now()); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	logger.Info("Signed in", "identity", c.Identity)
	fmt.Fprintln(ctx.Out, okStyle.Render("✓ Signed in as "+c.Identity))
	return nil
}

// SessionLogoutCmd signs out. Queued submissions are kept for the identity
// unless --discard is given, in which case they are backed up and purged.
type SessionLogoutCmd struct {
	Discard bool `help:"Delete this identity's queued submissions (a backup is kept)."`
	Yes     bool `help:"Do not ask for confirmation." short:"y"`
}

func (c *SessionLogoutCmd) Run(ctx *Context) error {
	identity, err := ctx.Identity()
	if err != nil {
		return err
	}
	s, err := ctx.Queue()
	if err != nil {
		return err
	}

	if c.Discard {
		items, err := s.Pending(ctx.Ctx, identity)
		if err != nil {
			return err
		}
		if len(items) > 0 {
			if !c.Yes && !confirm(fmt.Sprintf("Discard %d unsent submission(s) for %s?", len(items), identity)) {
				fmt.Fprintln(ctx.Out, "Cancelled")
				return nil
			}
			path, err := backup.NewManager(ctx.QueuePath()).Snapshot()
			if err != nil {
				return fmt.Errorf("refusing to discard without a backup: %w", err)
			}
			n, err := s.Purge(ctx.Ctx, identity)
			if err != nil {
				return err
			}
			logger.Info("Discarded queued submissions", "identity", identity, "count", n, "backup", path)
			fmt.Fprintln(ctx.Out, warningStyle.Render(fmt.Sprintf("Discarded %d submission(s), backup at %s", n, path)))
		}
	}

	if err := keyring.DeleteToken(identity); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		logger.Warn("Failed to remove API token", "identity", identity, "error", err)
	}
	if err := s.SignOut(ctx.Ctx); err != nil {
		return err
	}
	fmt.Fprintln(ctx.Out, okStyle.Render("✓ Signed out "+identity))
	return nil
}

func confirm(title string) bool {
	confirmed := false
	if err := huh.NewConfirm().Title(title).Affirmative("Discard").Negative("Keep").Value(&confirmed).Run(); err != nil {
		return false
	}
	return confirmed
}

type SessionWhoamiCmd struct{}

func (c *SessionWhoamiCmd) Run(ctx *Context) error {
	s, err := ctx.Queue()
	if err != nil {
		return err
	}
	sess, err := s.CurrentSession(ctx.Ctx)
	if errors.Is(err, queue.ErrNoSession) {
		fmt.Fprintln(ctx.Out, mutedStyle.Render("Not signed in"))
	} else if err != nil {
		return err
	} else {
		items, _ := s.Pending(ctx.Ctx, sess.Identity)
		fmt.Fprintf(ctx.Out, "%s (since %s), %d queued\n", sess.Identity, sess.SignedInAt.Local().Format(time.DateTime), len(items))
	}

	owners, err := s.Owners(ctx.Ctx)
	if err != nil {
		return err
	}
	for _, owner := range owners {
		if owner == sess.Identity {
			continue
		}
		items, _ := s.Pending(ctx.Ctx, owner)
		fmt.Fprintln(ctx.Out, mutedStyle.Render(fmt.Sprintf("  %s has %d queued submission(s)", owner, len(items))))
	}
	return nil
}
