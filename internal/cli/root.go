package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/julianstephens/ptlog/internal/client"
	"github.com/julianstephens/ptlog/internal/constants"
	"github.com/julianstephens/ptlog/internal/keyring"
	"github.com/julianstephens/ptlog/internal/logger"
	"github.com/julianstephens/ptlog/internal/notifier"
	"github.com/julianstephens/ptlog/internal/queue"
	"github.com/julianstephens/ptlog/internal/storage"
	"github.com/julianstephens/ptlog/internal/storage/postgres"
	"github.com/julianstephens/ptlog/internal/storage/sqlite"
)

// Context is shared by every command. Stores are opened on first use so
// client commands never touch the server database and vice versa.
type Context struct {
	Ctx       context.Context
	ConfigDir string
	// DB is a sqlite path or a PostgreSQL connection string for the server
	// store. Empty means keyring, then <config-dir>/server.db.
	DB        string
	ServerURL string
	Out       io.Writer
	Err       io.Writer

	// Notify surfaces a rejected submission on the desktop. Nil disables it.
	Notify func(key, reason string) error

	store storage.Provider
	queue *queue.SQLiteStorage
}

func NewContext(ctx context.Context, configDir, db, serverURL string) *Context {
	n := notifier.New()
	return &Context{
		Ctx:       ctx,
		ConfigDir: ExpandPath(configDir),
		DB:        db,
		ServerURL: serverURL,
		Out:       os.Stdout,
		Err:       os.Stderr,
		Notify:    n.Rejected,
	}
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func isPostgres(db string) bool {
	return strings.HasPrefix(db, "postgres://") || strings.HasPrefix(db, "postgresql://") || strings.Contains(db, "host=")
}

// OpenStore picks the server store for db without opening it. Passwords
// embedded in a flag or environment value are refused; the keyring is the
// place for them.
func OpenStore(db, configDir string) (storage.Provider, error) {
	if db != "" {
		if !isPostgres(db) {
			return sqlite.NewStore(ExpandPath(db)), nil
		}
		if _, err := postgres.ValidateConnString(db); err != nil {
			if errors.Is(err, postgres.ErrEmbeddedCredentials) {
				return nil, fmt.Errorf("%w; store it with 'ptlog keyring set' or use PGPASSWORD/.pgpass", err)
			}
			return nil, err
		}
		return postgres.New(db), nil
	}

	connStr, err := keyring.GetConnectionString()
	switch {
	case err == nil:
		return postgres.New(connStr), nil
	case errors.Is(err, keyring.ErrNotFound):
	default:
		logger.Debug("Keyring lookup failed", "error", err)
	}
	return sqlite.NewStore(filepath.Join(configDir, constants.ServerDBName)), nil
}

// Store returns the server store, initialised with migrations applied when
// init is true and loaded otherwise.
func (c *Context) Store(init bool) (storage.Provider, error) {
	if c.store != nil {
		return c.store, nil
	}
	store, err := OpenStore(c.DB, c.ConfigDir)
	if err != nil {
		return nil, err
	}
	if init {
		err = store.Init()
	} else {
		err = store.Load()
	}
	if err != nil {
		return nil, err
	}
	c.store = store
	return store, nil
}

func (c *Context) QueuePath() string {
	return filepath.Join(c.ConfigDir, constants.QueueDBName)
}

// Queue opens the device queue database.
func (c *Context) Queue() (*queue.SQLiteStorage, error) {
	if c.queue != nil {
		return c.queue, nil
	}
	s := queue.NewSQLiteStorage(c.QueuePath())
	if err := s.Open(); err != nil {
		return nil, err
	}
	c.queue = s
	return s, nil
}

// Identity returns the signed-in identity.
func (c *Context) Identity() (string, error) {
	s, err := c.Queue()
	if err != nil {
		return "", err
	}
	sess, err := s.CurrentSession(c.Ctx)
	if errors.Is(err, queue.ErrNoSession) {
		return "", errors.New("not signed in, run 'ptlog session login <identity>' first")
	}
	if err != nil {
		return "", err
	}
	return sess.Identity, nil
}

// Client builds a submission client for identity, with its API token when
// one is stored.
func (c *Context) Client(identity string) *client.Client {
	var opts []client.Option
	token, err := keyring.GetToken(identity)
	switch {
	case err == nil:
		opts = append(opts, client.WithToken(token))
	case errors.Is(err, keyring.ErrNotFound):
	default:
		logger.Warn("Could not read API token from keyring", "identity", identity, "error", err)
	}
	return client.New(c.ServerURL, opts...)
}

// surface reports a rejected submission on stderr and, when the tray app
// is running, as a desktop notification.
func (c *Context) surface(r client.Rejection) {
	fmt.Fprintln(c.Err, errorStyle.Render(fmt.Sprintf("✗ Submission %s rejected (%d): %s", r.IdempotencyKey, r.Status, r.Message())))
	if c.Notify == nil {
		return
	}
	if err := c.Notify(r.IdempotencyKey, r.Message()); err != nil {
		logger.Debug("Desktop notification not sent", "error", err)
	}
}

func (c *Context) Close() {
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			logger.Warn("Failed to close store", "error", err)
		}
		c.store = nil
	}
	if c.queue != nil {
		if err := c.queue.Close(); err != nil {
			logger.Warn("Failed to close queue", "error", err)
		}
		c.queue = nil
	}
}
