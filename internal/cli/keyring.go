package cli

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/julianstephens/ptlog/internal/keyring"
	"github.com/julianstephens/ptlog/internal/storage/postgres"
)

// KeyringSetCmd stores the server database connection string. Unlike flags
// and environment variables, the keyring may hold a password.
type KeyringSetCmd struct {
	ConnectionString string `arg:"" help:"PostgreSQL connection string."`
}

func (c *KeyringSetCmd) Run(ctx *Context) error {
	if !isPostgres(c.ConnectionString) {
		return errors.New("connection string must be a PostgreSQL URI or key=value DSN")
	}
	if _, err := postgres.ValidateConnString(c.ConnectionString); err != nil && !errors.Is(err, postgres.ErrEmbeddedCredentials) {
		return fmt.Errorf("invalid connection string: %w", err)
	}
	if err := keyring.SetConnectionString(c.ConnectionString); err != nil {
		return err
	}
	fmt.Fprintln(ctx.Out, okStyle.Render("✓ Connection string stored in OS keyring"))
	return nil
}

type KeyringGetCmd struct{}

func (c *KeyringGetCmd) Run(ctx *Context) error {
	connStr, err := keyring.GetConnectionString()
	if errors.Is(err, keyring.ErrNotFound) {
		return errors.New("no connection string in keyring, use 'ptlog keyring set'")
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(ctx.Out, maskPassword(connStr))
	return nil
}

type KeyringDeleteCmd struct{}

func (c *KeyringDeleteCmd) Run(ctx *Context) error {
	if err := keyring.DeleteConnectionString(); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return errors.New("no connection string in keyring")
		}
		return err
	}
	fmt.Fprintln(ctx.Out, okStyle.Render("✓ Connection string deleted from OS keyring"))
	return nil
}

// maskPassword hides the password of a URI or key=value connection string.
func maskPassword(connStr string) string {
	if strings.HasPrefix(connStr, "postgres://") || strings.HasPrefix(connStr, "postgresql://") {
		u, err := url.Parse(connStr)
		if err != nil || u.User == nil {
			return connStr
		}
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "****")
			return u.String()
		}
		return connStr
	}

	fields := strings.Fields(connStr)
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=****"
		}
	}
	return strings.Join(fields, " ")
}
