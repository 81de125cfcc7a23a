package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/julianstephens/ptlog/internal/cli"
	"github.com/julianstephens/ptlog/internal/constants"
	"github.com/julianstephens/ptlog/internal/errors"
	"github.com/julianstephens/ptlog/internal/logger"
)

var CLI struct {
	Version   kong.VersionFlag
	Debug     bool   `help:"Log debug output to stderr."`
	ConfigDir string `help:"Directory for the local queue, logs and backups." env:"PTLOG_CONFIG_DIR" default:"${config_dir}" name:"config-dir"`
	DB        string `help:"Server store: sqlite path or PostgreSQL connection string without a password. Defaults to the keyring, then <config-dir>/server.db." env:"PTLOG_DB,PTLOG_DB_CONNECTION"`
	Server    string `help:"Base URL of the ptlog API." env:"PTLOG_SERVER" default:"${server_url}"`

	Submit cli.SubmitCmd `cmd:"" help:"Log an exercise session."`
	Queue  struct {
		List     cli.QueueListCmd     `cmd:"" help:"Show unsent submissions." default:"1"`
		Flush    cli.QueueFlushCmd    `cmd:"" help:"Send queued submissions."`
		Withdraw cli.QueueWithdrawCmd `cmd:"" help:"Cancel an unsent submission."`
		Backup   struct {
			Create  cli.QueueBackupCreateCmd  `cmd:"" help:"Snapshot the local queue." default:"1"`
			List    cli.QueueBackupListCmd    `cmd:"" help:"List queue snapshots."`
			Restore cli.QueueBackupRestoreCmd `cmd:"" help:"Restore the queue from a snapshot."`
		} `cmd:"" help:"Manage queue backups."`
	} `cmd:"" help:"Manage the local submission queue."`
	Session struct {
		Login  cli.SessionLoginCmd  `cmd:"" help:"Sign in on this device."`
		Logout cli.SessionLogoutCmd `cmd:"" help:"Sign out of this device."`
		Whoami cli.SessionWhoamiCmd `cmd:"" help:"Show the signed-in identity." default:"1"`
	} `cmd:"" help:"Manage the signed-in identity."`
	Doctor cli.DoctorCmd `cmd:"" help:"Run client health checks."`

	Serve    cli.ServeCmd   `cmd:"" help:"Run the activity log API."`
	Migrate  cli.MigrateCmd `cmd:"" help:"Create or upgrade the server store."`
	Exercise struct {
		Add      cli.ExerciseAddCmd      `cmd:"" help:"Add or rename an exercise."`
		Activate cli.ExerciseActivateCmd `cmd:"" help:"Activate or deactivate an exercise."`
	} `cmd:"" help:"Seed the exercise vocabulary."`
	Relationship struct {
		Grant  cli.RelationshipGrantCmd  `cmd:"" help:"Allow a caregiver to log for a patient."`
		Revoke cli.RelationshipRevokeCmd `cmd:"" help:"Revoke a caregiver relationship."`
	} `cmd:"" help:"Seed caregiver relationships."`
	Keyring struct {
		Set    cli.KeyringSetCmd    `cmd:"" help:"Store the server database connection string."`
		Get    cli.KeyringGetCmd    `cmd:"" help:"Show the stored connection string (masked)."`
		Delete cli.KeyringDeleteCmd `cmd:"" help:"Remove the stored connection string."`
	} `cmd:"" help:"Manage secrets in the OS keyring."`
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name(constants.AppName),
		kong.Description("Offline-safe physical therapy activity logging"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version":         constants.Version,
			"config_dir":      constants.DefaultConfigDir,
			"server_url":      constants.DefaultServerURL,
			"listen_addr":     constants.DefaultListenAddr,
			"replay_interval": constants.DefaultReplayInterval.String(),
		},
	)

	configDir := cli.ExpandPath(CLI.ConfigDir)
	isServe := kctx.Selected() != nil && kctx.Selected().Name == "serve"
	if err := logger.Init(logger.Config{
		Debug:     CLI.Debug,
		ConfigDir: configDir,
		Stderr:    isServe,
	}); err != nil {
		errors.Fatalf("failed to initialize logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCtx := cli.NewContext(ctx, configDir, CLI.DB, CLI.Server)
	err := kctx.Run(appCtx)
	appCtx.Close()
	if err != nil {
		stop()
		errors.Fatal(err)
	}
}
