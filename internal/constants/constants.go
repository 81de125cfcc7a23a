package constants

import "time"

const (
	AppName            = "ptlog"
	DefaultKeyringUser = "database-connection"
	Version            = "v0.3.0"

	// DefaultConfigDir holds the client queue database, logs and backups
	DefaultConfigDir = "~/.config/ptlog"
	// QueueDBName is the file name of the client durable queue inside the config dir
	QueueDBName = "queue.db"
	// ServerDBName is the sqlite server database inside the config dir, used
	// when no PostgreSQL connection string is configured
	ServerDBName = "server.db"

	DefaultListenAddr = "127.0.0.1:8080"
	DefaultServerURL  = "http://127.0.0.1:8080"

	// CallerHeader carries the authenticated caller identity. It is set by the
	// authenticating gateway in front of the server.
	CallerHeader = "X-Ptlog-Caller"

	ActivityLogsPath = "/v1/activity-logs"

	// MaxSubmissionBytes caps the request body accepted by the server
	MaxSubmissionBytes = 1 << 20
	// MaxSetsPerSubmission caps how many sets a single submission may carry
	MaxSetsPerSubmission = 500
	// MaxParametersPerSet caps how many parameter entries a single set may carry
	MaxParametersPerSet = 50
	// MaxIdempotencyKeyLen is the longest idempotency key the server accepts
	MaxIdempotencyKeyLen = 128
	// MaxNotesLen is the longest free-text note accepted, in bytes
	MaxNotesLen = 4000

	DefaultRequestTimeout = 15 * time.Second
	DefaultReplayInterval = 30 * time.Second
	// ClaimLease is how long a queued item stays claimed by a sender that
	// never released it, e.g. after a crash
	ClaimLease = 4 * DefaultRequestTimeout

	// Notifier constants
	TrayAppIdentifier      = "com.julianstephens.ptlog-tray"
	NotifierLockfileName   = "ptlog-tray.lock"
	NotificationDurationMs = 8000
)
