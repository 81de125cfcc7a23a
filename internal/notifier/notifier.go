// Package notifier shows desktop notifications through the ptlog tray app
// when it is running.
package notifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/julianstephens/ptlog/internal/constants"
)

const trayExecutable = "ptlog-tray"

// ErrTrayNotRunning is returned when no live tray process owns the lockfile.
var ErrTrayNotRunning = errors.New("ptlog-tray is not running")

var (
	userConfigDirFunc = os.UserConfigDir
	findProcessFunc   = ps.FindProcess
)

type payload struct {
	Title      string `json:"title,omitempty"`
	Text       string `json:"text"`
	DurationMs uint32 `json:"duration_ms"`
}

// endpoint is what the tray app writes to its lockfile as "port|pid|secret".
type endpoint struct {
	port   int
	pid    int
	secret string
}

type Notifier struct {
	http *http.Client
}

func New() *Notifier {
	return &Notifier{http: &http.Client{Timeout: 3 * time.Second}}
}

// Notify posts text to the tray app.
func (n *Notifier) Notify(title, text string) error {
	dir, err := TrayConfigDir()
	if err != nil {
		return err
	}
	ep, err := readLockfile(filepath.Join(dir, constants.NotifierLockfileName))
	if err != nil {
		return err
	}
	if err := checkProcess(ep.pid); err != nil {
		return err
	}
	return n.send(ep, payload{Title: title, Text: text, DurationMs: constants.NotificationDurationMs})
}

// Rejected tells the user that a submission left the queue without being
// recorded.
func (n *Notifier) Rejected(key, reason string) error {
	return n.Notify("Exercise log not saved", fmt.Sprintf("Submission %s was rejected: %s", shortKey(key), reason))
}

func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}

// TrayConfigDir is the tray app's config directory, or the lockfile_dir
// override from its settings.json.
func TrayConfigDir() (string, error) {
	base, err := userConfigDirFunc()
	if err != nil {
		return "", fmt.Errorf("failed to get user config dir: %w", err)
	}
	dir := filepath.Join(base, constants.TrayAppIdentifier)

	data, err := os.ReadFile(filepath.Join(dir, "settings.json"))
	if err != nil {
		return dir, nil
	}
	var settings struct {
		Settings struct {
			LockfileDir *string `json:"lockfile_dir"`
		} `json:"settings"`
	}
	if json.Unmarshal(data, &settings) == nil && settings.Settings.LockfileDir != nil && *settings.Settings.LockfileDir != "" {
		return *settings.Settings.LockfileDir, nil
	}
	return dir, nil
}

func readLockfile(path string) (endpoint, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return endpoint{}, ErrTrayNotRunning
	}

	parts := strings.Split(strings.TrimSpace(string(content)), "|")
	if len(parts) != 3 {
		return endpoint{}, errors.New("lockfile is malformed")
	}

	port, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || port < 1 || port > 65535 {
		return endpoint{}, fmt.Errorf("invalid port %q in lockfile", parts[0])
	}
	pid, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || pid < 1 {
		return endpoint{}, fmt.Errorf("invalid process ID %q in lockfile", parts[1])
	}
	secret := strings.TrimSpace(parts[2])
	if secret == "" {
		return endpoint{}, errors.New("secret in lockfile is empty")
	}
	return endpoint{port: port, pid: pid, secret: secret}, nil
}

// checkProcess guards against a stale lockfile whose pid was reused.
func checkProcess(pid int) error {
	proc, err := findProcessFunc(pid)
	if err != nil || proc == nil {
		return ErrTrayNotRunning
	}
	if !strings.HasPrefix(proc.Executable(), trayExecutable) {
		return fmt.Errorf("process %d is %s, not %s", pid, proc.Executable(), trayExecutable)
	}
	return nil
}

func (n *Notifier) send(ep endpoint, p payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("http://127.0.0.1:%d", ep.port), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ptlog-Secret", ep.secret)

	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("notification failed with status %d: %s", resp.StatusCode, msg)
}
