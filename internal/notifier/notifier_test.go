package notifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	ps "github.com/mitchellh/go-ps"

	"github.com/julianstephens/ptlog/internal/constants"
)

type mockProcess struct {
	pid        int
	executable string
}

func (m *mockProcess) Pid() int           { return m.pid }
func (m *mockProcess) PPid() int          { return 0 }
func (m *mockProcess) Executable() string { return m.executable }

func withConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old := userConfigDirFunc
	userConfigDirFunc = func() (string, error) { return dir, nil }
	t.Cleanup(func() { userConfigDirFunc = old })
	return dir
}

func withProcess(t *testing.T, proc ps.Process) {
	t.Helper()
	old := findProcessFunc
	findProcessFunc = func(int) (ps.Process, error) { return proc, nil }
	t.Cleanup(func() { findProcessFunc = old })
}

func TestTrayConfigDir(t *testing.T) {
	base := withConfigDir(t)
	trayDir := filepath.Join(base, constants.TrayAppIdentifier)

	dir, err := TrayConfigDir()
	if err != nil || dir != trayDir {
		t.Fatalf("default dir = %q, %v", dir, err)
	}

	custom := filepath.Join(base, "elsewhere")
	if err := os.MkdirAll(trayDir, 0755); err != nil {
		t.Fatal(err)
	}
	settings := fmt.Sprintf(`{"settings":{"lockfile_dir":%q}}`, custom)
	if err := os.WriteFile(filepath.Join(trayDir, "settings.json"), []byte(settings), 0644); err != nil {
		t.Fatal(err)
	}
	if dir, _ := TrayConfigDir(); dir != custom {
		t.Errorf("override dir = %q, want %q", dir, custom)
	}
}

func TestReadLockfile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"valid", "4567|123|s3cret\n", false},
		{"two parts", "4567|123", true},
		{"bad port", "abc|123|s", true},
		{"port out of range", "70000|123|s", true},
		{"bad pid", "4567|x|s", true},
		{"empty secret", "4567|123| ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "lock")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			ep, err := readLockfile(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("readLockfile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (ep.port != 4567 || ep.pid != 123 || ep.secret != "s3cret") {
				t.Errorf("endpoint = %+v", ep)
			}
		})
	}

	if _, err := readLockfile(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, ErrTrayNotRunning) {
		t.Errorf("missing lockfile error = %v", err)
	}
}

func TestCheckProcess(t *testing.T) {
	withProcess(t, &mockProcess{pid: 1, executable: "ptlog-tray"})
	if err := checkProcess(1); err != nil {
		t.Errorf("tray process refused: %v", err)
	}

	withProcess(t, &mockProcess{pid: 1, executable: "bash"})
	if err := checkProcess(1); err == nil {
		t.Error("reused pid should be refused")
	}

	withProcess(t, nil)
	if err := checkProcess(1); !errors.Is(err, ErrTrayNotRunning) {
		t.Errorf("dead process error = %v", err)
	}
}

func TestRejectedSendsNotification(t *testing.T) {
	var got payload
	var secret string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret = r.Header.Get("X-Ptlog-Secret")
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer ts.Close()

	u, _ := url.Parse(ts.URL)
	port, _ := strconv.Atoi(u.Port())

	base := withConfigDir(t)
	trayDir := filepath.Join(base, constants.TrayAppIdentifier)
	if err := os.MkdirAll(trayDir, 0755); err != nil {
		t.Fatal(err)
	}
	lock := fmt.Sprintf("%d|%d|topsecret", port, 4242)
	if err := os.WriteFile(filepath.Join(trayDir, constants.NotifierLockfileName), []byte(lock), 0600); err != nil {
		t.Fatal(err)
	}
	withProcess(t, &mockProcess{pid: 4242, executable: "ptlog-tray"})

	if err := New().Rejected("0123456789abcdef", "sets[0].set_number: is required"); err != nil {
		t.Fatalf("Rejected failed: %v", err)
	}
	if secret != "topsecret" {
		t.Errorf("secret header = %q", secret)
	}
	if !strings.Contains(got.Text, "01234567") || strings.Contains(got.Text, "89abcdef") || got.DurationMs != constants.NotificationDurationMs {
		t.Errorf("payload = %+v", got)
	}
}

func TestNotifyWithoutTray(t *testing.T) {
	withConfigDir(t)
	if err := New().Notify("t", "x"); !errors.Is(err, ErrTrayNotRunning) {
		t.Errorf("error = %v, want ErrTrayNotRunning", err)
	}
}
