package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// Fake executor
// ---------------------------------------------------------------------------

type reply struct {
	stdout string
	stderr string
	err    error
}

// fakeExec answers commands by exact match and records every call.
type fakeExec struct {
	mu      sync.Mutex
	replies map[string]reply
	calls   []string
}

func (f *fakeExec) Exec(_ context.Context, _ Credentials, cmd string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	r, ok := f.replies[cmd]
	if !ok {
		return "", "", nil
	}
	return r.stdout, r.stderr, r.err
}

const (
	emptyJSON  = `{"smartctl": {"exit_status": 0}, "device": {"name": "/dev/sdb"}}`
	usefulJSON = `{"smartctl": {"exit_status": 0}, "model_name": "ST4000DM004", "rotation_rate": 5425, "smart_status": {"passed": true}, "ata_smart_attributes": {"table": [{"id": 194, "value": 30, "raw": {"value": 30}}]}}`
	openFailed = `{"smartctl": {"exit_status": 2}}`
)

var creds = Credentials{Host: "nas.lan", User: "root", Password: "pw"}

// ---------------------------------------------------------------------------
// Diagnose
// ---------------------------------------------------------------------------

func Test_Diagnose_DefaultUsefulStopsImmediately(t *testing.T) {
	f := &fakeExec{replies: map[string]reply{
		"smartctl -a -j /dev/sda": {stdout: usefulJSON},
	}}
	d := NewDiagnoser(f, "", nil)

	diag, err := d.Diagnose(context.Background(), "sda", creds, "")
	if err != nil {
		t.Fatalf("Diagnose() error: %v", err)
	}
	if diag.Kind() != "smart" || diag.Record == nil {
		t.Fatalf("Kind() = %q", diag.Kind())
	}
	if diag.Record.DeviceTypeHint != "" {
		t.Errorf("DeviceTypeHint = %q, want empty for default method", diag.Record.DeviceTypeHint)
	}
	if len(f.calls) != 1 {
		t.Errorf("calls = %v", f.calls)
	}
}

func Test_Diagnose_BridgeNeedsSAT(t *testing.T) {
	f := &fakeExec{replies: map[string]reply{
		"smartctl -a -j /dev/sdb":        {stdout: emptyJSON},
		"smartctl -a -j -d sat /dev/sdb": {stdout: usefulJSON},
	}}
	d := NewDiagnoser(f, "smartctl", nil)

	diag, err := d.Diagnose(context.Background(), "sdb", creds, "")
	if err != nil {
		t.Fatalf("Diagnose() error: %v", err)
	}
	if diag.Record == nil || diag.Record.DeviceTypeHint != "sat" {
		t.Fatalf("Record = %+v", diag.Record)
	}
	if diag.Record.Temperature == nil || *diag.Record.Temperature != 30 {
		t.Errorf("Temperature = %v", diag.Record.Temperature)
	}
	if len(diag.Attempts) != 2 || len(f.calls) != 2 {
		t.Fatalf("attempts = %d calls = %v, want exactly 2", len(diag.Attempts), f.calls)
	}
	if diag.Attempts[0].Method != "" || diag.Attempts[0].Useful {
		t.Errorf("first attempt = %+v", diag.Attempts[0])
	}
	if diag.Attempts[1].Method != "sat" || !diag.Attempts[1].Useful {
		t.Errorf("second attempt = %+v", diag.Attempts[1])
	}
}

func Test_Diagnose_OverrideTriesOnlyThatMethod(t *testing.T) {
	f := &fakeExec{replies: map[string]reply{
		"smartctl -a -j -d sat,auto /dev/sdc": {stdout: usefulJSON},
	}}
	d := NewDiagnoser(f, "", nil)

	diag, err := d.Diagnose(context.Background(), "sdc", creds, "sat,auto")
	if err != nil {
		t.Fatalf("Diagnose() error: %v", err)
	}
	if diag.Method != "sat,auto" || len(f.calls) != 1 {
		t.Errorf("Method = %q calls = %v", diag.Method, f.calls)
	}
}

func Test_Diagnose_FallsBackToText(t *testing.T) {
	text := "Device Model: OLD DISK\nSerial Number: 123\nSMART overall-health self-assessment test result: PASSED\n"
	f := &fakeExec{replies: map[string]reply{
		"smartctl -a -j /dev/sdd":             {stdout: openFailed},
		"smartctl -a -j -d sat /dev/sdd":      {stdout: "not json"},
		"smartctl -a -j -d sat,auto /dev/sdd": {stdout: emptyJSON},
		"smartctl -a /dev/sdd":                {stdout: text},
	}}
	d := NewDiagnoser(f, "", nil)

	diag, err := d.Diagnose(context.Background(), "sdd", creds, "")
	if err != nil {
		t.Fatalf("Diagnose() error: %v", err)
	}
	if diag.Kind() != "raw" || diag.Raw == nil {
		t.Fatalf("Kind() = %q", diag.Kind())
	}
	if diag.Raw.Model != "OLD DISK" || diag.Raw.Passed == nil || !*diag.Raw.Passed {
		t.Errorf("Raw = %+v", diag.Raw)
	}
	if len(diag.Attempts) != 4 || diag.Attempts[3].Method != MethodPlainText {
		t.Errorf("attempts = %+v", diag.Attempts)
	}
}

func Test_Diagnose_NothingUsableIsUnsupported(t *testing.T) {
	f := &fakeExec{replies: map[string]reply{}}
	d := NewDiagnoser(f, "", nil)

	_, err := d.Diagnose(context.Background(), "sde", creds, "")
	var unsupported *DiagnosticUnsupported
	if !errors.As(err, &unsupported) {
		t.Fatalf("err = %v, want *DiagnosticUnsupported", err)
	}
	if unsupported.Disk != "sde" || len(unsupported.Methods) != 4 {
		t.Errorf("unsupported = %+v", unsupported)
	}
}

func Test_Diagnose_SessionErrorsAbort(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		checkFn func(error) bool
	}{
		{
			name: "auth failure",
			err:  &SessionAuthError{Host: "nas.lan", Err: errors.New("unable to authenticate")},
			checkFn: func(err error) bool {
				var ae *SessionAuthError
				return errors.As(err, &ae)
			},
		},
		{
			name: "connect timeout",
			err:  &SessionError{Host: "nas.lan", Op: "dial", Err: context.DeadlineExceeded},
			checkFn: func(err error) bool {
				var se *SessionError
				return errors.As(err, &se) && errors.Is(err, context.DeadlineExceeded)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeExec{replies: map[string]reply{
				"smartctl -a -j /dev/sdf": {err: tt.err},
			}}
			d := NewDiagnoser(f, "", nil)
			_, err := d.Diagnose(context.Background(), "sdf", creds, "")
			if !tt.checkFn(err) {
				t.Fatalf("err = %v", err)
			}
			var unsupported *DiagnosticUnsupported
			if errors.As(err, &unsupported) {
				t.Error("session error must not look like an unsupported device")
			}
			if len(f.calls) != 1 {
				t.Errorf("calls = %v, want cascade to stop after the first", f.calls)
			}
		})
	}
}

func Test_Diagnose_RejectsBadInput(t *testing.T) {
	d := NewDiagnoser(&fakeExec{}, "", nil)
	for _, disk := range []string{"", "..", "sda;reboot", "../etc/passwd", "sd a"} {
		if _, err := d.Diagnose(context.Background(), disk, creds, ""); !errors.Is(err, ErrInvalidDisk) {
			t.Errorf("disk %q: err = %v, want ErrInvalidDisk", disk, err)
		}
	}
	if _, err := d.Diagnose(context.Background(), "sda", creds, "sat; rm -rf /"); !errors.Is(err, ErrInvalidMethod) {
		t.Errorf("err = %v, want ErrInvalidMethod", err)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func Test_withSudo_Cases(t *testing.T) {
	cmd, input := withSudo("smartctl -a /dev/sda", "")
	if cmd != "smartctl -a /dev/sda" || input != "" {
		t.Errorf("no password: %q %q", cmd, input)
	}
	cmd, input = withSudo("smartctl -a /dev/sda", "hunter2")
	if !strings.HasPrefix(cmd, "sudo -S -p '' ") || input != "hunter2\n" {
		t.Errorf("with password: %q %q", cmd, input)
	}
}

func Test_sudoRejected_Cases(t *testing.T) {
	tests := []struct {
		stderr string
		want   bool
	}{
		{"Sorry, try again.\nsudo: 1 incorrect password attempt\n", true},
		{"sudo: a password is required\n", true},
		{"admin is not in the sudoers file.  This incident will be reported.\n", true},
		{"", false},
		{"smartctl: warning: something unrelated\n", false},
	}
	for _, tt := range tests {
		if got := sudoRejected(tt.stderr); got != tt.want {
			t.Errorf("sudoRejected(%q) = %v, want %v", tt.stderr, got, tt.want)
		}
	}
}

func Test_Credentials_Addr(t *testing.T) {
	if got := (Credentials{Host: "nas"}).Addr(); got != "nas:22" {
		t.Errorf("Addr() = %q", got)
	}
	if got := (Credentials{Host: "fe80::1", Port: 2222}).Addr(); got != "[fe80::1]:2222" {
		t.Errorf("Addr() = %q", got)
	}
}

func Test_SSHExecutor_NoCredentials(t *testing.T) {
	e := NewSSHExecutor(0, 0, nil)
	_, _, err := e.Exec(context.Background(), Credentials{Host: "127.0.0.1"}, "true")
	var ae *SessionAuthError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *SessionAuthError", err)
	}
	_, _, err = e.Exec(context.Background(), Credentials{Password: "x"}, "true")
	var se *SessionError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SessionError", err)
	}
}

func Test_Outcome_Cases(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"auth", &SessionAuthError{Host: "nas", Err: errors.New("denied")}, "auth_failed"},
		{"wrapped auth", fmt.Errorf("diagnose: %w", &SessionAuthError{Host: "nas"}), "auth_failed"},
		{"unsupported", &DiagnosticUnsupported{Disk: "sda"}, "unsupported"},
		{"invalid disk", fmt.Errorf("%w: %q", ErrInvalidDisk, "../x"), "invalid"},
		{"invalid method", ErrInvalidMethod, "invalid"},
		{"session", &SessionError{Host: "nas", Op: "dial", Err: errors.New("refused")}, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Outcome(tt.err); got != tt.want {
				t.Errorf("Outcome() = %q, want %q", got, tt.want)
			}
		})
	}
}
