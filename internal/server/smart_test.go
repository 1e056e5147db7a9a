package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/vesaa/nasdash/internal/audit"
	"github.com/vesaa/nasdash/internal/models"
	"github.com/vesaa/nasdash/internal/relay"
	"github.com/vesaa/nasdash/internal/remote"
)

// ---------------------------------------------------------------------------
// SMART route
// ---------------------------------------------------------------------------

func Test_Smart_Cases(t *testing.T) {
	passed := true
	tests := []struct {
		name       string
		diag       *remote.Diagnosis
		err        error
		wantStatus int
		wantKey    string
		wantValue  any
	}{
		{
			name:       "smart record",
			diag:       &remote.Diagnosis{Disk: "sda", Method: "sat", Record: &models.SmartRecord{Disk: "sda", Passed: &passed, DeviceTypeHint: "sat"}},
			wantStatus: http.StatusOK,
			wantKey:    "type",
			wantValue:  "smart",
		},
		{
			name:       "raw text",
			diag:       &remote.Diagnosis{Disk: "sda", Method: "text", Raw: &models.RawDiagnostic{Disk: "sda", Output: "SMART overall-health: PASSED"}},
			wantStatus: http.StatusOK,
			wantKey:    "type",
			wantValue:  "raw",
		},
		{
			name:       "auth failure",
			err:        &remote.SessionAuthError{Host: "nas.lan", Err: errors.New("unable to authenticate")},
			wantStatus: http.StatusUnauthorized,
			wantKey:    "auth_failed",
			wantValue:  true,
		},
		{
			name:       "unsupported",
			err:        &remote.DiagnosticUnsupported{Disk: "sda", Methods: []string{"default", "sat", "sat,auto", "text"}},
			wantStatus: http.StatusUnprocessableEntity,
			wantKey:    "error",
		},
		{
			name:       "unreachable",
			err:        &remote.SessionError{Host: "nas.lan", Op: "dial", Err: errors.New("i/o timeout")},
			wantStatus: http.StatusBadGateway,
			wantKey:    "details",
		},
		{
			name:       "invalid disk",
			err:        remote.ErrInvalidDisk,
			wantStatus: http.StatusBadRequest,
			wantKey:    "error",
		},
		{
			name:       "unexpected",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantKey:    "details",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diag := &fakeDiagnoser{diag: tt.diag, err: tt.err}
			r := newTestEngine(t, Deps{Diagnoser: diag})

			w := do(t, r, http.MethodGet, "/api/disks/sda/smart", testToken(t), nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			out := decode(t, w)
			got, ok := out[tt.wantKey]
			if !ok {
				t.Fatalf("response is missing %q: %s", tt.wantKey, w.Body.String())
			}
			if tt.wantValue != nil && got != tt.wantValue {
				t.Errorf("%s = %v, want %v", tt.wantKey, got, tt.wantValue)
			}
			if diag.gotDisk != "sda" {
				t.Errorf("disk = %q, want sda", diag.gotDisk)
			}
		})
	}
}

func Test_Smart_RequiresToken(t *testing.T) {
	diag := &fakeDiagnoser{}
	r := newTestEngine(t, Deps{Diagnoser: diag})
	if w := do(t, r, http.MethodGet, "/api/disks/sda/smart", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if diag.gotDisk != "" {
		t.Error("diagnoser called without a token")
	}
}

func Test_Smart_NotConfigured(t *testing.T) {
	r := newTestEngine(t, Deps{})
	if w := do(t, r, http.MethodGet, "/api/disks/sda/smart", testToken(t), nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func Test_Smart_OverrideSources(t *testing.T) {
	ok := &remote.Diagnosis{Disk: "sdb", Record: &models.SmartRecord{Disk: "sdb"}}
	tests := []struct {
		name         string
		method       string
		target       string
		body         any
		wantOverride string
		wantCreds    remote.Credentials
	}{
		{
			name:      "get defaults",
			method:    http.MethodGet,
			target:    "/api/disks/sdb/smart",
			wantCreds: testCreds,
		},
		{
			name:         "get query type",
			method:       http.MethodGet,
			target:       "/api/disks/sdb/smart?type=sat",
			wantOverride: "sat",
			wantCreds:    testCreds,
		},
		{
			name:         "post body",
			method:       http.MethodPost,
			target:       "/api/disks/sdb/smart",
			body:         map[string]any{"type": "sat,auto", "user": "admin", "sudo_password": "s3cret"},
			wantOverride: "sat,auto",
			wantCreds:    remote.Credentials{Host: "nas.lan", Port: 22, User: "admin", Password: "pw", SudoPassword: "s3cret"},
		},
		{
			name:      "post host is ignored",
			method:    http.MethodPost,
			target:    "/api/disks/sdb/smart",
			body:      map[string]any{"host": "10.0.0.99", "port": 2222},
			wantCreds: remote.Credentials{Host: "nas.lan", Port: 2222, User: "root", Password: "pw"},
		},
		{
			name:      "post empty body",
			method:    http.MethodPost,
			target:    "/api/disks/sdb/smart",
			wantCreds: testCreds,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diag := &fakeDiagnoser{diag: ok}
			r := newTestEngine(t, Deps{Diagnoser: diag})
			w := do(t, r, tt.method, tt.target, testToken(t), tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
			}
			if diag.gotOverride != tt.wantOverride {
				t.Errorf("override = %q, want %q", diag.gotOverride, tt.wantOverride)
			}
			if diag.gotCreds != tt.wantCreds {
				t.Errorf("creds = %+v, want %+v", diag.gotCreds, tt.wantCreds)
			}
		})
	}
}

func Test_Smart_BadBody(t *testing.T) {
	diag := &fakeDiagnoser{}
	r := newTestEngine(t, Deps{Diagnoser: diag})

	req := httptest.NewRequest(http.MethodPost, "/api/disks/sda/smart", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken(t))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if diag.gotDisk != "" {
		t.Error("diagnoser called with a malformed body")
	}
}

// ---------------------------------------------------------------------------
// Shell relay route
// ---------------------------------------------------------------------------

type failingShells struct{ err error }

func (f failingShells) OpenShell(context.Context, remote.Credentials, int, int) (relay.Terminal, error) {
	return nil, f.err
}

// readFrame dials /ws/ssh on srv and returns the first frame.
func readFrame(t *testing.T, srv *httptest.Server) relay.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/ssh?token=" + testToken(t)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	var msg relay.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	return msg
}

func Test_Shell_Cases(t *testing.T) {
	tests := []struct {
		name        string
		shells      ShellOpener
		wantData    string
		wantOutcome string
	}{
		{"not configured", nil, "remote shell not configured", ""},
		{"auth failure", failingShells{err: &remote.SessionAuthError{Host: "nas.lan", Err: errors.New("denied")}}, "authentication failed", "auth_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := openStore(t)
			srv := httptest.NewServer(newTestEngine(t, Deps{Shells: tt.shells, Audit: store}))
			defer srv.Close()

			msg := readFrame(t, srv)
			if msg.Type != relay.TypeError {
				t.Errorf("type = %q, want %q", msg.Type, relay.TypeError)
			}
			if !strings.Contains(msg.Data, tt.wantData) {
				t.Errorf("data = %q, want it to contain %q", msg.Data, tt.wantData)
			}

			if tt.wantOutcome == "" {
				return
			}
			// The audit write happens before the error frame is sent.
			recs, err := store.Recent(context.Background(), audit.Filter{Kind: models.AuditKindShell})
			if err != nil {
				t.Fatalf("Recent() error: %v", err)
			}
			if len(recs) != 1 || recs[0].Outcome != tt.wantOutcome || recs[0].Target != "nas.lan" {
				t.Errorf("audit = %+v, want one %q record for nas.lan", recs, tt.wantOutcome)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// smartRequest.merge
// ---------------------------------------------------------------------------

func Test_smartRequest_merge(t *testing.T) {
	base := remote.Credentials{Host: "a", Port: 22, User: "root", Password: "pw", PrivateKeyPEM: "KEY"}
	got := smartRequest{Port: 2222, PrivateKey: "OTHER"}.merge(base)
	want := remote.Credentials{Host: "a", Port: 2222, User: "root", Password: "pw", PrivateKeyPEM: "OTHER"}
	if got != want {
		t.Errorf("merge() = %+v, want %+v", got, want)
	}
	if same := (smartRequest{}).merge(base); same != base {
		t.Errorf("empty request changed credentials: %+v", same)
	}
}
