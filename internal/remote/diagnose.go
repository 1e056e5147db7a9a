package remote

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vesaa/nasdash/internal/cascade"
	"github.com/vesaa/nasdash/internal/models"
	"github.com/vesaa/nasdash/internal/smart"
)

// Access methods tried, in order, when none is forced. Disks behind
// USB-SATA bridges usually answer only with the SAT translation.
var DefaultMethods = []string{"", "sat", "sat,auto"}

// MethodPlainText labels the final attempt without JSON output.
const MethodPlainText = "text"

var (
	reDiskName = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	reMethod   = regexp.MustCompile(`^[A-Za-z0-9_,.+-]+$`)
)

// ErrInvalidDisk is returned for disk names that are not plain device names.
var ErrInvalidDisk = errors.New("invalid disk name")

// ErrInvalidMethod is returned for a forced access method with unexpected characters.
var ErrInvalidMethod = errors.New("invalid access method")

// Attempt records one smartctl invocation.
type Attempt struct {
	Method string         `json:"method"`
	Stdout string         `json:"-"`
	Stderr string         `json:"stderr,omitempty"`
	Parsed map[string]any `json:"-"`
	Useful bool           `json:"useful"`
}

// Diagnosis is the outcome of Diagnose: either a parsed record or, when no
// JSON attempt was useful, the plain-text output.
type Diagnosis struct {
	Disk     string                `json:"disk"`
	Method   string                `json:"method"`
	Record   *models.SmartRecord   `json:"record,omitempty"`
	Raw      *models.RawDiagnostic `json:"raw,omitempty"`
	Attempts []Attempt             `json:"attempts"`
}

// Kind returns "smart" for a parsed record and "raw" for text output.
func (d *Diagnosis) Kind() string {
	if d.Record != nil {
		return "smart"
	}
	return "raw"
}

// Diagnoser runs smartctl on the appliance and interprets the result.
type Diagnoser struct {
	exec     Executor
	smartctl string
	logger   *zap.Logger
}

// NewDiagnoser returns a Diagnoser. An empty smartctl path means "smartctl".
func NewDiagnoser(exec Executor, smartctl string, logger *zap.Logger) *Diagnoser {
	if smartctl == "" {
		smartctl = "smartctl"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Diagnoser{exec: exec, smartctl: smartctl, logger: logger}
}

// ValidateDisk rejects names that could escape /dev/<name>.
func ValidateDisk(disk string) error {
	if !reDiskName.MatchString(disk) || disk == "." || disk == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidDisk, disk)
	}
	return nil
}

// Diagnose reads SMART data for disk. With override empty the access
// methods in DefaultMethods are tried until one yields useful data; a
// session failure stops the cascade and is returned as is.
func (d *Diagnoser) Diagnose(ctx context.Context, disk string, creds Credentials, override string) (*Diagnosis, error) {
	if err := ValidateDisk(disk); err != nil {
		return nil, err
	}
	methods := DefaultMethods
	if override != "" {
		if !reMethod.MatchString(override) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, override)
		}
		methods = []string{override}
	}
	device := "/dev/" + disk
	start := time.Now()

	candidates := make([]cascade.Candidate[Attempt], 0, len(methods))
	for _, m := range methods {
		m := m
		candidates = append(candidates, cascade.Candidate[Attempt]{
			Name: m,
			Try: func(ctx context.Context) (Attempt, error) {
				return d.jsonAttempt(ctx, creds, m, device)
			},
		})
	}

	outcome, err := cascade.First(ctx, candidates, func(a Attempt) bool { return a.Useful })
	diag := &Diagnosis{Disk: disk, Attempts: make([]Attempt, 0, len(outcome.Attempts)+1)}
	for _, r := range outcome.Attempts {
		a := r.Value
		a.Method = r.Name
		diag.Attempts = append(diag.Attempts, a)
	}

	if err == nil {
		rec := smart.Parse(outcome.Value.Parsed, disk)
		rec.DeviceTypeHint = outcome.Winner
		diag.Record = &rec
		diag.Method = outcome.Winner
		d.logger.Info("smart diagnosis",
			zap.String("disk", disk),
			zap.String("method", methodLabel(outcome.Winner)),
			zap.Int("attempts", len(diag.Attempts)),
			zap.Duration("elapsed", time.Since(start)),
		)
		return diag, nil
	}
	if !errors.Is(err, cascade.ErrExhausted) {
		return nil, err
	}

	stdout, stderr, err := d.exec.Exec(ctx, creds, fmt.Sprintf("%s -a %s", d.smartctl, device))
	if err != nil {
		return nil, err
	}
	diag.Attempts = append(diag.Attempts, Attempt{Method: MethodPlainText, Stdout: stdout, Stderr: stderr})
	if strings.TrimSpace(stdout) == "" {
		tried := make([]string, 0, len(diag.Attempts))
		for _, a := range diag.Attempts {
			tried = append(tried, methodLabel(a.Method))
		}
		return nil, &DiagnosticUnsupported{Disk: disk, Methods: tried}
	}
	raw := smart.ParseText(stdout, disk)
	diag.Raw = &raw
	diag.Method = MethodPlainText
	d.logger.Info("smart diagnosis fell back to text", zap.String("disk", disk), zap.Int("attempts", len(diag.Attempts)))
	return diag, nil
}

// jsonAttempt runs smartctl with JSON output. Session errors abort the
// cascade; anything else is an unusable attempt.
func (d *Diagnoser) jsonAttempt(ctx context.Context, creds Credentials, method, device string) (Attempt, error) {
	cmd := d.smartctl + " -a -j"
	if method != "" {
		cmd += " -d " + method
	}
	cmd += " " + device

	stdout, stderr, err := d.exec.Exec(ctx, creds, cmd)
	if err != nil {
		return Attempt{Method: method}, cascade.Stop(err)
	}
	a := Attempt{Method: method, Stdout: stdout, Stderr: stderr}
	doc, err := smart.Decode(stdout)
	if err != nil {
		d.logger.Debug("smartctl output not json", zap.String("device", device), zap.String("method", methodLabel(method)))
		return a, nil
	}
	a.Parsed = doc
	a.Useful = smart.IsUseful(doc)
	return a, nil
}

func methodLabel(m string) string {
	if m == "" {
		return "default"
	}
	return m
}
