package remote

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/vesaa/nasdash/internal/models"
)

const gpuQuery = "nvidia-smi --query-gpu=utilization.gpu,temperature.gpu,memory.used,memory.total --format=csv,noheader,nounits"

// GPUProbe reads the first GPU's counters with nvidia-smi.
type GPUProbe struct {
	exec   Executor
	creds  Credentials
	logger *zap.Logger
}

// NewGPUProbe returns a probe that runs on the host named by creds.
func NewGPUProbe(exec Executor, creds Credentials, logger *zap.Logger) *GPUProbe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GPUProbe{exec: exec, creds: creds, logger: logger}
}

// Read returns the current GPU counters; ok is false on any failure.
func (p *GPUProbe) Read(ctx context.Context) (*models.GPU, bool) {
	stdout, _, err := p.exec.Exec(ctx, p.creds, gpuQuery)
	if err != nil {
		p.logger.Debug("gpu probe failed", zap.Error(err))
		return nil, false
	}
	return ParseGPU(stdout)
}

// ParseGPU reads the first CSV row of the nvidia-smi query.
func ParseGPU(out string) (*models.GPU, bool) {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	fields := strings.Split(line, ",")
	if len(fields) < 4 {
		return nil, false
	}
	vals := make([]float64, 4)
	for i := range vals {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return nil, false
		}
		vals[i] = v
	}
	return &models.GPU{
		Utilization: vals[0],
		Temperature: vals[1],
		MemoryUsed:  vals[2],
		MemoryTotal: vals[3],
	}, true
}
