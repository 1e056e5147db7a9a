// Package upstream holds the read-only HTTP clients for the storage appliance
// (TrueNAS REST API) and the metrics daemon (Netdata).
package upstream

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a required setting that is not configured.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s not set", e.Setting)
}

// IsConfiguration reports whether err wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// UpstreamError reports a network or HTTP failure talking to an upstream.
// Status is zero when no response was received.
type UpstreamError struct {
	Source string
	Path   string
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: HTTP %d", e.Source, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: %v", e.Source, e.Path, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// maxErrorBody bounds the response text kept on an UpstreamError.
const maxErrorBody = 500
