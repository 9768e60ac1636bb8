package events

import (
	"errors"
	"fmt"
	"time"
)

// Mode is the entry point that served the request.
type Mode string

// Supported modes.
const (
	ModeAPI   Mode = "api"
	ModeProxy Mode = "proxy"
)

// Event records how a single request was served.
type Event struct {
	RequestID string    `json:"requestId"`
	TS        time.Time `json:"ts"`
	Mode      Mode      `json:"mode"`
	// Outcome mirrors the X-Edge-Cache value sent to the client.
	Outcome  string `json:"outcome"`
	Host     string `json:"host"`
	TenantID string `json:"tenantId,omitempty"`
	Bot      bool   `json:"bot"`
	// OriginStatus is the upstream status when an origin was contacted.
	OriginStatus  int           `json:"originStatus,omitempty"`
	Dur           time.Duration `json:"durationNs"`
	OriginalBytes int64         `json:"originalBytes,omitempty"`
	RenderedBytes int64         `json:"renderedBytes,omitempty"`
	Note          string        `json:"note,omitempty"`
}

// Validate rejects events that sinks cannot label.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Mode {
	case ModeAPI, ModeProxy:
	default:
		return fmt.Errorf("unknown mode %q", e.Mode)
	}
	if e.Outcome == "" {
		return errors.New("outcome is required")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// SavingsRatio is the fraction of bytes a crawler did not have to read
// because it received the rendering instead of the original page. It is
// zero when either size is unknown.
func (e Event) SavingsRatio() float64 {
	if e.OriginalBytes <= 0 || e.RenderedBytes <= 0 {
		return 0
	}
	ratio := 1 - float64(e.RenderedBytes)/float64(e.OriginalBytes)
	if ratio < 0 {
		return 0
	}
	return ratio
}
