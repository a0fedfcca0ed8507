package dispatch

import (
	"go.uber.org/zap"

	"github.com/telgo/smsrouter/sms"
)

type monitorState int

const (
	monitorUninitialized monitorState = iota
	monitorQueryPending
	monitorResolved
)

// formatByCode maps the capability query's format code to an encoding
// family. Codes outside the table map to FormatUnknown.
var formatByCode = map[int]sms.Format{
	sms.FormatCode3GPP:  sms.Format3GPP,
	sms.FormatCode3GPP2: sms.Format3GPP2,
}

// RegistrationMonitor maintains the current registration state and derives
// the active technology from it. All methods must be called from the
// controller loop.
type RegistrationMonitor struct {
	log           *zap.Logger
	defaultFormat func() sms.Format

	state      monitorState
	registered bool
	format     sms.Format
}

// NewRegistrationMonitor creates a monitor. defaultFormat provides the
// device's default voice technology, used as fallback while the overlay
// registration is inactive or unknown.
func NewRegistrationMonitor(defaultFormat func() sms.Format, logger *zap.Logger) *RegistrationMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationMonitor{
		log:           logger,
		defaultFormat: defaultFormat,
		format:        sms.FormatUnknown,
	}
}

// QueryPending records that a capability query has been issued.
func (m *RegistrationMonitor) QueryPending() {
	m.state = monitorQueryPending
}

// Apply consumes the completion of a capability query. A failed query leaves
// the previous state untouched: stale state is still valid state, and the
// decision path must keep working on it.
func (m *RegistrationMonitor) Apply(result sms.RegistrationResult, err error) {
	m.state = monitorResolved
	if err != nil {
		m.log.Error("registration query failed, keeping previous state", zap.Error(err))
		return
	}

	format, ok := formatByCode[result.FormatCode]
	if !ok {
		format = sms.FormatUnknown
	}
	m.format = format
	m.registered = result.Registered && format != sms.FormatUnknown
	m.log.Info("registration state updated",
		zap.Bool("registered", m.registered),
		zap.String("format", string(m.format)),
	)
}

// Registered reports whether the overlay registration is active with a known
// format.
func (m *RegistrationMonitor) Registered() bool {
	return m.registered
}

// Format returns the format reported by the last successful capability
// query, FormatUnknown before the first one.
func (m *RegistrationMonitor) Format() sms.Format {
	return m.format
}

// ActiveFormat returns the technology that must carry the next outbound
// message: the registered overlay format while registration is active, the
// device's default voice technology otherwise. Callers must query this fresh
// on every dispatch decision, the value is never cached in a tracker.
func (m *RegistrationMonitor) ActiveFormat() sms.Format {
	if !m.registered {
		return m.defaultFormat()
	}
	return m.format
}

// IsFormat reports whether the given dispatcher format tag is the currently
// active technology.
func (m *RegistrationMonitor) IsFormat(format sms.Format) bool {
	return m.ActiveFormat() == format
}
