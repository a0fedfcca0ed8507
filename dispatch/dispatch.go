// Package dispatch routes outbound and inbound short messages between the
// two message encoding families and the technology dispatchers that carry
// them. The controller decides for every send which technology's dispatcher
// must transmit the message, and re-encodes messages in flight when the
// registration state changed between the original send and a retry.
package dispatch

import (
	"context"

	"github.com/telgo/smsrouter/sms"
)

// Codec encodes outbound messages into the protocol-specific PDU form of one
// technology and decodes inbound PDUs of the same technology.
type Codec interface {
	Format() sms.Format
	SubmitText(scAddr, destAddr, text string, statusReport bool) (sms.SubmitPDU, error)
	SubmitData(scAddr, destAddr string, destPort int, data []byte, statusReport bool) (sms.SubmitPDU, error)
	SubmitMultipart(scAddr, destAddr string, parts []string, statusReport bool) ([]sms.SubmitPDU, error)
	DecodeDeliver(pdu []byte) (sms.InboundMessage, error)
	DecodeStatusReport(pdu []byte) (msgRef int, delivered bool, err error)
}

// Radio is the low-level radio command channel. Transmit submits an encoded
// PDU and returns the message reference assigned by the radio, which later
// delivery reports refer to. QueryRegistration issues a registration
// capability query towards the transport layer.
type Radio interface {
	Transmit(ctx context.Context, format sms.Format, pdu sms.SubmitPDU) (int, error)
	QueryRegistration(ctx context.Context) (sms.RegistrationResult, error)
}

// InboundHandler consumes accepted inbound messages of one technology. The
// result handle, if not nil, must be signaled exactly once.
type InboundHandler interface {
	HandleInbound(msg sms.InboundMessage, result *sms.ResultHandle)
}

// Store persists sent messages and premium-rate destination permissions.
type Store interface {
	RecordSent(ctx context.Context, rec sms.SentRecord) error
	PremiumPermission(ctx context.Context, pkg string) (sms.Permission, error)
	SetPremiumPermission(ctx context.Context, pkg string, p sms.Permission) error
}

// Dispatcher transmits messages of exactly one technology. A dispatcher is
// homogeneous: it only ever transmits PDUs already encoded in its own
// technology's format. The controller treats both instances polymorphically
// and never special-cases one technology except through the tag returned by
// Format.
type Dispatcher interface {
	Format() sms.Format
	Send(t *sms.Tracker)
	SendText(destAddr, scAddr, text string, sent, delivery *sms.ResultHandle, persist bool)
	SendData(destAddr, scAddr string, destPort int, data []byte, sent, delivery *sms.ResultHandle)
	SendMultipartText(destAddr, scAddr string, parts []string, sent, delivery []*sms.ResultHandle, persist bool)
	Dispose()
}

// Typed events processed by the controller loop.
type event interface{}

type radioUpEvent struct{}

type registrationChangedEvent struct{}

type queryCompletedEvent struct {
	result sms.RegistrationResult
	err    error
}

type sendTextEvent struct {
	destAddr, scAddr, text string
	sent, delivery         *sms.ResultHandle
	persist                bool
}

type sendDataEvent struct {
	destAddr, scAddr string
	destPort         int
	data             []byte
	sent, delivery   *sms.ResultHandle
}

type sendMultipartEvent struct {
	destAddr, scAddr string
	parts            []string
	sent, delivery   []*sms.ResultHandle
	persist          bool
}

type retryEvent struct {
	tracker *sms.Tracker
}

type transmitDoneEvent struct {
	tracker *sms.Tracker
	msgRef  int
	err     error
}

type injectEvent struct {
	pdu    []byte
	format string
	result *sms.ResultHandle
}

type receiveEvent struct {
	pdu    []byte
	format sms.Format
}

type deliveryReportEvent struct {
	pdu    []byte
	format sms.Format
}

type registrationRequest struct {
	response chan<- RegistrationSnapshot
}

// RegistrationSnapshot is a point-in-time view of the registration state.
type RegistrationSnapshot struct {
	Registered bool
	Format     sms.Format
	Active     sms.Format
}
