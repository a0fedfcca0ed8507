package sms

import (
	"errors"
	"sync"
)

// Payload carries the original un-encoded submission parameters of a message,
// so that the message can be re-encoded for either technology later. A nil
// Payload means re-encoding is impossible and a cross-format retry must fail.
type Payload interface {
	payload()
}

// TextPayload holds the parameters of a text send.
type TextPayload struct {
	DestAddr string
	SCAddr   string
	Text     string
}

func (TextPayload) payload() {}

// DataPayload holds the parameters of a data send to an application port.
type DataPayload struct {
	DestAddr string
	SCAddr   string
	DestPort int
	Data     []byte
}

func (DataPayload) payload() {}

// ErrCanceled is returned when a result is sent to a canceled handle.
var ErrCanceled = errors.New("result handle canceled")

// ResultHandle delivers a result code to the caller of a send or inject
// operation. The caller may cancel the handle at any time; sending to a
// canceled handle returns ErrCanceled and has no other effect. A nil handle
// means the caller did not request a result and can be sent to safely.
type ResultHandle struct {
	mu       sync.Mutex
	canceled bool
	fn       func(ResultCode)
}

// NewResultHandle creates a result handle that invokes fn with the result code.
func NewResultHandle(fn func(ResultCode)) *ResultHandle {
	return &ResultHandle{fn: fn}
}

// Cancel marks the handle as canceled. Subsequent sends are no-ops.
func (h *ResultHandle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.canceled = true
}

// Send delivers the given result code to the caller.
func (h *ResultHandle) Send(code ResultCode) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.canceled {
		return ErrCanceled
	}
	if h.fn != nil {
		h.fn(code)
	}
	return nil
}

// Tracker is the mutable record of one logical outbound message attempt. It
// is created by a dispatcher on submission and shared by both dispatchers
// across a possible technology switch: the router mutates Format, PDU and
// SCAddress in place when it re-routes the message.
type Tracker struct {
	Format            Format
	PDU               []byte
	SCAddress         []byte
	DeliveryRequested bool
	Persist           bool

	// Payload holds the original submission parameters for re-encoding.
	Payload Payload

	Sent     *ResultHandle
	Delivery *ResultHandle

	RetryCount int
	MsgRef     int

	sentSignaled     bool
	deliverySignaled bool
	failed           bool
}

// SignalSent reports the terminal sent result exactly once. Further calls are
// no-ops. A non-OK code makes the tracker terminal: the delivery callback
// will never fire afterwards.
func (t *Tracker) SignalSent(code ResultCode) error {
	if t.sentSignaled {
		return nil
	}
	t.sentSignaled = true
	if code != ResultOK {
		t.failed = true
	}
	return t.Sent.Send(code)
}

// SignalDelivered reports delivery exactly once, and only after a successful
// sent result.
func (t *Tracker) SignalDelivered() error {
	if !t.sentSignaled || t.failed || t.deliverySignaled {
		return nil
	}
	t.deliverySignaled = true
	return t.Delivery.Send(ResultOK)
}

// Finished reports whether the tracker has reached a terminal state and must
// not be resent.
func (t *Tracker) Finished() bool {
	return t.failed || (t.sentSignaled && (!t.DeliveryRequested || t.deliverySignaled))
}
