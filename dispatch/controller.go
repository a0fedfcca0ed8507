package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/telgo/smsrouter/sms"
)

const (
	defaultMaxRetries      = 3
	defaultTransmitTimeout = 30 * time.Second
	defaultQueryTimeout    = 10 * time.Second
	eventQueueSize         = 64
)

// Options configures a Controller.
type Options struct {
	// Radio is the low-level radio command channel. Required.
	Radio Radio
	// Codecs are the per-technology codecs, one per format. Required.
	Codecs []Codec
	// DefaultFormat provides the device's default voice technology, the
	// fallback while the overlay registration is inactive. Required.
	DefaultFormat func() sms.Format
	// Inbound maps each format to the handler consuming accepted inbound
	// messages of that format.
	Inbound map[sms.Format]InboundHandler
	// Store persists sent messages and premium permissions. Optional.
	Store Store
	// MaxRetries bounds transmission retries per message.
	MaxRetries int
	// TransmitTimeout bounds a single PDU submission to the radio.
	TransmitTimeout time.Duration
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Controller is the single entry point for sending, retrying and injecting
// short messages. It hides the technology choice from callers: every send is
// routed to the dispatcher of the currently active technology, and retries
// of in-flight messages are re-encoded when the active technology changed
// since the original send.
//
// All decisions execute on one controller-owned goroutine, so registration
// state reads and the read-decide-mutate retry sequence are never torn by
// concurrent access. Capability queries and PDU transmissions run
// asynchronously and re-enter the loop as ordered events.
type Controller struct {
	log     *zap.Logger
	radio   Radio
	store   Store
	monitor *RegistrationMonitor

	dispatchers map[sms.Format]Dispatcher
	codecs      map[sms.Format]Codec
	inbound     map[sms.Format]InboundHandler

	events  chan event
	closing chan struct{}
	closed  chan struct{}
}

// New creates a controller and starts its event loop.
func New(opts Options) (*Controller, error) {
	if opts.Radio == nil {
		return nil, fmt.Errorf("no radio command channel")
	}
	if len(opts.Codecs) == 0 {
		return nil, fmt.Errorf("no codecs")
	}
	if opts.DefaultFormat == nil {
		return nil, fmt.Errorf("no default format")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	transmitTimeout := opts.TransmitTimeout
	if transmitTimeout <= 0 {
		transmitTimeout = defaultTransmitTimeout
	}

	result := &Controller{
		log:         logger,
		radio:       opts.Radio,
		store:       opts.Store,
		monitor:     NewRegistrationMonitor(opts.DefaultFormat, logger),
		dispatchers: make(map[sms.Format]Dispatcher),
		codecs:      make(map[sms.Format]Codec),
		inbound:     opts.Inbound,
		events:      make(chan event, eventQueueSize),
		closing:     make(chan struct{}),
		closed:      make(chan struct{}),
	}
	for _, codec := range opts.Codecs {
		result.codecs[codec.Format()] = codec
		result.dispatchers[codec.Format()] = newTechDispatcher(
			codec, opts.Radio, opts.Store, logger, result.post, result.retrySMS,
			maxRetries, transmitTimeout)
	}

	go result.run()
	return result, nil
}

func (c *Controller) run() {
	defer close(c.closed)
	for {
		select {
		case ev := <-c.events:
			c.handle(ev)
		case <-c.closing:
			return
		}
	}
}

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.closing:
	}
}

func (c *Controller) handle(ev event) {
	switch e := ev.(type) {
	case radioUpEvent, registrationChangedEvent:
		c.triggerQuery()
	case queryCompletedEvent:
		c.monitor.Apply(e.result, e.err)
	case sendTextEvent:
		c.dispatcherFor(c.monitor.ActiveFormat()).SendText(e.destAddr, e.scAddr, e.text, e.sent, e.delivery, e.persist)
	case sendDataEvent:
		c.dispatcherFor(c.monitor.ActiveFormat()).SendData(e.destAddr, e.scAddr, e.destPort, e.data, e.sent, e.delivery)
	case sendMultipartEvent:
		c.dispatcherFor(c.monitor.ActiveFormat()).SendMultipartText(e.destAddr, e.scAddr, e.parts, e.sent, e.delivery, e.persist)
	case retryEvent:
		c.retrySMS(e.tracker)
	case transmitDoneEvent:
		if d, ok := c.dispatcherFor(e.tracker.Format).(*techDispatcher); ok {
			d.transmitDone(e.tracker, e.msgRef, e.err)
		}
	case injectEvent:
		c.inject(e)
	case receiveEvent:
		c.receive(e)
	case deliveryReportEvent:
		c.handleDeliveryReport(e)
	case registrationRequest:
		e.response <- RegistrationSnapshot{
			Registered: c.monitor.Registered(),
			Format:     c.monitor.Format(),
			Active:     c.monitor.ActiveFormat(),
		}
	}
}

// triggerQuery issues an asynchronous capability query. Its completion
// re-enters the loop as a queryCompletedEvent.
func (c *Controller) triggerQuery() {
	c.monitor.QueryPending()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultQueryTimeout)
		defer cancel()
		result, err := c.radio.QueryRegistration(ctx)
		c.post(queryCompletedEvent{result: result, err: err})
	}()
}

// dispatcherFor returns the dispatcher carrying the given format. Exactly
// the configured formats have dispatchers; an unknown format falls back to
// the first configured one so that a decision always lands somewhere instead
// of panicking the loop.
func (c *Controller) dispatcherFor(format sms.Format) Dispatcher {
	if d, ok := c.dispatchers[format]; ok {
		return d
	}
	c.log.Error("no dispatcher for format, falling back", zap.String("format", string(format)))
	for _, d := range c.dispatchers {
		return d
	}
	return nil
}

// retrySMS re-evaluates the routing decision for a message that must be
// retransmitted. If the active technology still matches the tracker's
// recorded format, the tracker is forwarded unchanged. If the technology
// changed while the message was in flight, the message is re-encoded from
// its original submission parameters for the new technology before it is
// handed to the other dispatcher. A tracker whose parameters do not allow
// re-encoding fails closed: transmitting a stale PDU under a wrong format
// tag is never an option.
func (c *Controller) retrySMS(t *sms.Tracker) {
	if t.Finished() {
		return
	}

	oldFormat := t.Format
	newFormat := c.monitor.ActiveFormat()

	if oldFormat == newFormat {
		c.dispatcherFor(newFormat).Send(t)
		return
	}

	codec, ok := c.codecs[newFormat]
	if !ok {
		c.log.Error("no codec for new format", zap.String("format", string(newFormat)))
		c.failTracker(t, sms.ResultGenericFailure)
		return
	}
	pdu, err := reencode(codec, t)
	if err != nil {
		c.log.Error("cannot re-encode message for new format",
			zap.String("old", string(oldFormat)),
			zap.String("new", string(newFormat)),
			zap.Error(err))
		c.failTracker(t, sms.ResultGenericFailure)
		return
	}

	t.SCAddress = pdu.SCAddress
	t.PDU = pdu.Message
	t.Format = newFormat
	c.dispatcherFor(newFormat).Send(t)
}

// reencode regenerates the tracker's PDU from its original submission
// parameters using the given codec.
func reencode(codec Codec, t *sms.Tracker) (sms.SubmitPDU, error) {
	switch p := t.Payload.(type) {
	case sms.TextPayload:
		if p.DestAddr == "" {
			return sms.SubmitPDU{}, fmt.Errorf("destination address is missing")
		}
		return codec.SubmitText(p.SCAddr, p.DestAddr, p.Text, t.DeliveryRequested)
	case sms.DataPayload:
		if p.DestAddr == "" || len(p.Data) == 0 {
			return sms.SubmitPDU{}, fmt.Errorf("destination address or data is missing")
		}
		return codec.SubmitData(p.SCAddr, p.DestAddr, p.DestPort, p.Data, t.DeliveryRequested)
	default:
		return sms.SubmitPDU{}, fmt.Errorf("original submission parameters are missing")
	}
}

func (c *Controller) failTracker(t *sms.Tracker, code sms.ResultCode) {
	if err := t.SignalSent(code); err != nil {
		c.log.Debug("failure result dropped, handle canceled", zap.String("code", code.String()))
	}
}

func (c *Controller) inject(e injectEvent) {
	format := sms.Format(e.format)
	codec, ok := c.codecs[format]
	if !ok {
		c.log.Error("cannot inject PDU, invalid format", zap.String("format", e.format))
		c.sendResult(e.result, sms.ResultGenericFailure)
		return
	}

	msg, err := decodeInbound(codec, e.pdu)
	if err != nil {
		c.log.Error("cannot inject PDU, decode failed", zap.Error(err))
		c.sendResult(e.result, sms.ResultGenericFailure)
		return
	}
	// Only single-segment class 1 messages are allowed to be injected.
	if msg.Class != sms.Class1 || msg.Concatenated {
		c.log.Error("cannot inject PDU, not a single-segment class 1 message",
			zap.Int("class", int(msg.Class)),
			zap.Bool("concatenated", msg.Concatenated))
		c.sendResult(e.result, sms.ResultGenericFailure)
		return
	}

	handler, ok := c.inbound[format]
	if !ok {
		c.log.Error("no inbound handler for format", zap.String("format", e.format))
		c.sendResult(e.result, sms.ResultGenericFailure)
		return
	}
	handler.HandleInbound(msg, e.result)
}

// decodeInbound decodes an inbound PDU. A panicking codec is converted into
// an error here: a malformed payload must never take the controller down.
func decodeInbound(codec Codec, pdu []byte) (msg sms.InboundMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode panic: %v", r)
		}
	}()
	return codec.DecodeDeliver(pdu)
}

func (c *Controller) receive(e receiveEvent) {
	codec, ok := c.codecs[e.format]
	if !ok {
		c.log.Error("received PDU with unknown format", zap.String("format", string(e.format)))
		return
	}
	msg, err := decodeInbound(codec, e.pdu)
	if err != nil {
		c.log.Error("cannot decode received PDU", zap.Error(err))
		return
	}
	handler, ok := c.inbound[e.format]
	if !ok {
		c.log.Error("no inbound handler for format", zap.String("format", string(e.format)))
		return
	}
	handler.HandleInbound(msg, nil)
}

func (c *Controller) handleDeliveryReport(e deliveryReportEvent) {
	codec, ok := c.codecs[e.format]
	if !ok {
		return
	}
	msgRef, delivered, err := codec.DecodeStatusReport(e.pdu)
	if err != nil {
		c.log.Error("cannot decode delivery report", zap.Error(err))
		return
	}
	if d, ok := c.dispatcherFor(e.format).(*techDispatcher); ok {
		d.deliveryReport(msgRef, delivered)
	}
}

func (c *Controller) sendResult(h *sms.ResultHandle, code sms.ResultCode) {
	if err := h.Send(code); err != nil {
		c.log.Debug("result dropped, handle canceled", zap.String("code", code.String()))
	}
}

/* Public API. All operations enter the controller loop as typed events. */

// SendText sends a text message. scAddr empty means the transport default
// service center is used.
func (c *Controller) SendText(destAddr, scAddr, text string, sent, delivery *sms.ResultHandle, persist bool) {
	c.post(sendTextEvent{destAddr: destAddr, scAddr: scAddr, text: text, sent: sent, delivery: delivery, persist: persist})
}

// SendData sends a data message to a specific application port.
func (c *Controller) SendData(destAddr, scAddr string, destPort int, data []byte, sent, delivery *sms.ResultHandle) {
	c.post(sendDataEvent{destAddr: destAddr, scAddr: scAddr, destPort: destPort, data: data, sent: sent, delivery: delivery})
}

// SendMultipartText sends a multi-part text message. sent and delivery hold
// one handle per part.
func (c *Controller) SendMultipartText(destAddr, scAddr string, parts []string, sent, delivery []*sms.ResultHandle, persist bool) {
	c.post(sendMultipartEvent{destAddr: destAddr, scAddr: scAddr, parts: parts, sent: sent, delivery: delivery, persist: persist})
}

// Retry retries a previously sent message, re-evaluating the technology
// decision.
func (c *Controller) Retry(t *sms.Tracker) {
	c.post(retryEvent{tracker: t})
}

// InjectPDU injects an inbound PDU. format must be "3gpp" or "3gpp2"; any
// other value, any decode failure and anything but a single-segment class 1
// message invokes the result handle with a generic error.
func (c *Controller) InjectPDU(pdu []byte, format string, result *sms.ResultHandle) {
	c.post(injectEvent{pdu: pdu, format: format, result: result})
}

// Receive feeds a PDU received from the radio into the matching inbound
// handler.
func (c *Controller) Receive(pdu []byte, format sms.Format) {
	c.post(receiveEvent{pdu: pdu, format: format})
}

// DeliveryReport feeds a status report PDU received from the radio to the
// tracker waiting for it.
func (c *Controller) DeliveryReport(pdu []byte, format sms.Format) {
	c.post(deliveryReportEvent{pdu: pdu, format: format})
}

// RadioUp signals that the transport came up. Triggers a capability query.
func (c *Controller) RadioUp() {
	c.post(radioUpEvent{})
}

// RegistrationChanged signals a registration or format change. Triggers a
// capability query.
func (c *Controller) RegistrationChanged() {
	c.post(registrationChangedEvent{})
}

// Registration returns a snapshot of the current registration state.
func (c *Controller) Registration() RegistrationSnapshot {
	response := make(chan RegistrationSnapshot, 1)
	select {
	case c.events <- registrationRequest{response: response}:
	case <-c.closed:
		return RegistrationSnapshot{Format: sms.FormatUnknown, Active: sms.FormatUnknown}
	}
	select {
	case snapshot := <-response:
		return snapshot
	case <-c.closed:
		return RegistrationSnapshot{Format: sms.FormatUnknown, Active: sms.FormatUnknown}
	}
}

// PremiumPermission returns the premium-rate permission of the given
// package. Packages that were never seen before get PermissionAskUser.
func (c *Controller) PremiumPermission(ctx context.Context, pkg string) sms.Permission {
	if c.store == nil {
		return sms.PermissionAskUser
	}
	permission, err := c.store.PremiumPermission(ctx, pkg)
	if err != nil {
		c.log.Error("cannot read premium permission", zap.String("package", pkg), zap.Error(err))
		return sms.PermissionAskUser
	}
	if permission == sms.PermissionUnknown {
		return sms.PermissionAskUser
	}
	return permission
}

// SetPremiumPermission stores the premium-rate permission of the given
// package.
func (c *Controller) SetPremiumPermission(ctx context.Context, pkg string, permission sms.Permission) error {
	if c.store == nil {
		return fmt.Errorf("no store configured")
	}
	return c.store.SetPremiumPermission(ctx, pkg, permission)
}

// Dispose stops the controller loop and disposes all dispatchers.
func (c *Controller) Dispose() {
	select {
	case <-c.closing:
	default:
		close(c.closing)
	}
	<-c.closed
	for _, d := range c.dispatchers {
		d.Dispose()
	}
}
