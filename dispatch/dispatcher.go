package dispatch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/telgo/smsrouter/sms"
)

// techDispatcher transmits messages of one technology: it encodes caller
// payloads through its codec, submits the PDU to the radio and tracks
// delivery reports by message reference. Transmission is asynchronous, its
// completion re-enters the controller loop as a transmitDoneEvent.
type techDispatcher struct {
	codec           Codec
	radio           Radio
	store           Store
	log             *zap.Logger
	post            func(event)
	retry           func(*sms.Tracker)
	maxRetries      int
	transmitTimeout time.Duration

	pendingDelivery map[int]*sms.Tracker
}

func newTechDispatcher(codec Codec, radio Radio, store Store, logger *zap.Logger, post func(event), retry func(*sms.Tracker), maxRetries int, transmitTimeout time.Duration) *techDispatcher {
	return &techDispatcher{
		codec:           codec,
		radio:           radio,
		store:           store,
		log:             logger.With(zap.String("format", string(codec.Format()))),
		post:            post,
		retry:           retry,
		maxRetries:      maxRetries,
		transmitTimeout: transmitTimeout,
		pendingDelivery: make(map[int]*sms.Tracker),
	}
}

func (d *techDispatcher) Format() sms.Format {
	return d.codec.Format()
}

// Send transmits the tracker's current PDU. The tracker must already be
// encoded in this dispatcher's format.
func (d *techDispatcher) Send(t *sms.Tracker) {
	format := t.Format
	pdu := sms.SubmitPDU{SCAddress: t.SCAddress, Message: t.PDU}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.transmitTimeout)
		defer cancel()
		msgRef, err := d.radio.Transmit(ctx, format, pdu)
		d.post(transmitDoneEvent{tracker: t, msgRef: msgRef, err: err})
	}()
}

func (d *techDispatcher) SendText(destAddr, scAddr, text string, sent, delivery *sms.ResultHandle, persist bool) {
	pdu, err := d.codec.SubmitText(scAddr, destAddr, text, delivery != nil)
	if err != nil {
		d.log.Error("cannot encode text message", zap.Error(err))
		d.sendResult(sent, sms.ResultGenericFailure)
		return
	}
	if len(pdu.Message) == 0 {
		d.sendResult(sent, sms.ResultNullPDU)
		return
	}

	d.Send(&sms.Tracker{
		Format:            d.Format(),
		PDU:               pdu.Message,
		SCAddress:         pdu.SCAddress,
		DeliveryRequested: delivery != nil,
		Persist:           persist,
		Payload:           sms.TextPayload{DestAddr: destAddr, SCAddr: scAddr, Text: text},
		Sent:              sent,
		Delivery:          delivery,
	})
}

func (d *techDispatcher) SendData(destAddr, scAddr string, destPort int, data []byte, sent, delivery *sms.ResultHandle) {
	pdu, err := d.codec.SubmitData(scAddr, destAddr, destPort, data, delivery != nil)
	if err != nil {
		d.log.Error("cannot encode data message", zap.Error(err))
		d.sendResult(sent, sms.ResultGenericFailure)
		return
	}
	if len(pdu.Message) == 0 {
		d.sendResult(sent, sms.ResultNullPDU)
		return
	}

	d.Send(&sms.Tracker{
		Format:            d.Format(),
		PDU:               pdu.Message,
		SCAddress:         pdu.SCAddress,
		DeliveryRequested: delivery != nil,
		Payload:           sms.DataPayload{DestAddr: destAddr, SCAddr: scAddr, DestPort: destPort, Data: data},
		Sent:              sent,
		Delivery:          delivery,
	})
}

func (d *techDispatcher) SendMultipartText(destAddr, scAddr string, parts []string, sent, delivery []*sms.ResultHandle, persist bool) {
	statusReport := false
	for _, h := range delivery {
		if h != nil {
			statusReport = true
			break
		}
	}

	pdus, err := d.codec.SubmitMultipart(scAddr, destAddr, parts, statusReport)
	if err != nil {
		d.log.Error("cannot encode multipart message", zap.Error(err))
		for _, h := range sent {
			d.sendResult(h, sms.ResultGenericFailure)
		}
		return
	}

	for i, pdu := range pdus {
		var sentHandle, deliveryHandle *sms.ResultHandle
		if i < len(sent) {
			sentHandle = sent[i]
		}
		if i < len(delivery) {
			deliveryHandle = delivery[i]
		}

		// Parts of a concatenated message carry no payload: a single part
		// cannot be re-encoded for the other technology on its own, a
		// cross-format retry fails closed instead.
		d.Send(&sms.Tracker{
			Format:            d.Format(),
			PDU:               pdu.Message,
			SCAddress:         pdu.SCAddress,
			DeliveryRequested: deliveryHandle != nil,
			Persist:           persist,
			Sent:              sentHandle,
			Delivery:          deliveryHandle,
		})
	}
}

// transmitDone consumes the completion of an asynchronous transmission.
func (d *techDispatcher) transmitDone(t *sms.Tracker, msgRef int, err error) {
	switch {
	case err == nil:
		t.MsgRef = msgRef
		if t.DeliveryRequested {
			d.pendingDelivery[msgRef] = t
		}
		if sendErr := t.SignalSent(sms.ResultOK); errors.Is(sendErr, sms.ErrCanceled) {
			d.log.Debug("sent result dropped, handle canceled", zap.Int("msgRef", msgRef))
		}
		d.persistSent(t)
	case errors.Is(err, sms.ErrRadioOff):
		d.fail(t, sms.ResultRadioOff)
	case errors.Is(err, sms.ErrNoService):
		d.fail(t, sms.ResultNoService)
	default:
		if t.RetryCount < d.maxRetries {
			t.RetryCount++
			d.log.Debug("transmission failed, retrying",
				zap.Int("attempt", t.RetryCount), zap.Error(err))
			d.retry(t)
			return
		}
		d.log.Error("transmission failed", zap.Error(err))
		d.fail(t, sms.ResultGenericFailure)
	}
}

// deliveryReport releases the tracker parked under the given message
// reference.
func (d *techDispatcher) deliveryReport(msgRef int, delivered bool) {
	t, ok := d.pendingDelivery[msgRef]
	if !ok {
		d.log.Debug("delivery report for unknown message reference", zap.Int("msgRef", msgRef))
		return
	}
	delete(d.pendingDelivery, msgRef)
	if !delivered {
		return
	}
	if err := t.SignalDelivered(); errors.Is(err, sms.ErrCanceled) {
		d.log.Debug("delivery result dropped, handle canceled", zap.Int("msgRef", msgRef))
	}
}

func (d *techDispatcher) fail(t *sms.Tracker, code sms.ResultCode) {
	if err := t.SignalSent(code); errors.Is(err, sms.ErrCanceled) {
		d.log.Debug("failure result dropped, handle canceled", zap.String("code", code.String()))
	}
}

func (d *techDispatcher) sendResult(h *sms.ResultHandle, code sms.ResultCode) {
	if err := h.Send(code); errors.Is(err, sms.ErrCanceled) {
		d.log.Debug("result dropped, handle canceled", zap.String("code", code.String()))
	}
}

func (d *techDispatcher) persistSent(t *sms.Tracker) {
	if !t.Persist || d.store == nil {
		return
	}
	destAddr := ""
	switch p := t.Payload.(type) {
	case sms.TextPayload:
		destAddr = p.DestAddr
	case sms.DataPayload:
		destAddr = p.DestAddr
	}
	rec := sms.SentRecord{
		DestAddr: destAddr,
		Format:   t.Format,
		PDU:      t.PDU,
		SentAt:   time.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.transmitTimeout)
		defer cancel()
		if err := d.store.RecordSent(ctx, rec); err != nil {
			d.log.Error("cannot persist sent message", zap.Error(err))
		}
	}()
}

func (d *techDispatcher) Dispose() {
	d.pendingDelivery = make(map[int]*sms.Tracker)
}
