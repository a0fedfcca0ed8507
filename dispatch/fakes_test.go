package dispatch

import (
	"context"
	"sync"

	"github.com/telgo/smsrouter/sms"
)

// fakeCodec answers all submissions with a fixed PDU and counts encodings.
type fakeCodec struct {
	format sms.Format
	pdu    sms.SubmitPDU
	err    error

	mu          sync.Mutex
	textCalls   int
	dataCalls   int
	lastText    string
	lastDest    string
	deliverMsg  sms.InboundMessage
	deliverErr  error
	decodePanic bool
}

func (c *fakeCodec) Format() sms.Format { return c.format }

func (c *fakeCodec) SubmitText(scAddr, destAddr, text string, statusReport bool) (sms.SubmitPDU, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.textCalls++
	c.lastDest = destAddr
	c.lastText = text
	return c.pdu, c.err
}

func (c *fakeCodec) SubmitData(scAddr, destAddr string, destPort int, data []byte, statusReport bool) (sms.SubmitPDU, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dataCalls++
	c.lastDest = destAddr
	return c.pdu, c.err
}

func (c *fakeCodec) SubmitMultipart(scAddr, destAddr string, parts []string, statusReport bool) ([]sms.SubmitPDU, error) {
	if c.err != nil {
		return nil, c.err
	}
	result := make([]sms.SubmitPDU, len(parts))
	for i := range parts {
		result[i] = c.pdu
	}
	return result, nil
}

func (c *fakeCodec) DecodeDeliver(pdu []byte) (sms.InboundMessage, error) {
	if c.decodePanic {
		panic("malformed PDU")
	}
	return c.deliverMsg, c.deliverErr
}

func (c *fakeCodec) DecodeStatusReport(pdu []byte) (int, bool, error) {
	return 0, false, nil
}

func (c *fakeCodec) encodeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.textCalls + c.dataCalls
}

type transmitCall struct {
	format sms.Format
	pdu    sms.SubmitPDU
}

type transmitResult struct {
	msgRef int
	err    error
}

// scriptedRadio hands every transmission to the test through calls and blocks
// until the test provides the outcome through results.
type scriptedRadio struct {
	calls      chan transmitCall
	results    chan transmitResult
	regResults chan sms.RegistrationResult
}

func newScriptedRadio() *scriptedRadio {
	return &scriptedRadio{
		calls:      make(chan transmitCall, 16),
		results:    make(chan transmitResult, 16),
		regResults: make(chan sms.RegistrationResult, 16),
	}
}

func (r *scriptedRadio) Transmit(ctx context.Context, format sms.Format, pdu sms.SubmitPDU) (int, error) {
	r.calls <- transmitCall{format: format, pdu: pdu}
	select {
	case result := <-r.results:
		return result.msgRef, result.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (r *scriptedRadio) QueryRegistration(ctx context.Context) (sms.RegistrationResult, error) {
	select {
	case result := <-r.regResults:
		return result, nil
	case <-ctx.Done():
		return sms.RegistrationResult{}, ctx.Err()
	}
}

// recordingHandler captures inbound messages and acknowledges their result
// handles.
type recordingHandler struct {
	messages chan sms.InboundMessage
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{messages: make(chan sms.InboundMessage, 16)}
}

func (h *recordingHandler) HandleInbound(msg sms.InboundMessage, result *sms.ResultHandle) {
	h.messages <- msg
	result.Send(sms.ResultOK)
}

// resultRecorder collects the codes sent to a result handle.
type resultRecorder struct {
	codes chan sms.ResultCode
}

func newResultRecorder() *resultRecorder {
	return &resultRecorder{codes: make(chan sms.ResultCode, 16)}
}

func (r *resultRecorder) handle() *sms.ResultHandle {
	return sms.NewResultHandle(func(code sms.ResultCode) {
		r.codes <- code
	})
}
