// Package events publishes accepted inbound messages to NATS, one subject
// per encoding family.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/telgo/smsrouter/sms"
)

const subjectPrefix = "sms.inbound."

// InboundEvent is the wire form of a published inbound message.
type InboundEvent struct {
	Format       string    `json:"format"`
	OrigAddr     string    `json:"orig_addr"`
	Class        int       `json:"class"`
	Concatenated bool      `json:"concatenated"`
	Text         string    `json:"text,omitempty"`
	Data         []byte    `json:"data,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
}

// Connect creates a NATS connection for publishing inbound messages.
func Connect(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to NATS: %w", err)
	}
	logger.Info("connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// Publisher publishes inbound messages to sms.inbound.<format>. It implements
// the inbound handler contract of the dispatch controller.
type Publisher struct {
	nc  *nats.Conn
	log *zap.Logger
}

// NewPublisher creates a publisher on the given connection.
func NewPublisher(nc *nats.Conn, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, log: logger}
}

// HandleInbound publishes the message and signals the result handle with the
// outcome. The handle is signaled exactly once, also on encode and publish
// failures.
func (p *Publisher) HandleInbound(msg sms.InboundMessage, result *sms.ResultHandle) {
	event := InboundEvent{
		Format:       string(msg.Format),
		OrigAddr:     msg.OrigAddr,
		Class:        int(msg.Class),
		Concatenated: msg.Concatenated,
		Text:         msg.Text,
		Data:         msg.Data,
		Timestamp:    msg.Timestamp,
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Error("cannot encode inbound message", zap.Error(err))
		p.sendResult(result, sms.ResultGenericFailure)
		return
	}

	subject := subjectPrefix + string(msg.Format)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Error("cannot publish inbound message", zap.String("subject", subject), zap.Error(err))
		p.sendResult(result, sms.ResultGenericFailure)
		return
	}

	p.log.Debug("published inbound message",
		zap.String("subject", subject),
		zap.String("orig", msg.OrigAddr))
	p.sendResult(result, sms.ResultOK)
}

func (p *Publisher) sendResult(h *sms.ResultHandle, code sms.ResultCode) {
	if err := h.Send(code); err != nil {
		p.log.Debug("inbound result dropped, handle canceled", zap.String("code", code.String()))
	}
}
