package com

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/telgo/smsrouter/sms"
)

var (
	cmgsResponse  = regexp.MustCompile(`\+CMGS:\s*(\d+)`)
	ciregResponse = regexp.MustCompile(`\+CIREG:\s*\d+\s*,\s*(\d+)(?:\s*,\s*(\d+))?`)
	cmsError      = regexp.MustCompile(`\+CMS ERROR:\s*(\d+)`)
	cmeError      = regexp.MustCompile(`\+CME ERROR:\s*(\d+)`)
)

// Error codes reported by the modem, per 3GPP TS 27.005 and TS 27.007.
const (
	cmsOperationNotAllowed = 302
	cmsNoNetworkService    = 331
	cmsNetworkTimeout      = 332
	cmeOperationNotAllowed = 3
	cmeNoNetworkService    = 30
)

// Modem implements the radio command channel of the dispatch controller on
// top of an AT command channel.
type Modem struct {
	channel *Channel
	log     *zap.Logger

	mu     sync.Mutex
	format sms.Format
}

// NewModem creates a modem on the given AT command channel.
func NewModem(channel *Channel, logger *zap.Logger) *Modem {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Modem{
		channel: channel,
		log:     logger,
		format:  sms.Format3GPP,
	}
}

// Init puts the modem into PDU mode and enables the unsolicited indications
// for inbound messages, delivery reports and registration changes.
func (m *Modem) Init(ctx context.Context) error {
	return m.channel.ATs(ctx,
		"AT",
		"AT+CMGF=0",
		"AT+CNMI=2,2,0,1,0",
		"AT+CIREG=2",
	)
}

// Transmit submits the given PDU to the modem and returns the message
// reference assigned by it.
func (m *Modem) Transmit(ctx context.Context, format sms.Format, pdu sms.SubmitPDU) (int, error) {
	payload := sms.BinaryToHex(pdu.Message)
	if format == sms.Format3GPP {
		sc := pdu.SCAddress
		if len(sc) == 0 {
			sc = []byte{0x00}
		}
		payload = sms.BinaryToHex(sc) + payload
	}

	request := fmt.Sprintf("AT+CMGS=%d\r%s\x1a", len(pdu.Message), payload)
	lines, err := m.channel.AT(ctx, request)
	if err != nil {
		return 0, classifyError(err)
	}

	for _, line := range lines {
		match := cmgsResponse.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		msgRef, err := strconv.Atoi(match[1])
		if err != nil {
			return 0, fmt.Errorf("invalid message reference %q: %w", match[1], err)
		}
		return msgRef, nil
	}
	return 0, fmt.Errorf("no message reference in response")
}

// QueryRegistration issues a registration capability query towards the modem.
func (m *Modem) QueryRegistration(ctx context.Context) (sms.RegistrationResult, error) {
	lines, err := m.channel.AT(ctx, "AT+CIREG?")
	if err != nil {
		return sms.RegistrationResult{}, err
	}

	for _, line := range lines {
		match := ciregResponse.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		reg, err := strconv.Atoi(match[1])
		if err != nil {
			return sms.RegistrationResult{}, fmt.Errorf("invalid registration state %q: %w", match[1], err)
		}
		result := sms.RegistrationResult{Registered: reg > 0}
		if match[2] != "" {
			code, err := strconv.Atoi(match[2])
			if err != nil {
				return sms.RegistrationResult{}, fmt.Errorf("invalid format code %q: %w", match[2], err)
			}
			result.FormatCode = code
		}
		m.rememberFormat(result)
		return result, nil
	}
	return sms.RegistrationResult{}, fmt.Errorf("no registration state in response")
}

// rememberFormat keeps the encoding family of inbound PDUs in sync with the
// registration state, so that indications can be decoded with the right
// codec.
func (m *Modem) rememberFormat(result sms.RegistrationResult) {
	format := sms.Format3GPP
	if result.Registered && result.FormatCode == sms.FormatCode3GPP2 {
		format = sms.Format3GPP2
	}
	m.mu.Lock()
	m.format = format
	m.mu.Unlock()
}

func (m *Modem) currentFormat() sms.Format {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.format
}

// OnMessage registers a handler for inbound messages. The handler receives
// the message PDU without the service center prefix and the encoding family
// it is encoded in.
func (m *Modem) OnMessage(handler func(pdu []byte, format sms.Format)) {
	m.channel.AddIndication("+CMT:", 1, func(lines []string) {
		pdu, format, err := m.indicationPDU(lines)
		if err != nil {
			m.log.Error("invalid inbound message indication", zap.Error(err))
			return
		}
		handler(pdu, format)
	})
}

// OnDeliveryReport registers a handler for delivery report indications.
func (m *Modem) OnDeliveryReport(handler func(pdu []byte, format sms.Format)) {
	m.channel.AddIndication("+CDS:", 1, func(lines []string) {
		pdu, format, err := m.indicationPDU(lines)
		if err != nil {
			m.log.Error("invalid delivery report indication", zap.Error(err))
			return
		}
		handler(pdu, format)
	})
}

// OnRegistrationChanged registers a handler for registration change
// indications.
func (m *Modem) OnRegistrationChanged(handler func()) {
	m.channel.AddIndication("+CIREGU:", 0, func([]string) {
		handler()
	})
}

// indicationPDU extracts the PDU from the trailing line of an indication and
// strips the service center prefix that 3GPP PDUs carry on the wire.
func (m *Modem) indicationPDU(lines []string) ([]byte, sms.Format, error) {
	if len(lines) < 2 {
		return nil, sms.FormatUnknown, fmt.Errorf("no PDU line")
	}
	pdu, err := sms.HexToBinary(lines[len(lines)-1])
	if err != nil {
		return nil, sms.FormatUnknown, fmt.Errorf("invalid PDU hex: %w", err)
	}

	format := m.currentFormat()
	if format == sms.Format3GPP {
		if len(pdu) < 1 {
			return nil, format, fmt.Errorf("empty PDU")
		}
		scLen := int(pdu[0])
		if len(pdu) < scLen+1 {
			return nil, format, fmt.Errorf("truncated service center prefix")
		}
		pdu = pdu[scLen+1:]
	}
	return pdu, format, nil
}

// classifyError maps modem error responses onto the transmission errors the
// dispatcher understands.
func classifyError(err error) error {
	if match := cmsError.FindStringSubmatch(err.Error()); match != nil {
		code, convErr := strconv.Atoi(match[1])
		if convErr != nil {
			return err
		}
		switch code {
		case cmsNoNetworkService, cmsNetworkTimeout:
			return fmt.Errorf("%w: %s", sms.ErrNoService, err.Error())
		case cmsOperationNotAllowed:
			return fmt.Errorf("%w: %s", sms.ErrRadioOff, err.Error())
		}
		return err
	}
	if match := cmeError.FindStringSubmatch(err.Error()); match != nil {
		code, convErr := strconv.Atoi(match[1])
		if convErr != nil {
			return err
		}
		switch code {
		case cmeNoNetworkService:
			return fmt.Errorf("%w: %s", sms.ErrNoService, err.Error())
		case cmeOperationNotAllowed:
			return fmt.Errorf("%w: %s", sms.ErrRadioOff, err.Error())
		}
	}
	return err
}
