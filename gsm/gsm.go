// Package gsm implements encoding and decoding of 3GPP TS 23.040 short
// message PDUs: SMS-SUBMIT for outbound messages, SMS-DELIVER and
// SMS-STATUS-REPORT for inbound traffic. Text is encoded in the GSM 7-bit
// default alphabet where possible, with UCS-2 as fallback.
package gsm

import (
	"fmt"
	"time"

	"golang.org/x/text/encoding/unicode"

	"github.com/telgo/smsrouter/sms"
)

// Message type indicators, first octet of every TPDU.
const (
	mtiDeliver      = 0x00
	mtiSubmit       = 0x01
	mtiStatusReport = 0x02

	flagStatusReportRequest = 0x20
	flagUDHPresent          = 0x40
)

// Data coding schemes according to 3GPP TS 23.038.
const (
	dcs7Bit  = 0x00
	dcs8Bit  = 0x04
	dcsUCS2  = 0x08
	dcsClass = 0x10
)

const (
	maxSeptets   = 160
	maxUserBytes = 140
)

var ucs2Codec = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// Codec encodes and decodes 3GPP PDUs. The zero value is ready for use.
type Codec struct {
	concatRef byte
}

// NewCodec creates a 3GPP codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Format returns the technology tag of this codec.
func (c *Codec) Format() sms.Format {
	return sms.Format3GPP
}

// SubmitText encodes a single-part text message as SMS-SUBMIT.
func (c *Codec) SubmitText(scAddr, destAddr, text string, statusReport bool) (sms.SubmitPDU, error) {
	ud, dcs, udl, err := encodeText(text, nil)
	if err != nil {
		return sms.SubmitPDU{}, err
	}
	return assembleSubmit(scAddr, destAddr, dcs, udl, ud, statusReport, false)
}

// SubmitData encodes a data message addressed to an application port as
// SMS-SUBMIT with a user data header.
func (c *Codec) SubmitData(scAddr, destAddr string, destPort int, data []byte, statusReport bool) (sms.SubmitPDU, error) {
	if destPort < 0 || destPort > 0xFFFF {
		return sms.SubmitPDU{}, fmt.Errorf("invalid destination port %d", destPort)
	}
	udh := sms.PortUDH(destPort)
	if len(udh)+len(data) > maxUserBytes {
		return sms.SubmitPDU{}, fmt.Errorf("data too long: %d bytes", len(data))
	}
	ud := append(udh, data...)
	return assembleSubmit(scAddr, destAddr, dcs8Bit, len(ud), ud, statusReport, true)
}

// SubmitMultipart encodes the given parts as concatenated SMS-SUBMIT PDUs
// sharing one concatenation reference.
func (c *Codec) SubmitMultipart(scAddr, destAddr string, parts []string, statusReport bool) ([]sms.SubmitPDU, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("no message parts")
	}
	if len(parts) > 255 {
		return nil, fmt.Errorf("too many message parts: %d", len(parts))
	}
	c.concatRef++
	ref := c.concatRef

	result := make([]sms.SubmitPDU, 0, len(parts))
	for i, part := range parts {
		udh := sms.ConcatUDH(ref, len(parts), i+1)
		ud, dcs, udl, err := encodeText(part, udh)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i+1, err)
		}
		pdu, err := assembleSubmit(scAddr, destAddr, dcs, udl, ud, statusReport, true)
		if err != nil {
			return nil, err
		}
		result = append(result, pdu)
	}
	return result, nil
}

// encodeText encodes text with an optional user data header, choosing the
// 7-bit default alphabet or UCS-2, and returns user data, DCS and TP-UDL.
func encodeText(text string, udh []byte) ([]byte, byte, int, error) {
	septets, ok := toSeptets(text)
	if ok {
		udhSeptets := 0
		fill := uint(0)
		if len(udh) > 0 {
			udhBits := len(udh) * 8
			udhSeptets = (udhBits + 6) / 7
			fill = uint(udhSeptets*7 - udhBits)
		}
		if udhSeptets+len(septets) > maxSeptets {
			return nil, 0, 0, fmt.Errorf("text too long: %d septets", len(septets))
		}
		ud := append(append([]byte{}, udh...), pack7Bit(septets, fill)...)
		return ud, dcs7Bit, udhSeptets + len(septets), nil
	}

	encoded, err := ucs2Codec.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("cannot encode text as UCS-2: %w", err)
	}
	if len(udh)+len(encoded) > maxUserBytes {
		return nil, 0, 0, fmt.Errorf("text too long: %d bytes", len(encoded))
	}
	ud := append(append([]byte{}, udh...), encoded...)
	return ud, dcsUCS2, len(ud), nil
}

func assembleSubmit(scAddr, destAddr string, dcs byte, udl int, ud []byte, statusReport bool, udhPresent bool) (sms.SubmitPDU, error) {
	da, err := encodeAddress(destAddr)
	if err != nil {
		return sms.SubmitPDU{}, fmt.Errorf("invalid destination address: %w", err)
	}
	sca, err := encodeSCAddress(scAddr)
	if err != nil {
		return sms.SubmitPDU{}, fmt.Errorf("invalid service center address: %w", err)
	}

	firstOctet := byte(mtiSubmit)
	if statusReport {
		firstOctet |= flagStatusReportRequest
	}
	if udhPresent {
		firstOctet |= flagUDHPresent
	}

	tpdu := make([]byte, 0, 4+len(da)+2+len(ud))
	tpdu = append(tpdu, firstOctet, 0x00) // TP-MR assigned by the radio
	tpdu = append(tpdu, da...)
	tpdu = append(tpdu, 0x00, dcs, byte(udl))
	tpdu = append(tpdu, ud...)

	return sms.SubmitPDU{SCAddress: sca, Message: tpdu}, nil
}

// DecodeDeliver decodes an SMS-DELIVER TPDU into an inbound message.
func (c *Codec) DecodeDeliver(pdu []byte) (sms.InboundMessage, error) {
	if len(pdu) < 3 {
		return sms.InboundMessage{}, fmt.Errorf("PDU too short: %d", len(pdu))
	}
	firstOctet := pdu[0]
	if firstOctet&0x03 != mtiDeliver {
		return sms.InboundMessage{}, fmt.Errorf("not an SMS-DELIVER PDU: 0x%02x", firstOctet)
	}
	udhPresent := firstOctet&flagUDHPresent != 0

	addr, rest, err := decodeAddress(pdu[1:])
	if err != nil {
		return sms.InboundMessage{}, fmt.Errorf("invalid originating address: %w", err)
	}
	if len(rest) < 10 {
		return sms.InboundMessage{}, fmt.Errorf("PDU truncated after address")
	}
	dcs := rest[1]
	timestamp := decodeTimestamp(rest[2:9])
	udl := int(rest[9])
	ud := rest[10:]

	result := sms.InboundMessage{
		Format:    sms.Format3GPP,
		OrigAddr:  addr,
		Class:     classFromDCS(dcs),
		Timestamp: timestamp,
	}

	udhLen := 0
	if udhPresent {
		udh, n, err := sms.ParseUDH(ud)
		if err != nil {
			return sms.InboundMessage{}, err
		}
		result.Concatenated = udh.Concat
		udhLen = n
	}

	switch dcs &^ (dcsClass | 0x03) {
	case dcs7Bit:
		fill := uint(0)
		if udhLen > 0 {
			udhSeptets := (udhLen*8 + 6) / 7
			fill = uint(udhSeptets*7 - udhLen*8)
			udl -= udhSeptets
		}
		if udl < 0 {
			return sms.InboundMessage{}, fmt.Errorf("user data header exceeds user data length")
		}
		result.Text = fromSeptets(unpack7Bit(ud[udhLen:], fill, udl))
	case dcsUCS2:
		decoded, err := ucs2Codec.NewDecoder().Bytes(ud[udhLen:])
		if err != nil {
			return sms.InboundMessage{}, fmt.Errorf("cannot decode UCS-2 text: %w", err)
		}
		result.Text = string(decoded)
	case dcs8Bit:
		result.Data = append([]byte{}, ud[udhLen:]...)
	default:
		return sms.InboundMessage{}, fmt.Errorf("unsupported data coding scheme 0x%02x", dcs)
	}

	return result, nil
}

// DecodeStatusReport decodes an SMS-STATUS-REPORT TPDU and reports the
// message reference it refers to and whether the message was delivered.
func (c *Codec) DecodeStatusReport(pdu []byte) (int, bool, error) {
	if len(pdu) < 2 {
		return 0, false, fmt.Errorf("PDU too short: %d", len(pdu))
	}
	if pdu[0]&0x03 != mtiStatusReport {
		return 0, false, fmt.Errorf("not an SMS-STATUS-REPORT PDU: 0x%02x", pdu[0])
	}
	ref := int(pdu[1])

	_, rest, err := decodeAddress(pdu[2:])
	if err != nil {
		return 0, false, fmt.Errorf("invalid recipient address: %w", err)
	}
	if len(rest) < 15 {
		return 0, false, fmt.Errorf("PDU truncated: %d", len(rest))
	}
	status := rest[14]

	return ref, status == 0x00, nil
}

// DeliverPDU assembles an SMS-DELIVER TPDU. It is used by tests and by tools
// that feed messages into the injection path.
func DeliverPDU(origAddr, text string, class sms.MessageClass, udh []byte, timestamp time.Time) ([]byte, error) {
	oa, err := encodeAddress(origAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid originating address: %w", err)
	}
	ud, dcs, udl, err := encodeText(text, udh)
	if err != nil {
		return nil, err
	}
	if class != sms.ClassUnknown {
		dcs |= dcsClass | byte(class)&0x03
	}

	firstOctet := byte(mtiDeliver)
	if len(udh) > 0 {
		firstOctet |= flagUDHPresent
	}

	pdu := make([]byte, 0, 2+len(oa)+10+len(ud))
	pdu = append(pdu, firstOctet)
	pdu = append(pdu, oa...)
	pdu = append(pdu, 0x00, dcs)
	pdu = append(pdu, encodeTimestamp(timestamp)...)
	pdu = append(pdu, byte(udl))
	pdu = append(pdu, ud...)
	return pdu, nil
}

// StatusReportPDU assembles an SMS-STATUS-REPORT TPDU for the given message
// reference.
func StatusReportPDU(msgRef int, recipient string, delivered bool, timestamp time.Time) ([]byte, error) {
	ra, err := encodeAddress(recipient)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	status := byte(0x00)
	if !delivered {
		status = 0x60 // permanent error, delivery not possible
	}

	pdu := make([]byte, 0, 2+len(ra)+15)
	pdu = append(pdu, mtiStatusReport, byte(msgRef))
	pdu = append(pdu, ra...)
	pdu = append(pdu, encodeTimestamp(timestamp)...)
	pdu = append(pdu, encodeTimestamp(timestamp)...)
	pdu = append(pdu, status)
	return pdu, nil
}

func classFromDCS(dcs byte) sms.MessageClass {
	if dcs&dcsClass == 0 {
		return sms.ClassUnknown
	}
	return sms.MessageClass(dcs & 0x03)
}
