// Package cdma implements encoding and decoding of 3GPP2 C.S0015 short
// message PDUs at the transport layer: point-to-point messages carrying
// bearer data with bit-packed subparameters. Only the teleservices and
// subparameters needed for text and port-addressed data messaging are
// supported.
package cdma

import (
	"fmt"

	"golang.org/x/text/encoding/charmap"

	"github.com/telgo/smsrouter/sms"
)

// Transport layer message types.
const msgTypePointToPoint = 0x00

// Transport layer parameter identifiers.
const (
	paramTeleservice = 0x00
	paramOrigAddress = 0x02
	paramDestAddress = 0x04
	paramBearerData  = 0x08
)

// Teleservice identifiers.
const (
	TeleserviceWMT = 4098 // wireless messaging teleservice, text
	TeleserviceWAP = 4100 // wireless application protocol, port-addressed data
	TeleserviceEMT = 4101 // enhanced messaging teleservice, user data headers
)

// Bearer data subparameter identifiers.
const (
	subparamMessageID   = 0x00
	subparamUserData    = 0x01
	subparamTimestamp   = 0x03
	subparamReplyOption = 0x0A
	subparamDisplayMode = 0x0F
)

// Bearer data message types.
const (
	bearerMsgDeliver     = 1
	bearerMsgSubmit      = 2
	bearerMsgDeliveryAck = 4
)

// User data encodings.
const (
	encodingOctet     = 0
	encoding7BitASCII = 2
	encodingUnicode   = 4
)

// Message display modes.
const (
	displayImmediate = 0
	displayDefault   = 1
	displayUser      = 2
)

var octetCodec = charmap.ISO8859_1

// Codec encodes and decodes 3GPP2 PDUs. The zero value is ready for use.
type Codec struct {
	msgID uint16
}

// NewCodec creates a 3GPP2 codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Format returns the technology tag of this codec.
func (c *Codec) Format() sms.Format {
	return sms.Format3GPP2
}

func (c *Codec) nextMsgID() uint16 {
	c.msgID++
	return c.msgID
}

// SubmitText encodes a single-part text message. 7-bit ASCII is used where
// the text allows it, UTF-16 otherwise.
func (c *Codec) SubmitText(scAddr, destAddr, text string, statusReport bool) (sms.SubmitPDU, error) {
	userData, err := encodeUserData(text)
	if err != nil {
		return sms.SubmitPDU{}, err
	}
	bearer := encodeBearerData(bearerMsgSubmit, c.nextMsgID(), false, userData, statusReport)
	return assembleSubmit(scAddr, destAddr, TeleserviceWMT, bearer)
}

// SubmitData encodes a data message addressed to an application port. The
// port is carried in a user data header, octet encoding is used.
func (c *Codec) SubmitData(scAddr, destAddr string, destPort int, data []byte, statusReport bool) (sms.SubmitPDU, error) {
	if destPort < 0 || destPort > 0xFFFF {
		return sms.SubmitPDU{}, fmt.Errorf("invalid destination port %d", destPort)
	}
	ud := append(sms.PortUDH(destPort), data...)
	userData := packUserData(encodingOctet, ud)
	bearer := encodeBearerData(bearerMsgSubmit, c.nextMsgID(), true, userData, statusReport)
	return assembleSubmit(scAddr, destAddr, TeleserviceWAP, bearer)
}

// SubmitMultipart encodes the given parts with concatenation user data
// headers sharing one reference, using the enhanced messaging teleservice.
func (c *Codec) SubmitMultipart(scAddr, destAddr string, parts []string, statusReport bool) ([]sms.SubmitPDU, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("no message parts")
	}
	if len(parts) > 255 {
		return nil, fmt.Errorf("too many message parts: %d", len(parts))
	}
	ref := byte(c.nextMsgID())

	result := make([]sms.SubmitPDU, 0, len(parts))
	for i, part := range parts {
		encoded, err := octetCodec.NewEncoder().Bytes([]byte(part))
		if err != nil {
			return nil, fmt.Errorf("part %d: cannot encode text: %w", i+1, err)
		}
		ud := append(sms.ConcatUDH(ref, len(parts), i+1), encoded...)
		userData := packUserData(encodingOctet, ud)
		bearer := encodeBearerData(bearerMsgSubmit, c.nextMsgID(), true, userData, statusReport)
		pdu, err := assembleSubmit(scAddr, destAddr, TeleserviceEMT, bearer)
		if err != nil {
			return nil, err
		}
		result = append(result, pdu)
	}
	return result, nil
}

func encodeUserData(text string) ([]byte, error) {
	ascii := true
	for _, r := range text {
		if r >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		w := &bitWriter{}
		w.WriteBits(encoding7BitASCII, 5)
		w.WriteBits(uint32(len(text)), 8)
		for _, ch := range []byte(text) {
			w.WriteBits(uint32(ch), 7)
		}
		return w.Bytes(), nil
	}

	encoded, err := ucs2Bytes(text)
	if err != nil {
		return nil, err
	}
	return packUserData(encodingUnicode, encoded), nil
}

func packUserData(encoding int, fields []byte) []byte {
	w := &bitWriter{}
	w.WriteBits(uint32(encoding), 5)
	n := len(fields)
	if encoding == encodingUnicode {
		n = len(fields) / 2
	}
	w.WriteBits(uint32(n), 8)
	for _, b := range fields {
		w.WriteByte(b)
	}
	return w.Bytes()
}

func encodeBearerData(msgType int, msgID uint16, headerInd bool, userData []byte, replyRequested bool) []byte {
	w := &bitWriter{}

	w.WriteByte(subparamMessageID)
	w.WriteByte(3)
	w.WriteBits(uint32(msgType), 4)
	w.WriteBits(uint32(msgID), 16)
	if headerInd {
		w.WriteBits(1, 1)
	} else {
		w.WriteBits(0, 1)
	}
	w.WriteBits(0, 3)

	w.WriteByte(subparamUserData)
	w.WriteByte(byte(len(userData)))
	for _, b := range userData {
		w.WriteByte(b)
	}

	if replyRequested {
		w.WriteByte(subparamReplyOption)
		w.WriteByte(1)
		w.WriteBits(0, 1) // user ack
		w.WriteBits(1, 1) // delivery ack
		w.WriteBits(0, 6)
	}

	return w.Bytes()
}

func assembleSubmit(scAddr, destAddr string, teleservice int, bearer []byte) (sms.SubmitPDU, error) {
	addr, err := encodeAddress(destAddr)
	if err != nil {
		return sms.SubmitPDU{}, fmt.Errorf("invalid destination address: %w", err)
	}

	w := &bitWriter{}
	w.WriteByte(msgTypePointToPoint)

	w.WriteByte(paramTeleservice)
	w.WriteByte(2)
	w.WriteBits(uint32(teleservice), 16)

	w.WriteByte(paramDestAddress)
	w.WriteByte(byte(len(addr)))
	for _, b := range addr {
		w.WriteByte(b)
	}

	w.WriteByte(paramBearerData)
	w.WriteByte(byte(len(bearer)))
	for _, b := range bearer {
		w.WriteByte(b)
	}

	// 3GPP2 messages carry no separate service center address; the service
	// center is part of the transport below this layer.
	_ = scAddr
	return sms.SubmitPDU{Message: w.Bytes()}, nil
}

// encodeAddress packs an address parameter value: digit mode 0, number mode
// 0, 4-bit DTMF digits.
func encodeAddress(addr string) ([]byte, error) {
	digits := addr
	if len(digits) > 0 && digits[0] == '+' {
		digits = digits[1:]
	}
	if digits == "" {
		return nil, fmt.Errorf("empty address")
	}

	w := &bitWriter{}
	w.WriteBits(0, 1) // digit mode: DTMF
	w.WriteBits(0, 1) // number mode: address as digits
	w.WriteBits(uint32(len(digits)), 8)
	for i := 0; i < len(digits); i++ {
		d, err := dtmfDigit(digits[i])
		if err != nil {
			return nil, err
		}
		w.WriteBits(uint32(d), 4)
	}
	return w.Bytes(), nil
}

func dtmfDigit(digit byte) (byte, error) {
	switch {
	case digit == '0':
		return 10, nil
	case digit >= '1' && digit <= '9':
		return digit - '0', nil
	case digit == '*':
		return 11, nil
	case digit == '#':
		return 12, nil
	default:
		return 0, fmt.Errorf("invalid address character %q", digit)
	}
}

func decodeAddressValue(value []byte) (string, error) {
	r := newBitReader(value)
	digitMode, err := r.ReadBits(1)
	if err != nil {
		return "", err
	}
	if _, err := r.ReadBits(1); err != nil {
		return "", err
	}
	if digitMode != 0 {
		return "", fmt.Errorf("ASCII digit mode is not supported")
	}
	numFields, err := r.ReadBits(8)
	if err != nil {
		return "", err
	}
	digits := make([]byte, 0, numFields)
	for i := uint32(0); i < numFields; i++ {
		d, err := r.ReadBits(4)
		if err != nil {
			return "", err
		}
		switch {
		case d == 10:
			digits = append(digits, '0')
		case d >= 1 && d <= 9:
			digits = append(digits, '0'+byte(d))
		case d == 11:
			digits = append(digits, '*')
		case d == 12:
			digits = append(digits, '#')
		default:
			return "", fmt.Errorf("invalid DTMF digit %d", d)
		}
	}
	return string(digits), nil
}
