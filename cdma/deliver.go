package cdma

import (
	"fmt"
	"time"

	"golang.org/x/text/encoding/unicode"

	"github.com/telgo/smsrouter/sms"
)

var unicodeCodec = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

func ucs2Bytes(text string) ([]byte, error) {
	encoded, err := unicodeCodec.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("cannot encode text as UTF-16: %w", err)
	}
	return encoded, nil
}

// DecodeDeliver decodes a point-to-point message carrying a deliver bearer
// message into an inbound message.
func (c *Codec) DecodeDeliver(pdu []byte) (sms.InboundMessage, error) {
	params, err := parseTransport(pdu)
	if err != nil {
		return sms.InboundMessage{}, err
	}

	origValue, ok := params[paramOrigAddress]
	if !ok {
		return sms.InboundMessage{}, fmt.Errorf("no originating address parameter")
	}
	origAddr, err := decodeAddressValue(origValue)
	if err != nil {
		return sms.InboundMessage{}, fmt.Errorf("invalid originating address: %w", err)
	}
	bearer, ok := params[paramBearerData]
	if !ok {
		return sms.InboundMessage{}, fmt.Errorf("no bearer data parameter")
	}

	teleservice := 0
	if t, ok := params[paramTeleservice]; ok && len(t) == 2 {
		teleservice = int(t[0])<<8 | int(t[1])
	}

	msg, err := decodeBearerData(bearer)
	if err != nil {
		return sms.InboundMessage{}, err
	}
	if msg.msgType != bearerMsgDeliver {
		return sms.InboundMessage{}, fmt.Errorf("not a deliver message: bearer type %d", msg.msgType)
	}

	result := sms.InboundMessage{
		Format:    sms.Format3GPP2,
		OrigAddr:  origAddr,
		Class:     msg.class,
		Timestamp: msg.timestamp,
	}

	fields := msg.userData
	if msg.headerInd {
		udh, n, err := sms.ParseUDH(fields)
		if err != nil {
			return sms.InboundMessage{}, err
		}
		result.Concatenated = udh.Concat
		fields = fields[n:]
		if udh.HasPort || teleservice == TeleserviceWAP {
			result.Data = fields
			return result, nil
		}
	}

	switch msg.encoding {
	case encodingOctet:
		decoded, err := octetCodec.NewDecoder().Bytes(fields)
		if err != nil {
			return sms.InboundMessage{}, fmt.Errorf("cannot decode octet text: %w", err)
		}
		result.Text = string(decoded)
	case encodingUnicode:
		decoded, err := unicodeCodec.NewDecoder().Bytes(fields)
		if err != nil {
			return sms.InboundMessage{}, fmt.Errorf("cannot decode UTF-16 text: %w", err)
		}
		result.Text = string(decoded)
	default:
		result.Text = string(fields)
	}

	return result, nil
}

// DecodeStatusReport decodes a point-to-point message carrying a delivery
// acknowledgment and reports the message reference it refers to.
func (c *Codec) DecodeStatusReport(pdu []byte) (int, bool, error) {
	params, err := parseTransport(pdu)
	if err != nil {
		return 0, false, err
	}
	bearer, ok := params[paramBearerData]
	if !ok {
		return 0, false, fmt.Errorf("no bearer data parameter")
	}
	msg, err := decodeBearerData(bearer)
	if err != nil {
		return 0, false, err
	}
	if msg.msgType != bearerMsgDeliveryAck {
		return 0, false, fmt.Errorf("not a delivery acknowledgment: bearer type %d", msg.msgType)
	}
	return int(msg.msgID), true, nil
}

func parseTransport(pdu []byte) (map[byte][]byte, error) {
	if len(pdu) < 1 {
		return nil, fmt.Errorf("empty PDU")
	}
	if pdu[0] != msgTypePointToPoint {
		return nil, fmt.Errorf("unsupported transport message type 0x%02x", pdu[0])
	}

	params := make(map[byte][]byte)
	rest := pdu[1:]
	for len(rest) > 0 {
		if len(rest) < 2 {
			return nil, fmt.Errorf("transport parameter truncated")
		}
		id := rest[0]
		length := int(rest[1])
		if len(rest) < length+2 {
			return nil, fmt.Errorf("transport parameter 0x%02x truncated: %d < %d", id, len(rest)-2, length)
		}
		params[id] = rest[2 : length+2]
		rest = rest[length+2:]
	}
	return params, nil
}

type bearerMessage struct {
	msgType   int
	msgID     uint16
	headerInd bool
	encoding  int
	userData  []byte
	timestamp time.Time
	class     sms.MessageClass
}

func decodeBearerData(bearer []byte) (bearerMessage, error) {
	result := bearerMessage{class: sms.ClassUnknown}

	rest := bearer
	for len(rest) > 0 {
		if len(rest) < 2 {
			return bearerMessage{}, fmt.Errorf("bearer subparameter truncated")
		}
		id := rest[0]
		length := int(rest[1])
		if len(rest) < length+2 {
			return bearerMessage{}, fmt.Errorf("bearer subparameter 0x%02x truncated", id)
		}
		value := rest[2 : length+2]
		rest = rest[length+2:]

		switch id {
		case subparamMessageID:
			r := newBitReader(value)
			msgType, err := r.ReadBits(4)
			if err != nil {
				return bearerMessage{}, err
			}
			msgID, err := r.ReadBits(16)
			if err != nil {
				return bearerMessage{}, err
			}
			headerInd, err := r.ReadBits(1)
			if err != nil {
				return bearerMessage{}, err
			}
			result.msgType = int(msgType)
			result.msgID = uint16(msgID)
			result.headerInd = headerInd == 1
		case subparamUserData:
			encoding, fields, err := decodeUserData(value)
			if err != nil {
				return bearerMessage{}, err
			}
			result.encoding = encoding
			result.userData = fields
		case subparamTimestamp:
			result.timestamp = decodeBearerTimestamp(value)
		case subparamDisplayMode:
			r := newBitReader(value)
			mode, err := r.ReadBits(2)
			if err != nil {
				return bearerMessage{}, err
			}
			switch mode {
			case displayImmediate:
				result.class = sms.Class0
			case displayDefault:
				result.class = sms.Class1
			default:
				result.class = sms.ClassUnknown
			}
		}
	}

	return result, nil
}

func decodeUserData(value []byte) (int, []byte, error) {
	r := newBitReader(value)
	encoding, err := r.ReadBits(5)
	if err != nil {
		return 0, nil, err
	}
	numFields, err := r.ReadBits(8)
	if err != nil {
		return 0, nil, err
	}

	switch int(encoding) {
	case encoding7BitASCII:
		fields := make([]byte, 0, numFields)
		for i := uint32(0); i < numFields; i++ {
			ch, err := r.ReadBits(7)
			if err != nil {
				return 0, nil, err
			}
			fields = append(fields, byte(ch))
		}
		return int(encoding), fields, nil
	case encodingUnicode:
		fields := make([]byte, 0, numFields*2)
		for i := uint32(0); i < numFields*2; i++ {
			b, err := r.ReadByte()
			if err != nil {
				return 0, nil, err
			}
			fields = append(fields, b)
		}
		return int(encoding), fields, nil
	default:
		fields := make([]byte, 0, numFields)
		for i := uint32(0); i < numFields; i++ {
			b, err := r.ReadByte()
			if err != nil {
				return 0, nil, err
			}
			fields = append(fields, b)
		}
		return int(encoding), fields, nil
	}
}

func decodeBearerTimestamp(value []byte) time.Time {
	if len(value) < 6 {
		return time.Time{}
	}
	bcd := func(b byte) int { return int(b>>4)*10 + int(b&0x0F) }
	year := bcd(value[0])
	if year < 96 {
		year += 2000
	} else {
		year += 1900
	}
	return time.Date(year, time.Month(bcd(value[1])), bcd(value[2]),
		bcd(value[3]), bcd(value[4]), bcd(value[5]), 0, time.UTC)
}

// DeliverPDU assembles a point-to-point deliver message. It is used by tests
// and by tools that feed messages into the injection path.
func DeliverPDU(origAddr, text string, class sms.MessageClass, udh []byte, timestamp time.Time) ([]byte, error) {
	addr, err := encodeAddress(origAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid originating address: %w", err)
	}

	teleservice := TeleserviceWMT
	var userData []byte
	if len(udh) > 0 {
		teleservice = TeleserviceEMT
		encoded, err := octetCodec.NewEncoder().Bytes([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("cannot encode text: %w", err)
		}
		userData = packUserData(encodingOctet, append(append([]byte{}, udh...), encoded...))
	} else {
		userData, err = encodeUserData(text)
		if err != nil {
			return nil, err
		}
	}

	w := &bitWriter{}
	w.WriteByte(subparamMessageID)
	w.WriteByte(3)
	w.WriteBits(bearerMsgDeliver, 4)
	w.WriteBits(1, 16)
	if len(udh) > 0 {
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

	if !timestamp.IsZero() {
		t := timestamp.UTC()
		bcd := func(v int) byte { return byte(v/10)<<4 | byte(v%10) }
		w.WriteByte(subparamTimestamp)
		w.WriteByte(6)
		for _, v := range []int{t.Year() % 100, int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second()} {
			w.WriteByte(bcd(v))
		}
	}

	if class == sms.Class0 || class == sms.Class1 {
		mode := byte(displayDefault)
		if class == sms.Class0 {
			mode = displayImmediate
		}
		w.WriteByte(subparamDisplayMode)
		w.WriteByte(1)
		w.WriteBits(uint32(mode), 2)
		w.WriteBits(0, 6)
	}
	bearer := w.Bytes()

	tw := &bitWriter{}
	tw.WriteByte(msgTypePointToPoint)
	tw.WriteByte(paramTeleservice)
	tw.WriteByte(2)
	tw.WriteBits(uint32(teleservice), 16)
	tw.WriteByte(paramOrigAddress)
	tw.WriteByte(byte(len(addr)))
	for _, b := range addr {
		tw.WriteByte(b)
	}
	tw.WriteByte(paramBearerData)
	tw.WriteByte(byte(len(bearer)))
	for _, b := range bearer {
		tw.WriteByte(b)
	}
	return tw.Bytes(), nil
}

// StatusReportPDU assembles a point-to-point message carrying a delivery
// acknowledgment for the given message reference.
func StatusReportPDU(msgRef int, origAddr string) ([]byte, error) {
	addr, err := encodeAddress(origAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid originating address: %w", err)
	}

	w := &bitWriter{}
	w.WriteByte(subparamMessageID)
	w.WriteByte(3)
	w.WriteBits(bearerMsgDeliveryAck, 4)
	w.WriteBits(uint32(msgRef), 16)
	w.WriteBits(0, 4)
	bearer := w.Bytes()

	tw := &bitWriter{}
	tw.WriteByte(msgTypePointToPoint)
	tw.WriteByte(paramTeleservice)
	tw.WriteByte(2)
	tw.WriteBits(TeleserviceWMT, 16)
	tw.WriteByte(paramOrigAddress)
	tw.WriteByte(byte(len(addr)))
	for _, b := range addr {
		tw.WriteByte(b)
	}
	tw.WriteByte(paramBearerData)
	tw.WriteByte(byte(len(bearer)))
	for _, b := range bearer {
		tw.WriteByte(b)
	}
	return tw.Bytes(), nil
}
