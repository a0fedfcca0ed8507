package sms

import "fmt"

// User data header information element identifiers, according to
// 3GPP TS 23.040 9.2.3.24. Both technologies use the same header layout.
const (
	UDHConcat8    = 0x00
	UDHPort16     = 0x05
	UDHConcat16   = 0x08
	udhConcat8Len = 3
	udhPort16Len  = 4
)

// ConcatUDH builds a user data header with an 8-bit concatenation element.
func ConcatUDH(ref byte, total, seq int) []byte {
	return []byte{5, UDHConcat8, udhConcat8Len, ref, byte(total), byte(seq)}
}

// PortUDH builds a user data header with a 16-bit application port element.
// The originator port is set to the destination port.
func PortUDH(destPort int) []byte {
	return []byte{6, UDHPort16, udhPort16Len,
		byte(destPort >> 8), byte(destPort),
		byte(destPort >> 8), byte(destPort),
	}
}

// UDH is the decoded form of a user data header.
type UDH struct {
	ConcatRef   int
	ConcatTotal int
	ConcatSeq   int
	Concat      bool
	DestPort    int
	HasPort     bool
}

// ParseUDH decodes a user data header from the beginning of the given user
// data and returns it together with its total length in bytes.
func ParseUDH(ud []byte) (UDH, int, error) {
	if len(ud) < 1 {
		return UDH{}, 0, fmt.Errorf("user data too short for header")
	}
	udhl := int(ud[0])
	if len(ud) < udhl+1 {
		return UDH{}, 0, fmt.Errorf("user data header truncated: %d < %d", len(ud)-1, udhl)
	}

	var result UDH
	elements := ud[1 : udhl+1]
	for len(elements) >= 2 {
		iei := elements[0]
		length := int(elements[1])
		if len(elements) < length+2 {
			return UDH{}, 0, fmt.Errorf("information element truncated")
		}
		value := elements[2 : length+2]
		switch {
		case iei == UDHConcat8 && length == udhConcat8Len:
			result.Concat = true
			result.ConcatRef = int(value[0])
			result.ConcatTotal = int(value[1])
			result.ConcatSeq = int(value[2])
		case iei == UDHConcat16 && length == 4:
			result.Concat = true
			result.ConcatRef = int(value[0])<<8 | int(value[1])
			result.ConcatTotal = int(value[2])
			result.ConcatSeq = int(value[3])
		case iei == UDHPort16 && length == udhPort16Len:
			result.HasPort = true
			result.DestPort = int(value[0])<<8 | int(value[1])
		}
		elements = elements[length+2:]
	}

	return result, udhl + 1, nil
}
