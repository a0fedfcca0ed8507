package gsm

import (
	"fmt"
	"strings"
	"time"
)

const escapeSeptet = 0x1B

// gsm7Alphabet is the GSM 7-bit default alphabet according to
// 3GPP TS 23.038 6.2.1, indexed by septet value.
var gsm7Alphabet = []rune("@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞ\x1bÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§¿abcdefghijklmnopqrstuvwxyzäöñüà")

// gsm7Extension is the default alphabet extension table, reached through the
// escape septet.
var gsm7Extension = map[rune]byte{
	'\f': 0x0A,
	'^':  0x14,
	'{':  0x28,
	'}':  0x29,
	'\\': 0x2F,
	'[':  0x3C,
	'~':  0x3D,
	']':  0x3E,
	'|':  0x40,
	'€':  0x65,
}

var gsm7Septets = func() map[rune]byte {
	result := make(map[rune]byte, len(gsm7Alphabet))
	for i, r := range gsm7Alphabet {
		result[r] = byte(i)
	}
	return result
}()

var gsm7ExtensionRunes = func() map[byte]rune {
	result := make(map[byte]rune, len(gsm7Extension))
	for r, b := range gsm7Extension {
		result[b] = r
	}
	return result
}()

// toSeptets converts text into septets of the default alphabet. The second
// return value is false if the text contains characters outside the alphabet.
func toSeptets(text string) ([]byte, bool) {
	result := make([]byte, 0, len(text))
	for _, r := range text {
		if septet, ok := gsm7Septets[r]; ok && r != rune(escapeSeptet) {
			result = append(result, septet)
			continue
		}
		if septet, ok := gsm7Extension[r]; ok {
			result = append(result, escapeSeptet, septet)
			continue
		}
		return nil, false
	}
	return result, true
}

func fromSeptets(septets []byte) string {
	var result strings.Builder
	escaped := false
	for _, septet := range septets {
		switch {
		case escaped:
			escaped = false
			if r, ok := gsm7ExtensionRunes[septet]; ok {
				result.WriteRune(r)
			} else {
				result.WriteRune(' ')
			}
		case septet == escapeSeptet:
			escaped = true
		case int(septet) < len(gsm7Alphabet):
			result.WriteRune(gsm7Alphabet[septet])
		}
	}
	return result.String()
}

// pack7Bit packs septets LSB-first into octets, with the given number of
// zero fill bits before the first septet.
func pack7Bit(septets []byte, fillBits uint) []byte {
	if len(septets) == 0 {
		return nil
	}
	out := make([]byte, 0, (len(septets)*7+int(fillBits)+7)/8)
	var bitBuf uint32
	bitCount := fillBits
	for _, septet := range septets {
		bitBuf |= uint32(septet&0x7F) << bitCount
		bitCount += 7
		for bitCount >= 8 {
			out = append(out, byte(bitBuf))
			bitBuf >>= 8
			bitCount -= 8
		}
	}
	if bitCount > 0 {
		out = append(out, byte(bitBuf))
	}
	return out
}

// unpack7Bit extracts count septets from LSB-first packed octets, skipping
// the given number of fill bits.
func unpack7Bit(data []byte, fillBits uint, count int) []byte {
	septets := make([]byte, 0, count)
	var bitBuf uint32
	var bitCount uint
	skip := fillBits
	for _, b := range data {
		bitBuf |= uint32(b) << bitCount
		bitCount += 8
		if skip > 0 {
			bitBuf >>= skip
			bitCount -= skip
			skip = 0
		}
		for bitCount >= 7 && len(septets) < count {
			septets = append(septets, byte(bitBuf&0x7F))
			bitBuf >>= 7
			bitCount -= 7
		}
	}
	return septets
}

const (
	toaInternational = 0x91
	toaUnknown       = 0x81
)

// encodeAddress encodes an address as TP-DA/TP-OA/TP-RA: digit count, type of
// address, swapped BCD digits.
func encodeAddress(addr string) ([]byte, error) {
	digits, toa, err := addressDigits(addr)
	if err != nil {
		return nil, err
	}
	result := make([]byte, 0, 2+(len(digits)+1)/2)
	result = append(result, byte(len(digits)), toa)
	result = append(result, packBCD(digits)...)
	return result, nil
}

// encodeSCAddress encodes a service center address with its length in octets.
// An empty address encodes as a single zero octet, meaning the transport
// default service center is used.
func encodeSCAddress(addr string) ([]byte, error) {
	if addr == "" {
		return []byte{0x00}, nil
	}
	digits, toa, err := addressDigits(addr)
	if err != nil {
		return nil, err
	}
	bcd := packBCD(digits)
	result := make([]byte, 0, 2+len(bcd))
	result = append(result, byte(1+len(bcd)), toa)
	result = append(result, bcd...)
	return result, nil
}

func addressDigits(addr string) (string, byte, error) {
	toa := byte(toaUnknown)
	digits := addr
	if strings.HasPrefix(addr, "+") {
		toa = toaInternational
		digits = addr[1:]
	}
	if digits == "" {
		return "", 0, fmt.Errorf("empty address")
	}
	if len(digits) > 20 {
		return "", 0, fmt.Errorf("address too long: %d digits", len(digits))
	}
	for _, r := range digits {
		if (r < '0' || r > '9') && r != '*' && r != '#' {
			return "", 0, fmt.Errorf("invalid address character %q", r)
		}
	}
	return digits, toa, nil
}

func packBCD(digits string) []byte {
	result := make([]byte, 0, (len(digits)+1)/2)
	for i := 0; i < len(digits); i += 2 {
		low := bcdNibble(digits[i])
		high := byte(0x0F)
		if i+1 < len(digits) {
			high = bcdNibble(digits[i+1])
		}
		result = append(result, high<<4|low)
	}
	return result
}

func bcdNibble(digit byte) byte {
	switch digit {
	case '*':
		return 0x0A
	case '#':
		return 0x0B
	default:
		return digit - '0'
	}
}

// decodeAddress decodes a TP address from the beginning of the given bytes
// and returns the address together with the remaining bytes.
func decodeAddress(data []byte) (string, []byte, error) {
	if len(data) < 2 {
		return "", nil, fmt.Errorf("address truncated")
	}
	numDigits := int(data[0])
	toa := data[1]
	numOctets := (numDigits + 1) / 2
	if len(data) < 2+numOctets {
		return "", nil, fmt.Errorf("address truncated: %d digits", numDigits)
	}

	var result strings.Builder
	if toa&0x70 == 0x10 {
		result.WriteByte('+')
	}
	for i := 0; i < numOctets; i++ {
		octet := data[2+i]
		result.WriteByte(bcdDigit(octet & 0x0F))
		if i*2+1 < numDigits {
			result.WriteByte(bcdDigit(octet >> 4))
		}
	}
	return result.String(), data[2+numOctets:], nil
}

func bcdDigit(nibble byte) byte {
	switch nibble {
	case 0x0A:
		return '*'
	case 0x0B:
		return '#'
	default:
		return '0' + nibble
	}
}

// encodeTimestamp encodes a TP-SCTS timestamp as swapped BCD, in UTC.
func encodeTimestamp(t time.Time) []byte {
	t = t.UTC()
	values := []int{t.Year() % 100, int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second(), 0}
	result := make([]byte, len(values))
	for i, v := range values {
		result[i] = byte(v%10)<<4 | byte(v/10)
	}
	return result
}

func decodeTimestamp(data []byte) time.Time {
	if len(data) < 7 {
		return time.Time{}
	}
	values := make([]int, 6)
	for i := range values {
		values[i] = int(data[i]&0x0F)*10 + int(data[i]>>4)
	}
	year := values[0] + 2000
	return time.Date(year, time.Month(values[1]), values[2], values[3], values[4], values[5], 0, time.UTC)
}
