package gsm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPack7Bit(t *testing.T) {
	septets, ok := toSeptets("hello")
	require.True(t, ok)

	packed := pack7Bit(septets, 0)

	assert.Equal(t, []byte{0xE8, 0x32, 0x9B, 0xFD, 0x06}, packed)
}

func TestPack7Bit_RoundTrip(t *testing.T) {
	tt := []struct {
		desc string
		text string
		fill uint
	}{
		{"plain", "hello world", 0},
		{"full alphabet", "@£$¥ Ä ö ñ 123", 0},
		{"extension table", "{braces} [brackets] €", 0},
		{"with fill bits", "concatenated part", 1},
		{"eight septets", "12345678", 0},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			septets, ok := toSeptets(tc.text)
			require.True(t, ok)

			packed := pack7Bit(septets, tc.fill)
			unpacked := unpack7Bit(packed, tc.fill, len(septets))

			assert.Equal(t, tc.text, fromSeptets(unpacked))
		})
	}
}

func TestToSeptets_OutsideAlphabet(t *testing.T) {
	_, ok := toSeptets("日本語")

	assert.False(t, ok)
}

func TestEncodeAddress_International(t *testing.T) {
	actual, err := encodeAddress("+491711234567")

	require.NoError(t, err)
	assert.Equal(t, []byte{0x0C, 0x91, 0x94, 0x71, 0x11, 0x32, 0x54, 0x76}, actual)
}

func TestAddress_RoundTrip(t *testing.T) {
	tt := []string{
		"+491711234567",
		"01711234567",
		"12345",
		"*100#",
	}
	for _, addr := range tt {
		t.Run(addr, func(t *testing.T) {
			encoded, err := encodeAddress(addr)
			require.NoError(t, err)

			decoded, rest, err := decodeAddress(encoded)

			require.NoError(t, err)
			assert.Equal(t, addr, decoded)
			assert.Empty(t, rest)
		})
	}
}

func TestEncodeAddress_Invalid(t *testing.T) {
	tt := []struct {
		desc string
		addr string
	}{
		{"empty", ""},
		{"plus only", "+"},
		{"letters", "CALL-ME"},
		{"too long", "123456789012345678901"},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := encodeAddress(tc.addr)
			assert.Error(t, err)
		})
	}
}

func TestEncodeSCAddress_Empty(t *testing.T) {
	actual, err := encodeSCAddress("")

	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, actual)
}

func TestEncodeSCAddress(t *testing.T) {
	actual, err := encodeSCAddress("+49171")

	require.NoError(t, err)
	// 4 octets: type of address plus 3 BCD octets
	assert.Equal(t, []byte{0x04, 0x91, 0x94, 0x71, 0xF1}, actual)
}

func TestTimestamp_RoundTrip(t *testing.T) {
	expected := time.Date(2026, time.August, 23, 14, 5, 59, 0, time.UTC)

	actual := decodeTimestamp(encodeTimestamp(expected))

	assert.Equal(t, expected, actual)
}
