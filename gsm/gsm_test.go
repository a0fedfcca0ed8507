package gsm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telgo/smsrouter/sms"
)

func TestSubmitText(t *testing.T) {
	codec := NewCodec()

	pdu, err := codec.SubmitText("", "12345", "hello", false)

	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, pdu.SCAddress)
	expected := []byte{
		0x01,             // SMS-SUBMIT
		0x00,             // TP-MR assigned by the radio
		0x05, 0x81,       // 5 digits, unknown number plan
		0x21, 0x43, 0xF5, // 12345
		0x00,       // TP-PID
		0x00,       // 7-bit default alphabet
		0x05,       // TP-UDL in septets
		0xE8, 0x32, 0x9B, 0xFD, 0x06, // hello
	}
	assert.Equal(t, expected, pdu.Message)
}

func TestSubmitText_StatusReport(t *testing.T) {
	codec := NewCodec()

	pdu, err := codec.SubmitText("", "12345", "hi", true)

	require.NoError(t, err)
	assert.Equal(t, byte(0x21), pdu.Message[0])
}

func TestSubmitText_UCS2Fallback(t *testing.T) {
	codec := NewCodec()

	pdu, err := codec.SubmitText("", "12345", "héllo 日本", false)

	require.NoError(t, err)
	// DCS follows first octet, TP-MR, 5 address octets and TP-PID.
	assert.Equal(t, byte(0x08), pdu.Message[8])
}

func TestSubmitText_TooLong(t *testing.T) {
	codec := NewCodec()
	text := make([]byte, 161)
	for i := range text {
		text[i] = 'a'
	}

	_, err := codec.SubmitText("", "12345", string(text), false)

	assert.Error(t, err)
}

func TestSubmitData(t *testing.T) {
	codec := NewCodec()

	pdu, err := codec.SubmitData("", "12345", 2948, []byte{0xCA, 0xFE}, false)

	require.NoError(t, err)
	message := pdu.Message
	assert.Equal(t, byte(0x41), message[0], "UDHI must be set")
	assert.Equal(t, byte(0x04), message[8], "8-bit data DCS")
	udl := int(message[9])
	ud := message[10:]
	assert.Equal(t, udl, len(ud))

	udh, n, err := sms.ParseUDH(ud)
	require.NoError(t, err)
	assert.True(t, udh.HasPort)
	assert.Equal(t, 2948, udh.DestPort)
	assert.Equal(t, []byte{0xCA, 0xFE}, ud[n:])
}

func TestSubmitData_InvalidPort(t *testing.T) {
	codec := NewCodec()

	_, err := codec.SubmitData("", "12345", 0x10000, []byte{0x01}, false)

	assert.Error(t, err)
}

func TestSubmitMultipart(t *testing.T) {
	codec := NewCodec()

	pdus, err := codec.SubmitMultipart("", "12345", []string{"part one", "part two"}, false)

	require.NoError(t, err)
	require.Len(t, pdus, 2)
	for i, pdu := range pdus {
		message := pdu.Message
		assert.Equal(t, byte(0x41), message[0], "UDHI must be set")

		udh, _, err := sms.ParseUDH(message[10:])
		require.NoError(t, err)
		assert.True(t, udh.Concat)
		assert.Equal(t, 2, udh.ConcatTotal)
		assert.Equal(t, i+1, udh.ConcatSeq)
		assert.Equal(t, 1, udh.ConcatRef)
	}
}

func TestSubmitMultipart_FreshReferencePerMessage(t *testing.T) {
	codec := NewCodec()

	first, err := codec.SubmitMultipart("", "12345", []string{"a", "b"}, false)
	require.NoError(t, err)
	second, err := codec.SubmitMultipart("", "12345", []string{"a", "b"}, false)
	require.NoError(t, err)

	firstUDH, _, err := sms.ParseUDH(first[0].Message[10:])
	require.NoError(t, err)
	secondUDH, _, err := sms.ParseUDH(second[0].Message[10:])
	require.NoError(t, err)
	assert.NotEqual(t, firstUDH.ConcatRef, secondUDH.ConcatRef)
}

func TestSubmitMultipart_NoParts(t *testing.T) {
	codec := NewCodec()

	_, err := codec.SubmitMultipart("", "12345", nil, false)

	assert.Error(t, err)
}

func TestDecodeDeliver(t *testing.T) {
	timestamp := time.Date(2026, time.March, 7, 9, 30, 0, 0, time.UTC)
	tt := []struct {
		desc  string
		text  string
		class sms.MessageClass
		udh   []byte
	}{
		{"plain 7-bit", "hello world", sms.ClassUnknown, nil},
		{"class 1", "visible message", sms.Class1, nil},
		{"class 0", "flash", sms.Class0, nil},
		{"ucs-2", "日本語のメッセージ", sms.ClassUnknown, nil},
		{"concatenated", "part of a longer text", sms.ClassUnknown, sms.ConcatUDH(7, 2, 1)},
	}
	codec := NewCodec()
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			pdu, err := DeliverPDU("+491711234567", tc.text, tc.class, tc.udh, timestamp)
			require.NoError(t, err)

			msg, err := codec.DecodeDeliver(pdu)

			require.NoError(t, err)
			assert.Equal(t, sms.Format3GPP, msg.Format)
			assert.Equal(t, "+491711234567", msg.OrigAddr)
			assert.Equal(t, tc.text, msg.Text)
			assert.Equal(t, tc.class, msg.Class)
			assert.Equal(t, len(tc.udh) > 0, msg.Concatenated)
			assert.Equal(t, timestamp, msg.Timestamp)
		})
	}
}

func TestDecodeDeliver_NotADeliverPDU(t *testing.T) {
	codec := NewCodec()
	pdu, err := codec.SubmitText("", "12345", "hello", false)
	require.NoError(t, err)

	_, err = codec.DecodeDeliver(pdu.Message)

	assert.Error(t, err)
}

func TestDecodeDeliver_Truncated(t *testing.T) {
	codec := NewCodec()

	_, err := codec.DecodeDeliver([]byte{0x00, 0x05})

	assert.Error(t, err)
}

func TestDecodeStatusReport(t *testing.T) {
	timestamp := time.Date(2026, time.March, 7, 9, 30, 0, 0, time.UTC)
	codec := NewCodec()

	tt := []struct {
		desc      string
		delivered bool
	}{
		{"delivered", true},
		{"failed", false},
	}
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			pdu, err := StatusReportPDU(123, "12345", tc.delivered, timestamp)
			require.NoError(t, err)

			msgRef, delivered, err := codec.DecodeStatusReport(pdu)

			require.NoError(t, err)
			assert.Equal(t, 123, msgRef)
			assert.Equal(t, tc.delivered, delivered)
		})
	}
}
