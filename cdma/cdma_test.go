package cdma

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telgo/smsrouter/sms"
)

func TestSubmitText(t *testing.T) {
	codec := NewCodec()

	pdu, err := codec.SubmitText("", "15551234", "hello", false)

	require.NoError(t, err)
	assert.Empty(t, pdu.SCAddress)

	params, err := parseTransport(pdu.Message)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x02}, params[paramTeleservice])

	destAddr, err := decodeAddressValue(params[paramDestAddress])
	require.NoError(t, err)
	assert.Equal(t, "15551234", destAddr)

	msg, err := decodeBearerData(params[paramBearerData])
	require.NoError(t, err)
	assert.Equal(t, bearerMsgSubmit, msg.msgType)
	assert.Equal(t, encoding7BitASCII, msg.encoding)
	assert.Equal(t, "hello", string(msg.userData))
	assert.False(t, msg.headerInd)
}

func TestSubmitText_Unicode(t *testing.T) {
	codec := NewCodec()

	pdu, err := codec.SubmitText("", "15551234", "日本語", false)

	require.NoError(t, err)
	params, err := parseTransport(pdu.Message)
	require.NoError(t, err)
	msg, err := decodeBearerData(params[paramBearerData])
	require.NoError(t, err)
	assert.Equal(t, encodingUnicode, msg.encoding)

	decoded, err := unicodeCodec.NewDecoder().Bytes(msg.userData)
	require.NoError(t, err)
	assert.Equal(t, "日本語", string(decoded))
}

func TestSubmitText_ReplyOption(t *testing.T) {
	codec := NewCodec()

	pdu, err := codec.SubmitText("", "15551234", "hi", true)

	require.NoError(t, err)
	params, err := parseTransport(pdu.Message)
	require.NoError(t, err)
	// The reply option subparameter requests a delivery acknowledgment.
	assert.Contains(t, string(params[paramBearerData]), string([]byte{subparamReplyOption, 0x01}))
}

func TestSubmitData(t *testing.T) {
	codec := NewCodec()

	pdu, err := codec.SubmitData("", "15551234", 2948, []byte{0xCA, 0xFE}, false)

	require.NoError(t, err)
	params, err := parseTransport(pdu.Message)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x04}, params[paramTeleservice])

	msg, err := decodeBearerData(params[paramBearerData])
	require.NoError(t, err)
	assert.True(t, msg.headerInd)

	udh, n, err := sms.ParseUDH(msg.userData)
	require.NoError(t, err)
	assert.True(t, udh.HasPort)
	assert.Equal(t, 2948, udh.DestPort)
	assert.Equal(t, []byte{0xCA, 0xFE}, msg.userData[n:])
}

func TestSubmitMultipart(t *testing.T) {
	codec := NewCodec()

	pdus, err := codec.SubmitMultipart("", "15551234", []string{"part one", "part two"}, false)

	require.NoError(t, err)
	require.Len(t, pdus, 2)
	for i, pdu := range pdus {
		params, err := parseTransport(pdu.Message)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x10, 0x05}, params[paramTeleservice])

		msg, err := decodeBearerData(params[paramBearerData])
		require.NoError(t, err)
		assert.True(t, msg.headerInd)

		udh, _, err := sms.ParseUDH(msg.userData)
		require.NoError(t, err)
		assert.True(t, udh.Concat)
		assert.Equal(t, 2, udh.ConcatTotal)
		assert.Equal(t, i+1, udh.ConcatSeq)
	}
}

func TestDecodeDeliver(t *testing.T) {
	timestamp := time.Date(2026, time.March, 7, 9, 30, 0, 0, time.UTC)
	tt := []struct {
		desc  string
		text  string
		class sms.MessageClass
	}{
		{"ascii", "hello world", sms.ClassUnknown},
		{"class 1", "visible message", sms.Class1},
		{"class 0", "flash", sms.Class0},
		{"unicode", "日本語のメッセージ", sms.ClassUnknown},
	}
	codec := NewCodec()
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			pdu, err := DeliverPDU("15551234", tc.text, tc.class, nil, timestamp)
			require.NoError(t, err)

			msg, err := codec.DecodeDeliver(pdu)

			require.NoError(t, err)
			assert.Equal(t, sms.Format3GPP2, msg.Format)
			assert.Equal(t, "15551234", msg.OrigAddr)
			assert.Equal(t, tc.text, msg.Text)
			assert.Equal(t, tc.class, msg.Class)
			assert.False(t, msg.Concatenated)
			assert.Equal(t, timestamp, msg.Timestamp)
		})
	}
}

func TestDecodeDeliver_Concatenated(t *testing.T) {
	codec := NewCodec()
	pdu, err := DeliverPDU("15551234", "part", sms.ClassUnknown, sms.ConcatUDH(9, 2, 1), time.Time{})
	require.NoError(t, err)

	msg, err := codec.DecodeDeliver(pdu)

	require.NoError(t, err)
	assert.True(t, msg.Concatenated)
	assert.Equal(t, "part", msg.Text)
}

func TestDecodeDeliver_PortAddressed(t *testing.T) {
	codec := NewCodec()
	pdu, err := DeliverPDU("15551234", "Êþ", sms.ClassUnknown, sms.PortUDH(2948), time.Time{})
	require.NoError(t, err)

	msg, err := codec.DecodeDeliver(pdu)

	require.NoError(t, err)
	assert.Equal(t, []byte{0xCA, 0xFE}, msg.Data)
	assert.Empty(t, msg.Text)
}

func TestDecodeDeliver_RejectsSubmit(t *testing.T) {
	codec := NewCodec()
	pdu, err := codec.SubmitText("", "15551234", "hello", false)
	require.NoError(t, err)

	// A submit PDU carries the destination address, not the originating one.
	_, err = codec.DecodeDeliver(pdu.Message)

	assert.Error(t, err)
}

func TestDecodeDeliver_Truncated(t *testing.T) {
	tt := []struct {
		desc string
		pdu  []byte
	}{
		{"empty", nil},
		{"wrong transport type", []byte{0x01}},
		{"parameter truncated", []byte{0x00, 0x02, 0x08, 0x01}},
	}
	codec := NewCodec()
	for _, tc := range tt {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := codec.DecodeDeliver(tc.pdu)
			assert.Error(t, err)
		})
	}
}

func TestDecodeStatusReport(t *testing.T) {
	codec := NewCodec()
	pdu, err := StatusReportPDU(77, "15551234")
	require.NoError(t, err)

	msgRef, delivered, err := codec.DecodeStatusReport(pdu)

	require.NoError(t, err)
	assert.Equal(t, 77, msgRef)
	assert.True(t, delivered)
}

func TestAddress_RoundTrip(t *testing.T) {
	tt := []string{
		"+15551230000",
		"15551234",
		"*228#",
	}
	for _, addr := range tt {
		t.Run(addr, func(t *testing.T) {
			encoded, err := encodeAddress(addr)
			require.NoError(t, err)

			decoded, err := decodeAddressValue(encoded)

			require.NoError(t, err)
			expected := addr
			if expected[0] == '+' {
				expected = expected[1:]
			}
			assert.Equal(t, expected, decoded)
		})
	}
}

func TestEncodeAddress_Invalid(t *testing.T) {
	_, err := encodeAddress("CALL-ME")
	assert.Error(t, err)

	_, err = encodeAddress("")
	assert.Error(t, err)
}
