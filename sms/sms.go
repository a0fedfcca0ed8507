package sms

import (
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
	"time"
)

// Format identifies the message encoding family selected by network registration.
type Format string

// All defined message encoding families.
const (
	Format3GPP    Format = "3gpp"
	Format3GPP2   Format = "3gpp2"
	FormatUnknown Format = "unknown"
)

// ResultCode is the fixed result taxonomy reported through sent callbacks.
type ResultCode int

// All defined result codes.
const (
	ResultOK ResultCode = iota
	ResultGenericFailure
	ResultRadioOff
	ResultNullPDU
	ResultNoService
)

func (c ResultCode) String() string {
	switch c {
	case ResultOK:
		return "OK"
	case ResultGenericFailure:
		return "GENERIC_FAILURE"
	case ResultRadioOff:
		return "RADIO_OFF"
	case ResultNullPDU:
		return "NULL_PDU"
	case ResultNoService:
		return "NO_SERVICE"
	default:
		return "UNKNOWN"
	}
}

// Transmission errors reported by the radio command channel. The dispatcher
// maps them onto the result taxonomy.
var (
	ErrRadioOff  = errors.New("radio is off")
	ErrNoService = errors.New("no network service")
)

// SubmitPDU is the encoded form of an outbound message: the service center
// address bytes and the protocol-specific message bytes.
type SubmitPDU struct {
	SCAddress []byte
	Message   []byte
}

// RegistrationResult is the completion value of a registration capability
// query towards the transport layer.
type RegistrationResult struct {
	Registered bool
	FormatCode int
}

// Format codes delivered by the capability query.
const (
	FormatCode3GPP  = 1
	FormatCode3GPP2 = 2
)

// MessageClass of an inbound message, according to 3GPP TS 23.038.
type MessageClass int

// All defined message classes. ClassUnknown means the message carries no
// class indication.
const (
	ClassUnknown MessageClass = iota - 1
	Class0
	Class1
	Class2
	Class3
)

// InboundMessage is the decoded form of a received or injected PDU.
type InboundMessage struct {
	Format       Format
	OrigAddr     string
	Class        MessageClass
	Concatenated bool
	Text         string
	Data         []byte
	Timestamp    time.Time
}

// Permission is the premium-rate destination permission of a package.
type Permission int

// All defined premium permissions. PermissionAskUser is the default for
// packages that were never seen before.
const (
	PermissionUnknown Permission = iota
	PermissionAskUser
	PermissionNeverAllow
	PermissionAlwaysAllow
)

func (p Permission) String() string {
	switch p {
	case PermissionAskUser:
		return "ASK_USER"
	case PermissionNeverAllow:
		return "NEVER_ALLOW"
	case PermissionAlwaysAllow:
		return "ALWAYS_ALLOW"
	default:
		return "UNKNOWN"
	}
}

// SentRecord is one persisted outbound message.
type SentRecord struct {
	DestAddr string
	Format   Format
	PDU      []byte
	SentAt   time.Time
}

var hexSanitizer = regexp.MustCompile(`\s+`)

// HexToBinary converts the hex representation used along the radio command
// channel for binary data into a slice of bytes.
func HexToBinary(s string) ([]byte, error) {
	sanitized := hexSanitizer.ReplaceAllString(s, "")
	return hex.DecodeString(sanitized)
}

// BinaryToHex converts a slice of bytes into the hex representation used
// along the radio command channel for binary data.
func BinaryToHex(pdu []byte) string {
	return strings.ToUpper(hex.EncodeToString(pdu))
}
