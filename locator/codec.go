// Package locator implements the Locator wire protocol: the broadcast UDP
// discovery and management framing used to find and command devices on the
// local subnet, plus the transport that owns the broadcast socket.
package locator

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/charmap"
)

// Password is the fixed 8-byte ASCII magic every Locator frame starts with.
const Password = "12345678"

const (
	headerFixedLen = 8 + 16 + 1 + 1 + 1 // password + s_num + ver + cmd + len
	// FrameOverhead is the number of bytes a frame adds beyond its payload
	// (header plus trailing checksum byte).
	FrameOverhead = headerFixedLen + 1
	// ProtocolVersion is the only Locator protocol version this package speaks.
	ProtocolVersion byte = 1
	// SerialLen is the length in bytes of a device serial number.
	SerialLen = 16
	// SummaryLen is the fixed length of the device summary block.
	SummaryLen = 128
)

// BroadcastSerial is the wildcard serial (all 0xFF) used on REQUEST frames.
var BroadcastSerial = [SerialLen]byte{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
}

// Cmd is a Locator command byte.
type Cmd byte

// Locator commands, §4.1.
const (
	CmdRequest      Cmd = 0x01
	CmdSetPrimary   Cmd = 0x02
	CmdReadSettings Cmd = 0x03
	CmdExeElCmd     Cmd = 0x04
	CmdReadMemProp  Cmd = 0x05
	CmdReadMemDump  Cmd = 0x06
	CmdGetMap       Cmd = 0x07
	CmdGetLog       Cmd = 0x08
	CmdClearLog     Cmd = 0x09
	CmdSetUser      Cmd = 0x0A
	CmdGetUser      Cmd = 0x0B
)

func (c Cmd) String() string {
	switch c {
	case CmdRequest:
		return "REQUEST"
	case CmdSetPrimary:
		return "SET_PRIMARY"
	case CmdReadSettings:
		return "READ_SETTINGS"
	case CmdExeElCmd:
		return "EXE_EL_CMD"
	case CmdReadMemProp:
		return "READ_MEM_PROP"
	case CmdReadMemDump:
		return "READ_MEM_DUMP"
	case CmdGetMap:
		return "GET_MAP"
	case CmdGetLog:
		return "GET_LOG"
	case CmdClearLog:
		return "CLEAR_LOG"
	case CmdSetUser:
		return "SET_USER"
	case CmdGetUser:
		return "GET_USER"
	default:
		return fmt.Sprintf("Cmd(0x%02X)", byte(c))
	}
}

// Result is a LocatorResult status byte carried in short responses.
type Result byte

// LocatorResult values, §4.1.
const (
	ResultUnknownCmd Result = 0
	ResultOK         Result = 1
	ResultError      Result = 2
	ResultOutOfMem   Result = 3
	ResultMemError   Result = 4
)

func (r Result) String() string {
	switch r {
	case ResultUnknownCmd:
		return "UNKNOWN_CMD"
	case ResultOK:
		return "OK"
	case ResultError:
		return "ERROR"
	case ResultOutOfMem:
		return "OUT_OF_MEM"
	case ResultMemError:
		return "MEM_ERROR"
	default:
		return fmt.Sprintf("Result(%d)", byte(r))
	}
}

// IsKnownResult reports whether b is a defined LocatorResult value.
func IsKnownResult(b byte) bool {
	switch Result(b) {
	case ResultUnknownCmd, ResultOK, ResultError, ResultOutOfMem, ResultMemError:
		return true
	default:
		return false
	}
}

// ElCmd is the command tag carried as the first payload byte inside an
// EXE_EL_CMD envelope, tunnelling the ElUDP protocol.
type ElCmd byte

// ElUDP command tags, §4.1.
const (
	ElSetAddr  ElCmd = 1
	ElRestart  ElCmd = 2
	ElFWInfo   ElCmd = 3
	ElFWPack   ElCmd = 4
	ElRunMain  ElCmd = 5
	ElRunBtldr ElCmd = 6
)

// Header is a decoded Locator frame header (without its payload).
type Header struct {
	Serial [SerialLen]byte
	Ver    byte
	Cmd    Cmd
	Len    byte
}

var win1251 = charmap.Windows1251

// checksum computes "(-sum(b)) & 0xff" over b.
func checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return byte(-int8(sum))
}

// Encode builds a complete Locator frame for cmd/payload/serial.
// len(payload) must fit in a byte (<= 255).
func Encode(cmd Cmd, payload []byte, serial [SerialLen]byte) ([]byte, error) {
	if len(payload) > 255 {
		return nil, fmt.Errorf("locator: payload too long (%d bytes, max 255)", len(payload))
	}

	buf := new(bytes.Buffer)
	pwd, err := win1251.NewEncoder().Bytes([]byte(Password))
	if err != nil {
		return nil, fmt.Errorf("locator: encode password: %w", err)
	}
	buf.Write(pwd)
	buf.Write(serial[:])
	buf.WriteByte(ProtocolVersion)
	buf.WriteByte(byte(cmd))
	buf.WriteByte(byte(len(payload)))
	buf.Write(payload)

	frame := buf.Bytes()
	return append(frame, checksum(frame)), nil
}

// EncodeRequest builds a broadcast REQUEST frame with the wildcard serial.
func EncodeRequest() []byte {
	frame, _ := Encode(CmdRequest, nil, BroadcastSerial)
	return frame
}

// Decode parses a raw UDP datagram into a Header and its payload slice.
//
// A datagram whose first 8 bytes do not decode (CP1251) to the Locator
// password is malformed: Decode returns (nil, nil, false) so the caller logs
// and discards it. If the declared length disagrees with the actual frame
// length, Decode still returns the best-effort payload slice [27:-1] along
// with ok=true, matching the tolerant behavior described in §4.1 (the
// caller is responsible for logging the mismatch).
func Decode(raw []byte) (*Header, []byte, bool) {
	if len(raw) < headerFixedLen+1 { // +1 for checksum byte
		return nil, nil, false
	}

	pwd, err := win1251.NewDecoder().Bytes(raw[0:8])
	if err != nil || string(pwd) != Password {
		return nil, nil, false
	}

	var serial [SerialLen]byte
	copy(serial[:], raw[8:24])

	h := &Header{
		Serial: serial,
		Ver:    raw[24],
		Cmd:    Cmd(raw[25]),
		Len:    raw[26],
	}

	// Best-effort payload slice per §4.1: accept [27 : -1] regardless of
	// whether actual_len agrees with the declared len byte.
	if len(raw) < 27+1 {
		return h, nil, true
	}
	payload := raw[27 : len(raw)-1]
	return h, payload, true
}

// VerifyChecksum reports whether raw's trailing checksum byte matches the
// computed checksum of the preceding bytes. Per the REDESIGN FLAG in §9,
// callers SHOULD verify and drop on mismatch rather than retain malformed
// frames.
func VerifyChecksum(raw []byte) bool {
	if len(raw) < 1 {
		return false
	}
	body := raw[:len(raw)-1]
	return raw[len(raw)-1] == checksum(body)
}

// ExpectedLen returns the total frame length implied by a header's Len field.
func ExpectedLen(h *Header) int {
	return int(h.Len) + FrameOverhead
}

// EncodeShortResult builds the short "[result]" or "[result, errCode]" reply
// payload described in §4.5's response classification.
func EncodeShortResult(result Result, errCode byte, includeErrCode bool) []byte {
	if !includeErrCode {
		return []byte{byte(result)}
	}
	return []byte{byte(result), errCode}
}

// DecodeShortResult parses a short result payload ([result] or
// [result, errCode]). ok is false if payload is empty.
func DecodeShortResult(payload []byte) (result Result, errCode byte, hasErrCode bool, ok bool) {
	if len(payload) == 0 {
		return 0, 0, false, false
	}
	result = Result(payload[0])
	if len(payload) >= 2 {
		return result, payload[1], true, true
	}
	return result, 0, false, true
}

// EncodeElEnvelope prefixes an ElUDP command tag onto its payload for
// tunnelling inside an EXE_EL_CMD Locator frame.
func EncodeElEnvelope(cmd ElCmd, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = byte(cmd)
	copy(out[1:], payload)
	return out
}

// DefaultErrCode is the error code substituted when a FAILED response omits
// one (§4.5's "error_code_or_DEFAULT").
const DefaultErrCode = 0xFF

// binaryOrder is the wire byte order for all multi-byte integer fields.
var binaryOrder = binary.LittleEndian
