package locator

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	serial := [SerialLen]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	frame, err := Encode(CmdSetPrimary, payload, serial)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	header, decodedPayload, ok := Decode(frame)
	if !ok {
		t.Fatal("Decode returned ok=false for a well-formed frame")
	}
	if header.Cmd != CmdSetPrimary {
		t.Errorf("Cmd = %v, want SET_PRIMARY", header.Cmd)
	}
	if header.Serial != serial {
		t.Errorf("Serial mismatch: got %v want %v", header.Serial, serial)
	}
	if !bytes.Equal(decodedPayload, payload) {
		t.Errorf("payload mismatch: got %v want %v", decodedPayload, payload)
	}
	if !VerifyChecksum(frame) {
		t.Error("VerifyChecksum failed on a freshly encoded frame")
	}
	if ExpectedLen(header) != len(frame) {
		t.Errorf("ExpectedLen = %d, want %d", ExpectedLen(header), len(frame))
	}
}

func TestEncodePayloadTooLong(t *testing.T) {
	_, err := Encode(CmdReadSettings, make([]byte, 256), BroadcastSerial)
	if err == nil {
		t.Fatal("expected error for 256-byte payload")
	}
}

func TestDecodeBadPassword(t *testing.T) {
	frame, _ := Encode(CmdRequest, nil, BroadcastSerial)
	frame[0] ^= 0xFF // corrupt the password

	_, _, ok := Decode(frame)
	if ok {
		t.Error("expected Decode to reject a corrupted password")
	}
}

func TestDecodeLengthMismatchStillParses(t *testing.T) {
	frame, _ := Encode(CmdReadSettings, []byte{0x01, 0x02, 0x03}, BroadcastSerial)
	// Lie about the declared length without touching the payload bytes.
	frame[26] = 99

	header, payload, ok := Decode(frame)
	if !ok {
		t.Fatal("expected Decode to tolerate a length mismatch")
	}
	if header.Len != 99 {
		t.Errorf("Len = %d, want 99", header.Len)
	}
	if !bytes.Equal(payload, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("expected best-effort payload slice to survive, got %v", payload)
	}
}

func TestVerifyChecksumDetectsCorruption(t *testing.T) {
	frame, _ := Encode(CmdGetUser, []byte{0x01}, BroadcastSerial)
	frame[len(frame)-2] ^= 0xFF // corrupt a payload byte, not the checksum itself

	if VerifyChecksum(frame) {
		t.Error("expected checksum verification to fail after payload corruption")
	}
}

func TestShortResultRoundTrip(t *testing.T) {
	withErr := EncodeShortResult(ResultError, 0x07, true)
	result, errCode, hasErrCode, ok := DecodeShortResult(withErr)
	if !ok || !hasErrCode || result != ResultError || errCode != 0x07 {
		t.Errorf("unexpected decode: result=%v errCode=%v hasErrCode=%v ok=%v", result, errCode, hasErrCode, ok)
	}

	noErr := EncodeShortResult(ResultOK, 0, false)
	result, _, hasErrCode, ok = DecodeShortResult(noErr)
	if !ok || hasErrCode || result != ResultOK {
		t.Errorf("unexpected decode: result=%v hasErrCode=%v ok=%v", result, hasErrCode, ok)
	}

	_, _, _, ok = DecodeShortResult(nil)
	if ok {
		t.Error("expected DecodeShortResult to reject an empty payload")
	}
}

func TestEncodeElEnvelope(t *testing.T) {
	env := EncodeElEnvelope(ElFWPack, []byte{0xAA, 0xBB})
	if env[0] != byte(ElFWPack) {
		t.Errorf("tag byte = 0x%02X, want 0x%02X", env[0], byte(ElFWPack))
	}
	if !bytes.Equal(env[1:], []byte{0xAA, 0xBB}) {
		t.Errorf("payload mismatch: %v", env[1:])
	}
}

func TestIsKnownResult(t *testing.T) {
	for _, r := range []Result{ResultUnknownCmd, ResultOK, ResultError, ResultOutOfMem, ResultMemError} {
		if !IsKnownResult(byte(r)) {
			t.Errorf("IsKnownResult(%v) = false, want true", r)
		}
	}
	if IsKnownResult(0xEE) {
		t.Error("IsKnownResult(0xEE) = true, want false")
	}
}

func TestCmdString(t *testing.T) {
	if CmdRequest.String() != "REQUEST" {
		t.Errorf("CmdRequest.String() = %q", CmdRequest.String())
	}
	if Cmd(0xF0).String() == "" {
		t.Error("expected a non-empty string for an unknown Cmd")
	}
}
