package locator

import (
	"net"
	"testing"
)

func TestSummaryEncodeDecodeRoundTrip(t *testing.T) {
	s := Summary{
		Serial:   [SerialLen]byte{0xAA, 0xBB, 0xCC, 0xDD},
		MAC:      [6]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		Model:    Model(3),
		BootMode: BootBootloader,
		FWVer:    Version{2, 1}, // wire order: minor, major -> "1.2"
		BtldrVer: Version{0, 1},
		PCBVer:   Version{5, 0},
		Name:     "Line1-Sensor",
		IP:       net.IPv4(192, 168, 1, 50).To4(),
		Mask:     net.IPv4(255, 255, 255, 0).To4(),
		Gateway:  net.IPv4(192, 168, 1, 1).To4(),
		Host:     net.IPv4(192, 168, 1, 2).To4(),
		Port:     1770,
		Comment:  "calibration pending",
	}

	block := s.Encode()
	if len(block) != SummaryLen {
		t.Fatalf("encoded block length = %d, want %d", len(block), SummaryLen)
	}

	decoded := DecodeSummary(block)
	if decoded.Serial != s.Serial {
		t.Errorf("Serial mismatch: got %v want %v", decoded.Serial, s.Serial)
	}
	if decoded.Name != s.Name {
		t.Errorf("Name = %q, want %q", decoded.Name, s.Name)
	}
	if decoded.Comment != s.Comment {
		t.Errorf("Comment = %q, want %q", decoded.Comment, s.Comment)
	}
	if !decoded.IP.Equal(s.IP) {
		t.Errorf("IP = %v, want %v", decoded.IP, s.IP)
	}
	if decoded.Port != s.Port {
		t.Errorf("Port = %d, want %d", decoded.Port, s.Port)
	}
	if decoded.FWVer.String() != "1.2" {
		t.Errorf("FWVer.String() = %q, want 1.2", decoded.FWVer.String())
	}
	if decoded.BootMode != BootBootloader {
		t.Errorf("BootMode = %v, want bootloader", decoded.BootMode)
	}
}

func TestDecodeSummaryShortInputIsAllZero(t *testing.T) {
	s := DecodeSummary([]byte{0x01, 0x02})
	var zeroSerial [SerialLen]byte
	if s.Serial != zeroSerial {
		t.Errorf("expected zero serial for short input, got %v", s.Serial)
	}
	if s.Name != "" {
		t.Errorf("expected empty name for short input, got %q", s.Name)
	}
}

func TestSerialStringReversesWireOrder(t *testing.T) {
	serial := [SerialLen]byte{}
	serial[0] = 0xAB
	serial[SerialLen-1] = 0xCD

	str := SerialString(serial)
	if str[:2] != "cd" {
		t.Errorf("expected serial string to start with the last wire byte, got %q", str)
	}
	if str[len(str)-2:] != "ab" {
		t.Errorf("expected serial string to end with the first wire byte, got %q", str)
	}
}

func TestVersionString(t *testing.T) {
	v := Version{9, 4} // wire order minor, major
	if v.String() != "4.9" {
		t.Errorf("Version.String() = %q, want 4.9", v.String())
	}
}

func TestBootModeString(t *testing.T) {
	if BootMain.String() != "main" {
		t.Errorf("BootMain.String() = %q", BootMain.String())
	}
	if BootBootloader.String() != "bootloader" {
		t.Errorf("BootBootloader.String() = %q", BootBootloader.String())
	}
}
