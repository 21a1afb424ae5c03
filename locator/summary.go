package locator

import (
	"fmt"
	"net"
	"strings"
)

// Model is the device model enumeration carried in the summary block.
type Model byte

// BootMode is the device boot-mode enumeration carried in the summary block.
type BootMode byte

// Boot modes.
const (
	BootMain BootMode = iota
	BootBootloader
)

func (m BootMode) String() string {
	if m == BootBootloader {
		return "bootloader"
	}
	return "main"
}

// Version is a two-byte (major, minor) firmware/bootloader/PCB version, as
// stored on the wire in reversed byte order (minor-then-major).
type Version [2]byte

// String renders the version "major.minor", undoing the wire's reversed
// byte order per §3.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v[1], v[0])
}

// Summary is the decoded 128-byte device summary block described in §3.
type Summary struct {
	Serial   [SerialLen]byte
	MAC      [6]byte
	Model    Model
	BootMode BootMode
	FWVer    Version
	BtldrVer Version
	PCBVer   Version
	Name     string // 16-char slot, CP1251, NUL-terminated
	IP       net.IP
	Mask     net.IP
	Gateway  net.IP
	Host     net.IP
	Port     uint16
	Comment  string // 64-char slot, CP1251, NUL-terminated
}

const (
	offSerial   = 0
	offMAC      = offSerial + SerialLen
	offModel    = offMAC + 6
	offBoot     = offModel + 1
	offFWVer    = offBoot + 1
	offBtldrVer = offFWVer + 2
	offPCBVer   = offBtldrVer + 2
	offName     = offPCBVer + 2
	offIP       = offName + 16
	offMask     = offIP + 4
	offGateway  = offMask + 4
	offHost     = offGateway + 4
	offPort     = offHost + 4
	offComment  = offPort + 2
)

func init() {
	if offComment+64 != SummaryLen {
		panic("locator: summary layout does not sum to SummaryLen")
	}
}

// SerialString renders a serial as a 32-char lowercase hex string, reversed
// byte-for-byte (LSB-first on the wire, rendered big-to-little for display).
func SerialString(serial [SerialLen]byte) string {
	var b strings.Builder
	b.Grow(SerialLen * 2)
	for i := SerialLen - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "%02x", serial[i])
	}
	return b.String()
}

func cp1251String(b []byte) string {
	decoded, err := win1251.NewDecoder().Bytes(b)
	if err != nil {
		decoded = b
	}
	if i := indexByte(decoded, 0); i >= 0 {
		decoded = decoded[:i]
	}
	return string(decoded)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func cp1251Bytes(s string, slotLen int) []byte {
	out := make([]byte, slotLen)
	enc, err := win1251.NewEncoder().Bytes([]byte(s))
	if err != nil {
		enc = []byte(s)
	}
	n := copy(out, enc)
	_ = n // remaining bytes stay zero (NUL-padded)
	return out
}

// DecodeSummary parses the 128-byte device summary block. Per the §3
// invariant, any input shorter than SummaryLen is treated as all-zeros.
func DecodeSummary(block []byte) Summary {
	buf := make([]byte, SummaryLen)
	copy(buf, block)

	var s Summary
	copy(s.Serial[:], buf[offSerial:offMAC])
	copy(s.MAC[:], buf[offMAC:offModel])
	s.Model = Model(buf[offModel])
	s.BootMode = BootMode(buf[offBoot])
	copy(s.FWVer[:], buf[offFWVer:offBtldrVer])
	copy(s.BtldrVer[:], buf[offBtldrVer:offPCBVer])
	copy(s.PCBVer[:], buf[offPCBVer:offName])
	s.Name = cp1251String(buf[offName:offIP])
	s.IP = net.IPv4(buf[offIP], buf[offIP+1], buf[offIP+2], buf[offIP+3]).To4()
	s.Mask = net.IPv4(buf[offMask], buf[offMask+1], buf[offMask+2], buf[offMask+3]).To4()
	s.Gateway = net.IPv4(buf[offGateway], buf[offGateway+1], buf[offGateway+2], buf[offGateway+3]).To4()
	s.Host = net.IPv4(buf[offHost], buf[offHost+1], buf[offHost+2], buf[offHost+3]).To4()
	s.Port = binaryOrder.Uint16(buf[offPort : offPort+2])
	s.Comment = cp1251String(buf[offComment : offComment+64])
	return s
}

// Encode renders the summary back into its 128-byte wire form.
func (s Summary) Encode() []byte {
	buf := make([]byte, SummaryLen)
	copy(buf[offSerial:offMAC], s.Serial[:])
	copy(buf[offMAC:offModel], s.MAC[:])
	buf[offModel] = byte(s.Model)
	buf[offBoot] = byte(s.BootMode)
	copy(buf[offFWVer:offBtldrVer], s.FWVer[:])
	copy(buf[offBtldrVer:offPCBVer], s.BtldrVer[:])
	copy(buf[offPCBVer:offName], s.PCBVer[:])
	copy(buf[offName:offIP], cp1251Bytes(s.Name, 16))
	putIPv4(buf[offIP:offIP+4], s.IP)
	putIPv4(buf[offMask:offMask+4], s.Mask)
	putIPv4(buf[offGateway:offGateway+4], s.Gateway)
	putIPv4(buf[offHost:offHost+4], s.Host)
	binaryOrder.PutUint16(buf[offPort:offPort+2], s.Port)
	copy(buf[offComment:offComment+64], cp1251Bytes(s.Comment, 64))
	return buf
}

func putIPv4(dst []byte, ip net.IP) {
	v4 := ip.To4()
	if v4 == nil {
		return
	}
	copy(dst, v4)
}

// SerialStr is a convenience accessor matching the display rule in §3.
func (s Summary) SerialStr() string {
	return SerialString(s.Serial)
}
