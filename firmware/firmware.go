// Package firmware implements the lazy .fw file generator described in
// §4.6: an FW_INFO packet followed by numbered FW_PACK block packets.
package firmware

import (
	"encoding/binary"
	"fmt"
	"os"

	"dsu/locator"
)

// HeaderLen is the fixed size of the .fw file header, §3.
const HeaderLen = 20

// BlockSize is the number of payload bytes per FW_PACK element (the last
// element may be shorter).
const BlockSize = 32

// Header is the decoded 20-byte firmware file header, §3.
type Header struct {
	CryptMode   byte
	HeaderVer   byte
	FWVerLo     byte
	FWVerHi     byte
	Reserved1   [2]byte
	PCBVer      byte
	BtldrVer    byte
	Offset      uint32 // LE
	FWLenWords  uint16 // LE, in 4-byte words
	Reserved2   [2]byte
	Checksum    uint32 // LE
	raw         [HeaderLen]byte
}

// PayloadLen returns the firmware payload length in bytes (fw_len * 4).
func (h Header) PayloadLen() int {
	return int(h.FWLenWords) * 4
}

func decodeHeader(b [HeaderLen]byte) Header {
	return Header{
		CryptMode:  b[0],
		HeaderVer:  b[1],
		FWVerLo:    b[2],
		FWVerHi:    b[3],
		Reserved1:  [2]byte{b[4], b[5]},
		PCBVer:     b[6],
		BtldrVer:   b[7],
		Offset:     binary.LittleEndian.Uint32(b[8:12]),
		FWLenWords: binary.LittleEndian.Uint16(b[12:14]),
		Reserved2:  [2]byte{b[14], b[15]},
		Checksum:   binary.LittleEndian.Uint32(b[16:20]),
		raw:        b,
	}
}

// Generator is the lazy FW_INFO/FW_PACK producer described in §4.6. It
// implements queue.Generator.
type Generator struct {
	header     *Header
	payload    []byte
	emittedHdr bool
	offset     int
	emitted    int
	total      int
	observed100 bool
}

// Open reads a .fw file's header and payload. If the file can't be opened,
// per §9's applied REDESIGN FLAG the returned Generator has no header and
// Next immediately reports exhaustion with progress 100 — but unlike the
// teacher's original behavior, Open also returns a non-nil error so the
// caller (the queue builder) can refuse to enqueue the dependent RUN_MAIN
// step instead of silently running it against absent firmware.
func Open(path string) (*Generator, error) {
	f, err := os.Open(path)
	if err != nil {
		g := &Generator{observed100: false}
		g.total = 0
		g.emitted = 0
		return g, fmt.Errorf("firmware: open %s: %w", path, err)
	}
	defer f.Close()

	var hdrBuf [HeaderLen]byte
	if _, err := f.Read(hdrBuf[:]); err != nil {
		return &Generator{}, fmt.Errorf("firmware: read header %s: %w", path, err)
	}
	hdr := decodeHeader(hdrBuf)

	payload := make([]byte, hdr.PayloadLen())
	if hdr.PayloadLen() > 0 {
		if _, err := f.Read(payload); err != nil {
			return &Generator{}, fmt.Errorf("firmware: read payload %s: %w", path, err)
		}
	}

	return &Generator{
		header:  &hdr,
		payload: payload,
		total:   hdr.PayloadLen(),
	}, nil
}

// Next produces the next element of the lazy sequence: first FW_INFO, then
// successive FW_PACK blocks of up to BlockSize bytes, advancing BlockSize
// bytes per element regardless of a short last block.
func (g *Generator) Next() ([]byte, bool) {
	if g.header == nil {
		return nil, false
	}

	if !g.emittedHdr {
		g.emittedHdr = true
		return locator.EncodeElEnvelope(locator.ElFWInfo, g.header.raw[:]), true
	}

	if g.offset >= len(g.payload) {
		return nil, false
	}

	end := g.offset + BlockSize
	if end > len(g.payload) {
		end = len(g.payload)
	}
	block := g.payload[g.offset:end]

	wordIndex := uint16(g.offset / 4)
	body := make([]byte, 2+len(block))
	binary.LittleEndian.PutUint16(body[0:2], wordIndex)
	copy(body[2:], block)

	g.offset += BlockSize
	if g.offset > len(g.payload) {
		g.emitted = len(g.payload)
	} else {
		g.emitted = g.offset
	}

	return locator.EncodeElEnvelope(locator.ElFWPack, body), true
}

// Progress returns 100*bytes_emitted/total_bytes, resetting to 0 once a
// caller has observed 100 (§3, §4.6).
func (g *Generator) Progress() int {
	if g.header == nil || g.total == 0 {
		if g.observed100 {
			return 0
		}
		g.observed100 = true
		return 100
	}

	if g.emitted >= g.total && g.offset >= len(g.payload) && g.emittedHdr {
		if g.observed100 {
			return 0
		}
		g.observed100 = true
		return 100
	}

	pct := 100 * g.emitted / g.total
	g.observed100 = false
	return pct
}
