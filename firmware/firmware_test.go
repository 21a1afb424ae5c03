package firmware

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"dsu/locator"
)

func writeFW(t *testing.T, fwLenWords uint16, payload []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "device.fw")

	hdr := make([]byte, HeaderLen)
	hdr[0] = 0x00 // CryptMode
	hdr[1] = 0x01 // HeaderVer
	binary.LittleEndian.PutUint32(hdr[8:12], 0)
	binary.LittleEndian.PutUint16(hdr[12:14], fwLenWords)

	data := append(append([]byte(nil), hdr...), payload...)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write fw fixture: %v", err)
	}
	return path
}

func TestGeneratorSingleShortBlock(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12} // 3 words = 12 bytes
	path := writeFW(t, 3, payload)

	gen, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	first, ok := gen.Next()
	if !ok {
		t.Fatal("expected FW_INFO as the first element")
	}
	if ElCmd := first[0]; ElCmd != byte(locator.ElFWInfo) {
		t.Errorf("first element tag = 0x%02X, want FW_INFO", ElCmd)
	}

	second, ok := gen.Next()
	if !ok {
		t.Fatal("expected one FW_PACK element")
	}
	if second[0] != byte(locator.ElFWPack) {
		t.Errorf("second element tag = 0x%02X, want FW_PACK", second[0])
	}
	wordIndex := binary.LittleEndian.Uint16(second[1:3])
	if wordIndex != 0 {
		t.Errorf("word index = %d, want 0", wordIndex)
	}
	if len(second)-3 != len(payload) {
		t.Errorf("block payload length = %d, want %d", len(second)-3, len(payload))
	}

	if _, ok := gen.Next(); ok {
		t.Error("expected exhaustion after the single block")
	}

	if p := gen.Progress(); p != 100 {
		t.Errorf("Progress() after exhaustion = %d, want 100", p)
	}
	if p := gen.Progress(); p != 0 {
		t.Errorf("Progress() after observing 100 = %d, want 0 (latch)", p)
	}
}

func TestGeneratorTwoBlocks(t *testing.T) {
	payload := make([]byte, 40) // 10 words -> two 32/8-byte blocks
	for i := range payload {
		payload[i] = byte(i)
	}
	path := writeFW(t, 10, payload)

	gen, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	gen.Next() // FW_INFO

	block1, _ := gen.Next()
	idx1 := binary.LittleEndian.Uint16(block1[1:3])
	if idx1 != 0 {
		t.Errorf("first block word index = %d, want 0", idx1)
	}
	if p := gen.Progress(); p != 80 {
		t.Errorf("Progress() after first block = %d, want 80", p)
	}

	block2, ok := gen.Next()
	if !ok {
		t.Fatal("expected a second block")
	}
	idx2 := binary.LittleEndian.Uint16(block2[1:3])
	if idx2 != 8 {
		t.Errorf("second block word index = %d, want 8", idx2)
	}
	if len(block2)-3 != 8 {
		t.Errorf("second block payload length = %d, want 8", len(block2)-3)
	}

	if _, ok := gen.Next(); ok {
		t.Error("expected exhaustion after two blocks")
	}
	if p := gen.Progress(); p != 100 {
		t.Errorf("Progress() = %d, want 100", p)
	}
}

func TestOpenMissingFileReturnsError(t *testing.T) {
	gen, err := Open(filepath.Join(t.TempDir(), "missing.fw"))
	if err == nil {
		t.Fatal("expected an error opening a missing firmware file")
	}
	if _, ok := gen.Next(); ok {
		t.Error("expected a failed-open generator to report immediate exhaustion")
	}
}
