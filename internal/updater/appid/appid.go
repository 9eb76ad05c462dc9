// Package appid reads and writes the identity block embedded in application images.
//
// The block is searched in every data segment of an Intel HEX file, or in the raw
// bytes of a binary image:
//
//	offset  size  field
//	0       8     magic "ECUAPPID"
//	8       1     layout version (1)
//	9       32    application name, NUL padded
//	41      16    version
//	57      12    build date
//	69      10    build time
package appid

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"

	"github.com/autopeer-io/ecuflash/internal/updater/core"
)

const (
	layoutVersion = 1

	nameLen    = 32
	versionLen = 16
	dateLen    = 12
	timeLen    = 10

	// BlockSize is the encoded size of an identity block.
	BlockSize = len(Magic) + 1 + nameLen + versionLen + dateLen + timeLen
)

// Magic marks the start of an identity block.
const Magic = "ECUAPPID"

var (
	ErrNoBlock     = errors.New("no application identity block found")
	ErrUnsupported = errors.New("unsupported image format")
)

// Encode builds an identity block. Fields longer than their slot are truncated.
func Encode(id core.AppIdentity) []byte {
	buf := make([]byte, 0, BlockSize)
	buf = append(buf, Magic...)
	buf = append(buf, layoutVersion)
	buf = appendField(buf, id.Name, nameLen)
	buf = appendField(buf, id.Version, versionLen)
	buf = appendField(buf, id.BuildDate, dateLen)
	buf = appendField(buf, id.BuildTime, timeLen)
	return buf
}

func appendField(buf []byte, s string, n int) []byte {
	field := make([]byte, n)
	copy(field, s)
	return append(buf, field...)
}

// Decode finds the first identity block in data.
func Decode(data []byte) (core.AppIdentity, error) {
	at := bytes.Index(data, []byte(Magic))
	if at < 0 {
		return core.AppIdentity{}, ErrNoBlock
	}
	block := data[at:]
	if len(block) < BlockSize {
		return core.AppIdentity{}, fmt.Errorf("identity block truncated at offset %d", at)
	}
	if block[len(Magic)] != layoutVersion {
		return core.AppIdentity{}, fmt.Errorf("identity block layout %d not supported", block[len(Magic)])
	}

	off := len(Magic) + 1
	read := func(n int) string {
		s := block[off : off+n]
		off += n
		if i := bytes.IndexByte(s, 0); i >= 0 {
			s = s[:i]
		}
		return string(s)
	}

	id := core.AppIdentity{
		Name:      read(nameLen),
		Version:   read(versionLen),
		BuildDate: read(dateLen),
		BuildTime: read(timeLen),
	}
	return id.Normalize(), nil
}

// Parse reads the identity of an application image. The format follows the file extension.
func Parse(path string) (core.AppIdentity, error) {
	f, err := os.Open(path)
	if err != nil {
		return core.AppIdentity{}, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex":
		return ParseHex(f)
	case ".bin":
		data, err := io.ReadAll(f)
		if err != nil {
			return core.AppIdentity{}, err
		}
		return Decode(data)
	default:
		return core.AppIdentity{}, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
	}
}

// ParseHex reads the identity from an Intel HEX stream.
func ParseHex(r io.Reader) (core.AppIdentity, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return core.AppIdentity{}, fmt.Errorf("parse intel hex: %w", err)
	}

	for _, seg := range mem.GetDataSegments() {
		id, err := Decode(seg.Data)
		if errors.Is(err, ErrNoBlock) {
			continue
		}
		return id, err
	}
	return core.AppIdentity{}, ErrNoBlock
}

// WriteHex writes an Intel HEX image that holds payload at address followed by the identity block.
func WriteHex(w io.Writer, address uint32, payload []byte, id core.AppIdentity) error {
	mem := gohex.NewMemory()
	image := append(append([]byte(nil), payload...), Encode(id)...)
	if err := mem.AddBinary(address, image); err != nil {
		return err
	}
	return mem.DumpIntelHex(w, 16)
}
