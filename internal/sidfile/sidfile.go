// Package sidfile decodes PSID/RSID container files into an immutable Tune.
package sidfile

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	headerMinSize = 0x76
	headerV3Size  = 0x7c

	offMagic     = 0x00
	offVersion   = 0x04
	offDataStart = 0x06
	offLoad      = 0x08
	offInit      = 0x0A
	offPlay      = 0x0C
	offSongs     = 0x0E
	offStart     = 0x10
	offSpeed     = 0x12
	offName      = 0x16
	offAuthor    = 0x36
	offReleased  = 0x56
	offFlags     = 0x76
	offSID2      = 0x7A
	offSID3      = 0x7B

	fieldLen = 32
)

// Sentinel errors surfaced by Decode. Wrapped errors carry extra context
// via fmt.Errorf("...: %w", Err...) and remain matchable with errors.Is.
var (
	ErrMalformedContainer   = errors.New("sidfile: malformed container")
	ErrUnknownMagic         = errors.New("sidfile: unknown magic")
	ErrTruncatedPayload     = errors.New("sidfile: truncated payload")
	ErrTruncatedLoadAddress = errors.New("sidfile: truncated embedded load address")
)

// ChipModel is the SID silicon revision a tune's header prefers, or that a
// caller can force via an override.
type ChipModel int

const (
	// ModelUnspecified means the header expressed no preference (or both
	// are acceptable); callers should fall back to ModelMOS6581.
	ModelUnspecified ChipModel = iota
	ModelMOS6581
	ModelMOS8580
)

// Tune is the immutable, decoded contents of a PSID/RSID file.
type Tune struct {
	Magic   string
	Version uint16

	LoadAddress uint16
	InitAddress uint16
	PlayAddress uint16

	Songs     uint16
	StartSong uint16
	Speed     uint32

	Flags uint16

	SecondSIDAddress *uint16
	ThirdSIDAddress  *uint16

	Name     string
	Author   string
	Released string

	Payload []byte
	Digest  [md5.Size]byte
}

// Decode parses a complete PSID/RSID file into a Tune.
func Decode(data []byte) (*Tune, error) {
	if len(data) < headerMinSize {
		return nil, fmt.Errorf("%w: file is %d bytes, need at least %#x", ErrMalformedContainer, len(data), headerMinSize)
	}

	digest := md5.Sum(data)

	magic := string(data[offMagic : offMagic+4])
	if magic != "PSID" && magic != "RSID" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMagic, magic)
	}

	version := binary.BigEndian.Uint16(data[offVersion:])
	dataOffset := binary.BigEndian.Uint16(data[offDataStart:])
	loadAddress := binary.BigEndian.Uint16(data[offLoad:])
	initAddress := binary.BigEndian.Uint16(data[offInit:])
	playAddress := binary.BigEndian.Uint16(data[offPlay:])
	songs := binary.BigEndian.Uint16(data[offSongs:])
	startSong := binary.BigEndian.Uint16(data[offStart:])
	speed := binary.BigEndian.Uint32(data[offSpeed:])

	name := readLatin1Field(data[offName : offName+fieldLen])
	author := readLatin1Field(data[offAuthor : offAuthor+fieldLen])
	released := readLatin1Field(data[offReleased : offReleased+fieldLen])

	var flags uint16
	if version >= 2 && len(data) > offFlags+1 {
		flags = binary.BigEndian.Uint16(data[offFlags:])
	}

	var secondSID, thirdSID *uint16
	if version >= 3 && len(data) >= headerV3Size {
		secondSID = decodeExtraSIDAddress(data[offSID2])
		thirdSID = decodeExtraSIDAddress(data[offSID3])
	}

	if int(dataOffset) > len(data) {
		return nil, fmt.Errorf("%w: data_offset %#x beyond file length %d", ErrTruncatedPayload, dataOffset, len(data))
	}
	payload := append([]byte(nil), data[dataOffset:]...)

	if loadAddress == 0 {
		if len(payload) < 2 {
			return nil, fmt.Errorf("%w: payload has %d bytes, need 2 for embedded load address", ErrTruncatedLoadAddress, len(payload))
		}
		loadAddress = uint16(payload[0]) | uint16(payload[1])<<8
		payload = payload[2:]
	}

	return &Tune{
		Magic:             magic,
		Version:           version,
		LoadAddress:       loadAddress,
		InitAddress:       initAddress,
		PlayAddress:       playAddress,
		Songs:             songs,
		StartSong:         startSong,
		Speed:             speed,
		Flags:             flags,
		SecondSIDAddress:  secondSID,
		ThirdSIDAddress:   thirdSID,
		Name:              name,
		Author:            author,
		Released:          released,
		Payload:           payload,
		Digest:            digest,
	}, nil
}

// decodeExtraSIDAddress converts a v3+ header byte into a second/third SID
// base address, or nil when the byte is zero (no extra SID present).
func decodeExtraSIDAddress(b byte) *uint16 {
	if b == 0 {
		return nil
	}
	addr := 0xD000 | uint16(b)<<4
	return &addr
}

// readLatin1Field converts a fixed-width, NUL-terminated Latin-1 field into
// a trimmed Go string. Every byte value is a valid Latin-1 code point, so
// this is a direct byte-to-rune widening, not a lossy conversion.
func readLatin1Field(b []byte) string {
	end := len(b)
	for i, c := range b {
		if c == 0 {
			end = i
			break
		}
	}
	runes := make([]rune, end)
	for i, c := range b[:end] {
		runes[i] = rune(c)
	}
	return trimSpace(string(runes))
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

// IsPAL reports whether the tune should use PAL (50Hz) timing.
func (t *Tune) IsPAL() bool {
	if t.Version >= 2 {
		videoStandard := (t.Flags >> 2) & 0x03
		return videoStandard != 2
	}
	return true
}

// UsesCIATiming reports whether the given 1-indexed song relies on CIA
// timer-driven playback rather than the vertical-blank cadence.
func (t *Tune) UsesCIATiming(song uint16) bool {
	if song == 0 || song > 32 {
		return false
	}
	return (t.Speed>>(song-1))&1 != 0
}

// RequiresFullEmulation reports whether playing song (1-indexed) needs
// CIA/interrupt emulation this player does not provide.
func (t *Tune) RequiresFullEmulation(song uint16) bool {
	if t.Magic == "RSID" {
		return true
	}
	if t.PlayAddress == 0 {
		return true
	}
	return t.UsesCIATiming(song)
}

// SIDCount returns how many SID chips the tune addresses (1-3).
func (t *Tune) SIDCount() int {
	n := 1
	if t.SecondSIDAddress != nil {
		n++
	}
	if t.ThirdSIDAddress != nil {
		n++
	}
	return n
}

// sidModelBits extracts the 2-bit chip-model preference for the given SID
// index (0=primary, 1=second, 2=third) from the v2+ flags word.
func (t *Tune) sidModelBits(index int) uint16 {
	shift := 4 + 2*uint(index)
	return (t.Flags >> shift) & 0x03
}

// PreferredChipModel returns the header's chip-model preference for the
// given SID index. A value of 3 ("either") or 0 ("unknown") both yield
// ModelUnspecified; callers default to MOS6581 in that case.
func (t *Tune) PreferredChipModel(index int) ChipModel {
	switch t.sidModelBits(index) {
	case 2:
		return ModelMOS8580
	case 1:
		return ModelMOS6581
	default:
		return ModelUnspecified
	}
}
