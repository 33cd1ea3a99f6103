// Copyright (c) 2026 The routedaemon Authors
// SPDX-License-Identifier: MIT

// Package block defines the fixed-size shared-memory unit that the query
// region is built from, and typed views over it.
//
// A Block is 512 raw bytes. Its first byte is a Tag identifying what kind of
// node occupies it; everything else in the region addresses blocks by a
// 32-bit index rather than a native pointer, since pointer values cannot be
// shared across processes with independent address spaces.
package block

import "encoding/binary"

// Size is the fixed byte length of every block in the region.
const Size = 512

// DataBufLen is the number of payload bytes a Data block can hold.
const DataBufLen = Size - dataHeaderLen

// Tag identifies the role a block currently plays.
type Tag byte

const (
	// TagFree marks a block that is not part of any reachable structure.
	TagFree Tag = 0
	// TagHeader is block index 0: region metadata and the reader/writer lock.
	TagHeader Tag = 1
	// TagLink is an interior radix node: 64 six-bit branches plus six small
	// arrays of "partial" tail slots.
	TagLink Tag = 2
	// TagData is a payload node: a fragment of one leaf's compressed stream.
	TagData Tag = 3
)

func (t Tag) String() string {
	switch t {
	case TagFree:
		return "FREE"
	case TagHeader:
		return "HEADER"
	case TagLink:
		return "LINK"
	case TagData:
		return "DATA"
	default:
		return "UNKNOWN"
	}
}

// Index is a 32-bit block address within a region. 0 means "empty/absent".
type Index uint32

// ShortcutBit marks a link[] slot as a terminal-at-exact-six shortcut: the
// slot's remaining bits encode a DATA block directly instead of a LINK
// block, avoiding a gratuitous extra link block for prefix lengths that are
// an exact multiple of six.
const ShortcutBit Index = 0x8000_0000

// IsShortcut reports whether idx carries the shortcut bit.
func (idx Index) IsShortcut() bool { return idx&ShortcutBit != 0 }

// Child strips the shortcut bit, returning the plain block index.
func (idx Index) Child() Index { return idx &^ ShortcutBit }

// WithShortcut sets the shortcut bit on a plain child index.
func WithShortcut(idx Index) Index { return idx | ShortcutBit }

// Raw is the uninterpreted byte content of one block.
type Raw = [Size]byte

// TagOf reads the tag byte of a raw block.
func TagOf(b *Raw) Tag { return Tag(b[0]) }

// SetTag writes the tag byte of a raw block.
func SetTag(b *Raw, t Tag) { b[0] = byte(t) }

// --- Link block layout ---
//
// A link block packs a 1-byte tag, two 1-byte occupancy counters, the six
// "partial tail" arrays (1+2+4+8+16+32 = 63 slots) and the 64-slot link[]
// array, all as little-endian uint32 block indices. Counters are a single
// byte each (max values 63 and 64) so the whole layout fits exactly in the
// 512-byte block with no padding:
//
//	offset 0:   tag        (1 byte)
//	offset 1:   dataCount  (1 byte)
//	offset 2:   linkCount  (1 byte)
//	offset 3:   data0[1]   uint32 x1   ->   4 bytes, ends at   7
//	offset 7:   data1[2]   uint32 x2   ->   8 bytes, ends at  15
//	offset 15:  data2[4]   uint32 x4   ->  16 bytes, ends at  31
//	offset 31:  data3[8]   uint32 x8   ->  32 bytes, ends at  63
//	offset 63:  data4[16]  uint32 x16  ->  64 bytes, ends at 127
//	offset 127: data5[32]  uint32 x32  -> 128 bytes, ends at 255
//	offset 255: link[64]   uint32 x64  -> 256 bytes, ends at 511
const (
	linkTagOff       = 0
	linkDataCountOff = 1
	linkLinkCountOff = 2
	linkData0Off     = 3
	linkData1Off     = linkData0Off + 1*4
	linkData2Off     = linkData1Off + 2*4
	linkData3Off     = linkData2Off + 4*4
	linkData4Off     = linkData3Off + 8*4
	linkData5Off     = linkData4Off + 16*4
	linkLinkOff      = linkData5Off + 32*4
)

func init() {
	if linkLinkOff+64*4 != Size {
		panic("block: link block layout does not exactly fill the block")
	}
}

// Link is a typed view over a raw Link block. It never copies the backing
// array; all reads/writes go straight to the region's memory.
type Link struct {
	raw *Raw
}

// NewLink wraps raw as a Link view, initializing its tag.
func NewLink(raw *Raw) Link {
	SetTag(raw, TagLink)
	return Link{raw: raw}
}

// AsLink wraps an already-tagged raw block as a Link view.
func AsLink(raw *Raw) Link { return Link{raw: raw} }

func (l Link) DataCount() int { return int(l.raw[linkDataCountOff]) }
func (l Link) LinkCount() int { return int(l.raw[linkLinkCountOff]) }

func (l Link) setDataCount(n int) { l.raw[linkDataCountOff] = byte(n) }
func (l Link) setLinkCount(n int) { l.raw[linkLinkCountOff] = byte(n) }

// AddDataCount adjusts the data-slot occupancy counter by delta.
func (l Link) AddDataCount(delta int) { l.setDataCount(l.DataCount() + delta) }

// AddLinkCount adjusts the link-slot occupancy counter by delta.
func (l Link) AddLinkCount(delta int) { l.setLinkCount(l.LinkCount() + delta) }

// Empty reports whether this link block has no occupied slots at all,
// i.e. is a candidate for the upward collapse on delete.
func (l Link) Empty() bool { return l.DataCount() == 0 && l.LinkCount() == 0 }

// dataArrayOffset returns the byte offset of the dataK array and its slot
// count, for k in [0,5].
func dataArrayOffset(k int) (off, n int) {
	switch k {
	case 0:
		return linkData0Off, 1
	case 1:
		return linkData1Off, 2
	case 2:
		return linkData2Off, 4
	case 3:
		return linkData3Off, 8
	case 4:
		return linkData4Off, 16
	case 5:
		return linkData5Off, 32
	default:
		panic("block: dataArrayOffset: k out of range")
	}
}

// DataSlot reads the i-th slot of the dataK array (remaining-prefix-length
// K, chunk value i).
func (l Link) DataSlot(k, i int) Index {
	off, n := dataArrayOffset(k)
	if i < 0 || i >= n {
		panic("block: DataSlot: index out of range")
	}
	return Index(binary.LittleEndian.Uint32(l.raw[off+4*i:]))
}

// SetDataSlot writes the i-th slot of the dataK array.
func (l Link) SetDataSlot(k, i int, v Index) {
	off, n := dataArrayOffset(k)
	if i < 0 || i >= n {
		panic("block: SetDataSlot: index out of range")
	}
	binary.LittleEndian.PutUint32(l.raw[off+4*i:], uint32(v))
}

// LinkSlot reads link[chunk], chunk in [0,63]. The returned Index may carry
// the shortcut bit (see IsShortcut/Child).
func (l Link) LinkSlot(chunk int) Index {
	if chunk < 0 || chunk >= 64 {
		panic("block: LinkSlot: chunk out of range")
	}
	return Index(binary.LittleEndian.Uint32(l.raw[linkLinkOff+4*chunk:]))
}

// SetLinkSlot writes link[chunk].
func (l Link) SetLinkSlot(chunk int, v Index) {
	if chunk < 0 || chunk >= 64 {
		panic("block: SetLinkSlot: chunk out of range")
	}
	binary.LittleEndian.PutUint32(l.raw[linkLinkOff+4*chunk:], uint32(v))
}

// --- Data block layout ---
//
//	offset 0: tag       (1 byte)
//	offset 1: reserved  (1 byte)
//	offset 2: length    uint16 (0..DataBufLen)
//	offset 4: next      uint32 (0 or successor Data block index)
//	offset 8: payload   [DataBufLen]byte
const dataHeaderLen = 8

const (
	dataLengthOff = 2
	dataNextOff   = 4
	dataPayOff    = dataHeaderLen
)

// Data is a typed view over a raw Data block.
type Data struct {
	raw *Raw
}

// NewData wraps raw as a Data view, initializing its tag.
func NewData(raw *Raw) Data {
	SetTag(raw, TagData)
	return Data{raw: raw}
}

// AsData wraps an already-tagged raw block as a Data view.
func AsData(raw *Raw) Data { return Data{raw: raw} }

func (d Data) Length() int { return int(binary.LittleEndian.Uint16(d.raw[dataLengthOff:])) }

// SetLength records the number of valid payload bytes in this block.
func (d Data) SetLength(n int) {
	if n < 0 || n > DataBufLen {
		panic("block: Data.SetLength: out of range")
	}
	binary.LittleEndian.PutUint16(d.raw[dataLengthOff:], uint16(n))
}

// Next returns the successor Data block index, or 0 at the chain's end.
func (d Data) Next() Index { return Index(binary.LittleEndian.Uint32(d.raw[dataNextOff:])) }

// SetNext sets the successor Data block index.
func (d Data) SetNext(idx Index) {
	binary.LittleEndian.PutUint32(d.raw[dataNextOff:], uint32(idx))
}

// Payload returns the full DataBufLen-byte buffer backing this block; only
// the first Length() bytes are valid.
func (d Data) Payload() []byte { return d.raw[dataPayOff : dataPayOff+DataBufLen] }

// --- Header block layout ---
//
//	offset 0: tag (1 byte)
//	offset 4: lock blob, see internal/rwlock (4-byte aligned for atomics)
const HeaderLockOff = 4
