// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
)

const (
	// RTGroupIconLangEnUS is the language id (LANG_EN_US) used when writing
	// icon and group-icon leaves.
	RTGroupIconLangEnUS = 1033
	// mainIconName is the conventional group-icon entry name the Windows
	// resource compiler assigns to an application's primary icon.
	mainIconName = "MAINICON"
	// iconCodePage is the codepage used for icon leaves (Windows-1200,
	// Unicode).
	iconCodePage = 1200
)

// iconResolutions are the canonical sizes a synthesized icon is resampled
// to, largest first, matching what the Windows resource compiler emits for
// a multi-resolution .ico.
var iconResolutions = []int{256, 128, 48, 32, 24, 16}

type icoHeader struct {
	Reserved uint16
	Type     uint16
	Count    uint16
}

type icoDirEntry struct {
	Width      uint8
	Height     uint8
	ColorCount uint8
	Reserved   uint8
	Planes     uint16
	BitCount   uint16
	BytesInRes uint32
	ID         uint16
}

// GetMainIcon returns the raw bitmap bytes of the image's primary
// application icon, following the MAINICON group-icon entry (falling back
// to the first group-icon entry if no MAINICON exists). Returns (nil, nil)
// when no icon resource is present.
func (pe *Image) GetMainIcon() ([]byte, error) {
	if pe.Resources == nil || pe.Resources.Root == nil {
		return nil, nil
	}
	root := pe.Resources.Root

	groupTypeEntry, ok := root.Entries.Get(ResourceID(RTGroupIcon))
	if !ok || groupTypeEntry.Table == nil {
		return nil, nil
	}

	groupEntry, ok := groupTypeEntry.Table.Entries.Get(ResourceNameFromString(mainIconName))
	if !ok {
		keys := groupTypeEntry.Table.Entries.Keys()
		if len(keys) == 0 {
			return nil, nil
		}
		groupEntry, _ = groupTypeEntry.Table.Entries.Get(keys[0])
	}
	if groupEntry == nil || groupEntry.Table == nil {
		return nil, ResourceError{Kind: ResourceErrInvalidTable, Msg: "group icon entry has no language leaf"}
	}

	groupData, ok := firstLeaf(groupEntry.Table)
	if !ok {
		return nil, nil
	}

	iconID, err := firstGroupIconID(groupData.Data)
	if err != nil {
		return nil, err
	}

	iconTypeEntry, ok := root.Entries.Get(ResourceID(RTIcon))
	if !ok || iconTypeEntry.Table == nil {
		return nil, nil
	}
	idEntry, ok := iconTypeEntry.Table.Entries.Get(ResourceID(uint32(iconID)))
	if !ok || idEntry.Table == nil {
		return nil, nil
	}
	iconData, ok := firstLeaf(idEntry.Table)
	if !ok {
		return nil, nil
	}
	return iconData.Data, nil
}

// firstGroupIconID decodes an IconDirectory (the RT_GROUP_ICON payload) and
// returns the icon id of its first entry.
func firstGroupIconID(data []byte) (uint16, error) {
	if len(data) < 6+14 {
		return 0, ResourceError{Kind: ResourceErrInvalidTable, Msg: "group icon directory truncated"}
	}
	var h icoHeader
	if err := binary.Read(bytes.NewReader(data[:6]), binary.LittleEndian, &h); err != nil {
		return 0, err
	}
	var e icoDirEntry
	if err := binary.Read(bytes.NewReader(data[6:20]), binary.LittleEndian, &e); err != nil {
		return 0, err
	}
	return e.ID, nil
}

func firstLeaf(t *ResourceTable) (*ResourceData, bool) {
	for _, e := range t.Entries.Values() {
		if e.Data != nil {
			return e.Data, true
		}
	}
	return nil, false
}

// SetMainIcon replaces the image's primary application icon. raw may be
// either a complete multi-resolution .ico container (used as-is, split
// into its embedded bitmaps) or a single decodable image (PNG/JPEG),
// resampled to the canonical resolution set with a Catmull-Rom kernel.
func (pe *Image) SetMainIcon(raw []byte) error {
	bitmaps, err := splitOrResampleIcon(raw)
	if err != nil {
		return err
	}
	if pe.Resources == nil || pe.Resources.Root == nil {
		pe.Resources = &ResourceDirectory{Root: NewResourceTable()}
	}
	root := pe.Resources.Root

	iconTypeEntry, ok := root.Entries.Get(ResourceID(RTIcon))
	if !ok || iconTypeEntry.Table == nil {
		iconTypeEntry = &ResourceEntry{Table: NewResourceTable()}
		root.Entries.Set(ResourceID(RTIcon), iconTypeEntry)
	}

	nextID := uint32(1)
	for _, k := range iconTypeEntry.Table.Entries.Keys() {
		if !k.IsName && k.ID >= nextID {
			nextID = k.ID + 1
		}
	}

	var dirEntries []icoDirEntry
	for _, bmp := range bitmaps {
		id := nextID
		nextID++
		idTable := NewResourceTable()
		idTable.Entries.Set(ResourceID(RTGroupIconLangEnUS), &ResourceEntry{
			Data: &ResourceData{Data: bmp, CodePage: iconCodePage},
		})
		iconTypeEntry.Table.Entries.Set(ResourceID(id), &ResourceEntry{Table: idTable})

		w, h := bitmapDims(bmp)
		dirEntries = append(dirEntries, icoDirEntry{
			Width:      byte(w % 256),
			Height:     byte(h % 256),
			Planes:     1,
			BitCount:   32,
			BytesInRes: uint32(len(bmp)),
			ID:         uint16(id),
		})
	}

	groupTypeEntry, ok := root.Entries.Get(ResourceID(RTGroupIcon))
	if !ok || groupTypeEntry.Table == nil {
		groupTypeEntry = &ResourceEntry{Table: NewResourceTable()}
		root.Entries.Set(ResourceID(RTGroupIcon), groupTypeEntry)
	}
	groupIDTable := NewResourceTable()
	groupIDTable.Entries.Set(ResourceID(RTGroupIconLangEnUS), &ResourceEntry{
		Data: &ResourceData{Data: buildGroupIconDirectory(dirEntries), CodePage: iconCodePage},
	})
	groupTypeEntry.Table.Entries.Set(ResourceNameFromString(mainIconName), &ResourceEntry{Table: groupIDTable})
	return nil
}

// RemoveMainIcon removes the MAINICON group (falling back to the first
// group-icon entry) along with every RT_ICON entry it references that no
// other group still refers to. Empty parent tables are dropped.
func (pe *Image) RemoveMainIcon() error {
	if pe.Resources == nil || pe.Resources.Root == nil {
		return nil
	}
	root := pe.Resources.Root

	groupTypeEntry, ok := root.Entries.Get(ResourceID(RTGroupIcon))
	if !ok || groupTypeEntry.Table == nil {
		return nil
	}

	key := ResourceNameFromString(mainIconName)
	if _, found := groupTypeEntry.Table.Entries.Get(key); !found {
		keys := groupTypeEntry.Table.Entries.Keys()
		if len(keys) == 0 {
			return nil
		}
		key = keys[0]
	}
	groupEntry, _ := groupTypeEntry.Table.Entries.Get(key)

	toRemove := map[uint32]bool{}
	if groupEntry != nil && groupEntry.Table != nil {
		if data, ok := firstLeaf(groupEntry.Table); ok {
			if ids, err := allGroupIconIDs(data.Data); err == nil {
				for _, id := range ids {
					toRemove[uint32(id)] = true
				}
			}
		}
	}
	groupTypeEntry.Table.Entries.Delete(key)

	// Subtract ids still referenced by any remaining group.
	for _, otherKey := range groupTypeEntry.Table.Entries.Keys() {
		otherEntry, _ := groupTypeEntry.Table.Entries.Get(otherKey)
		if otherEntry == nil || otherEntry.Table == nil {
			continue
		}
		if data, ok := firstLeaf(otherEntry.Table); ok {
			if ids, err := allGroupIconIDs(data.Data); err == nil {
				for _, id := range ids {
					delete(toRemove, uint32(id))
				}
			}
		}
	}

	if iconTypeEntry, ok := root.Entries.Get(ResourceID(RTIcon)); ok && iconTypeEntry.Table != nil {
		for id := range toRemove {
			iconTypeEntry.Table.Entries.Delete(ResourceID(id))
		}
		if iconTypeEntry.Table.Entries.Len() == 0 {
			root.Entries.Delete(ResourceID(RTIcon))
		}
	}
	if groupTypeEntry.Table.Entries.Len() == 0 {
		root.Entries.Delete(ResourceID(RTGroupIcon))
	}
	return nil
}

func allGroupIconIDs(data []byte) ([]uint16, error) {
	if len(data) < 6 {
		return nil, ResourceError{Kind: ResourceErrInvalidTable, Msg: "group icon directory truncated"}
	}
	var h icoHeader
	if err := binary.Read(bytes.NewReader(data[:6]), binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	var ids []uint16
	for i := 0; i < int(h.Count); i++ {
		start := 6 + i*14
		if start+14 > len(data) {
			break
		}
		var e icoDirEntry
		if err := binary.Read(bytes.NewReader(data[start:start+14]), binary.LittleEndian, &e); err != nil {
			break
		}
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func buildGroupIconDirectory(entries []icoDirEntry) []byte {
	var buf bytes.Buffer
	h := icoHeader{Reserved: 0, Type: 1, Count: uint16(len(entries))}
	binary.Write(&buf, binary.LittleEndian, &h)
	for _, e := range entries {
		binary.Write(&buf, binary.LittleEndian, &e)
	}
	return buf.Bytes()
}

// splitOrResampleIcon accepts either a raw multi-image .ico container
// (returned as its embedded bitmaps, verbatim) or a single decodable image,
// which is resampled to iconResolutions and each encoded as a standalone
// single-image .ico payload (the 6-byte header plus one 16-byte directory
// entry stripped, leaving just the raw bitmap bytes as stored under
// RT_ICON).
func splitOrResampleIcon(raw []byte) ([][]byte, error) {
	if len(raw) >= 6 && raw[0] == 0 && raw[1] == 0 && raw[2] == 1 && raw[3] == 0 {
		return splitIcoContainer(raw)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		kind := mimetype.Detect(raw)
		return nil, fmt.Errorf("decode icon source (detected %s): %w", kind.String(), err)
	}

	var out [][]byte
	for _, size := range iconResolutions {
		resized := resampleRGBA(img, size, size)
		var buf bytes.Buffer
		if err := png.Encode(&buf, resized); err != nil {
			return nil, err
		}
		out = append(out, buf.Bytes())
	}
	return out, nil
}

func resampleRGBA(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

// splitIcoContainer parses a standard .ico container (6-byte header plus
// 16-byte directory entries, each with an absolute file offset) and
// returns the raw bitmap payload of each embedded image.
func splitIcoContainer(raw []byte) ([][]byte, error) {
	if len(raw) < 6 {
		return nil, ResourceError{Kind: ResourceErrInvalidTable, Msg: "icon container truncated"}
	}
	var h icoHeader
	if err := binary.Read(bytes.NewReader(raw[:6]), binary.LittleEndian, &h); err != nil {
		return nil, err
	}

	// The file-format ICONDIRENTRY replaces the group format's 2-byte nID
	// with a 4-byte dwImageOffset, so it can't reuse icoDirEntry as-is.
	type fileDirEntry struct {
		Width      uint8
		Height     uint8
		ColorCount uint8
		Reserved   uint8
		Planes     uint16
		BitCount   uint16
		BytesInRes uint32
		Offset     uint32
	}

	var out [][]byte
	for i := 0; i < int(h.Count); i++ {
		start := 6 + i*16
		if start+16 > len(raw) {
			break
		}
		var e fileDirEntry
		if err := binary.Read(bytes.NewReader(raw[start:start+16]), binary.LittleEndian, &e); err != nil {
			break
		}
		end := int(e.Offset) + int(e.BytesInRes)
		if end > len(raw) || int(e.Offset) < 0 {
			continue
		}
		out = append(out, raw[e.Offset:end])
	}
	if len(out) == 0 {
		return nil, ResourceError{Kind: ResourceErrInvalidTable, Msg: "icon container has no embedded images"}
	}
	return out, nil
}

// bitmapDims returns the pixel width/height of a raw icon bitmap. PNG
// bitmaps encode this in their IHDR chunk; legacy BMP-style bitmaps encode
// it in a BITMAPINFOHEADER. Returns 0, 0 when undetermined (the .ico
// directory entry then falls back to 256x256, encoded as 0,0 per the .ico
// convention).
func bitmapDims(bmp []byte) (int, int) {
	img, _, err := image.Decode(bytes.NewReader(bmp))
	if err != nil {
		return 0, 0
	}
	b := img.Bounds()
	return b.Dx(), b.Dy()
}
