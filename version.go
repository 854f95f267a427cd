// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/saferwall/peedit/orderedmap"
)

const (
	// VersionResourceType is RT_VERSION, the resource type id carrying
	// VS_VERSIONINFO data.
	VersionResourceType = 16

	// VsVersionInfoString identifies the VS_VERSION_INFO block.
	VsVersionInfoString = "VS_VERSION_INFO"

	// VsFileInfoSignature is the FixedFileInfo signature.
	VsFileInfoSignature uint32 = 0xFEEF04BD

	// StringFileInfoString identifies a StringFileInfo block.
	StringFileInfoString = "StringFileInfo"
	// VarFileInfoString identifies a VarFileInfo block.
	VarFileInfoString = "VarFileInfo"

	versionHeaderLength uint32 = 6

	// Default language/codepage pair used when writing a new version
	// resource: US English, Unicode codepage. Matches VS_VERSION_INFO
	// conventions used by the Windows resource compiler.
	defaultLangID   = "040904B0"
	defaultLangWord = uint32(0x0409)
	defaultCPWord   = uint32(0x04B0)
)

// Well-known StringFileInfo keys, as defined by the Windows version
// resource format.
const (
	VersionKeyComments         = "Comments"
	VersionKeyCompanyName      = "CompanyName"
	VersionKeyFileDescription  = "FileDescription"
	VersionKeyFileVersion      = "FileVersion"
	VersionKeyInternalName     = "InternalName"
	VersionKeyLegalCopyright   = "LegalCopyright"
	VersionKeyLegalTrademarks  = "LegalTrademarks"
	VersionKeyOriginalFilename = "OriginalFilename"
	VersionKeyPrivateBuild     = "PrivateBuild"
	VersionKeyProductName      = "ProductName"
	VersionKeyProductVersion   = "ProductVersion"
	VersionKeySpecialBuild     = "SpecialBuild"
)

// versionHeader is the common 6-byte header (VS_VERSIONINFO, StringFileInfo,
// StringTable, String all start with one) of a version resource sub-block.
type versionHeader struct {
	Length      uint16
	ValueLength uint16
	Type        uint16
}

// VsVersionInfo is the root VS_VERSIONINFO block header.
type VsVersionInfo struct {
	Length      uint16 `json:"length"`
	ValueLength uint16 `json:"value_length"`
	Type        uint16 `json:"type"`
}

// VsFixedFileInfo is the language- and codepage-independent fixed portion
// of a version resource (the VS_FIXEDFILEINFO structure).
type VsFixedFileInfo struct {
	Signature        uint32 `json:"signature"`
	StructVer        uint32 `json:"struct_ver"`
	FileVersionMS    uint32 `json:"file_version_ms"`
	FileVersionLS    uint32 `json:"file_version_ls"`
	ProductVersionMS uint32 `json:"product_version_ms"`
	ProductVersionLS uint32 `json:"product_version_ls"`
	FileFlagMask     uint32 `json:"file_flag_mask"`
	FileFlags        uint32 `json:"file_flags"`
	FileOS           uint32 `json:"file_os"`
	FileType         uint32 `json:"file_type"`
	FileSubtype      uint32 `json:"file_subtype"`
	FileDateMS       uint32 `json:"file_date_ms"`
	FileDateLS       uint32 `json:"file_date_ls"`
}

// Size returns the size of this structure in bytes.
func (f *VsFixedFileInfo) Size() uint32 { return uint32(binary.Size(f)) }

// DefaultFixedFileInfo returns a VsFixedFileInfo with the conventional
// defaults the Windows resource compiler emits for a fresh version
// resource (version 1.0, application file type, no special flags).
func DefaultFixedFileInfo() VsFixedFileInfo {
	return VsFixedFileInfo{
		Signature:     VsFileInfoSignature,
		StructVer:     0x00010000,
		FileVersionMS: 0x00010000,
		FileVersionLS: 0,
		FileOS:        0x00040004, // VOS_NT_WINDOWS32
		FileType:      0x00000001, // VFT_APP
		FileFlagMask:  0x0000003F,
	}
}

// versionCursor walks a version resource byte buffer, tracking alignment
// relative to the start of the buffer (offset 0), since a resource data
// entry's payload is itself extracted onto a fresh 4-byte-aligned buffer.
type versionCursor struct {
	data []byte
	pos  uint32
}

func (c *versionCursor) align() {
	c.pos = alignDword(c.pos, 0)
}

func (c *versionCursor) readHeader() (versionHeader, error) {
	var h versionHeader
	if c.pos+versionHeaderLength > uint32(len(c.data)) {
		return h, fmt.Errorf("version resource truncated at offset %d", c.pos)
	}
	if err := binary.Read(bytes.NewReader(c.data[c.pos:c.pos+versionHeaderLength]), binary.LittleEndian, &h); err != nil {
		return h, err
	}
	c.pos += versionHeaderLength
	return h, nil
}

func (c *versionCursor) readUTF16CString() (string, error) {
	start := c.pos
	for {
		if c.pos+2 > uint32(len(c.data)) {
			return "", fmt.Errorf("unterminated UTF-16 string at offset %d", start)
		}
		if c.data[c.pos] == 0 && c.data[c.pos+1] == 0 {
			break
		}
		c.pos += 2
	}
	s, err := DecodeUTF16String(c.data[start : c.pos+2])
	c.pos += 2 // NUL terminator
	return s, err
}

// parseVsVersionInfo parses the VS_VERSIONINFO header and its key string.
func parseVsVersionInfo(c *versionCursor) (*VsVersionInfo, error) {
	h, err := c.readHeader()
	if err != nil {
		return nil, err
	}
	key, err := c.readUTF16CString()
	if err != nil {
		return nil, err
	}
	if key != VsVersionInfoString {
		return nil, fmt.Errorf("invalid VS_VERSION_INFO block key %q", key)
	}
	c.align()
	return &VsVersionInfo{Length: h.Length, ValueLength: h.ValueLength, Type: h.Type}, nil
}

func parseFixedFileInfo(c *versionCursor, valueLength uint16) (*VsFixedFileInfo, error) {
	var f VsFixedFileInfo
	size := f.Size()
	if valueLength == 0 {
		return nil, nil
	}
	if c.pos+size > uint32(len(c.data)) {
		return nil, fmt.Errorf("fixed file info truncated at offset %d", c.pos)
	}
	if err := binary.Read(bytes.NewReader(c.data[c.pos:c.pos+size]), binary.LittleEndian, &f); err != nil {
		return nil, err
	}
	if f.Signature != VsFileInfoSignature {
		return nil, fmt.Errorf("invalid fixed file info signature 0x%x", f.Signature)
	}
	c.pos += size
	c.align()
	return &f, nil
}

// parseStringFileInfo parses zero or more StringTable children of a
// StringFileInfo block into a flat key/value map, ignoring VarFileInfo
// siblings.
func parseStringFileInfo(c *versionCursor, end uint32, vers map[string]string) error {
	for c.pos < end {
		tableStart := c.pos
		h, err := c.readHeader()
		if err != nil {
			return err
		}
		if h.Length == 0 {
			break
		}
		tableEnd := tableStart + uint32(h.Length)
		// langID/codepage key string, 8 hex digits.
		if _, err := c.readUTF16CString(); err != nil {
			return err
		}
		c.align()

		for c.pos < tableEnd {
			strStart := c.pos
			sh, err := c.readHeader()
			if err != nil {
				return err
			}
			if sh.Length == 0 {
				break
			}
			strEnd := strStart + uint32(sh.Length)
			key, err := c.readUTF16CString()
			if err != nil {
				return err
			}
			c.align()
			var value string
			if sh.ValueLength > 0 {
				valueBytes := uint32(sh.ValueLength) * 2
				if c.pos+valueBytes > uint32(len(c.data)) {
					return fmt.Errorf("string value truncated at offset %d", c.pos)
				}
				value, err = DecodeUTF16String(c.data[c.pos : c.pos+valueBytes])
				if err != nil {
					return err
				}
			}
			vers[key] = value
			c.pos = strEnd
			c.align()
		}
		c.pos = tableEnd
		c.align()
	}
	return nil
}

// ParseVersionInfo decodes a raw VS_VERSIONINFO resource leaf into its
// fixed file info header and flattened string table.
func ParseVersionInfo(data []byte) (*VsFixedFileInfo, map[string]string, error) {
	c := &versionCursor{data: data}
	root, err := parseVsVersionInfo(c)
	if err != nil {
		return nil, nil, err
	}

	fixed, err := parseFixedFileInfo(c, root.ValueLength)
	if err != nil {
		return nil, nil, err
	}

	vers := make(map[string]string)
	end := uint32(root.Length)
	for c.pos < end {
		childStart := c.pos
		h, err := c.readHeader()
		if err != nil {
			break
		}
		if h.Length == 0 {
			break
		}
		childEnd := childStart + uint32(h.Length)
		name, err := c.readUTF16CString()
		if err != nil {
			break
		}
		c.align()
		if name == StringFileInfoString {
			if err := parseStringFileInfo(c, childEnd, vers); err != nil {
				break
			}
		}
		c.pos = childEnd
		c.align()
	}

	if fixed == nil {
		d := DefaultFixedFileInfo()
		fixed = &d
	}
	return fixed, vers, nil
}

// findResourceLeaf walks the resource tree for the entry at typeID ->
// any name -> any language, returning the first leaf data it finds.
func findResourceLeaf(root *ResourceTable, typeID uint32) (*ResourceData, bool) {
	if root == nil {
		return nil, false
	}
	typeEntry, ok := root.Entries.Get(ResourceID(typeID))
	if !ok || typeEntry.Table == nil {
		return nil, false
	}
	for _, nameEntry := range typeEntry.Table.Entries.Values() {
		if nameEntry.Table == nil {
			continue
		}
		for _, langEntry := range nameEntry.Table.Entries.Values() {
			if langEntry.Data != nil {
				return langEntry.Data, true
			}
		}
	}
	return nil, false
}

// GetVersionInfo returns the fixed file info and string table of the
// image's RT_VERSION resource, if present.
func (pe *Image) GetVersionInfo() (*VsFixedFileInfo, map[string]string, error) {
	if pe.Resources == nil || pe.Resources.Root == nil {
		return nil, nil, ResourceError{Kind: ResourceErrNotFound, Msg: "image has no resource directory"}
	}
	leaf, ok := findResourceLeaf(pe.Resources.Root, VersionResourceType)
	if !ok {
		return nil, nil, ResourceError{Kind: ResourceErrNotFound, Msg: "no RT_VERSION resource present"}
	}
	return ParseVersionInfo(leaf.Data)
}

// buildString encodes one String sub-block (key/value pair).
func buildString(key, value string) []byte {
	var buf bytes.Buffer
	valueUnits := uint16(0)
	if value != "" {
		valueUnits = uint16(len([]rune(value)) + 1)
	}
	buf.Write(make([]byte, versionHeaderLength)) // header patched below
	buf.Write(utf16CString(key))
	pad(&buf)
	valueStart := buf.Len()
	if value != "" {
		buf.Write(utf16CString(value))
	}
	total := uint16(buf.Len())
	b := buf.Bytes()
	binary.LittleEndian.PutUint16(b[0:2], total)
	binary.LittleEndian.PutUint16(b[2:4], valueUnits)
	binary.LittleEndian.PutUint16(b[4:6], 1) // type 1: text data
	_ = valueStart
	return b
}

// buildStringTable encodes a single StringTable block (one language/
// codepage pair) containing the given ordered key/value pairs.
func buildStringTable(keys *orderedmap.Map[string, string]) []byte {
	var body bytes.Buffer
	body.Write(make([]byte, versionHeaderLength))
	body.Write(utf16CString(defaultLangID))
	pad(&body)
	for _, k := range keys.Keys() {
		v, _ := keys.Get(k)
		s := buildString(k, v)
		body.Write(s)
		pad(&body)
	}
	b := body.Bytes()
	binary.LittleEndian.PutUint16(b[0:2], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[2:4], 0)
	binary.LittleEndian.PutUint16(b[4:6], 1)
	return b
}

// buildStringFileInfo wraps a StringTable in its StringFileInfo parent.
func buildStringFileInfo(table []byte) []byte {
	var buf bytes.Buffer
	buf.Write(make([]byte, versionHeaderLength))
	buf.Write(utf16CString(StringFileInfoString))
	pad(&buf)
	buf.Write(table)
	b := buf.Bytes()
	binary.LittleEndian.PutUint16(b[0:2], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[2:4], 0)
	binary.LittleEndian.PutUint16(b[4:6], 1)
	return b
}

// BuildVersionInfo encodes a complete VS_VERSIONINFO resource leaf from a
// fixed file info header and an ordered key/value string table.
func BuildVersionInfo(fixed VsFixedFileInfo, strings *orderedmap.Map[string, string]) []byte {
	var buf bytes.Buffer
	buf.Write(make([]byte, versionHeaderLength))
	buf.Write(utf16CString(VsVersionInfoString))
	pad(&buf)

	fixedBuf := new(bytes.Buffer)
	binary.Write(fixedBuf, binary.LittleEndian, &fixed)
	buf.Write(fixedBuf.Bytes())
	pad(&buf)

	sfi := buildStringFileInfo(buildStringTable(strings))
	buf.Write(sfi)

	b := buf.Bytes()
	binary.LittleEndian.PutUint16(b[0:2], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[2:4], uint16(fixed.Size()))
	binary.LittleEndian.PutUint16(b[4:6], 0) // type 0: binary data (FixedFileInfo)
	return b
}

func utf16CString(s string) []byte {
	out := make([]byte, 0, len(s)*2+2)
	for _, r := range s {
		out = append(out, byte(r), byte(r>>8))
	}
	return append(out, 0, 0)
}

func pad(buf *bytes.Buffer) {
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

// SetVersionInfo replaces (or inserts) the image's RT_VERSION resource
// with one built from fixed and the given ordered string table, using the
// default language/codepage. The image's backing buffer is not rewritten
// here; call SetResourceDirectory to apply the mutated tree.
func (pe *Image) SetVersionInfo(fixed VsFixedFileInfo, strings *orderedmap.Map[string, string]) error {
	if pe.Resources == nil || pe.Resources.Root == nil {
		pe.Resources = &ResourceDirectory{Root: NewResourceTable()}
	}
	root := pe.Resources.Root

	typeEntry, ok := root.Entries.Get(ResourceID(VersionResourceType))
	if !ok || typeEntry.Table == nil {
		typeEntry = &ResourceEntry{Table: NewResourceTable()}
		root.Entries.Set(ResourceID(VersionResourceType), typeEntry)
	}

	nameEntry, ok := typeEntry.Table.Entries.Get(ResourceID(1))
	if !ok || nameEntry.Table == nil {
		nameEntry = &ResourceEntry{Table: NewResourceTable()}
		typeEntry.Table.Entries.Set(ResourceID(1), nameEntry)
	}

	payload := BuildVersionInfo(fixed, strings)
	nameEntry.Table.Entries.Set(ResourceID(uint32(defaultLangWord)), &ResourceEntry{
		Data: &ResourceData{Data: payload, CodePage: defaultCPWord},
	})
	return nil
}

// RemoveVersionInfo deletes the RT_VERSION resource, if present.
func (pe *Image) RemoveVersionInfo() bool {
	if pe.Resources == nil || pe.Resources.Root == nil {
		return false
	}
	return pe.Resources.Root.Entries.Delete(ResourceID(VersionResourceType))
}
