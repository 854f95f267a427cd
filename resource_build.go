// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "encoding/binary"

// buildOrder returns the entries of t in build order: all name-keyed
// entries first (in their original insertion order), then all id-keyed
// entries (in their original insertion order). This partition is required
// at build time regardless of how the tree was populated, so that every
// name-table's NumberOfNamedEntries/NumberOfIDEntries split matches the
// IMAGE_RESOURCE_DIRECTORY convention the Windows loader expects.
func buildOrder(t *ResourceTable) []ResourceEntryName {
	keys := t.Entries.Keys()
	ordered := make([]ResourceEntryName, 0, len(keys))
	for _, k := range keys {
		if k.IsName {
			ordered = append(ordered, k)
		}
	}
	for _, k := range keys {
		if !k.IsName {
			ordered = append(ordered, k)
		}
	}
	return ordered
}

// TablesSize returns the byte size of this table and every descendant
// table/entry header (the IMAGE_RESOURCE_DIRECTORY + IMAGE_RESOURCE_DIRECTORY_ENTRY
// region).
func (t *ResourceTable) TablesSize() uint32 {
	size := uint32(binary.Size(ImageResourceDirectory{}))
	for _, k := range t.Entries.Keys() {
		e, _ := t.Entries.Get(k)
		size += uint32(binary.Size(ImageResourceDirectoryEntry{}))
		if e.Table != nil {
			size += e.Table.TablesSize()
		}
	}
	return size
}

// StringsSize returns the byte size of every name string this table and
// its descendants reference (2-byte length prefix plus UTF-16LE chars, no
// NUL terminator).
func (t *ResourceTable) StringsSize() uint32 {
	var size uint32
	for _, k := range t.Entries.Keys() {
		if k.IsName {
			size += 2 + uint32(len(k.Name16))
		}
		e, _ := t.Entries.Get(k)
		if e.Table != nil {
			size += e.Table.StringsSize()
		}
	}
	return size
}

// DescriptionsSize returns the byte size of every IMAGE_RESOURCE_DATA_ENTRY
// record this table and its descendants require.
func (t *ResourceTable) DescriptionsSize() uint32 {
	var size uint32
	for _, v := range t.Entries.Values() {
		if v.Table != nil {
			size += v.Table.DescriptionsSize()
		} else {
			size += uint32(binary.Size(ImageResourceDataEntry{}))
		}
	}
	return size
}

// DataSize returns the byte size of every leaf's raw payload this table and
// its descendants hold.
func (t *ResourceTable) DataSize() uint32 {
	var size uint32
	for _, v := range t.Entries.Values() {
		if v.Table != nil {
			size += v.Table.DataSize()
		} else if v.Data != nil {
			size += uint32(len(v.Data.Data))
		}
	}
	return size
}

// Size returns the complete size in bytes of the built resource directory:
// tables, strings, data descriptions, and raw data, in the order Build
// lays them out.
func (t *ResourceTable) Size() uint32 {
	return t.TablesSize() + t.StringsSize() + t.DescriptionsSize() + t.DataSize()
}

// tableData is one record destined for the tables region: either a
// directory header or a directory entry (the entry's offset fields are
// patched with region base offsets once every region's size is known).
type tableData struct {
	header *ImageResourceDirectory
	entry  *ImageResourceDirectoryEntry
}

// Build serializes the resource table into the on-disk `.rsrc` layout:
// tables region, then string names, then data-entry descriptions, then raw
// data, with every RVA/offset field patched relative to virtualAddress
// (the section's virtual address in the target image). Matches the layout
// produced by rc.exe / link.exe.
func (t *ResourceTable) Build(virtualAddress uint32) []byte {
	var tablesOffset, stringsOffset, descriptionsOffset, dataOffset uint32
	tables, strings, descriptions, data := t.buildTable(
		virtualAddress, &tablesOffset, &stringsOffset, &descriptionsOffset, &dataOffset)

	out := make([]byte, 0, tablesOffset+stringsOffset+descriptionsOffset+dataOffset)

	for i := range tables {
		td := &tables[i]
		if td.header != nil {
			out = appendStruct(out, td.header)
			continue
		}
		if td.entry.DataIsDirectory() == 0 {
			td.entry.OffsetToData += tablesOffset + stringsOffset
		}
		if td.entry.Name&0x80000000 != 0 {
			td.entry.Name += tablesOffset
		}
		out = appendStruct(out, td.entry)
	}

	out = append(out, strings...)

	for i := range descriptions {
		descriptions[i].OffsetToData += tablesOffset + stringsOffset + descriptionsOffset
		out = appendStruct(out, &descriptions[i])
	}

	out = append(out, data...)
	return out
}

// DataIsDirectory reports whether this entry's OffsetToData points to a
// subdirectory (high bit set) rather than a data-entry description.
func (e *ImageResourceDirectoryEntry) DataIsDirectory() uint32 {
	return e.OffsetToData & 0x80000000
}

func (t *ResourceTable) buildTable(
	virtualAddress uint32,
	tablesOffset, stringsOffset, descriptionsOffset, dataOffset *uint32,
) ([]tableData, []byte, []ImageResourceDataEntry, []byte) {

	var tables []tableData
	var strings []byte
	var descriptions []ImageResourceDataEntry
	var data []byte

	order := buildOrder(t)

	header := ImageResourceDirectory{
		Characteristics:      t.Characteristics,
		TimeDateStamp:        t.TimeDateStamp,
		MajorVersion:         t.MajorVersion,
		MinorVersion:         t.MinorVersion,
		NumberOfNamedEntries: t.NumberOfNameEntries(),
		NumberOfIDEntries:    t.NumberOfIDEntries(),
	}
	tables = append(tables, tableData{header: &header})
	*tablesOffset += uint32(binary.Size(header))

	var nextTableSizes uint32
	for _, name := range order {
		e, _ := t.Entries.Get(name)

		strings = append(strings, encodeResourceName(name)...)
		var nameField uint32
		if name.IsName {
			nameField = *stringsOffset | 0x80000000
			*stringsOffset += 2 + uint32(len(name.Name16))
		} else {
			nameField = name.ID
		}

		if e.Table != nil {
			entry := ImageResourceDirectoryEntry{
				Name: nameField,
				OffsetToData: (*tablesOffset + uint32(t.Entries.Len())*
					uint32(binary.Size(ImageResourceDirectoryEntry{})) + nextTableSizes) | 0x80000000,
			}
			tables = append(tables, tableData{entry: &entry})
			nextTableSizes += e.Table.TablesSize()
		} else {
			entry := ImageResourceDirectoryEntry{
				Name:         nameField,
				OffsetToData: *descriptionsOffset,
			}
			tables = append(tables, tableData{entry: &entry})

			data = append(data, e.Data.Data...)
			descriptions = append(descriptions, ImageResourceDataEntry{
				OffsetToData: *dataOffset + virtualAddress,
				Size:         uint32(len(e.Data.Data)),
				CodePage:     e.Data.CodePage,
				Reserved:     e.Data.Reserved,
			})
			*descriptionsOffset += uint32(binary.Size(ImageResourceDataEntry{}))
			*dataOffset += uint32(len(e.Data.Data))
		}
	}
	*tablesOffset += uint32(t.Entries.Len()) * uint32(binary.Size(ImageResourceDirectoryEntry{}))

	for _, name := range order {
		e, _ := t.Entries.Get(name)
		if e.Table == nil {
			continue
		}
		ct, cs, cd, cdata := e.Table.buildTable(virtualAddress, tablesOffset, stringsOffset, descriptionsOffset, dataOffset)
		tables = append(tables, ct...)
		strings = append(strings, cs...)
		descriptions = append(descriptions, cd...)
		data = append(data, cdata...)
	}

	return tables, strings, descriptions, data
}

// encodeResourceName returns the on-disk string form (2-byte length prefix
// plus raw UTF-16LE bytes) of a name-keyed entry name, or nil for id-keyed
// names.
func encodeResourceName(n ResourceEntryName) []byte {
	if !n.IsName {
		return nil
	}
	out := make([]byte, 2+len(n.Name16))
	binary.LittleEndian.PutUint16(out, uint16(len(n.Name16)/2))
	copy(out[2:], n.Name16)
	return out
}

func appendStruct(out []byte, v interface{}) []byte {
	buf := make([]byte, binary.Size(v))
	w := sliceWriter{buf: buf}
	binary.Write(&w, binary.LittleEndian, v)
	return append(out, buf...)
}

// sliceWriter implements io.Writer over a preallocated slice, used to avoid
// a bytes.Buffer allocation per struct during the build's tight inner loop.
type sliceWriter struct {
	buf []byte
	pos int
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	return n, nil
}
