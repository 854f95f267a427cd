// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"fmt"
	"reflect"

	mmap "github.com/edsrzf/mmap-go"
)

// ImageRewriteError reports why SetResourceDirectory could not rewrite the
// image in place.
type ImageRewriteError struct {
	Kind    ImageRewriteErrKind
	Details string
}

// ImageRewriteErrKind classifies an ImageRewriteError.
type ImageRewriteErrKind int

const (
	// ErrNotEnoughSpaceInHeader is returned when appending a new section
	// would require growing the section table into the first section's
	// raw data, and there is no header padding left to absorb it.
	ErrNotEnoughSpaceInHeader ImageRewriteErrKind = iota
	// ErrInvalidSectionRange is returned when the last section's raw data
	// extends past the end of the image.
	ErrInvalidSectionRange
)

func (e ImageRewriteError) Error() string {
	switch e.Kind {
	case ErrNotEnoughSpaceInHeader:
		return fmt.Sprintf("not enough space in header to add a new section: %s", e.Details)
	case ErrInvalidSectionRange:
		return fmt.Sprintf("invalid section range: %s", e.Details)
	default:
		return e.Details
	}
}

const newSectionName = ".pedata"

// newSectionHeaderSize is the on-disk size of one IMAGE_SECTION_HEADER row.
const newSectionHeaderSize = 40

// minDataDirectoryEntries is the lowest NumberOfRvaAndSizes this package
// will rewrite a PE to carry. Export, Import and Resource occupy slots 0
// through 2, so a directory with fewer entries has no slot for the
// resource table at all.
const minDataDirectoryEntries = 3

// SetResourceDirectory replaces the image's resource directory, rewriting
// the backing buffer, and returns the directory that was previously
// installed (nil if there was none). The new directory is placed using the
// first strategy from this list that applies:
//
//   - the current resource section is large enough and used by nothing
//     else: overwrite it in place, padding or truncating as needed;
//   - the current resource section is the image's last section and used
//     by nothing else: extend it in place;
//   - otherwise: append a new ".pedata" section holding only the resource
//     directory.
//
// Appending a new section requires room in the header for one more
// IMAGE_SECTION_HEADER row; if there isn't any, ErrNotEnoughSpaceInHeader
// is returned and the image is left untouched.
func (pe *Image) SetResourceDirectory(dir *ResourceDirectory) (*ResourceDirectory, error) {
	oh32 := ImageOptionalHeader32{}
	oh64 := ImageOptionalHeader64{}
	switch pe.Is64 {
	case true:
		oh64 = pe.NtHeader.OptionalHeader.(ImageOptionalHeader64)
	case false:
		oh32 = pe.NtHeader.OptionalHeader.(ImageOptionalHeader32)
	}

	sectionAlignment := oh32.SectionAlignment
	if pe.Is64 {
		sectionAlignment = oh64.SectionAlignment
	}

	savedData, savedSize, savedNtHeader := pe.data, pe.size, pe.NtHeader
	savedSections := append([]Section(nil), pe.Sections...)
	restore := func() {
		pe.data, pe.size, pe.NtHeader, pe.Sections = savedData, savedSize, savedNtHeader, savedSections
	}

	pe.ensureMinimumDataDirectories()

	var firstSectionOffset, lastSectionEnd uint32
	firstSectionOffset = uint32(len(pe.data))
	for _, s := range pe.Sections {
		if s.Header.SizeOfRawData == 0 {
			continue
		}
		if s.Header.PointerToRawData < firstSectionOffset {
			firstSectionOffset = s.Header.PointerToRawData
		}
		if end := s.Header.PointerToRawData + s.Header.SizeOfRawData; end > lastSectionEnd {
			lastSectionEnd = end
		}
	}
	if lastSectionEnd > uint32(len(pe.data)) {
		restore()
		return nil, ImageRewriteError{Kind: ErrInvalidSectionRange,
			Details: fmt.Sprintf("last section ends at %d, image is %d bytes", lastSectionEnd, len(pe.data))}
	}

	oldVA, oldSize := pe.resourceDataDirectory()
	newSize := dir.Root.Size()
	newSizeAligned := alignUp(newSize, sectionAlignment)

	oldSectionIdx := -1
	if oldSize > 0 {
		for i, s := range pe.Sections {
			if oldVA >= s.Header.VirtualAddress && oldVA < s.Header.VirtualAddress+s.Header.VirtualSize {
				oldSectionIdx = i
				break
			}
		}
	}

	var resourceBytes []byte
	var newSectionBytes []byte
	addNewSection := true
	var oldSectionStart, oldSectionEnd uint32

	sections := append([]Section(nil), pe.Sections...)
	oldSectionCount := len(pe.Sections)

	if oldSectionIdx >= 0 {
		sec := &sections[oldSectionIdx]
		oldSectionStart = sec.Header.PointerToRawData
		oldSectionEnd = oldSectionStart + sec.Header.SizeOfRawData
		isLastSection := oldSectionEnd == lastSectionEnd

		sharedByOther := pe.resourceSectionSharedByOtherDirectory(sec, oldVA)

		if !sharedByOther && (sec.Header.SizeOfRawData >= newSize || isLastSection) {
			addNewSection = false
			resourceBytes = dir.Root.Build(oldVA)

			switch {
			case sec.Header.SizeOfRawData >= newSize && !isLastSection:
				// Shrink-with-padding: keep the section's raw size but fill the
				// tail with its previous contents so trailing data referenced by
				// other sections/padding is preserved.
				resourceBytes = append(resourceBytes,
					pe.data[oldSectionStart+newSize:oldSectionEnd]...)
			case sec.Header.SizeOfRawData >= newSize && isLastSection:
				// Truncate: the section can simply shrink.
				sec.Header.SizeOfRawData = newSize
				sec.Header.VirtualSize = newSizeAligned
			default:
				// Extend in place. Compute the growth delta before mutating
				// SizeOfRawData so the virtual size grows by the same amount
				// the raw size does, not by the post-mutation (already-grown)
				// raw size.
				delta := newSize - sec.Header.SizeOfRawData
				sec.Header.SizeOfRawData = newSize
				sec.Header.VirtualSize += alignUp(delta, sectionAlignment)
			}
		}
	}

	var newSectionVA uint32
	if addNewSection {
		if oldSectionIdx >= 0 {
			sec := pe.Sections[oldSectionIdx]
			resourceBytes = append(resourceBytes, pe.data[sec.Header.PointerToRawData:sec.Header.PointerToRawData+sec.Header.SizeOfRawData]...)
		}

		var lastVirtualEnd uint32
		for _, s := range pe.Sections {
			if end := s.Header.VirtualAddress + s.Header.VirtualSize; end > lastVirtualEnd {
				lastVirtualEnd = end
			}
		}
		if lastVirtualEnd == 0 {
			lastVirtualEnd = sectionAlignment
		}
		newSectionVA = alignUp(lastVirtualEnd, sectionAlignment)

		newSectionBytes = dir.Root.Build(newSectionVA)

		pointerToRawData := lastSectionEnd
		if pointerToRawData == 0 {
			pointerToRawData = pe.DirectoriesOffset
		}

		var name [8]byte
		copy(name[:], newSectionName)
		sections = append(sections, Section{Header: ImageSectionHeader{
			Name:             name,
			VirtualSize:      newSizeAligned,
			VirtualAddress:   newSectionVA,
			SizeOfRawData:    uint32(len(newSectionBytes)),
			PointerToRawData: pointerToRawData,
			Characteristics:  0x40000040, // IMAGE_SCN_CNT_INITIALIZED_DATA | IMAGE_SCN_MEM_READ
		}})
	}

	requiredHeaderSpace := uint32(0)
	if addNewSection {
		requiredHeaderSpace = newSectionHeaderSize
	}
	sectionTableEnd := pe.sectionTableOffset() + uint32(len(pe.Sections))*newSectionHeaderSize
	var availableSpace uint32
	if firstSectionOffset > sectionTableEnd {
		availableSpace = firstSectionOffset - sectionTableEnd
	}
	if requiredHeaderSpace > availableSpace {
		restore()
		return nil, ImageRewriteError{Kind: ErrNotEnoughSpaceInHeader,
			Details: fmt.Sprintf("need %d bytes, have %d", requiredHeaderSpace, availableSpace)}
	}

	newVA := oldVA
	newDirSize := newSize
	if addNewSection {
		newVA = newSectionVA
	}
	pe.setResourceDataDirectory(newVA, newDirSize)

	newImage := make([]byte, 0, len(pe.data)+len(newSectionBytes)+newSectionHeaderSize)
	newImage = append(newImage, pe.data[:firstSectionOffset]...)

	if addNewSection && oldSectionIdx < 0 {
		newImage = append(newImage, pe.data[firstSectionOffset:lastSectionEnd]...)
	} else if oldSectionIdx >= 0 {
		newImage = append(newImage, pe.data[firstSectionOffset:oldSectionStart]...)
		newImage = append(newImage, resourceBytes...)
		newImage = append(newImage, pe.data[oldSectionEnd:lastSectionEnd]...)
	} else {
		newImage = append(newImage, pe.data[firstSectionOffset:lastSectionEnd]...)
	}
	newImage = append(newImage, newSectionBytes...)
	newImage = append(newImage, pe.data[lastSectionEnd:]...)

	pe.data = newMutableBuffer(newImage)
	pe.size = uint32(len(pe.data))

	if !addNewSection {
		pe.patchSectionHeader(oldSectionIdx, sections[oldSectionIdx].Header)
	} else {
		pe.patchSectionHeaderAt(oldSectionCount, sections[len(sections)-1].Header)
		pe.NtHeader.FileHeader.NumberOfSections++
		pe.patchNumberOfSections(pe.NtHeader.FileHeader.NumberOfSections)
	}

	pe.Sections = sections

	// A rewritten image invalidates the linker's checksum, and growing or
	// appending a section can grow the total mapped size. Recompute both
	// from the final section list so re-parsing the rewritten bytes agrees
	// with what was just written.
	pe.patchCheckSum(0)
	pe.patchSizeOfImage(pe.computeSizeOfImage())

	prev := pe.Resources
	pe.Resources = dir
	return prev, nil
}

// newMutableBuffer wraps a freshly built byte slice as the Image's backing
// store. The slice is plain heap memory, not a real mapping, but mmap.MMap
// is defined as []byte so it can stand in for one.
func newMutableBuffer(b []byte) mmap.MMap {
	return mmap.MMap(b)
}

// sectionTableOffset returns the file offset of the first IMAGE_SECTION_HEADER
// row, immediately following the optional header (data directory array
// included), the same way ParseSectionHeader locates it.
func (pe *Image) sectionTableOffset() uint32 {
	return pe.OptionalHeaderDirectoryOffset + uint32(pe.NtHeader.FileHeader.SizeOfOptionalHeader)
}

// patchSectionHeader overwrites the on-disk IMAGE_SECTION_HEADER row at
// index idx with h.
func (pe *Image) patchSectionHeader(idx int, h ImageSectionHeader) {
	pe.patchSectionHeaderAt(idx, h)
}

func (pe *Image) patchSectionHeaderAt(idx int, h ImageSectionHeader) {
	offset := pe.sectionTableOffset() + uint32(idx)*newSectionHeaderSize
	if offset+newSectionHeaderSize > uint32(len(pe.data)) {
		return
	}
	buf := make([]byte, newSectionHeaderSize)
	w := sliceWriter{buf: buf}
	_ = binary.Write(&w, binary.LittleEndian, &h)
	copy(pe.data[offset:offset+newSectionHeaderSize], buf)
}

// patchNumberOfSections overwrites the COFF header's NumberOfSections field.
func (pe *Image) patchNumberOfSections(n uint16) {
	offset := pe.CoffHeaderOffset + 2
	if offset+2 > uint32(len(pe.data)) {
		return
	}
	binary.LittleEndian.PutUint16(pe.data[offset:offset+2], n)
}

// setResourceDataDirectory overwrites the on-disk resource DataDirectory
// entry (VirtualAddress, Size) in the optional header.
func (pe *Image) setResourceDataDirectory(va, size uint32) {
	entrySize := uint32(binary.Size(DataDirectory{}))
	offset := pe.DirectoriesOffset + uint32(ImageDirectoryEntryResource)*entrySize
	if offset+entrySize > uint32(len(pe.data)) {
		return
	}
	binary.LittleEndian.PutUint32(pe.data[offset:offset+4], va)
	binary.LittleEndian.PutUint32(pe.data[offset+4:offset+8], size)

	switch pe.Is64 {
	case true:
		oh := pe.NtHeader.OptionalHeader.(ImageOptionalHeader64)
		oh.DataDirectory[ImageDirectoryEntryResource] = DataDirectory{VirtualAddress: va, Size: size}
		pe.NtHeader.OptionalHeader = oh
	case false:
		oh := pe.NtHeader.OptionalHeader.(ImageOptionalHeader32)
		oh.DataDirectory[ImageDirectoryEntryResource] = DataDirectory{VirtualAddress: va, Size: size}
		pe.NtHeader.OptionalHeader = oh
	}
}

// numberOfRvaAndSizes returns the optional header's declared directory count.
func (pe *Image) numberOfRvaAndSizes() uint32 {
	if pe.Is64 {
		return pe.NtHeader.OptionalHeader.(ImageOptionalHeader64).NumberOfRvaAndSizes
	}
	return pe.NtHeader.OptionalHeader.(ImageOptionalHeader32).NumberOfRvaAndSizes
}

// patchOptionalHeaderUint32 overwrites a 4-byte field of the optional header,
// located by its struct field name, both on disk and in NtHeader.OptionalHeader.
func (pe *Image) patchOptionalHeaderUint32(field string, v uint32) {
	offset := pe.OptionalHeaderDirectoryOffset + optionalHeaderFieldOffset(pe.Is64, field)
	if offset+4 <= uint32(len(pe.data)) {
		binary.LittleEndian.PutUint32(pe.data[offset:offset+4], v)
	}

	switch pe.Is64 {
	case true:
		oh := pe.NtHeader.OptionalHeader.(ImageOptionalHeader64)
		reflectSetUint32Field(&oh, field, v)
		pe.NtHeader.OptionalHeader = oh
	case false:
		oh := pe.NtHeader.OptionalHeader.(ImageOptionalHeader32)
		reflectSetUint32Field(&oh, field, v)
		pe.NtHeader.OptionalHeader = oh
	}
}

// reflectSetUint32Field sets a named uint32 (or narrower unsigned) field on
// the struct pointed to by v.
func reflectSetUint32Field(v interface{}, field string, val uint32) {
	rv := reflect.ValueOf(v).Elem().FieldByName(field)
	if rv.IsValid() && rv.CanSet() {
		rv.SetUint(uint64(val))
	}
}

// patchCheckSum zeroes (or sets) the optional header's CheckSum field. A
// rewritten image's checksum is never valid, so SetResourceDirectory always
// clears it; the OS loader for non-driver images ignores it, and callers
// that need a real one can recompute it separately.
func (pe *Image) patchCheckSum(v uint32) {
	pe.patchOptionalHeaderUint32("CheckSum", v)
}

// patchSizeOfImage overwrites the optional header's SizeOfImage field.
func (pe *Image) patchSizeOfImage(v uint32) {
	pe.patchOptionalHeaderUint32("SizeOfImage", v)
}

// patchNumberOfRvaAndSizes overwrites the optional header's
// NumberOfRvaAndSizes field.
func (pe *Image) patchNumberOfRvaAndSizes(v uint32) {
	pe.patchOptionalHeaderUint32("NumberOfRvaAndSizes", v)
}

// computeSizeOfImage recomputes SizeOfImage from the current section list:
// the header region rounded up to SectionAlignment, extended by every
// section's aligned VirtualAddress+VirtualSize.
func (pe *Image) computeSizeOfImage() uint32 {
	sectionAlignment, sizeOfHeaders := pe.alignmentAndHeaderSize()

	end := alignUp(sizeOfHeaders, sectionAlignment)
	for _, s := range pe.Sections {
		if e := alignUp(s.Header.VirtualAddress+s.Header.VirtualSize, sectionAlignment); e > end {
			end = e
		}
	}
	return end
}

func (pe *Image) alignmentAndHeaderSize() (sectionAlignment, sizeOfHeaders uint32) {
	if pe.Is64 {
		oh := pe.NtHeader.OptionalHeader.(ImageOptionalHeader64)
		return oh.SectionAlignment, oh.SizeOfHeaders
	}
	oh := pe.NtHeader.OptionalHeader.(ImageOptionalHeader32)
	return oh.SectionAlignment, oh.SizeOfHeaders
}

// patchSizeOfOptionalHeader overwrites the COFF header's SizeOfOptionalHeader
// field.
func (pe *Image) patchSizeOfOptionalHeader(v uint16) {
	offset := pe.CoffHeaderOffset + fileHeaderFieldOffset("SizeOfOptionalHeader")
	if offset+2 > uint32(len(pe.data)) {
		return
	}
	binary.LittleEndian.PutUint16(pe.data[offset:offset+2], v)
}

// ensureMinimumDataDirectories grows the on-disk data directory array to at
// least minDataDirectoryEntries entries when the image declares fewer,
// inserting zeroed entries and shifting the section table (and every byte
// after it) forward by the same amount. Without this, writing the resource
// directory entry (slot 2) on a PE that only reserved, say, one or two
// entries would overwrite the start of the section table.
func (pe *Image) ensureMinimumDataDirectories() {
	numRVA := pe.numberOfRvaAndSizes()
	if numRVA >= minDataDirectoryEntries {
		return
	}

	added := minDataDirectoryEntries - numRVA
	insertLen := added * uint32(binary.Size(DataDirectory{}))
	insertAt := pe.DirectoriesOffset + numRVA*uint32(binary.Size(DataDirectory{}))
	if insertAt > uint32(len(pe.data)) {
		insertAt = uint32(len(pe.data))
	}

	grown := make([]byte, 0, len(pe.data)+int(insertLen))
	grown = append(grown, pe.data[:insertAt]...)
	grown = append(grown, make([]byte, insertLen)...)
	grown = append(grown, pe.data[insertAt:]...)
	pe.data = newMutableBuffer(grown)
	pe.size = uint32(len(pe.data))

	for i := range pe.Sections {
		pe.Sections[i].Header.PointerToRawData += insertLen
	}

	pe.NtHeader.FileHeader.SizeOfOptionalHeader += uint16(insertLen)
	pe.patchSizeOfOptionalHeader(pe.NtHeader.FileHeader.SizeOfOptionalHeader)

	pe.patchNumberOfRvaAndSizes(minDataDirectoryEntries)

	for i := range pe.Sections {
		pe.patchSectionHeaderAt(i, pe.Sections[i].Header)
	}
}

func alignUp(v, align uint32) uint32 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

func (pe *Image) resourceDataDirectory() (va, size uint32) {
	switch pe.Is64 {
	case true:
		dd := pe.NtHeader.OptionalHeader.(ImageOptionalHeader64).DataDirectory[ImageDirectoryEntryResource]
		return dd.VirtualAddress, dd.Size
	default:
		dd := pe.NtHeader.OptionalHeader.(ImageOptionalHeader32).DataDirectory[ImageDirectoryEntryResource]
		return dd.VirtualAddress, dd.Size
	}
}

// resourceSectionSharedByOtherDirectory reports whether any data directory
// other than the resource table itself points inside sec's virtual range.
// If so, the section must not be overwritten in place: doing so would
// destroy data another directory still references.
func (pe *Image) resourceSectionSharedByOtherDirectory(sec *Section, resourceVA uint32) bool {
	check := func(dd [16]DataDirectory) bool {
		for i, d := range dd {
			if ImageDirectoryEntry(i) == ImageDirectoryEntryResource {
				continue
			}
			if d.VirtualAddress == 0 {
				continue
			}
			if d.VirtualAddress >= sec.Header.VirtualAddress &&
				d.VirtualAddress < sec.Header.VirtualAddress+sec.Header.VirtualSize {
				return true
			}
		}
		return false
	}
	if pe.Is64 {
		return check(pe.NtHeader.OptionalHeader.(ImageOptionalHeader64).DataDirectory)
	}
	return check(pe.NtHeader.OptionalHeader.(ImageOptionalHeader32).DataDirectory)
}
