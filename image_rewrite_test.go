// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "testing"

func newRsrcLeafTable(payloadSize int) *ResourceTable {
	root := NewResourceTable()
	root.Entries.Set(ResourceID(1), &ResourceEntry{Data: &ResourceData{Data: make([]byte, payloadSize)}})
	return root
}

func TestSetResourceDirectoryExtendsLastSectionInPlace(t *testing.T) {
	const coffHeaderOffset = 0x04
	const directoriesOffset = 0x10
	const sectionAlignment = 0x1000
	const rsrcPointerToRawData = 0x400
	const rsrcSizeOfRawData = 0x200
	const imageLen = 0x600 // == lastSectionEnd

	img := &Image{
		CoffHeaderOffset:              coffHeaderOffset,
		DirectoriesOffset:             directoriesOffset,
		OptionalHeaderDirectoryOffset: 0,
		FileInfo:                      FileInfo{Is64: false},
		NtHeader: ImageNtHeader{
			FileHeader: ImageFileHeader{SizeOfOptionalHeader: directoriesOffset + 16*8},
			OptionalHeader: ImageOptionalHeader32{
				SectionAlignment:    sectionAlignment,
				NumberOfRvaAndSizes: 16,
				DataDirectory: [16]DataDirectory{
					ImageDirectoryEntryResource: {VirtualAddress: 0x2000, Size: 0x100},
				},
			},
		},
		Sections: []Section{{Header: ImageSectionHeader{
			VirtualAddress:   0x2000,
			VirtualSize:      sectionAlignment,
			PointerToRawData: rsrcPointerToRawData,
			SizeOfRawData:    rsrcSizeOfRawData,
		}}},
	}
	img.data = newMutableBuffer(make([]byte, imageLen))
	img.size = imageLen

	// A directory whose built size exceeds the existing section's raw size,
	// forcing the extend-in-place branch (the section is last, so append is
	// never attempted).
	dir := &ResourceDirectory{Root: newRsrcLeafTable(600)}
	newSize := dir.Root.Size()
	if newSize <= rsrcSizeOfRawData {
		t.Fatalf("test fixture must build a directory larger than %d bytes, got %d", rsrcSizeOfRawData, newSize)
	}

	prev, err := img.SetResourceDirectory(dir)
	if err != nil {
		t.Fatalf("SetResourceDirectory failed: %v", err)
	}
	if prev != nil {
		t.Fatal("expected no previous resource directory")
	}

	if len(img.Sections) != 1 {
		t.Fatalf("expected the resource section to be reused in place, got %d sections", len(img.Sections))
	}
	if img.Sections[0].Header.SizeOfRawData != newSize {
		t.Errorf("SizeOfRawData: got %d, want %d", img.Sections[0].Header.SizeOfRawData, newSize)
	}
	// The virtual size grows by the raw-size delta rounded up to the
	// section alignment: 0x1000 + alignUp(newSize-0x200, 0x1000).
	if got, want := img.Sections[0].Header.VirtualSize, uint32(2*sectionAlignment); got != want {
		t.Errorf("VirtualSize: got %#x, want %#x", got, want)
	}

	dd := img.DataDirectory(ImageDirectoryEntryResource)
	if dd.VirtualAddress != 0x2000 || dd.Size != newSize {
		t.Errorf("resource data directory: got %+v, want VA 0x2000 size %d", dd, newSize)
	}

	wantLen := imageLen + int(newSize-rsrcSizeOfRawData)
	if len(img.Bytes()) != wantLen {
		t.Errorf("image length: got %d, want %d", len(img.Bytes()), wantLen)
	}
}

func TestSetResourceDirectoryAppendsNewSectionWhenShared(t *testing.T) {
	const coffHeaderOffset = 0x04
	const directoriesOffset = 0x10
	const sectionAlignment = 0x1000
	const imageLen = 0x800 // == lastSectionEnd

	img := &Image{
		CoffHeaderOffset:              coffHeaderOffset,
		DirectoriesOffset:             directoriesOffset,
		OptionalHeaderDirectoryOffset: 0,
		FileInfo:                      FileInfo{Is64: false},
		NtHeader: ImageNtHeader{
			FileHeader: ImageFileHeader{NumberOfSections: 2, SizeOfOptionalHeader: directoriesOffset + 16*8},
			OptionalHeader: ImageOptionalHeader32{
				SectionAlignment:    sectionAlignment,
				NumberOfRvaAndSizes: 16,
				DataDirectory: [16]DataDirectory{
					ImageDirectoryEntryResource: {VirtualAddress: 0x2000, Size: 0x100},
					// Falls inside the resource section's virtual range, so
					// the section can't be overwritten in place.
					ImageDirectoryEntryImport: {VirtualAddress: 0x2050, Size: 0x10},
				},
			},
		},
		Sections: []Section{
			{Header: ImageSectionHeader{VirtualAddress: 0x2000, VirtualSize: sectionAlignment, PointerToRawData: 0x400, SizeOfRawData: 0x200}},
			{Header: ImageSectionHeader{VirtualAddress: 0x3000, VirtualSize: sectionAlignment, PointerToRawData: 0x600, SizeOfRawData: 0x200}},
		},
	}
	img.data = newMutableBuffer(make([]byte, imageLen))
	img.size = imageLen

	dir := &ResourceDirectory{Root: newRsrcLeafTable(64)}
	newSize := dir.Root.Size()

	_, err := img.SetResourceDirectory(dir)
	if err != nil {
		t.Fatalf("SetResourceDirectory failed: %v", err)
	}

	if len(img.Sections) != 3 {
		t.Fatalf("expected a new section to be appended, got %d sections", len(img.Sections))
	}
	last := img.Sections[2]
	if string(last.Header.Name[:len(newSectionName)]) != newSectionName {
		t.Errorf("new section name: got %q, want %q", last.Header.Name, newSectionName)
	}
	if last.Header.VirtualAddress != 0x4000 {
		t.Errorf("new section VA: got %#x, want 0x4000", last.Header.VirtualAddress)
	}
	if last.Header.PointerToRawData != imageLen {
		t.Errorf("new section PointerToRawData: got %#x, want %#x", last.Header.PointerToRawData, imageLen)
	}
	if img.NtHeader.FileHeader.NumberOfSections != 3 {
		t.Errorf("NumberOfSections: got %d, want 3", img.NtHeader.FileHeader.NumberOfSections)
	}

	dd := img.DataDirectory(ImageDirectoryEntryResource)
	if dd.VirtualAddress != 0x4000 || dd.Size != newSize {
		t.Errorf("resource data directory: got %+v, want VA 0x4000 size %d", dd, newSize)
	}

	wantLen := imageLen + int(newSize)
	if len(img.Bytes()) != wantLen {
		t.Errorf("image length: got %d, want %d", len(img.Bytes()), wantLen)
	}
}

// TestSetResourceDirectoryGrowsShortDataDirectoryArray covers a PE declaring
// fewer than 3 NumberOfRvaAndSizes (only the export slot present on disk):
// SetResourceDirectory must insert the missing entries ahead of the section
// table rather than write the resource entry into what would otherwise be
// section-header bytes.
func TestSetResourceDirectoryGrowsShortDataDirectoryArray(t *testing.T) {
	const coffHeaderOffset = 0x04
	const directoriesOffset = 0x10
	const numRVA = 1 // only the export directory is present on disk
	const sectionAlignment = 0x1000
	const pointerToRawData = 0x40
	const sizeOfRawData = 0x40
	const imageLen = pointerToRawData + sizeOfRawData

	img := &Image{
		CoffHeaderOffset:              coffHeaderOffset,
		DirectoriesOffset:             directoriesOffset,
		OptionalHeaderDirectoryOffset: 0,
		FileInfo:                      FileInfo{Is64: false},
		NtHeader: ImageNtHeader{
			FileHeader: ImageFileHeader{NumberOfSections: 1, SizeOfOptionalHeader: directoriesOffset + numRVA*8},
			OptionalHeader: ImageOptionalHeader32{
				SectionAlignment:    sectionAlignment,
				NumberOfRvaAndSizes: numRVA,
				DataDirectory: [16]DataDirectory{
					ImageDirectoryEntryResource: {VirtualAddress: 0x2000, Size: sizeOfRawData},
				},
			},
		},
		Sections: []Section{{Header: ImageSectionHeader{
			VirtualAddress:   0x2000,
			VirtualSize:      sectionAlignment,
			PointerToRawData: pointerToRawData,
			SizeOfRawData:    sizeOfRawData,
		}}},
	}
	img.data = newMutableBuffer(make([]byte, imageLen))
	img.size = imageLen

	dir := &ResourceDirectory{Root: newRsrcLeafTable(200)}
	newSize := dir.Root.Size()
	if newSize <= sizeOfRawData {
		t.Fatalf("test fixture must build a directory larger than %d bytes, got %d", sizeOfRawData, newSize)
	}

	if _, err := img.SetResourceDirectory(dir); err != nil {
		t.Fatalf("SetResourceDirectory failed: %v", err)
	}

	if got := img.numberOfRvaAndSizes(); got != minDataDirectoryEntries {
		t.Errorf("NumberOfRvaAndSizes: got %d, want %d", got, minDataDirectoryEntries)
	}
	wantSizeOfOptionalHeader := uint16(directoriesOffset + minDataDirectoryEntries*8)
	if img.NtHeader.FileHeader.SizeOfOptionalHeader != wantSizeOfOptionalHeader {
		t.Errorf("SizeOfOptionalHeader: got %d, want %d",
			img.NtHeader.FileHeader.SizeOfOptionalHeader, wantSizeOfOptionalHeader)
	}
	if len(img.Sections) != 1 {
		t.Fatalf("expected the resource section to be extended in place, got %d sections", len(img.Sections))
	}
	wantPointerToRawData := uint32(pointerToRawData + (minDataDirectoryEntries-numRVA)*8)
	if img.Sections[0].Header.PointerToRawData != wantPointerToRawData {
		t.Errorf("section PointerToRawData: got %#x, want %#x",
			img.Sections[0].Header.PointerToRawData, wantPointerToRawData)
	}

	dd := img.DataDirectory(ImageDirectoryEntryResource)
	if dd.VirtualAddress != 0x2000 || dd.Size != newSize {
		t.Errorf("resource data directory: got %+v, want VA 0x2000 size %d", dd, newSize)
	}

	wantLen := int(wantPointerToRawData) + int(newSize)
	if len(img.Bytes()) != wantLen {
		t.Errorf("image length: got %d, want %d", len(img.Bytes()), wantLen)
	}
}
