// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "testing"

func newTestImage32() *Image {
	return &Image{
		FileInfo: FileInfo{Is64: false},
		NtHeader: ImageNtHeader{
			OptionalHeader: ImageOptionalHeader32{
				Subsystem: ImageSubsystemWindowsGUI,
				DataDirectory: [16]DataDirectory{
					ImageDirectoryEntryResource: {VirtualAddress: 0x3000, Size: 0x200},
				},
			},
		},
		Sections: []Section{
			{Header: ImageSectionHeader{VirtualAddress: 0x1000, VirtualSize: 0x1000, PointerToRawData: 0x400}},
			{Header: ImageSectionHeader{VirtualAddress: 0x3000, VirtualSize: 0x1000, PointerToRawData: 0x1400}},
		},
	}
}

func TestSubsystemReadsTheRightOptionalHeader(t *testing.T) {
	img := newTestImage32()
	if got := img.Subsystem(); got != ImageSubsystemWindowsGUI {
		t.Fatalf("Subsystem: got %v, want WindowsGui", got)
	}
}

func TestSetSubsystemUpdatesInMemoryHeaderAndReturnsPrevious(t *testing.T) {
	img := newTestImage32()
	prev := img.SetSubsystem(ImageSubsystemWindowsCUI)
	if prev != ImageSubsystemWindowsGUI {
		t.Fatalf("SetSubsystem previous value: got %v, want WindowsGui", prev)
	}
	if got := img.Subsystem(); got != ImageSubsystemWindowsCUI {
		t.Fatalf("Subsystem after SetSubsystem: got %v, want WindowsCui", got)
	}
}

func TestDataDirectoryReturnsResourceEntry(t *testing.T) {
	img := newTestImage32()
	dd := img.DataDirectory(ImageDirectoryEntryResource)
	if dd.VirtualAddress != 0x3000 || dd.Size != 0x200 {
		t.Fatalf("DataDirectory(Resource): got %+v", dd)
	}
}

func TestSectionHeaderForDataDirectoryFindsContainingSection(t *testing.T) {
	img := newTestImage32()
	sec := img.SectionHeaderForDataDirectory(ImageDirectoryEntryResource)
	if sec == nil {
		t.Fatal("expected a section to contain the resource directory's VA")
	}
	if sec.Header.VirtualAddress != 0x3000 {
		t.Fatalf("expected the second section, got VA %#x", sec.Header.VirtualAddress)
	}
}

func TestSectionHeaderForDataDirectoryReturnsNilWhenEmpty(t *testing.T) {
	img := newTestImage32()
	if sec := img.SectionHeaderForDataDirectory(ImageDirectoryEntryImport); sec != nil {
		t.Fatalf("expected nil for an empty data directory, got %+v", sec)
	}
}

func TestSectionTableSortsByPointerToRawData(t *testing.T) {
	img := &Image{Sections: []Section{
		{Header: ImageSectionHeader{PointerToRawData: 0x1000}},
		{Header: ImageSectionHeader{PointerToRawData: 0x400}},
	}}
	sorted := img.SectionTable()
	if sorted[0].Header.PointerToRawData != 0x400 || sorted[1].Header.PointerToRawData != 0x1000 {
		t.Fatalf("SectionTable not sorted by PointerToRawData: %+v", sorted)
	}
	if img.Sections[0].Header.PointerToRawData != 0x1000 {
		t.Fatal("SectionTable should not mutate pe.Sections in place")
	}
}
