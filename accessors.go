// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"reflect"
	"sort"
)

// Subsystem returns the image's required subsystem (console, GUI, native
// driver, ...).
func (pe *Image) Subsystem() ImageOptionalHeaderSubsystemType {
	switch pe.Is64 {
	case true:
		return pe.NtHeader.OptionalHeader.(ImageOptionalHeader64).Subsystem
	default:
		return pe.NtHeader.OptionalHeader.(ImageOptionalHeader32).Subsystem
	}
}

// optionalHeaderFieldOffset returns the byte offset of the named field
// within the optional header struct, computed from the struct's own
// layout rather than hardcoded, so it tracks PE32 vs PE32+ automatically.
func optionalHeaderFieldOffset(is64 bool, field string) uint32 {
	if is64 {
		f, _ := reflect.TypeOf(ImageOptionalHeader64{}).FieldByName(field)
		return uint32(f.Offset)
	}
	f, _ := reflect.TypeOf(ImageOptionalHeader32{}).FieldByName(field)
	return uint32(f.Offset)
}

// subsystemFieldOffset returns the byte offset of the Subsystem field
// within the optional header struct.
func subsystemFieldOffset(is64 bool) uint32 {
	return optionalHeaderFieldOffset(is64, "Subsystem")
}

// fileHeaderFieldOffset returns the byte offset of the named field within
// the COFF file header struct.
func fileHeaderFieldOffset(field string) uint32 {
	f, _ := reflect.TypeOf(ImageFileHeader{}).FieldByName(field)
	return uint32(f.Offset)
}

// SetSubsystem overwrites the image's required subsystem, returning the
// previous value.
func (pe *Image) SetSubsystem(subsystem ImageOptionalHeaderSubsystemType) ImageOptionalHeaderSubsystemType {
	prev := pe.Subsystem()

	offset := pe.OptionalHeaderDirectoryOffset + subsystemFieldOffset(pe.Is64)
	if offset+2 <= uint32(len(pe.data)) {
		binary.LittleEndian.PutUint16(pe.data[offset:offset+2], uint16(subsystem))
	}

	switch pe.Is64 {
	case true:
		oh := pe.NtHeader.OptionalHeader.(ImageOptionalHeader64)
		oh.Subsystem = subsystem
		pe.NtHeader.OptionalHeader = oh
	default:
		oh := pe.NtHeader.OptionalHeader.(ImageOptionalHeader32)
		oh.Subsystem = subsystem
		pe.NtHeader.OptionalHeader = oh
	}

	return prev
}

// SectionTable returns the image's section headers, in on-disk order (not
// the VirtualAddress-sorted order ParseSectionHeader keeps them in for
// RVA lookups).
func (pe *Image) SectionTable() []Section {
	sections := append([]Section(nil), pe.Sections...)
	sort.Sort(byPointerToRawData(sections))
	return sections
}

// DataDirectory returns the requested data directory entry (VirtualAddress
// and Size) from the parsed 16-entry array, or the zero value when entry is
// outside that array. Entries are not checked against NumberOfRvaAndSizes.
func (pe *Image) DataDirectory(entry ImageDirectoryEntry) DataDirectory {
	switch pe.Is64 {
	case true:
		dd := pe.NtHeader.OptionalHeader.(ImageOptionalHeader64).DataDirectory
		if int(entry) < len(dd) {
			return dd[entry]
		}
	default:
		dd := pe.NtHeader.OptionalHeader.(ImageOptionalHeader32).DataDirectory
		if int(entry) < len(dd) {
			return dd[entry]
		}
	}
	return DataDirectory{}
}

// SectionHeaderForDataDirectory returns the section containing the given
// data directory's VirtualAddress, or nil if the directory is empty or
// does not fall within any known section.
func (pe *Image) SectionHeaderForDataDirectory(entry ImageDirectoryEntry) *Section {
	dd := pe.DataDirectory(entry)
	if dd.VirtualAddress == 0 {
		return nil
	}
	for i := range pe.Sections {
		s := &pe.Sections[i]
		if dd.VirtualAddress >= s.Header.VirtualAddress &&
			dd.VirtualAddress < s.Header.VirtualAddress+s.Header.VirtualSize {
			return s
		}
	}
	return nil
}
