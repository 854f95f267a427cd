// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"go.uber.org/zap"
)

// Image represents an open PE image, either memory-mapped from a file on
// disk or backed by an in-memory buffer. Parsing fills in the header
// structs and, unless Options.Fast is set, the resource directory; the
// non-resource data directories are only checked for presence (see
// ParseDataDirectories).
type Image struct {
	DOSHeader  ImageDOSHeader    `json:"dos_header,omitempty"`
	NtHeader   ImageNtHeader     `json:"nt_header,omitempty"`
	Sections   []Section         `json:"sections,omitempty"`
	Resources  *ResourceDirectory `json:"resources,omitempty"`
	Anomalies  []string          `json:"anomalies,omitempty"`
	Header     []byte

	// CoffHeaderOffset, OptionalHeaderDirectoryOffset and DirectoriesOffset
	// are the file offsets of the COFF header, the start of the optional
	// header, and the start of the optional header's data directory array.
	// Retained so the rewriter can relocate the resource directory entry
	// in place without re-deriving these from the header structs.
	CoffHeaderOffset              uint32
	OptionalHeaderDirectoryOffset uint32
	DirectoriesOffset             uint32

	data          mmap.MMap
	owned         bool
	FileInfo
	size          uint32
	OverlayOffset int64
	f             *os.File
	opts          *Options
	logger        *zap.SugaredLogger
}

// Options configures how an Image is parsed.
type Options struct {
	// Fast parses only the PE header and skips data directories, by
	// default false.
	Fast bool

	// SectionEntropy includes a Shannon entropy computation per section,
	// by default false.
	SectionEntropy bool

	// Logger overrides the default stderr zap logger.
	Logger *zap.SugaredLogger
}

// New instantiates an Image from a file on disk, memory-mapped read-only.
func New(name string, opts *Options) (*Image, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	img := Image{}
	if opts != nil {
		img.opts = opts
	} else {
		img.opts = &Options{}
	}

	if img.opts.Logger != nil {
		img.logger = img.opts.Logger
	} else {
		img.logger = newDefaultLogger()
	}

	img.data = data
	img.size = uint32(len(img.data))
	img.f = f
	return &img, nil
}

// NewBytes instantiates an Image from an in-memory buffer. The buffer is
// used in place, not copied; callers that need copy-on-write semantics
// should pass their own copy.
func NewBytes(data []byte, opts *Options) (*Image, error) {
	img := Image{}
	if opts != nil {
		img.opts = opts
	} else {
		img.opts = &Options{}
	}

	if img.opts.Logger != nil {
		img.logger = img.opts.Logger
	} else {
		img.logger = newDefaultLogger()
	}

	img.data = data
	img.owned = true
	img.size = uint32(len(img.data))
	return &img, nil
}

// Close releases the underlying mapping, if any, and closes the file
// handle New opened. A no-op for images built with NewBytes.
func (pe *Image) Close() error {
	if !pe.owned && pe.data != nil {
		_ = pe.data.Unmap()
	}

	if pe.f != nil {
		return pe.f.Close()
	}
	return nil
}

// Bytes returns the current backing buffer, reflecting any rewrite
// performed by SetResourceDirectory.
func (pe *Image) Bytes() []byte {
	return pe.data
}

// Parse performs the header and data-directory parsing for a PE image.
func (pe *Image) Parse() error {
	if len(pe.data) < TinyPESize {
		return ErrInvalidPESize
	}

	if err := pe.ParseDOSHeader(); err != nil {
		return err
	}

	if err := pe.ParseNTHeader(); err != nil {
		return err
	}

	if err := pe.ParseSectionHeader(); err != nil {
		return err
	}

	pe.detectOverlay()

	if pe.opts.Fast {
		return nil
	}

	return pe.ParseDataDirectories()
}

// detectOverlay records whether trailing data follows the last section's
// raw data, and its file offset, without parsing its contents.
func (pe *Image) detectOverlay() {
	var end uint32
	for _, sec := range pe.Sections {
		secEnd := sec.Header.PointerToRawData + sec.Header.SizeOfRawData
		if secEnd > end {
			end = secEnd
		}
	}
	if uint32(len(pe.data)) > end {
		pe.HasOverlay = true
		pe.OverlayOffset = int64(end)
	}
}

// String stringifies the data directory entry.
func (entry ImageDirectoryEntry) String() string {
	dataDirMap := map[ImageDirectoryEntry]string{
		ImageDirectoryEntryExport:       "Export",
		ImageDirectoryEntryImport:       "Import",
		ImageDirectoryEntryResource:     "Resource",
		ImageDirectoryEntryException:    "Exception",
		ImageDirectoryEntryCertificate:  "Security",
		ImageDirectoryEntryBaseReloc:    "Relocation",
		ImageDirectoryEntryDebug:        "Debug",
		ImageDirectoryEntryArchitecture: "Architecture",
		ImageDirectoryEntryGlobalPtr:    "GlobalPtr",
		ImageDirectoryEntryTLS:          "TLS",
		ImageDirectoryEntryLoadConfig:   "LoadConfig",
		ImageDirectoryEntryBoundImport:  "BoundImport",
		ImageDirectoryEntryIAT:          "IAT",
		ImageDirectoryEntryDelayImport:  "DelayImport",
		ImageDirectoryEntryCLR:          "CLR",
		ImageDirectoryEntryReserved:     "Reserved",
	}

	return dataDirMap[entry]
}

// ParseDataDirectories parses the data directories. The DataDirectory is an
// array of 16 structures, each with a predefined meaning. Only the resource
// directory is parsed in depth; every other kind's presence and location is
// already captured by the DataDirectory array itself, which Optional Header
// parsing has already filled in.
func (pe *Image) ParseDataDirectories() error {
	oh32 := ImageOptionalHeader32{}
	oh64 := ImageOptionalHeader64{}

	switch pe.Is64 {
	case true:
		oh64 = pe.NtHeader.OptionalHeader.(ImageOptionalHeader64)
	case false:
		oh32 = pe.NtHeader.OptionalHeader.(ImageOptionalHeader32)
	}

	var va, size uint32
	switch pe.Is64 {
	case true:
		dirEntry := oh64.DataDirectory[ImageDirectoryEntryResource]
		va = dirEntry.VirtualAddress
		size = dirEntry.Size
	case false:
		dirEntry := oh32.DataDirectory[ImageDirectoryEntryResource]
		va = dirEntry.VirtualAddress
		size = dirEntry.Size
	}

	if va == 0 {
		return nil
	}

	if err := pe.parseResourceDirectory(va, size); err != nil {
		pe.logger.Warnf("failed to parse resource directory, reason: %v", err)
	}
	return nil
}
