// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"fmt"

	"github.com/saferwall/peedit/orderedmap"
)

// ResourceErrKind classifies a ResourceError.
type ResourceErrKind int

const (
	// ResourceErrNotFound is returned when a requested resource (by type,
	// name, or language) does not exist in the tree.
	ResourceErrNotFound ResourceErrKind = iota
	// ResourceErrInvalidTable is returned when a directory table is
	// malformed beyond what the tolerant parser can recover from (e.g. a
	// recursion depth beyond maxResourceDepth).
	ResourceErrInvalidTable
)

// ResourceError reports a resource-tree lookup or structural failure.
type ResourceError struct {
	Kind ResourceErrKind
	Msg  string
}

func (e ResourceError) Error() string {
	return fmt.Sprintf("resource: %s", e.Msg)
}

// ResourceType represents a resource type.
type ResourceType int

// ResourceLang represents a resource language.
type ResourceLang int

// ResourceSubLang represents a resource sub language.
type ResourceSubLang int

const (
	maxAllowedEntries = 0x1000
)

// Predefined Resource Types.
const (
	RTCursor       ResourceType = iota + 1      // Hardware-dependent cursor resource.
	RTBitmap                    = 2             // Bitmap resource.
	RTIcon                      = 3             // Hardware-dependent icon resource.
	RTMenu                      = 4             // Menu resource.
	RTDialog                    = 5             // Dialog box.
	RTString                    = 6             // String-table entry.
	RTFontDir                   = 7             // Font directory resource.
	RTFont                      = 8             // Font resource.
	RTAccelerator               = 9             // Accelerator table.
	RTRCdata                    = 10            // Application-defined resource (raw data).
	RTMessageTable              = 11            // Message-table entry.
	RTGroupCursor               = RTCursor + 11 // Hardware-independent cursor resource.
	RTGroupIcon                 = RTIcon + 11   // Hardware-independent icon resource.
	RTVersion                   = 16            // Version resource.
	RTDlgInclude                = 17            // Dialog include entry.
	RTPlugPlay                  = 19            // Plug and Play resource.
	RTVxD                       = 20            // VXD.
	RTAniCursor                 = 21            // Animated cursor.
	RTAniIcon                   = 22            // Animated icon.
	RTHtml                      = 23            // HTML resource.
	RTManifest                  = 24            // Side-by-Side Assembly Manifest.
)

// Predefined Resource Languages.
const (
	LangNeutral       ResourceLang = iota
	LangInvariant                  = 0x7f
	LangAfrikaans                  = 0x36
	LangAlbanian                   = 0x1c
	LangArabic                     = 0x01
	LangArmenian                   = 0x2b
	LangAssamese                   = 0x4d
	LangAzeri                      = 0x2c
	LangBasque                     = 0x2d
	LangBelarusian                 = 0x23
	LangBangla                     = 0x45
	LangBulgarian                  = 0x02
	LangCatalan                    = 0x03
	LangChinese                    = 0x04
	LangCroatian                   = 0x1a
	LangBosnian                    = 0x1a
	LangCzech                      = 0x05
	LangDanish                     = 0x06
	LangDivehi                     = 0x65
	LangDutch                      = 0x13
	LangEnglish                    = 0x09
	LangEstonian                   = 0x25
	LangFaeroese                   = 0x38
	LangFarsi                      = 0x29
	LangFinnish                    = 0x0b
	LangFrench                     = 0x0c
	LangGalician                   = 0x56
	LangGeorgian                   = 0x37
	LangGerman                     = 0x07
	LangGreek                      = 0x08
	LangGujarati                   = 0x47
	LangHebrew                     = 0x0d
	LangHindi                      = 0x39
	LangHungarian                  = 0x0e
	LangIcelandic                  = 0x0f
	LangIndonesian                 = 0x21
	LangItalian                    = 0x10
	LangJapanese                   = 0x11
	LangKannada                    = 0x4b
	LangKashmiri                   = 0x60
	LangKazak                      = 0x3f
	LangKonkani                    = 0x57
	LangKorean                     = 0x12
	LangKyrgyz                     = 0x40
	LangLatvian                    = 0x26
	LangLithuanian                 = 0x27
	LangMacedonian                 = 0x2f
	LangMalay                      = 0x3e
	LangMalayalam                  = 0x4c
	LangManipuri                   = 0x58
	LangMarathi                    = 0x4e
	LangMongolian                  = 0x50
	LangNepali                     = 0x61
	LangNorwegian                  = 0x14
	LangOriya                      = 0x48
	LangPolish                     = 0x15
	LangPortuguese                 = 0x16
	LangPunjabi                    = 0x46
	LangRomanian                   = 0x18
	LangRussian                    = 0x19
	LangSanskrit                   = 0x4f
	LangSerbian                    = 0x1a
	LangSindhi                     = 0x59
	LangSlovak                     = 0x1b
	LangSlovenian                  = 0x24
	LangSpanish                    = 0x0a
	LangSwahili                    = 0x41
	LangSwedish                    = 0x1d
	LangSyriac                     = 0x5a
	LangTamil                      = 0x49
	LangTatar                      = 0x44
	LangTelugu                     = 0x4a
	LangThai                       = 0x1e
	LangTurkish                    = 0x1f
	LangUkrainian                  = 0x22
	LangUrdu                       = 0x20
	LangUzbek                      = 0x43
	LangVietnamese                 = 0x2a
	LangGaelic                     = 0x3c
	LangMaltese                    = 0x3a
	LangMaori                      = 0x28
	LangRhaetoRomance              = 0x17
	LangSami                       = 0x3b
	LangSorbian                    = 0x2e
	LangSutu                       = 0x30
	LangTsonga                     = 0x31
	LangTswana                     = 0x32
	LangVenda                      = 0x33
	LangXhosa                      = 0x34
	LangZulu                       = 0x35
	LangEsperanto                  = 0x8f
	LangWalon                      = 0x90
	LangCornish                    = 0x91
	LangWelsh                      = 0x92
	LangBreton                     = 0x93
	LangInuktitut                  = 0x5d
	LangIrish                      = 0x3C
	LangLowerSorbian               = 0x2E
	LangPular                      = 0x67
	LangQuechua                    = 0x6B
	LangTamazight                  = 0x5F
	LangTigrinya                   = 0x73
	LangValencian                  = 0x03
)

// Predefined Resource Sub languages.
const (
	SubLangAfrikaansSouthAfrica ResourceSubLang = iota
	SubLangAlbanianAlbania
	SubLangAlsatianFrance
	SubLangAmharicEthiopia
	SubLangArabicAlgeria
	SubLangArabicBahrain
	SubLangArabicEgypt
	SubLangArabicIraq
	SubLangArabicJordan
	SubLangArabicKuwait
	SubLangArabicLebanon
	SubLangArabicLibya
	SubLangArabicMorocco
	SubLangArabicOman
	SubLangArabicQatar
	SubLangArabicSaudiArabia
	SubLangArabicSyria
	SubLangArabicTunisia
	SubLangArabicUae
	SubLangArabicYemen
	SubLangArmenianArmenia
	SubLangAssameseIndia
	SubLangAzeriCyrillic
	SubLangAzeriLatin
	SubLangBashkirRussia
	SubLangBasqueBasque
	SubLangBelarusianBelarus
	SubLangBanglaBangladesh
	SubLangBanglaIndia
	SubLangBosnianBosniaHerzegovinaCyrillic
	SubLangBosnianBosniaHerzegovinaLatin
	SubLangBretonFrance
	SubLangBulgarianBulgaria
	SubLangCatalanCatalan
	SubLangChineseHongkong
	SubLangChineseMacau
	SubLangChineseSimplified
	SubLangChineseSingapore
	SubLangChineseTraditional
	SubLangCorsicanFrance
	SubLangCroatianBosniaHerzegovinaLatin
	SubLangCroatianCroatia
	SubLangCustomDefault
	SubLangCustomUnspecified
	SubLangCzechCzechRepublic
	SubLangDanishDenmark
	SubLangDariAfghanistan
	SubLangDefault
	SubLangDivehiMaldives
	SubLangDutchBelgian
	SubLangDutch
	SubLangEnglishAus
	SubLangEnglishBelize
	SubLangEnglishCan
	SubLangEnglishCaribbean
	SubLangEnglishEire
	SubLangEnglishIndia
	SubLangEnglishJamaica
	SubLangEnglishMalaysia
	SubLangEnglishNz
	SubLangEnglishPhilippines
	SubLangEnglishSingapore
	SubLangEnglishSouthAfrica
	SubLangEnglishTrinidad
	SubLangEnglishUk
	SubLangEnglishUs
	SubLangEnglishZimbabwe
	SubLangEnglishIreland
	SubLangEstonianEstonia
	SubLangFaeroeseFaroeIslands
	SubLangFilipinoPhilippines
	SubLangFinnishFinland
	SubLangFrenchBelgian
	SubLangFrenchCanadian
	SubLangFrenchLuxembourg
	SubLangFrenchMonaco
	SubLangFrenchSwiss
	SubLangFrench
	SubLangFrisianNetherlands
	SubLangGalicianGalician
	SubLangGeorgianGeorgia
	SubLangGermanAustrian
	SubLangGermanLiechtenstein
	SubLangGermanLuxembourg
	SubLangGermanSwiss
	SubLangGerman
	SubLangGreekGreece
	SubLangGreenlandicGreenland
	SubLangGujaratiIndia
	SubLangHausaNigeriaLatin
	SubLangHebrewIsrael
	SubLangHindiIndia
	SubLangHungarianHungary
	SubLangIcelandicIceland
	SubLangIgboNigeria
	SubLangIndonesianIndonesia
	SubLangInuktitutCanadaLatin
	SubLangInuktitutCanada
	SubLangIrishIreland
	SubLangItalianSwiss
	SubLangItalian
	SubLangJapaneseJapan
	SubLangKannadaIndia
	SubLangKashmiriIndia
	SubLangKashmiriSasia
	SubLangKazakKazakhstan
	SubLangKhmerCambodia
	SubLangKicheGuatemala
	SubLangKinyarwandaRwanda
	SubLangKonkaniIndia
	SubLangKorean
	SubLangKyrgyzKyrgyzstan
	SubLangLaoLao
	SubLangLatvianLatvia
	SubLangLithuanianClassic
	SubLangLithuanian
	SubLangLowerSorbianGermany
	SubLangLuxembourgishLuxembourg
	SubLangMacedonianMacedonia
	SubLangMalayBruneiDarussalam
	SubLangMalayMalaysia
	SubLangMalayalamIndia
	SubLangMalteseMalta
	SubLangMaoriNewZealand
	SubLangMapudungunChile
	SubLangMarathiIndia
	SubLangMohawkMohawk
	SubLangMongolianCyrillicMongolia
	SubLangMongolianPrc
	SubLangNepaliIndia
	SubLangNepaliNepal
	SubLangNeutral
	SubLangNorwegianBokmal
	SubLangNorwegianNynorsk
	SubLangOccitanFrance
	SubLangOriyaIndia
	SubLangPashtoAfghanistan
	SubLangPersianIran
	SubLangPolishPoland
	SubLangPortugueseBrazilian
	SubLangPortuguese
	SubLangPunjabiIndia
	SubLangQuechuaBolivia
	SubLangQuechuaEcuador
	SubLangQuechuaPeru
	SubLangRomanianRomania
	SubLangRomanshSwitzerland
	SubLangRussianRussia
	SubLangSamiInariFinland
	SubLangSamiLuleNorway
	SubLangSamiLuleSweden
	SubLangSamiNorthernFinland
	SubLangSamiNorthernNorway
	SubLangSamiNorthernSweden
	SubLangSamiSkoltFinland
	SubLangSamiSouthernNorway
	SubLangSamiSouthernSweden
	SubLangSanskritIndia
	SubLangSerbianBosniaHerzegovinaCyrillic
	SubLangSerbianBosniaHerzegovinaLatin
	SubLangSerbianCroatia
	SubLangSerbianCyrillic
	SubLangSerbianLatin
	SubLangSindhiAfghanistan
	SubLangSindhiIndia
	SubLangSindhiPakistan
	SubLangSinhaleseSriLanka
	SubLangSlovakSlovakia
	SubLangSlovenianSlovenia
	SubLangSothoNorthernSouthAfrica
	SubLangSpanishArgentina
	SubLangSpanishBolivia
	SubLangSpanishChile
	SubLangSpanishColombia
	SubLangSpanishCostaRica
	SubLangSpanishDominicanRepublic
	SubLangSpanishEcuador
	SubLangSpanishElSalvador
	SubLangSpanishGuatemala
	SubLangSpanishHonduras
	SubLangSpanishMexican
	SubLangSpanishModern
	SubLangSpanishNicaragua
	SubLangSpanishPanama
	SubLangSpanishParaguay
	SubLangSpanishPeru
	SubLangSpanishPuertoRico
	SubLangSpanishUruguay
	SubLangSpanishUs
	SubLangSpanishVenezuela
	SubLangSpanish
	SubLangSwahiliKenya
	SubLangSwedishFinland
	SubLangSwedish
	SubLangSyriacSyria
	SubLangSysDefault
	SubLangTajikTajikistan
	SubLangTamazightAlgeriaLatin
	SubLangTamilIndia
	SubLangTatarRussia
	SubLangTeluguIndia
	SubLangThaiThailand
	SubLangTibetanPrc
	SubLangTigrignaEritrea
	SubLangTswanaSouthAfrica
	SubLangTurkishTurkey
	SubLangTurkmenTurkmenistan
	SubLangUiCustomDefault
	SubLangUighurPrc
	SubLangUkrainianUkraine
	SubLangUpperSorbianGermany
	SubLangUrduIndia
	SubLangUrduPakistan
	SubLangUzbekCyrillic
	SubLangUzbekLatin
	SubLangVietnameseVietnam
	SubLangWelshUnitedKingdom
	SubLangWolofSenegal
	SubLangXhosaSouthAfrica
	SubLangYakutRussia
	SubLangYiPrc
	SubLangYorubaNigeria
	SubLangZuluSouthAfrica
	SubLangPularSenegal
	SubLangPunjabiPakistan
	SubLangTswanaBotswana
	SubLangTamilSriLanka
	SubLangTigrinyaEthiopia
	SubLangTigrinyaEritrea
	SubLangValencianValencia
)

// ImageResourceDirectory represents the IMAGE_RESOURCE_DIRECTORY.
// This data structure should be considered the heading of a table because the
// table actually consists of directory entries.
type ImageResourceDirectory struct {
	// Resource flags. This field is reserved for future use. It is currently
	// set to zero.
	Characteristics uint32 `json:"characteristics"`

	// The time that the resource data was created by the resource compiler.
	TimeDateStamp uint32 `json:"time_date_stamp"`

	// The major version number, set by the user.
	MajorVersion uint16 `json:"major_version"`

	// The minor version number, set by the user.
	MinorVersion uint16 `json:"minor_version"`

	// The number of directory entries immediately following the table that use
	// strings to identify Type, Name, or Language entries (depending on the
	// level of the table).
	NumberOfNamedEntries uint16 `json:"number_of_named_entries"`

	// The number of directory entries immediately following the Name entries
	// that use numeric IDs for Type, Name, or Language entries.
	NumberOfIDEntries uint16 `json:"number_of_id_entries"`
}

// ImageResourceDirectoryEntry represents an entry in the resource directory
// entries.
type ImageResourceDirectoryEntry struct {
	// Name is used to identify either a type of resource, a resource name, or a
	// resource's language ID.
	Name uint32 `json:"name"`

	// OffsetToData is always used to point to a sibling in the tree, either a
	// directory node or a leaf node.
	OffsetToData uint32 `json:"offset_to_data"`
}

// ImageResourceDataEntry Each Resource Data entry describes an actual unit of
// raw data in the Resource Data area.
type ImageResourceDataEntry struct {
	// The address of a unit of resource data in the Resource Data area.
	OffsetToData uint32 `json:"offset_to_data"`

	// The size, in bytes, of the resource data that is pointed to by the Data
	// RVA field.
	Size uint32 `json:"size"`

	// The code page that is used to decode code point values within the
	// resource data. Typically, the code page would be the Unicode code page.
	CodePage uint32 `json:"code_page"`

	// Reserved, must be 0.
	Reserved uint32 `json:"reserved"`
}

// maxResourceDepth bounds recursive descent into the resource tree so a
// hostile or corrupt directory cannot exhaust the stack.
const maxResourceDepth = 32

// ResourceEntryName is the key of a resource directory entry: either a
// numeric id or a name, stored as its on-disk UTF-16LE bytes (no NUL). The
// bytes are kept in a Go string so the type remains comparable and usable as
// a map key; use String()/ResourceNameFromString for text conversion.
type ResourceEntryName struct {
	IsName  bool
	ID      uint32
	Name16  string // raw UTF-16LE bytes, no NUL, only meaningful when IsName
}

// ResourceID builds an id-keyed entry name.
func ResourceID(id uint32) ResourceEntryName {
	return ResourceEntryName{ID: id}
}

// ResourceNameFromString builds a name-keyed entry name from a Go string.
func ResourceNameFromString(s string) ResourceEntryName {
	b := make([]byte, 0, len(s)*2)
	for _, r := range s {
		if r > 0xFFFF {
			r = '?'
		}
		b = append(b, byte(r), byte(r>>8))
	}
	return ResourceEntryName{IsName: true, Name16: string(b)}
}

// String decodes a name-keyed entry name back to a Go string. Returns the
// empty string for id-keyed entries.
func (n ResourceEntryName) String() string {
	if !n.IsName {
		return ""
	}
	s, err := DecodeUTF16String(append([]byte(n.Name16), 0, 0))
	if err != nil {
		return ""
	}
	return s
}

// ResourceData is a resource leaf: raw payload bytes plus the codepage and
// reserved fields carried by IMAGE_RESOURCE_DATA_ENTRY.
type ResourceData struct {
	Data     []byte
	CodePage uint32
	Reserved uint32
}

// ResourceEntry is either a subtable or a leaf. Exactly one of Table/Data is
// non-nil.
type ResourceEntry struct {
	Table *ResourceTable
	Data  *ResourceData
}

// IsDir reports whether the entry points to a subtable rather than a leaf.
func (e *ResourceEntry) IsDir() bool {
	return e.Table != nil
}

// ResourceTable is one level of the resource directory tree: a header
// (characteristics, timestamp, version) plus an insertion-ordered mapping
// from entry name to entry. All name-keyed entries must precede all
// id-keyed entries when the table is built back to bytes (see Build in
// resource_build.go); insertion order is otherwise preserved.
type ResourceTable struct {
	Characteristics uint32
	TimeDateStamp   uint32
	MajorVersion    uint16
	MinorVersion    uint16
	Entries         *orderedmap.Map[ResourceEntryName, *ResourceEntry]
}

// NewResourceTable returns an empty resource table ready for insertion.
func NewResourceTable() *ResourceTable {
	return &ResourceTable{Entries: orderedmap.New[ResourceEntryName, *ResourceEntry]()}
}

// NumberOfNameEntries returns the number of name-keyed entries.
func (t *ResourceTable) NumberOfNameEntries() uint16 {
	var n uint16
	for _, k := range t.Entries.Keys() {
		if k.IsName {
			n++
		}
	}
	return n
}

// NumberOfIDEntries returns the number of id-keyed entries.
func (t *ResourceTable) NumberOfIDEntries() uint16 {
	return uint16(t.Entries.Len()) - t.NumberOfNameEntries()
}

// ResourceDirectory is the parsed `.rsrc` tree: the RVA it was parsed at
// (and to which its internal addresses resolve) plus the root table.
type ResourceDirectory struct {
	VirtualAddress uint32
	Root           *ResourceTable
}

// packedAddressMask/packedAddressPattern implement the top-40-bit packed-RVA
// tolerance: some packers (notably UPX) leave resource data RVAs referring
// to out-of-section addresses that underflow to a value with every one of
// the top 40 bits set. When seen, those bits are cleared and parsing
// continues rather than aborting.
const (
	packedAddressMask    = uint64(0xFFFFFFFFFF000000)
	packedAddressPattern = uint64(0xFFFFFFFFFF000000)
)

func (pe *Image) parseResourceDataEntry(rva uint32) (ImageResourceDataEntry, error) {
	dataEntry := ImageResourceDataEntry{}
	dataEntrySize := uint32(binary.Size(dataEntry))
	offset := pe.GetOffsetFromRva(rva)
	err := pe.structUnpack(&dataEntry, offset, dataEntrySize)
	if err != nil {
		pe.logger.Warnf("error parsing a resource directory data entry, the RVA is invalid")
		return dataEntry, err
	}
	return dataEntry, nil
}

func (pe *Image) parseResourceDirectoryEntry(rva uint32) *ImageResourceDirectoryEntry {
	resource := ImageResourceDirectoryEntry{}
	resourceSize := uint32(binary.Size(resource))
	offset := pe.GetOffsetFromRva(rva)
	err := pe.structUnpack(&resource, offset, resourceSize)
	if err != nil {
		return nil
	}

	if resource == (ImageResourceDirectoryEntry{}) {
		return nil
	}

	return &resource
}

// resolveLeafData computes the in-file address of a leaf's payload, applying
// the packed-RVA tolerance described above. ok is false when the leaf should
// be skipped (malformed, non-fatal).
func (pe *Image) resolveLeafData(entry ImageResourceDataEntry, baseRVA uint32) (data []byte, ok bool) {
	localAddr := int64(entry.OffsetToData) - int64(baseRVA)
	if localAddr < 0 {
		masked := uint64(localAddr)
		if masked&packedAddressMask == packedAddressPattern {
			localAddr = int64(masked &^ packedAddressMask)
		}
	}
	if localAddr < 0 {
		pe.logger.Warnf("resource leaf has an out-of-range data RVA, skipping")
		return nil, false
	}

	sectionFileBase := pe.GetOffsetFromRva(baseRVA)
	fileOffset := uint64(sectionFileBase) + uint64(localAddr)
	end := fileOffset + uint64(entry.Size)
	if end > uint64(len(pe.data)) {
		pe.logger.Warnf("resource leaf data extends past the end of the image, skipping")
		return nil, false
	}

	return pe.data[fileOffset:end], true
}

// Navigating the resource directory hierarchy is like navigating a hard disk.
// There's a master directory (the root directory), which has subdirectories.
// The subdirectories have subdirectories of their own that may point to the
// raw resource data for things like dialog templates.
func (pe *Image) doParseResourceDirectory(rva, size, baseRVA, depth uint32,
	dirs []uint32) (*ResourceTable, error) {

	if depth > maxResourceDepth {
		return nil, ResourceError{Kind: ResourceErrInvalidTable, Msg: "resource tree exceeds maximum depth"}
	}

	resourceDir := ImageResourceDirectory{}
	resourceDirSize := uint32(binary.Size(resourceDir))
	offset := pe.GetOffsetFromRva(rva)
	err := pe.structUnpack(&resourceDir, offset, resourceDirSize)
	if err != nil {
		return nil, err
	}

	if baseRVA == 0 {
		baseRVA = rva
	}

	if len(dirs) == 0 {
		dirs = append(dirs, rva)
	}

	// Advance the RVA to the position immediately following the directory
	// table header and pointing to the first entry in the table.
	rva += resourceDirSize

	numberOfEntries := int(resourceDir.NumberOfNamedEntries +
		resourceDir.NumberOfIDEntries)

	table := &ResourceTable{
		Characteristics: resourceDir.Characteristics,
		TimeDateStamp:   resourceDir.TimeDateStamp,
		MajorVersion:    resourceDir.MajorVersion,
		MinorVersion:    resourceDir.MinorVersion,
		Entries:         orderedmap.New[ResourceEntryName, *ResourceEntry](),
	}

	// Set a hard limit on the maximum reasonable number of entries.
	if numberOfEntries > maxAllowedEntries {
		pe.logger.Warnf("resource directory contains %d entries, exceeding the sanity limit", numberOfEntries)
		return table, nil
	}

	for i := 0; i < numberOfEntries; i++ {
		res := pe.parseResourceDirectoryEntry(rva)
		if res == nil {
			pe.logger.Warnf("error parsing a resource directory entry, the RVA is invalid")
			break
		}

		nameIsString := (res.Name & 0x80000000) >> 31
		var key ResourceEntryName
		if nameIsString == 0 {
			key = ResourceID(res.Name)
		} else {
			nameOffset := res.Name & 0x7FFFFFFF
			uStringOffset := pe.GetOffsetFromRva(baseRVA + nameOffset)
			maxLen, err := pe.ReadUint16(uStringOffset)
			if err != nil {
				break
			}
			raw, err := pe.ReadBytesAtOffset(uStringOffset+2, uint32(maxLen)*2)
			if err != nil {
				break
			}
			key = ResourceEntryName{IsName: true, Name16: string(raw)}
		}

		// A directory entry points to either another resource directory or to
		// the data for an individual resource. When the directory entry points
		// to another resource directory, the high bit of the second DWORD in
		// the structure is set and the remaining 31 bits are an offset to the
		// resource directory.
		dataIsDirectory := (res.OffsetToData & 0x80000000) >> 31

		// The offset is relative to the beginning of the resource section,
		// not an RVA.
		OffsetToDirectory := res.OffsetToData & 0x7FFFFFFF
		if dataIsDirectory > 0 {
			// One trick malware can do is to recursively reference
			// the next directory. This causes hilarity to ensue when
			// trying to parse everything correctly.
			// If the original RVA given to this function is equal to
			// the next one to parse, we assume that it's a trick.
			// Instead of raising a PEFormatError this would skip some
			// reasonable data so we just break.
			// 9ee4d0a0caf095314fd7041a3e4404dc is the offending sample.
			if intInSlice(baseRVA+OffsetToDirectory, dirs) {
				break
			}

			dirs = append(dirs, baseRVA+OffsetToDirectory)
			subtable, _ := pe.doParseResourceDirectory(
				baseRVA+OffsetToDirectory,
				size-(rva-baseRVA),
				baseRVA,
				depth+1,
				dirs)
			if subtable != nil {
				table.Entries.Set(key, &ResourceEntry{Table: subtable})
			}
		} else {
			dataEntryStruct, err := pe.parseResourceDataEntry(baseRVA + OffsetToDirectory)
			if err != nil {
				break
			}
			payload, ok := pe.resolveLeafData(dataEntryStruct, baseRVA)
			if !ok {
				rva += uint32(binary.Size(res))
				continue
			}
			table.Entries.Set(key, &ResourceEntry{Data: &ResourceData{
				Data:     append([]byte(nil), payload...),
				CodePage: dataEntryStruct.CodePage,
				Reserved: dataEntryStruct.Reserved,
			}})
		}

		rva += uint32(binary.Size(res))
	}

	return table, nil
}

// The resource directory contains resources like dialog templates, icons,
// and bitmaps. The resources are found in a section called .rsrc section.
func (pe *Image) parseResourceDirectory(rva, size uint32) error {
	var dirs []uint32
	root, err := pe.doParseResourceDirectory(rva, size, 0, 0, dirs)
	if err != nil {
		return err
	}

	pe.Resources = &ResourceDirectory{VirtualAddress: rva, Root: root}
	pe.HasResource = true
	return nil
}

// String stringify the resource type.
func (rt ResourceType) String() string {

	rsrcTypeMap := map[ResourceType]string{
		RTCursor:       "Cursor",
		RTBitmap:       "Bitmap",
		RTIcon:         "Icon",
		RTMenu:         "Menu",
		RTDialog:       "Dialog box",
		RTString:       "String",
		RTFontDir:      "Font directory",
		RTFont:         "Font",
		RTAccelerator:  "Accelerator",
		RTRCdata:       "RC Data",
		RTMessageTable: "Message Table",
		RTGroupCursor:  "Group Cursor",
		RTGroupIcon:    "Group Icon",
		RTVersion:      "Version",
		RTDlgInclude:   "Dialog Include",
		RTPlugPlay:     "Plug & Play",
		RTVxD:          "VxD",
		RTAniCursor:    "Animated Cursor",
		RTAniIcon:      "Animated Icon",
		RTHtml:         "HTML",
		RTManifest:     "Manifest",
	}

	if val, ok := rsrcTypeMap[rt]; ok {
		return val
	}
	return "?"
}
