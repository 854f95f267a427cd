// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/xml"
	"fmt"
)

const (
	// manifestNameID is the conventional name-level id under RT_MANIFEST
	// for the application's primary manifest (CREATEPROCESS_MANIFEST_RESOURCE_ID).
	manifestNameID = 1

	manifestLangEnUS = 1033 // LANG_EN_US

	manifestCodePage = 0
)

// Dependency is one <dependentAssembly> entry of a Manifest.
type Dependency struct {
	Name      string `xml:"name,attr"`
	Version   string `xml:"version,attr"`
	PublicKey string `xml:"publicKeyToken,attr,omitempty"`
	Language  string `xml:"language,attr,omitempty"`
}

// Manifest is a structured helper for building a minimal Win32 side-by-side
// assembly manifest, for callers that would rather not hand-author XML.
// SetManifest also accepts the raw XML bytes directly.
type Manifest struct {
	AssemblyName            string
	AssemblyVersion         string
	RequestedExecutionLevel string // e.g. "asInvoker", "requireAdministrator"
	UIAccess                bool
	Dependencies            []Dependency
}

type manifestAssemblyIdentity struct {
	XMLName xml.Name `xml:"assemblyIdentity"`
	Name    string   `xml:"name,attr"`
	Version string   `xml:"version,attr"`
	Type    string   `xml:"type,attr"`
}

type manifestRequestedExecutionLevel struct {
	Level    string `xml:"level,attr"`
	UIAccess string `xml:"uiAccess,attr"`
}

type manifestRequestedPrivileges struct {
	RequestedExecutionLevel manifestRequestedExecutionLevel `xml:"requestedExecutionLevel"`
}

type manifestSecurity struct {
	RequestedPrivileges manifestRequestedPrivileges `xml:"requestedPrivileges"`
}

type manifestTrustInfo struct {
	XMLName  xml.Name         `xml:"trustInfo"`
	Xmlns    string           `xml:"xmlns,attr"`
	Security manifestSecurity `xml:"security"`
}

type manifestDependentAssembly struct {
	AssemblyIdentity manifestAssemblyIdentity `xml:"assemblyIdentity"`
}

type manifestDependency struct {
	DependentAssembly manifestDependentAssembly `xml:"dependentAssembly"`
}

type manifestDocument struct {
	XMLName          xml.Name                 `xml:"assembly"`
	ManifestVersion  string                   `xml:"manifestVersion,attr"`
	Xmlns            string                   `xml:"xmlns,attr"`
	AssemblyIdentity manifestAssemblyIdentity `xml:"assemblyIdentity"`
	TrustInfo        manifestTrustInfo        `xml:"trustInfo"`
	Dependencies     []manifestDependency     `xml:"dependency"`
}

// Render serializes m into the canonical manifest XML document, with the
// standard `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`
// declaration.
func (m Manifest) Render() ([]byte, error) {
	uiAccess := "false"
	if m.UIAccess {
		uiAccess = "true"
	}
	level := m.RequestedExecutionLevel
	if level == "" {
		level = "asInvoker"
	}

	doc := manifestDocument{
		ManifestVersion: "1.0",
		Xmlns:           "urn:schemas-microsoft-com:asm.v1",
		AssemblyIdentity: manifestAssemblyIdentity{
			Name:    m.AssemblyName,
			Version: m.AssemblyVersion,
			Type:    "win32",
		},
		TrustInfo: manifestTrustInfo{
			Xmlns: "urn:schemas-microsoft-com:asm.v3",
			Security: manifestSecurity{
				RequestedPrivileges: manifestRequestedPrivileges{
					RequestedExecutionLevel: manifestRequestedExecutionLevel{
						Level:    level,
						UIAccess: uiAccess,
					},
				},
			},
		},
	}
	for _, d := range m.Dependencies {
		doc.Dependencies = append(doc.Dependencies, manifestDependency{
			DependentAssembly: manifestDependentAssembly{
				AssemblyIdentity: manifestAssemblyIdentity{
					Name:    d.Name,
					Version: d.Version,
					Type:    "win32",
				},
			},
		})
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	out := append([]byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`+"\n"), body...)
	return out, nil
}

// GetManifest returns the raw bytes of the image's RT_MANIFEST resource,
// if present.
func (pe *Image) GetManifest() ([]byte, error) {
	if pe.Resources == nil || pe.Resources.Root == nil {
		return nil, ResourceError{Kind: ResourceErrNotFound, Msg: "image has no resource directory"}
	}
	leaf, ok := findResourceLeaf(pe.Resources.Root, uint32(RTManifest))
	if !ok {
		return nil, ResourceError{Kind: ResourceErrNotFound, Msg: "no RT_MANIFEST resource present"}
	}
	return leaf.Data, nil
}

// SetManifest installs raw XML bytes as the image's RT_MANIFEST resource,
// at the conventional `root -> Id(RT_MANIFEST) -> Id(1) -> Id(LANG_EN_US)`
// path. The image's backing buffer is not rewritten here; call
// SetResourceDirectory to apply the mutated tree.
func (pe *Image) SetManifest(xmlBytes []byte) error {
	if pe.Resources == nil || pe.Resources.Root == nil {
		pe.Resources = &ResourceDirectory{Root: NewResourceTable()}
	}
	root := pe.Resources.Root

	typeEntry, ok := root.Entries.Get(ResourceID(uint32(RTManifest)))
	if !ok || typeEntry.Table == nil {
		typeEntry = &ResourceEntry{Table: NewResourceTable()}
		root.Entries.Set(ResourceID(uint32(RTManifest)), typeEntry)
	}

	nameEntry, ok := typeEntry.Table.Entries.Get(ResourceID(manifestNameID))
	if !ok || nameEntry.Table == nil {
		nameEntry = &ResourceEntry{Table: NewResourceTable()}
		typeEntry.Table.Entries.Set(ResourceID(manifestNameID), nameEntry)
	}

	nameEntry.Table.Entries.Set(ResourceID(uint32(manifestLangEnUS)), &ResourceEntry{
		Data: &ResourceData{Data: xmlBytes, CodePage: manifestCodePage},
	})
	return nil
}

// SetManifestStruct renders m and installs it via SetManifest.
func (pe *Image) SetManifestStruct(m Manifest) error {
	body, err := m.Render()
	if err != nil {
		return fmt.Errorf("render manifest: %w", err)
	}
	return pe.SetManifest(body)
}

// RemoveManifest deletes the RT_MANIFEST resource, if present.
func (pe *Image) RemoveManifest() bool {
	if pe.Resources == nil || pe.Resources.Root == nil {
		return false
	}
	return pe.Resources.Root.Entries.Delete(ResourceID(uint32(RTManifest)))
}
