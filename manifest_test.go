// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"strings"
	"testing"
)

func TestManifestRenderProducesCanonicalHeaderAndFields(t *testing.T) {
	m := Manifest{
		AssemblyName:    "Acme.Widget",
		AssemblyVersion: "1.0.0.0",
		Dependencies: []Dependency{
			{Name: "Microsoft.Windows.Common-Controls", Version: "6.0.0.0"},
		},
	}

	out, err := m.Render()
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	body := string(out)

	if !strings.HasPrefix(body, `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`) {
		n := len(body)
		if n > 60 {
			n = 60
		}
		t.Errorf("expected canonical XML header, got prefix %q", body[:n])
	}
	if !strings.Contains(body, `name="Acme.Widget"`) {
		t.Error("expected assembly name in rendered manifest")
	}
	if !strings.Contains(body, `level="asInvoker"`) {
		t.Error("expected default asInvoker execution level")
	}
	if !strings.Contains(body, `name="Microsoft.Windows.Common-Controls"`) {
		t.Error("expected dependency entry in rendered manifest")
	}
}

func TestSetAndGetManifestRoundTrips(t *testing.T) {
	img := &Image{}
	xmlBody := []byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?><assembly/>`)

	if err := img.SetManifest(xmlBody); err != nil {
		t.Fatalf("SetManifest failed: %v", err)
	}

	got, err := img.GetManifest()
	if err != nil {
		t.Fatalf("GetManifest failed: %v", err)
	}
	if string(got) != string(xmlBody) {
		t.Errorf("GetManifest: got %q, want %q", got, xmlBody)
	}
}

func TestGetManifestWithNoResourcesFails(t *testing.T) {
	img := &Image{}
	if _, err := img.GetManifest(); err == nil {
		t.Fatal("expected an error for an image with no resource directory")
	}
}

func TestSetManifestStructThenRemove(t *testing.T) {
	img := &Image{}
	if err := img.SetManifestStruct(Manifest{AssemblyName: "Acme.Widget", AssemblyVersion: "2.0.0.0"}); err != nil {
		t.Fatalf("SetManifestStruct failed: %v", err)
	}
	if _, err := img.GetManifest(); err != nil {
		t.Fatalf("expected a manifest to be present: %v", err)
	}

	if !img.RemoveManifest() {
		t.Fatal("expected RemoveManifest to report a removal")
	}
	if _, err := img.GetManifest(); err == nil {
		t.Fatal("expected GetManifest to fail once the manifest is removed")
	}
	if img.RemoveManifest() {
		t.Fatal("expected a second RemoveManifest to report no removal")
	}
}
