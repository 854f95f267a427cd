/*
 * Copyright 2021-2022 by Nedim Sabic Sabic
 * https://www.fibratus.io
 * All Rights Reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package pe

import (
	"testing"

	"github.com/saferwall/peedit/orderedmap"
)

func TestSetAndGetVersionInfoRoundTrips(t *testing.T) {
	img := &Image{}

	fixed := DefaultFixedFileInfo()
	fixed.FileVersionMS = 0x00020001
	strings := orderedmap.New[string, string]()
	strings.Set("CompanyName", "Acme Corp")
	strings.Set("FileDescription", "Acme Widget")
	strings.Set("FileVersion", "2.1.0.0")

	if err := img.SetVersionInfo(fixed, strings); err != nil {
		t.Fatalf("SetVersionInfo failed: %v", err)
	}

	got, vals, err := img.GetVersionInfo()
	if err != nil {
		t.Fatalf("GetVersionInfo failed: %v", err)
	}
	if got.FileVersionMS != fixed.FileVersionMS {
		t.Errorf("FileVersionMS: got %#x, want %#x", got.FileVersionMS, fixed.FileVersionMS)
	}
	for k, want := range map[string]string{
		"CompanyName":     "Acme Corp",
		"FileDescription": "Acme Widget",
		"FileVersion":     "2.1.0.0",
	} {
		if vals[k] != want {
			t.Errorf("%s: got %q, want %q", k, vals[k], want)
		}
	}
}

func TestGetVersionInfoWithNoResourcesFails(t *testing.T) {
	img := &Image{}
	if _, _, err := img.GetVersionInfo(); err == nil {
		t.Fatal("expected an error for an image with no resource directory")
	}
}

func TestRemoveVersionInfoDropsResource(t *testing.T) {
	img := &Image{}
	strings := orderedmap.New[string, string]()
	strings.Set("FileVersion", "1.0.0.0")
	if err := img.SetVersionInfo(DefaultFixedFileInfo(), strings); err != nil {
		t.Fatalf("SetVersionInfo failed: %v", err)
	}

	if !img.RemoveVersionInfo() {
		t.Fatal("expected RemoveVersionInfo to report a removal")
	}
	if _, _, err := img.GetVersionInfo(); err == nil {
		t.Fatal("expected GetVersionInfo to fail once the version resource is removed")
	}
}
