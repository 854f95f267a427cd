// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"testing"
)

func TestResourceTypeString(t *testing.T) {

	tests := []struct {
		in  ResourceType
		out string
	}{
		{
			RTCursor,
			"Cursor",
		},
		{
			ResourceType(0xff),
			"?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.out, func(t *testing.T) {

			rsrcTypeString := tt.in.String()
			if rsrcTypeString != tt.out {
				t.Fatalf("resource type string conversion failed, got %v, want %v",
					rsrcTypeString, tt.out)
			}
		})
	}
}

// TestResourceTableBuildOrder checks that named entries always sort before
// ID entries (in their original insertion order within each group), matching
// the on-disk resource directory's NumberOfNamedEntries/NumberOfIDEntries
// convention.
func TestResourceTableBuildOrder(t *testing.T) {
	table := NewResourceTable()
	table.Entries.Set(ResourceID(10), &ResourceEntry{Data: &ResourceData{Data: []byte("id10")}})
	table.Entries.Set(ResourceNameFromString("ZNAME"), &ResourceEntry{Data: &ResourceData{Data: []byte("zname")}})
	table.Entries.Set(ResourceID(2), &ResourceEntry{Data: &ResourceData{Data: []byte("id2")}})
	table.Entries.Set(ResourceNameFromString("ANAME"), &ResourceEntry{Data: &ResourceData{Data: []byte("aname")}})

	order := buildOrder(table)
	if len(order) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(order))
	}
	if !order[0].IsName || !order[1].IsName {
		t.Fatalf("expected the two named entries first, got %v", order)
	}
	if order[0].String() != "ZNAME" || order[1].String() != "ANAME" {
		t.Fatalf("expected named entries in insertion order, got %q then %q", order[0].String(), order[1].String())
	}
	if order[2].IsName || order[3].IsName {
		t.Fatalf("expected the two id entries last, got %v", order)
	}
	if order[2].ID != 10 || order[3].ID != 2 {
		t.Fatalf("expected id entries in insertion order, got %d then %d", order[2].ID, order[3].ID)
	}
}

// TestResourceTableBuildProducesNonEmptyBytes checks that Build serializes a
// two-level tree into a non-empty buffer at least Size() bytes long. It does
// not parse the built bytes back.
func TestResourceTableBuildProducesNonEmptyBytes(t *testing.T) {
	table := NewResourceTable()
	table.Entries.Set(ResourceID(RTVersion), &ResourceEntry{Table: func() *ResourceTable {
		sub := NewResourceTable()
		sub.Entries.Set(ResourceID(1), &ResourceEntry{Data: &ResourceData{Data: []byte("payload")}})
		return sub
	}()})

	out := table.Build(0x2000)
	if len(out) == 0 {
		t.Fatal("expected Build to produce a non-empty resource section")
	}
	if uint32(len(out)) < table.Size() {
		t.Fatalf("built section shorter than reported Size(): got %d, want at least %d", len(out), table.Size())
	}
}
