// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"testing"
)

func TestResourceTableSizeAccountsForEveryRegion(t *testing.T) {
	root := NewResourceTable()

	typeTable := NewResourceTable()
	root.Entries.Set(ResourceID(RTRCdata), &ResourceEntry{Table: typeTable})

	nameTable := NewResourceTable()
	typeTable.Entries.Set(ResourceNameFromString("BLOB"), &ResourceEntry{Table: nameTable})

	payload := []byte("hello resource")
	nameTable.Entries.Set(ResourceID(1033), &ResourceEntry{Data: &ResourceData{Data: payload}})

	wantTables := 3 * uint32(binary.Size(ImageResourceDirectory{}))
	wantTables += 3 * uint32(binary.Size(ImageResourceDirectoryEntry{}))
	if got := root.TablesSize(); got != wantTables {
		t.Errorf("TablesSize: got %d, want %d", got, wantTables)
	}

	wantStrings := uint32(2 + len("BLOB")*2)
	if got := root.StringsSize(); got != wantStrings {
		t.Errorf("StringsSize: got %d, want %d", got, wantStrings)
	}

	wantDescriptions := uint32(binary.Size(ImageResourceDataEntry{}))
	if got := root.DescriptionsSize(); got != wantDescriptions {
		t.Errorf("DescriptionsSize: got %d, want %d", got, wantDescriptions)
	}

	if got := root.DataSize(); got != uint32(len(payload)) {
		t.Errorf("DataSize: got %d, want %d", got, len(payload))
	}

	if got, want := root.Size(), wantTables+wantStrings+wantDescriptions+uint32(len(payload)); got != want {
		t.Errorf("Size: got %d, want %d", got, want)
	}
}

func TestBuildOutputLengthMatchesSize(t *testing.T) {
	root := NewResourceTable()
	sub := NewResourceTable()
	root.Entries.Set(ResourceID(RTString), &ResourceEntry{Table: sub})
	sub.Entries.Set(ResourceID(1), &ResourceEntry{Data: &ResourceData{Data: []byte{1, 2, 3, 4}}})
	sub.Entries.Set(ResourceNameFromString("ALT"), &ResourceEntry{Data: &ResourceData{Data: []byte{5, 6}}})

	out := root.Build(0x1000)
	if uint32(len(out)) != root.Size() {
		t.Fatalf("Build length %d does not match Size() %d", len(out), root.Size())
	}
}

func TestBuildOrderPartitionsNamesBeforeIDs(t *testing.T) {
	table := NewResourceTable()
	table.Entries.Set(ResourceID(5), &ResourceEntry{Data: &ResourceData{}})
	table.Entries.Set(ResourceNameFromString("X"), &ResourceEntry{Data: &ResourceData{}})

	order := buildOrder(table)
	if len(order) != 2 || !order[0].IsName || order[1].IsName {
		t.Fatalf("expected [name, id] order, got %v", order)
	}
}
