// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"testing"
)

func newTestIconTable() *ResourceTable {
	root := NewResourceTable()

	bmp16 := make([]byte, 16*16*4)
	bmp32 := make([]byte, 32*32*4)

	iconType := &ResourceEntry{Table: NewResourceTable()}
	root.Entries.Set(ResourceID(RTIcon), iconType)

	id1 := NewResourceTable()
	id1.Entries.Set(ResourceID(RTGroupIconLangEnUS), &ResourceEntry{Data: &ResourceData{Data: bmp16, CodePage: iconCodePage}})
	iconType.Table.Entries.Set(ResourceID(1), &ResourceEntry{Table: id1})

	id2 := NewResourceTable()
	id2.Entries.Set(ResourceID(RTGroupIconLangEnUS), &ResourceEntry{Data: &ResourceData{Data: bmp32, CodePage: iconCodePage}})
	iconType.Table.Entries.Set(ResourceID(2), &ResourceEntry{Table: id2})

	groupType := &ResourceEntry{Table: NewResourceTable()}
	root.Entries.Set(ResourceID(RTGroupIcon), groupType)

	groupDir := buildGroupIconDirectory([]icoDirEntry{
		{Width: 16, Height: 16, Planes: 1, BitCount: 32, BytesInRes: uint32(len(bmp16)), ID: 1},
		{Width: 32, Height: 32, Planes: 1, BitCount: 32, BytesInRes: uint32(len(bmp32)), ID: 2},
	})
	groupID := NewResourceTable()
	groupID.Entries.Set(ResourceID(RTGroupIconLangEnUS), &ResourceEntry{Data: &ResourceData{Data: groupDir, CodePage: iconCodePage}})
	groupType.Table.Entries.Set(ResourceNameFromString(mainIconName), &ResourceEntry{Table: groupID})

	return root
}

func TestGetMainIconFollowsGroupToFirstIcon(t *testing.T) {
	img := &Image{Resources: &ResourceDirectory{Root: newTestIconTable()}}

	data, err := img.GetMainIcon()
	if err != nil {
		t.Fatalf("GetMainIcon failed: %v", err)
	}
	if len(data) != 16*16*4 {
		t.Fatalf("expected the first group entry's icon (16x16), got %d bytes", len(data))
	}
}

func TestGetMainIconWithNoResourcesReturnsNil(t *testing.T) {
	img := &Image{}
	data, err := img.GetMainIcon()
	if err != nil || data != nil {
		t.Fatalf("expected (nil, nil) for an image with no resources, got (%v, %v)", data, err)
	}
}

func TestSetMainIconAllocatesFreshIDsAndReplacesGroup(t *testing.T) {
	img := &Image{Resources: &ResourceDirectory{Root: newTestIconTable()}}

	raw := buildFakeIcoContainer(t)
	if err := img.SetMainIcon(raw); err != nil {
		t.Fatalf("SetMainIcon failed: %v", err)
	}

	groupType, ok := img.Resources.Root.Entries.Get(ResourceID(RTGroupIcon))
	if !ok || groupType.Table == nil {
		t.Fatal("expected RT_GROUP_ICON to still be present")
	}
	if _, ok := groupType.Table.Entries.Get(ResourceNameFromString(mainIconName)); !ok {
		t.Fatal("expected MAINICON group entry after SetMainIcon")
	}

	iconType, ok := img.Resources.Root.Entries.Get(ResourceID(RTIcon))
	if !ok || iconType.Table == nil {
		t.Fatal("expected RT_ICON to still be present")
	}
	keys := iconType.Table.Entries.Keys()
	if len(keys) != 3 {
		t.Fatalf("expected the two existing icons plus one new one, got %d icon ids", len(keys))
	}
	for _, k := range keys[2:] {
		if k.IsName || k.ID < 3 {
			t.Fatalf("expected new icon ids to start above the existing ones, found id %v", k)
		}
	}
}

func TestRemoveMainIconDropsUnreferencedIconsOnly(t *testing.T) {
	img := &Image{Resources: &ResourceDirectory{Root: newTestIconTable()}}

	if err := img.RemoveMainIcon(); err != nil {
		t.Fatalf("RemoveMainIcon failed: %v", err)
	}

	if _, ok := img.Resources.Root.Entries.Get(ResourceID(RTGroupIcon)); ok {
		t.Fatal("expected RT_GROUP_ICON to be dropped once its only group is removed")
	}
	if _, ok := img.Resources.Root.Entries.Get(ResourceID(RTIcon)); ok {
		t.Fatal("expected RT_ICON to be dropped once every referencing group is gone")
	}
}

func buildFakeIcoContainer(t *testing.T) []byte {
	t.Helper()
	bmp := make([]byte, 8*8*4)
	dir := buildGroupIconDirectory([]icoDirEntry{
		{Width: 8, Height: 8, Planes: 1, BitCount: 32, BytesInRes: uint32(len(bmp)), ID: 0},
	})
	// A single-image .ico container: the group-style header plus one
	// file-style (16-byte) directory entry with an absolute offset.
	out := append([]byte(nil), dir[:6]...)
	fileEntry := dir[6:20]
	fileEntry = append(append([]byte(nil), fileEntry[:12]...), 0, 0, 0, 0)
	offset := uint32(6 + 16)
	fileEntry[12] = byte(offset)
	fileEntry[13] = byte(offset >> 8)
	fileEntry[14] = byte(offset >> 16)
	fileEntry[15] = byte(offset >> 24)
	out = append(out, fileEntry...)
	out = append(out, bmp...)
	return out
}
