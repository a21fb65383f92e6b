package fsapi

import "testing"

func TestEventFlagValuesMatchFSEvents(t *testing.T) {
	cases := map[EventFlags]uint32{
		MustScanSubDirs:  0x1,
		HistoryDone:      0x10,
		RootChanged:      0x20,
		ItemCreated:      0x100,
		ItemRemoved:      0x200,
		ItemInodeMetaMod: 0x400,
		ItemRenamed:      0x800,
		ItemModified:     0x1000,
		ItemIsDir:        0x20000,
		ItemCloned:       0x400000,
	}
	for flag, want := range cases {
		if uint32(flag) != want {
			t.Fatalf("%s: expected %#x, got %#x", flag, want, uint32(flag))
		}
	}
	if uint32(NoDefer|WatchRoot|FileEvents) != 0x16 {
		t.Fatalf("unexpected create flags %#x", uint32(NoDefer|WatchRoot|FileEvents))
	}
}

func TestEventFlagsString(t *testing.T) {
	if got := (ItemCreated | ItemModified).String(); got != "ItemCreated|ItemModified" {
		t.Fatalf("unexpected string %q", got)
	}
	if got := EventFlags(0).String(); got != "None" {
		t.Fatalf("unexpected string %q", got)
	}
}

func TestEventFlagsHasAndAny(t *testing.T) {
	flags := ItemCreated | ItemIsFile
	if !flags.Has(ItemCreated) {
		t.Fatal("expected ItemCreated")
	}
	if flags.Has(ItemCreated | ItemRemoved) {
		t.Fatal("Has should require every bit")
	}
	if !flags.Any(ItemRemoved | ItemIsFile) {
		t.Fatal("Any should accept one bit")
	}
	if flags.Has(0) {
		t.Fatal("empty mask must not match")
	}
}

func TestParseCreateFlags(t *testing.T) {
	flags, err := ParseCreateFlags([]string{"no-defer", "WATCH_ROOT", " file-events "})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if flags != NoDefer|WatchRoot|FileEvents {
		t.Fatalf("unexpected flags %#x", uint32(flags))
	}
	if _, err := ParseCreateFlags([]string{"loud"}); err == nil {
		t.Fatal("expected unknown flag to fail")
	}
}
