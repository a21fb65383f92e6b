package fsapi

import (
	"fmt"
	"strings"
)

// EventID is the facility's global, monotonically non-decreasing event cursor.
type EventID uint64

// EventFlags describes which physical changes were observed for one path in
// one delivered event. Values match kFSEventStreamEventFlag*.
type EventFlags uint32

const (
	None               EventFlags = 0x00000000
	MustScanSubDirs    EventFlags = 0x00000001
	UserDropped        EventFlags = 0x00000002
	KernelDropped      EventFlags = 0x00000004
	EventIDsWrapped    EventFlags = 0x00000008
	HistoryDone        EventFlags = 0x00000010
	RootChanged        EventFlags = 0x00000020
	Mount              EventFlags = 0x00000040
	Unmount            EventFlags = 0x00000080
	ItemCreated        EventFlags = 0x00000100
	ItemRemoved        EventFlags = 0x00000200
	ItemInodeMetaMod   EventFlags = 0x00000400
	ItemRenamed        EventFlags = 0x00000800
	ItemModified       EventFlags = 0x00001000
	ItemFinderInfoMod  EventFlags = 0x00002000
	ItemChangeOwner    EventFlags = 0x00004000
	ItemXattrMod       EventFlags = 0x00008000
	ItemIsFile         EventFlags = 0x00010000
	ItemIsDir          EventFlags = 0x00020000
	ItemIsSymlink      EventFlags = 0x00040000
	OwnEvent           EventFlags = 0x00080000
	ItemIsHardlink     EventFlags = 0x00100000
	ItemIsLastHardlink EventFlags = 0x00200000
	ItemCloned         EventFlags = 0x00400000
)

// CreateFlags configure a stream at creation. Values match
// kFSEventStreamCreateFlag*.
type CreateFlags uint32

const (
	UseCFTypes CreateFlags = 0x00000001
	NoDefer    CreateFlags = 0x00000002
	WatchRoot  CreateFlags = 0x00000004
	IgnoreSelf CreateFlags = 0x00000008
	FileEvents CreateFlags = 0x00000010
	MarkSelf   CreateFlags = 0x00000020
)

var eventFlagNames = []struct {
	flag EventFlags
	name string
}{
	{MustScanSubDirs, "MustScanSubDirs"},
	{UserDropped, "UserDropped"},
	{KernelDropped, "KernelDropped"},
	{EventIDsWrapped, "EventIDsWrapped"},
	{HistoryDone, "HistoryDone"},
	{RootChanged, "RootChanged"},
	{Mount, "Mount"},
	{Unmount, "Unmount"},
	{ItemCreated, "ItemCreated"},
	{ItemRemoved, "ItemRemoved"},
	{ItemInodeMetaMod, "ItemInodeMetaMod"},
	{ItemRenamed, "ItemRenamed"},
	{ItemModified, "ItemModified"},
	{ItemFinderInfoMod, "ItemFinderInfoMod"},
	{ItemChangeOwner, "ItemChangeOwner"},
	{ItemXattrMod, "ItemXattrMod"},
	{ItemIsFile, "ItemIsFile"},
	{ItemIsDir, "ItemIsDir"},
	{ItemIsSymlink, "ItemIsSymlink"},
	{OwnEvent, "OwnEvent"},
	{ItemIsHardlink, "ItemIsHardlink"},
	{ItemIsLastHardlink, "ItemIsLastHardlink"},
	{ItemCloned, "ItemCloned"},
}

// Has reports whether every bit of mask is set.
func (flags EventFlags) Has(mask EventFlags) bool {
	return mask != 0 && flags&mask == mask
}

// Any reports whether at least one bit of mask is set.
func (flags EventFlags) Any(mask EventFlags) bool {
	return flags&mask != 0
}

func (flags EventFlags) String() string {
	if flags == 0 {
		return "None"
	}
	names := make([]string, 0, 4)
	for _, entry := range eventFlagNames {
		if flags&entry.flag != 0 {
			names = append(names, entry.name)
		}
	}
	if len(names) == 0 {
		return "None"
	}
	return strings.Join(names, "|")
}

func (flags CreateFlags) Has(mask CreateFlags) bool {
	return mask != 0 && flags&mask == mask
}

var createFlagNames = map[string]CreateFlags{
	"use-cf-types": UseCFTypes,
	"no-defer":     NoDefer,
	"watch-root":   WatchRoot,
	"ignore-self":  IgnoreSelf,
	"file-events":  FileEvents,
	"mark-self":    MarkSelf,
}

// ParseCreateFlags ORs together named creation flags such as "no-defer" or
// "file_events".
func ParseCreateFlags(names []string) (CreateFlags, error) {
	var flags CreateFlags
	for _, name := range names {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
		flag, ok := createFlagNames[key]
		if !ok {
			return 0, fmt.Errorf("unknown create flag %q", name)
		}
		flags |= flag
	}
	return flags, nil
}
