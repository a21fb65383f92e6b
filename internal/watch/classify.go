package watch

import (
	"os"

	"nativewatch/internal/fsapi"
)

// Classify turns one coalesced flag word into the kinds it stands for. Every
// rule is checked on its own, so a single word can yield several kinds, always
// in this order: create, delete, modify, overflow, then the rename outcome.
//
// A rename names either side of the move and the word alone does not say
// which. exists decides: a path that is present now is the destination
// (create), a missing one is the source (delete). The check runs after the
// fact and can race with later changes to the same path.
func Classify(flags fsapi.EventFlags, path string, exists func(string) bool) []Kind {
	kinds := make([]Kind, 0, 2)
	if flags.Has(fsapi.ItemCreated) {
		kinds = append(kinds, KindCreate)
	}
	if flags.Has(fsapi.ItemRemoved) {
		kinds = append(kinds, KindDelete)
	}
	if flags.Any(fsapi.ItemModified | fsapi.ItemInodeMetaMod) {
		kinds = append(kinds, KindModify)
	}
	if flags.Has(fsapi.MustScanSubDirs) {
		kinds = append(kinds, KindOverflow)
	}
	if flags.Has(fsapi.ItemRenamed) {
		if exists == nil {
			exists = pathExists
		}
		if exists(path) {
			kinds = append(kinds, KindCreate)
		} else {
			kinds = append(kinds, KindDelete)
		}
	}
	return kinds
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
