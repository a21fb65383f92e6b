package watch

// Kind is the classified meaning of a raw event. The numeric values cross the
// handler boundary as-is and must never be renumbered.
type Kind int32

const (
	KindOverflow Kind = 0
	KindCreate   Kind = 1
	KindDelete   Kind = 2
	KindModify   Kind = 3
)

func (kind Kind) Ordinal() int32 {
	return int32(kind)
}

func (kind Kind) String() string {
	switch kind {
	case KindOverflow:
		return "overflow"
	case KindCreate:
		return "create"
	case KindDelete:
		return "delete"
	case KindModify:
		return "modify"
	default:
		return "unknown"
	}
}

// ParseKind accepts the names produced by String.
func ParseKind(value string) (Kind, bool) {
	for _, kind := range AllKinds() {
		if kind.String() == value {
			return kind, true
		}
	}
	return 0, false
}

func AllKinds() []Kind {
	return []Kind{KindOverflow, KindCreate, KindDelete, KindModify}
}
