package session

// Access levels held by a session. Values are ordered; higher means more
// trust. The gap below Medium is reserved for a historical low tier.
const (
	LevelNone   uint8 = 0
	LevelMedium uint8 = 2
	LevelHigh   uint8 = 3
)

// Kinds of session origin.
const (
	KindPassword  uint8 = 0
	KindFederated uint8 = 1
)

// Record is the cached session state. PrimaryID is the stable session
// identity; SecondaryID rotates on refresh. Level only ever moves upward
// for a live record.
type Record struct {
	PrimaryID   string
	SecondaryID string
	AccountID   string

	Level       uint8
	Kind        uint8
	MFAVerified bool

	CreatedAt int64
}
