package relay

import "github.com/dgnsrekt/servalsync/internal/observe"

// ChangeEvent is the payload of every change frame.
type ChangeEvent struct {
	Sequence uint64 `json:"sequence"`
	observe.Change
}

// SnapshotEvent is the payload sent to a subscriber when it joins.
type SnapshotEvent struct {
	Sequence uint64 `json:"sequence"`
	Snapshot any    `json:"snapshot"`
}
