package observe

import "fmt"

// Kind identifies the structural change an Event describes.
type Kind uint8

const (
	// Added means Item was inserted at Index.
	Added Kind = iota + 1
	// Removed means Item is no longer part of the collection.
	Removed
	// Updated means Item replaced an element with the same key, in place.
	Updated
	// Reset means every previous assumption about the collection is void and
	// the observer must re-read it in full.
	Reset
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Updated:
		return "updated"
	case Reset:
		return "reset"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Event is a single change to a collection of T.
// Index is only meaningful for Added and Updated; Item is the zero value for Reset.
type Event[T any] struct {
	Kind  Kind
	Index int
	Item  T
}

// AddedEvent builds an Added event.
func AddedEvent[T any](index int, item T) Event[T] {
	return Event[T]{Kind: Added, Index: index, Item: item}
}

// UpdatedEvent builds an Updated event.
func UpdatedEvent[T any](index int, item T) Event[T] {
	return Event[T]{Kind: Updated, Index: index, Item: item}
}

// RemovedEvent builds a Removed event.
func RemovedEvent[T any](item T) Event[T] {
	return Event[T]{Kind: Removed, Index: -1, Item: item}
}

// ResetEvent builds a Reset event.
func ResetEvent[T any]() Event[T] {
	return Event[T]{Kind: Reset, Index: -1}
}
