package observe

// Change is an Event with its item type erased, for consumers that relay
// events from many collections over one channel.
type Change struct {
	Collection string `json:"collection"`
	Kind       Kind   `json:"kind"`
	Index      int    `json:"index"`
	Key        string `json:"key,omitempty"`
	Item       any    `json:"item,omitempty"`
}

type keyed interface {
	Key() string
}

// Erase converts ev into a Change attributed to collection.
func Erase[T any](collection string, ev Event[T]) Change {
	c := Change{Collection: collection, Kind: ev.Kind, Index: ev.Index}
	if ev.Kind == Reset {
		return c
	}
	c.Item = ev.Item
	if k, ok := any(ev.Item).(keyed); ok {
		c.Key = k.Key()
	}
	return c
}

// MarshalText renders the kind by name in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
