package feed

import "context"

// Token is an opaque continuation marker issued by the remote source.
// The empty Token means "no position yet".
type Token string

// Metadata is side information carried by a page, such as a feed's display name.
type Metadata map[string]string

// Item is an element of a synchronized collection. Key must be stable across
// re-deliveries of the same element.
type Item interface {
	Key() string
}

// Tombstoner is implemented by items that can announce their own deletion.
type Tombstoner interface {
	Tombstone() bool
}

// Page is one response from a Source.
type Page[T any] struct {
	Items   []T
	Token   Token
	HasMore bool
	Meta    Metadata
}

// Source is a remote collection queried either for history or for items
// newer than a token.
type Source[T any] interface {
	// FetchPast returns the next page of history. after is empty on a cold
	// start and otherwise the token of the last history page merged.
	FetchPast(ctx context.Context, after Token) (Page[T], error)
	// FetchFuture returns items added since the given token.
	FetchFuture(ctx context.Context, since Token) (Page[T], error)
}

// TokenStore persists continuation tokens across restarts, keyed by collection.
type TokenStore interface {
	LoadToken(ctx context.Context, collection string) (Token, bool, error)
	SaveToken(ctx context.Context, collection string, token Token) error
}

// Mode is the query mode used for a fetch.
type Mode string

const (
	ModePast   Mode = "past"
	ModeFuture Mode = "future"
)
