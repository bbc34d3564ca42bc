package api

import "strconv"

// Message is one entry of a signing identity's message feed.
type Message struct {
	Token     string `json:"token"`
	Offset    int64  `json:"offset"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Key identifies a message by its position in the feed.
func (m Message) Key() string {
	return strconv.FormatInt(m.Offset, 10)
}

// MessageList is one page of a message feed.
type MessageList struct {
	Name     string
	HasMore  bool
	Messages []Message
}

// Bundle is a rhizome bundle listing entry.
type Bundle struct {
	Token    string `json:"token"`
	ID       string `json:"id"`
	Version  int64  `json:"version"`
	Service  string `json:"service"`
	Name     string `json:"name"`
	Sender   string `json:"sender"`
	Author   string `json:"author"`
	Date     int64  `json:"date"`
	FileSize int64  `json:"filesize"`
	Deleted  bool   `json:"deleted"`
}

// Key identifies a bundle by manifest id; newer versions replace older ones.
func (b Bundle) Key() string {
	return b.ID
}

// Tombstone reports whether the daemon announced the bundle's removal.
func (b Bundle) Tombstone() bool {
	return b.Deleted
}

// BundleList is one page of the bundle listing.
type BundleList struct {
	HasMore bool
	Bundles []Bundle
}
