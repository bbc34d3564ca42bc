package feeds

import (
	"context"

	"github.com/dgnsrekt/servalsync/internal/api"
	"github.com/dgnsrekt/servalsync/internal/feed"
)

// MetaName is the metadata key carrying a feed's display name.
const MetaName = "name"

// MessageFeed follows the message feed published by one signing identity.
type MessageFeed struct {
	*feed.List[api.Message]
	ID string
}

// NewMessageFeed creates the feed for id. When peers is non-nil, display
// names carried by responses are copied into the peer directory.
func NewMessageFeed(client api.Client, id string, peers *Peers, opts feed.Options) *MessageFeed {
	opts.Name = "meshmb/" + id
	if peers != nil {
		opts.OnMetadata = func(m feed.Metadata) {
			if name, ok := m[MetaName]; ok {
				peers.UpdateFeedName(id, name)
			}
		}
	}
	src := &messageSource{client: client, id: id}
	return &MessageFeed{
		List: feed.New[api.Message](src, opts),
		ID:   id,
	}
}

type messageSource struct {
	client api.Client
	id     string
}

func (s *messageSource) FetchPast(ctx context.Context, after feed.Token) (feed.Page[api.Message], error) {
	list, err := s.client.ListMessages(ctx, s.id, string(after))
	if err != nil {
		return feed.Page[api.Message]{}, err
	}
	return messagePage(list), nil
}

func (s *messageSource) FetchFuture(ctx context.Context, since feed.Token) (feed.Page[api.Message], error) {
	list, err := s.client.ListMessagesSince(ctx, s.id, string(since))
	if err != nil {
		return feed.Page[api.Message]{}, err
	}
	return messagePage(list), nil
}

func messagePage(list *api.MessageList) feed.Page[api.Message] {
	page := feed.Page[api.Message]{
		Items:   list.Messages,
		HasMore: list.HasMore,
	}
	if n := len(list.Messages); n > 0 {
		page.Token = feed.Token(list.Messages[n-1].Token)
	}
	if list.Name != "" {
		page.Meta = feed.Metadata{MetaName: list.Name}
	}
	return page
}
