package feeds

import (
	"context"

	"github.com/dgnsrekt/servalsync/internal/api"
	"github.com/dgnsrekt/servalsync/internal/feed"
)

// BundleCollection is the collection name used for the bundle list.
const BundleCollection = "rhizome/bundles"

// BundleList follows the daemon's rhizome bundle listing.
type BundleList struct {
	*feed.List[api.Bundle]
}

// NewBundleList creates the bundle list.
func NewBundleList(client api.Client, opts feed.Options) *BundleList {
	opts.Name = BundleCollection
	return &BundleList{
		List: feed.New[api.Bundle](&bundleSource{client: client}, opts),
	}
}

type bundleSource struct {
	client api.Client
}

func (s *bundleSource) FetchPast(ctx context.Context, after feed.Token) (feed.Page[api.Bundle], error) {
	list, err := s.client.ListBundles(ctx, string(after))
	if err != nil {
		return feed.Page[api.Bundle]{}, err
	}
	return bundlePage(list), nil
}

func (s *bundleSource) FetchFuture(ctx context.Context, since feed.Token) (feed.Page[api.Bundle], error) {
	list, err := s.client.ListBundlesSince(ctx, string(since))
	if err != nil {
		return feed.Page[api.Bundle]{}, err
	}
	return bundlePage(list), nil
}

func bundlePage(list *api.BundleList) feed.Page[api.Bundle] {
	page := feed.Page[api.Bundle]{
		Items:   list.Bundles,
		HasMore: list.HasMore,
	}
	if n := len(list.Bundles); n > 0 {
		page.Token = feed.Token(list.Bundles[n-1].Token)
	}
	return page
}
