package api

import (
	"fmt"

	"github.com/dgnsrekt/servalsync/internal/feed"
)

var (
	ErrAuthFailed  = fmt.Errorf("%w: authentication failed", feed.ErrProtocol)
	ErrNotFound    = fmt.Errorf("%w: resource not found", feed.ErrProtocol)
	ErrRateLimited = fmt.Errorf("%w: rate limited by daemon", feed.ErrTransport)
	ErrBadResponse = fmt.Errorf("%w: malformed response", feed.ErrProtocol)
)
