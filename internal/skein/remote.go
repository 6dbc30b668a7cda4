package skein

import (
	"context"

	"skein-go/internal/model"
)

// MaxBatchSize is the remote service's hard limit on ids per getPosts call.
const MaxBatchSize = 25

// PostFetcher is the remote batch-fetch primitive. Output order is not
// guaranteed to match input order, and ids the remote cannot serve are
// simply absent from the result.
type PostFetcher interface {
	FetchPosts(ctx context.Context, uris []string) ([]model.Post, error)
}

// NotificationPage is one page of the remote notification feed.
type NotificationPage struct {
	Items      []model.Notification
	NextCursor string
}

// NotificationFetcher pages through the remote notification feed.
// An empty cursor requests the first page; an empty NextCursor ends the feed.
type NotificationFetcher interface {
	FetchNotifications(ctx context.Context, cursor string) (*NotificationPage, error)
}

// FetchGateway is the single shared quota every remote batch call goes through.
// Run blocks until the call fits the local budget (or ctx is done), then runs fn.
type FetchGateway interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

// ChunkURIs splits uris into consecutive batches of at most size ids.
func ChunkURIs(uris []string, size int) [][]string {
	if size <= 0 {
		size = MaxBatchSize
	}
	var chunks [][]string
	for start := 0; start < len(uris); start += size {
		end := min(start+size, len(uris))
		chunks = append(chunks, uris[start:end])
	}
	return chunks
}
