package testutil

import (
	"time"

	"skein-go/internal/model"
)

// BaseTime is the reference time fixtures are built around.
var BaseTime = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

// At returns BaseTime plus the given number of minutes.
func At(minutes int) time.Time {
	return BaseTime.Add(time.Duration(minutes) * time.Minute)
}

// Author returns an author whose DID is derived from handle.
func Author(handle string) model.Author {
	return model.Author{DID: "did:plc:" + handle, Handle: handle}
}

// Post builds a post. root and parent may be empty; a post with neither is
// a top-level post.
func Post(uri, root, parent, handle string, indexedAt time.Time) model.Post {
	p := model.Post{
		URI:       uri,
		Author:    Author(handle),
		Record:    model.PostRecord{Text: "text of " + uri, CreatedAt: indexedAt},
		IndexedAt: indexedAt,
	}
	if root != "" || parent != "" {
		p.Record.Reply = &model.ReplyRef{
			Root:   model.PostRef{URI: root},
			Parent: model.PostRef{URI: parent},
		}
	}
	return p
}

// Notification builds a notification for uri.
func Notification(uri string, reason model.Reason, handle string, indexedAt time.Time) model.Notification {
	return model.Notification{
		URI:       uri,
		Author:    Author(handle),
		Reason:    reason,
		IndexedAt: indexedAt,
	}
}

// Reply builds a reply notification.
func Reply(uri, handle string, indexedAt time.Time) model.Notification {
	return Notification(uri, model.ReasonReply, handle, indexedAt)
}

// Like builds a like notification on subject.
func Like(uri, subject, handle string, indexedAt time.Time) model.Notification {
	n := Notification(uri, model.ReasonLike, handle, indexedAt)
	n.ReasonSubject = subject
	return n
}
