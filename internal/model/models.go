package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Reason is why a notification was generated.
type Reason string

const (
	ReasonLike    Reason = "like"
	ReasonRepost  Reason = "repost"
	ReasonReply   Reason = "reply"
	ReasonFollow  Reason = "follow"
	ReasonMention Reason = "mention"
	ReasonQuote   Reason = "quote"
)

// Valid reports whether r is one of the known reasons.
func (r Reason) Valid() bool {
	switch r {
	case ReasonLike, ReasonRepost, ReasonReply, ReasonFollow, ReasonMention, ReasonQuote:
		return true
	}
	return false
}

// Author identifies the account behind a post or notification.
type Author struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// Notification is a single entry of the remote notification feed.
// Notifications are immutable once received.
type Notification struct {
	URI           string    `json:"uri"`
	CID           string    `json:"cid,omitempty"`
	Author        Author    `json:"author"`
	Reason        Reason    `json:"reason"`
	ReasonSubject string    `json:"reasonSubject,omitempty"`
	IsRead        bool      `json:"isRead"`
	IndexedAt     time.Time `json:"indexedAt"`
}

// Key is the identity used to deduplicate notifications within a cache partition.
func (n Notification) Key() string {
	return n.URI + "|" + string(n.Reason)
}

// PostRef points at another post by URI (and optionally CID).
type PostRef struct {
	URI string `json:"uri"`
	CID string `json:"cid,omitempty"`
}

// ReplyRef links a reply to its immediate parent and the thread root.
// Either side may be empty: some clients only set the parent.
type ReplyRef struct {
	Root   PostRef `json:"root"`
	Parent PostRef `json:"parent"`
}

// PostRecord is the authored content of a post.
type PostRecord struct {
	Type      string    `json:"$type,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	Reply     *ReplyRef `json:"reply,omitempty"`
}

// Post is a snapshot of remote post content at fetch time. The cache never
// mutates a stored post; it only adds or evicts whole entries.
type Post struct {
	URI         string          `json:"uri"`
	CID         string          `json:"cid,omitempty"`
	Author      Author          `json:"author"`
	Record      PostRecord      `json:"record"`
	Embed       json.RawMessage `json:"embed,omitempty"`
	ReplyCount  int             `json:"replyCount"`
	RepostCount int             `json:"repostCount"`
	LikeCount   int             `json:"likeCount"`
	QuoteCount  int             `json:"quoteCount"`
	IndexedAt   time.Time       `json:"indexedAt"`
}

// RootURI returns the explicit thread root pointer, or "".
func (p *Post) RootURI() string {
	if p.Record.Reply == nil {
		return ""
	}
	return p.Record.Reply.Root.URI
}

// ParentURI returns the immediate parent pointer, or "".
func (p *Post) ParentURI() string {
	if p.Record.Reply == nil {
		return ""
	}
	return p.Record.Reply.Parent.URI
}

// HasImages reports whether the opaque embed carries images. Only the
// embed's type tag is inspected.
func (p *Post) HasImages() bool {
	if len(p.Embed) == 0 {
		return false
	}
	var embed struct {
		Type   string          `json:"$type"`
		Images json.RawMessage `json:"images"`
		Media  *struct {
			Type string `json:"$type"`
		} `json:"media"`
	}
	if err := json.Unmarshal(p.Embed, &embed); err != nil {
		return false
	}
	if strings.Contains(embed.Type, "images") || len(embed.Images) > 0 {
		return true
	}
	return embed.Media != nil && strings.Contains(embed.Media.Type, "images")
}
