package skein

import (
	"sort"
	"time"

	"skein-go/internal/model"
)

// ConversationThread groups reply notifications under the root they resolve to.
// It is derived data: recompute it whenever the notifications or the post
// cache change rather than mutating it in place.
type ConversationThread struct {
	// RootURI is the best-known root. It is provisional until every ancestor
	// post is resident.
	RootURI  string
	RootPost *model.Post

	// Replies are ordered by IndexedAt ascending; ties keep feed order.
	Replies []model.Notification

	// Participants are distinct author handles in first-seen order.
	Participants []string

	LatestReply  *model.Notification
	TotalReplies int
}

// ThreadNode is one node of an assembled thread tree.
type ThreadNode struct {
	URI          string
	Notification *model.Notification
	Post         *model.Post
	Children     []*ThreadNode
	Depth        int
	IsRoot       bool
}

// Timestamp is the best available ordering time: the notification's
// IndexedAt, falling back to the post's.
func (n *ThreadNode) Timestamp() time.Time {
	if n.Notification != nil {
		return n.Notification.IndexedAt
	}
	if n.Post != nil {
		return n.Post.IndexedAt
	}
	return time.Time{}
}

// IsPlaceholder reports whether the node stands in for a post that is not resident.
func (n *ThreadNode) IsPlaceholder() bool { return n.Post == nil }

// Walk visits n and its descendants depth-first, children in order.
// parent is nil for n itself.
func (n *ThreadNode) Walk(fn func(node, parent *ThreadNode)) {
	var visit func(node, parent *ThreadNode)
	visit = func(node, parent *ThreadNode) {
		fn(node, parent)
		for _, child := range node.Children {
			visit(child, node)
		}
	}
	visit(n, nil)
}

// FindRoot walks reply links from uri as far as resident posts allow.
//
// An explicit root pointer is trusted as-is. Otherwise the walk follows the
// parent pointer while the parent is resident. When nothing more is known the
// last visited URI is returned, so an uncached post is its own provisional root.
func FindRoot(uri string, posts PostLookup) string {
	visited := map[string]bool{}
	current := uri
	for {
		post, ok := posts.Post(current)
		if !ok {
			return current
		}
		if root := post.RootURI(); root != "" {
			return root
		}
		parent := post.ParentURI()
		if parent == "" || visited[parent] || parent == current {
			return current
		}
		if _, ok := posts.Post(parent); !ok {
			return current
		}
		visited[current] = true
		current = parent
	}
}

// GroupThreads buckets reply notifications by the root FindRoot resolves
// them to. Non-reply notifications are skipped and a URI is only counted
// once. Threads are ordered by latest reply, newest first.
func GroupThreads(notifications []model.Notification, posts PostLookup) []*ConversationThread {
	byRoot := make(map[string]*ConversationThread)
	var threads []*ConversationThread
	handles := make(map[string]map[string]bool)
	seen := make(map[string]bool)

	for _, n := range notifications {
		if n.Reason != model.ReasonReply || seen[n.URI] {
			continue
		}
		seen[n.URI] = true

		rootURI := FindRoot(n.URI, posts)
		thread, ok := byRoot[rootURI]
		if !ok {
			thread = &ConversationThread{RootURI: rootURI}
			if rootPost, ok := posts.Post(rootURI); ok {
				thread.RootPost = rootPost
			}
			byRoot[rootURI] = thread
			handles[rootURI] = make(map[string]bool)
			threads = append(threads, thread)
		}

		thread.Replies = append(thread.Replies, n)
		if h := n.Author.Handle; h != "" && !handles[rootURI][h] {
			handles[rootURI][h] = true
			thread.Participants = append(thread.Participants, h)
		}
	}

	for _, thread := range threads {
		sort.SliceStable(thread.Replies, func(i, j int) bool {
			return thread.Replies[i].IndexedAt.Before(thread.Replies[j].IndexedAt)
		})
		thread.TotalReplies = len(thread.Replies)
		latest := thread.Replies[len(thread.Replies)-1]
		thread.LatestReply = &latest
	}

	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].LatestReply.IndexedAt.After(threads[j].LatestReply.IndexedAt)
	})
	return threads
}

// BuildThreadTree assembles the reply tree of a thread.
//
// The root node always exists, as a placeholder when the root post is not
// resident. Replies whose post is resident become nodes attached under their
// parent when the parent is itself a node of this thread; any other reply is
// attached directly under the root. Unresolvable gaps therefore flatten the
// tree instead of dropping replies. Children are ordered by Timestamp with
// ties kept in feed order.
func BuildThreadTree(thread *ConversationThread, posts PostLookup) *ThreadNode {
	root := &ThreadNode{URI: thread.RootURI, Post: thread.RootPost, IsRoot: true}

	nodes := make(map[string]*ThreadNode)
	var ordered []*ThreadNode
	for i := range thread.Replies {
		n := &thread.Replies[i]
		if n.URI == thread.RootURI {
			root.Notification = n
			continue
		}
		if _, dup := nodes[n.URI]; dup {
			continue
		}
		post, ok := posts.Post(n.URI)
		if !ok {
			continue
		}
		node := &ThreadNode{URI: n.URI, Notification: n, Post: post}
		nodes[n.URI] = node
		ordered = append(ordered, node)
	}

	parentOf := make(map[*ThreadNode]*ThreadNode, len(ordered))
	for _, node := range ordered {
		parent := root
		if p := node.Post.ParentURI(); p != "" && p != thread.RootURI {
			if candidate, ok := nodes[p]; ok && !isAncestor(node, candidate, parentOf) {
				parent = candidate
			}
		}
		parentOf[node] = parent
		parent.Children = append(parent.Children, node)
	}

	settle(root, 0)
	return root
}

// isAncestor reports whether node is candidate itself or one of its
// already-attached ancestors. Attaching node under candidate would then
// create a cycle.
func isAncestor(node, candidate *ThreadNode, parentOf map[*ThreadNode]*ThreadNode) bool {
	for cur := candidate; cur != nil; cur = parentOf[cur] {
		if cur == node {
			return true
		}
	}
	return false
}

func settle(node *ThreadNode, depth int) {
	node.Depth = depth
	sort.SliceStable(node.Children, func(i, j int) bool {
		return node.Children[i].Timestamp().Before(node.Children[j].Timestamp())
	})
	for _, child := range node.Children {
		settle(child, depth+1)
	}
}
