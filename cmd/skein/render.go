package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"skein-go/internal/skein"
)

const defaultWidth = 100

// truncate shortens s to at most width terminal columns, marking the cut
// with "…". Wide runes (CJK, most emoji) count as two columns.
func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if width <= 0 {
		return s
	}
	return ansi.Truncate(s, width, "…")
}

// nodeLabel is the one-line text shown for a tree node.
func nodeLabel(n *skein.ThreadNode) string {
	if n.IsPlaceholder() {
		return "[not loaded] " + n.URI
	}
	handle := n.Post.Author.Handle
	if handle == "" {
		handle = n.Post.Author.DID
	}
	return "@" + handle + ": " + n.Post.Record.Text
}

// writeTree renders a thread tree with box-drawing guides, one node per line,
// each line cut to width.
func writeTree(w io.Writer, root *skein.ThreadNode, width int) {
	fmt.Fprintln(w, truncate(nodeLabel(root), width))
	var walk func(children []*skein.ThreadNode, prefix string)
	walk = func(children []*skein.ThreadNode, prefix string) {
		for i, child := range children {
			branch, next := "├─ ", "│  "
			if i == len(children)-1 {
				branch, next = "└─ ", "   "
			}
			line := prefix + branch
			fmt.Fprintln(w, line+truncate(nodeLabel(child), width-ansi.StringWidth(line)))
			walk(child.Children, prefix+next)
		}
	}
	walk(root.Children, "")
}

// writeThreadSummary prints one line per thread.
func writeThreadSummary(w io.Writer, threads []*skein.ConversationThread, width int) {
	for _, t := range threads {
		title := t.RootURI
		if t.RootPost != nil {
			title = t.RootPost.Record.Text
		}
		latest := ""
		if t.LatestReply != nil {
			latest = humanize.Time(t.LatestReply.IndexedAt)
		}
		head := fmt.Sprintf("%3d repl%s  %-14s  ", t.TotalReplies, plural(t.TotalReplies, "y", "ies"), latest)
		fmt.Fprintln(w, head+truncate(title, width-ansi.StringWidth(head)))
		if len(t.Participants) > 0 {
			fmt.Fprintln(w, "     "+truncate(strings.Join(prefixAll(t.Participants, "@"), " "), width-5))
		}
	}
}

func prefixAll(items []string, prefix string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = prefix + s
	}
	return out
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func bandColor(band skein.HealthBand) *color.Color {
	switch band {
	case skein.BandCritical:
		return color.New(color.FgRed, color.Bold)
	case skein.BandWarning:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}

// writeReport prints a storage health report.
func writeReport(w io.Writer, r *skein.StorageReport) {
	fmt.Fprintf(w, "Storage: %s of %s (%.1f%%) ",
		humanize.Bytes(uint64(r.TotalBytes)), humanize.Bytes(uint64(r.SoftCap)), r.Percent)
	bandColor(r.Band).Fprintln(w, strings.ToUpper(string(r.Band)))

	for _, tier := range r.Tiers {
		switch {
		case tier.Error != "":
			fmt.Fprintf(w, "  %-10s error: %s\n", tier.Name, tier.Error)
		case tier.Capacity > 0:
			fmt.Fprintf(w, "  %-10s %8s / %s  %s keys\n", tier.Name,
				humanize.Bytes(uint64(tier.Bytes)), humanize.Bytes(uint64(tier.Capacity)), humanize.Comma(int64(tier.Keys)))
		default:
			fmt.Fprintf(w, "  %-10s %8s  %s keys\n", tier.Name,
				humanize.Bytes(uint64(tier.Bytes)), humanize.Comma(int64(tier.Keys)))
		}
	}
	for _, rec := range r.Recommendations {
		fmt.Fprintln(w, "  - "+rec)
	}
}
