// Package render memoizes per-record layout (wrapped line counts, computed
// heights) keyed by width/theme/reasoning-visibility, so redrawing every
// frame doesn't re-wrap every history record from scratch. New relative to
// the teacher, whose TUI (out of scope here, tui/blocks.go) recomputes via
// bubbletea's own reflow on every frame; this package keeps the same
// lipgloss/reflow wrapping math the teacher's TUI stack depends on, wired
// to a precise invalidation model instead.
package render

import (
	"github.com/muesli/reflow/wordwrap"

	"github.com/forgecore/agentcore/internal/history"
)

// SourceKind names what a Request's HistoryId should be rendered as.
type SourceKind string

const (
	SourceExec       SourceKind = "exec"
	SourceMergedExec SourceKind = "merged_exec"
	SourceExplore    SourceKind = "explore"
	SourceDiff       SourceKind = "diff"
	SourceStreaming  SourceKind = "streaming"
	SourceAssistant  SourceKind = "assistant"
	SourceLegacy     SourceKind = "legacy"
)

// Request names one history id the caller wants to render, plus enough
// context for the cache to lay it out on a miss.
type Request struct {
	HistoryID     history.ID
	Source        SourceKind
	FallbackLines []string // used when Source == SourceLegacy
}

// HeightSource records which of the five priority tiers actually produced a
// VisibleCell's height, letting tests and callers assert the fallback chain
// fired in the right order.
type HeightSource string

const (
	HeightFromAssistantPlan HeightSource = "assistant_plan"
	HeightFromLayout        HeightSource = "layout"
	HeightFromCachedHeight  HeightSource = "cached_height"
	HeightFromFallbackWrap  HeightSource = "fallback_wrap"
	HeightFromLegacyDesired HeightSource = "legacy_desired"
)

// Layout is the wrapped-line breakdown of one record at a given width.
type Layout struct {
	Lines []string
}

// VisibleCell is what Cache.VisibleCells returns per request: enough to
// blit a row without re-wrapping.
type VisibleCell struct {
	HistoryID    history.ID
	Height       int
	Layout       *Layout
	AssistantPlan *AssistantPlan
	HeightSource HeightSource
}

// AssistantPlan is a renderer-provided hint (e.g. from a structured plan
// block) that should dictate height ahead of the generic layout computation.
type AssistantPlan struct {
	Rows int
}

// Settings carries the knobs that participate in cache keys: a frame that
// changes width, theme, or reasoning visibility invalidates every entry
// whose key doesn't match the new tuple.
type Settings struct {
	Width            int
	ThemeEpoch       int
	ReasoningVisible bool
}

// CacheKey memoizes layout per (history_id, width, theme_epoch,
// reasoning_visible): a width change, theme change, or visibility toggle
// produces a different key, so a stale entry is never returned for the new
// tuple; it stays in the map until InvalidateHistoryID or InvalidateWidth
// removes it.
type CacheKey struct {
	HistoryID        history.ID
	Width            int
	ThemeEpoch       int
	ReasoningVisible bool
}

type cacheEntry struct {
	layout Layout
	height int
}

// Cache memoizes per-id layout and a prefix-sum row-height scan for O(log N)
// scroll hit-testing. It is owned by the render task; it reads HistoryState
// only through immutable borrows (a records snapshot handed in per call).
type Cache struct {
	entries map[CacheKey]cacheEntry

	prefixWidth int
	prefixCount int
	prefixSums  []int // prefixSums[i] = sum of heights of rows [0, i)
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[CacheKey]cacheEntry)}
}

// VisibleCells computes (or reuses) the VisibleCell for each request, given
// the current HistoryState snapshot and Settings. Height is computed from,
// in priority order: an assistant plan's row count, a previously cached
// height, the freshly wrapped layout's line count, a wrapped fallback-lines
// count, or (for legacy records) a caller-supplied desired-height callback.
func (c *Cache) VisibleCells(records []history.Record, requests []Request, settings Settings, legacyDesiredHeight func(history.ID, int) int) []VisibleCell {
	byID := make(map[history.ID]history.Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	out := make([]VisibleCell, 0, len(requests))
	for _, req := range requests {
		out = append(out, c.visibleCell(byID, req, settings, legacyDesiredHeight))
	}
	return out
}

func (c *Cache) visibleCell(byID map[history.ID]history.Record, req Request, settings Settings, legacyDesiredHeight func(history.ID, int) int) VisibleCell {
	key := CacheKey{HistoryID: req.HistoryID, Width: settings.Width, ThemeEpoch: settings.ThemeEpoch, ReasoningVisible: settings.ReasoningVisible}

	if plan := assistantPlanFor(byID[req.HistoryID]); plan != nil {
		return VisibleCell{HistoryID: req.HistoryID, Height: plan.Rows, AssistantPlan: plan, HeightSource: HeightFromAssistantPlan}
	}

	if entry, ok := c.entries[key]; ok {
		layout := entry.layout
		return VisibleCell{HistoryID: req.HistoryID, Height: entry.height, Layout: &layout, HeightSource: HeightFromCachedHeight}
	}

	lines := sourceLines(byID[req.HistoryID], req)
	if lines != nil {
		wrapped := wrapAll(lines, settings.Width)
		entry := cacheEntry{layout: Layout{Lines: wrapped}, height: len(wrapped)}
		c.entries[key] = entry
		layout := entry.layout
		return VisibleCell{HistoryID: req.HistoryID, Height: entry.height, Layout: &layout, HeightSource: HeightFromLayout}
	}

	if len(req.FallbackLines) > 0 {
		wrapped := wrapAll(req.FallbackLines, settings.Width)
		height := len(wrapped)
		c.entries[key] = cacheEntry{layout: Layout{Lines: wrapped}, height: height}
		return VisibleCell{HistoryID: req.HistoryID, Height: height, HeightSource: HeightFromFallbackWrap}
	}

	if legacyDesiredHeight != nil {
		height := legacyDesiredHeight(req.HistoryID, settings.Width)
		c.entries[key] = cacheEntry{height: height}
		return VisibleCell{HistoryID: req.HistoryID, Height: height, HeightSource: HeightFromLegacyDesired}
	}

	return VisibleCell{HistoryID: req.HistoryID, Height: 0, HeightSource: HeightFromLegacyDesired}
}

// assistantPlanFor reports a structured row-count hint when rec carries one.
// Only AssistantMessage records with plan metadata do today; this stays a
// free function so future record kinds can grow a plan hint without
// touching the cache's control flow.
func assistantPlanFor(rec history.Record) *AssistantPlan {
	if rec.Kind != history.KindAssistantMessage || rec.AssistantMessage == nil {
		return nil
	}
	rows, ok := rec.AssistantMessage.Metadata["plan_rows"]
	if !ok {
		return nil
	}
	n := 0
	for _, ch := range rows {
		if ch < '0' || ch > '9' {
			return nil
		}
		n = n*10 + int(ch-'0')
	}
	return &AssistantPlan{Rows: n}
}

// sourceLines renders rec's display text for wrapping, by Source. Returns
// nil when the record kind has no generic text form (the caller then falls
// back to FallbackLines).
func sourceLines(rec history.Record, req Request) []string {
	switch req.Source {
	case SourceExec:
		if rec.Kind != history.KindExec || rec.Exec == nil {
			return nil
		}
		return execLines(*rec.Exec)
	case SourceMergedExec:
		if rec.Kind != history.KindMergedExec || rec.MergedExec == nil {
			return nil
		}
		var lines []string
		for _, seg := range rec.MergedExec.Segments {
			lines = append(lines, execLines(seg)...)
		}
		return lines
	case SourceExplore:
		if rec.Kind != history.KindExplore || rec.Explore == nil {
			return nil
		}
		lines := make([]string, 0, len(rec.Explore.Entries))
		for _, e := range rec.Explore.Entries {
			lines = append(lines, string(e.Action)+": "+e.Summary)
		}
		return lines
	case SourceDiff:
		if rec.Kind != history.KindDiff || rec.Diff == nil {
			return nil
		}
		return splitLines(rec.Diff.UnifiedDiff)
	case SourceStreaming:
		if rec.Kind != history.KindAssistantStream || rec.AssistantStream == nil {
			return nil
		}
		text := rec.AssistantStream.PreviewMarkdown
		if rec.AssistantStream.InProgress {
			text += " " + ellipsisFrame()
		}
		return splitLines(text)
	case SourceAssistant:
		if rec.Kind != history.KindAssistantMessage || rec.AssistantMessage == nil {
			return nil
		}
		return splitLines(rec.AssistantMessage.Markdown)
	default:
		return nil
	}
}

func execLines(e history.Exec) []string {
	var lines []string
	lines = append(lines, "$ "+joinCommand(e.Command))
	if out := e.StdoutText(); out != "" {
		lines = append(lines, splitLines(out)...)
	}
	if errText := e.StderrText(); errText != "" {
		lines = append(lines, splitLines(errText)...)
	}
	return lines
}

func joinCommand(command []string) string {
	out := ""
	for i, c := range command {
		if i > 0 {
			out += " "
		}
		out += c
	}
	return out
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

// ellipsisFrame cycles a streaming record's trailing indicator. The frame
// only ever shows up while InProgress is true; once a record finalizes, the
// next VisibleCells call for that id takes the SourceAssistant path instead
// and the ellipsis disappears on its own.
var ellipsisFrames = []string{".", "..", "..."}
var ellipsisTick int

func ellipsisFrame() string {
	f := ellipsisFrames[ellipsisTick%len(ellipsisFrames)]
	ellipsisTick++
	return f
}

// wrapAll word-wraps each line to width using the same reflow wrapper the
// teacher's TUI stack already depends on (lipgloss composes atop it for
// styling, out of scope here — only the wrap-width math is in scope).
func wrapAll(lines []string, width int) []string {
	if width <= 0 {
		width = 80
	}
	var out []string
	for _, line := range lines {
		wrapped := wordwrap.String(line, width)
		out = append(out, splitLines(wrapped)...)
	}
	if out == nil {
		out = []string{""}
	}
	return out
}

// InvalidateHistoryID drops every cached entry for id, regardless of key,
// forcing the next VisibleCells call to recompute just that id's layout.
func (c *Cache) InvalidateHistoryID(id history.ID) {
	for key := range c.entries {
		if key.HistoryID == id {
			delete(c.entries, key)
		}
	}
	c.prefixSums = nil
}

// InvalidateWidth drops every entry whose key's width no longer matches
// newWidth.
func (c *Cache) InvalidateWidth(newWidth int) {
	for key := range c.entries {
		if key.Width != newWidth {
			delete(c.entries, key)
		}
	}
	c.prefixSums = nil
}
