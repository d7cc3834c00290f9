package render

import (
	"testing"

	"github.com/forgecore/agentcore/internal/history"
)

func assistantRecord(id history.ID, markdown string) history.Record {
	return history.Record{ID: id, Kind: history.KindAssistantMessage, AssistantMessage: &history.AssistantMessage{Markdown: markdown}}
}

func TestVisibleCellsIsIdempotentForUnchangedState(t *testing.T) {
	records := []history.Record{assistantRecord(1, "hello world, this is a longer message")}
	requests := []Request{{HistoryID: 1, Source: SourceAssistant}}
	settings := Settings{Width: 10}

	c := New()
	first := c.VisibleCells(records, requests, settings, nil)
	second := c.VisibleCells(records, requests, settings, nil)

	if first[0].Height != second[0].Height {
		t.Fatalf("expected equal heights across idempotent calls, got %d vs %d", first[0].Height, second[0].Height)
	}
	if len(first[0].Layout.Lines) != len(second[0].Layout.Lines) {
		t.Fatalf("expected equal layouts across idempotent calls")
	}
	if second[0].HeightSource != HeightFromCachedHeight {
		t.Fatalf("expected second call to hit the cache, got %v", second[0].HeightSource)
	}
}

func TestInvalidateHistoryIDOnlyAffectsThatID(t *testing.T) {
	records := []history.Record{assistantRecord(1, "one"), assistantRecord(2, "two")}
	requests := []Request{{HistoryID: 1, Source: SourceAssistant}, {HistoryID: 2, Source: SourceAssistant}}
	settings := Settings{Width: 40}

	c := New()
	c.VisibleCells(records, requests, settings, nil)
	c.InvalidateHistoryID(1)

	cells := c.VisibleCells(records, requests, settings, nil)
	if cells[0].HeightSource != HeightFromLayout {
		t.Fatalf("expected id 1 to recompute after invalidation, got %v", cells[0].HeightSource)
	}
	if cells[1].HeightSource != HeightFromCachedHeight {
		t.Fatalf("expected id 2 to remain cached, got %v", cells[1].HeightSource)
	}
}

func TestWidthChangeDropsStaleEntries(t *testing.T) {
	records := []history.Record{assistantRecord(1, "a fairly long line that will wrap differently at different widths")}
	requests := []Request{{HistoryID: 1, Source: SourceAssistant}}

	c := New()
	c.VisibleCells(records, requests, Settings{Width: 80}, nil)
	c.InvalidateWidth(20)

	cells := c.VisibleCells(records, requests, Settings{Width: 20}, nil)
	if cells[0].HeightSource != HeightFromLayout {
		t.Fatalf("expected a fresh computation at the new width, got %v", cells[0].HeightSource)
	}
}

func TestAssistantPlanTakesPriorityOverLayout(t *testing.T) {
	rec := assistantRecord(1, "x")
	rec.AssistantMessage.Metadata = map[string]string{"plan_rows": "7"}

	c := New()
	cells := c.VisibleCells([]history.Record{rec}, []Request{{HistoryID: 1, Source: SourceAssistant}}, Settings{Width: 40}, nil)
	if cells[0].HeightSource != HeightFromAssistantPlan || cells[0].Height != 7 {
		t.Fatalf("expected assistant-plan height of 7, got %+v", cells[0])
	}
}

func TestLegacyFallsBackToDesiredHeight(t *testing.T) {
	c := New()
	calls := 0
	desired := func(id history.ID, width int) int {
		calls++
		return 3
	}
	cells := c.VisibleCells(nil, []Request{{HistoryID: 99, Source: SourceLegacy}}, Settings{Width: 40}, desired)
	if cells[0].Height != 3 || cells[0].HeightSource != HeightFromLegacyDesired {
		t.Fatalf("expected legacy desired-height fallback, got %+v", cells[0])
	}
	if calls != 1 {
		t.Fatalf("expected desired-height callback to be invoked once, got %d", calls)
	}
}

func TestRowAtOffsetBinarySearch(t *testing.T) {
	c := New()
	heights := []int{2, 3, 1, 4}
	sums := c.PrefixSums(heights, 80)

	cases := []struct {
		y        int
		wantRow  int
	}{
		{0, 0}, {1, 0}, {2, 1}, {4, 1}, {5, 2}, {6, 3}, {9, 3},
	}
	for _, tc := range cases {
		row, ok := RowAtOffset(sums, tc.y)
		if !ok || row != tc.wantRow {
			t.Fatalf("RowAtOffset(%d) = (%d, %v), want row %d", tc.y, row, ok, tc.wantRow)
		}
	}

	if _, ok := RowAtOffset(sums, 100); ok {
		t.Fatal("expected out-of-range offset to report not found")
	}
}

func TestPrefixSumsMemoizedUntilInputsChange(t *testing.T) {
	c := New()
	heights := []int{1, 2, 3}
	first := c.PrefixSums(heights, 80)
	second := c.PrefixSums(heights, 80)
	if &first[0] != &second[0] {
		t.Fatal("expected the same backing array when width/count are unchanged")
	}

	third := c.PrefixSums([]int{1, 2, 3, 4}, 80)
	if len(third) != 5 {
		t.Fatalf("expected recomputed prefix sums for a new row count, got len %d", len(third))
	}
}
