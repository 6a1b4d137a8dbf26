package resource

import "testing"

func TestIdManagerGetItemThenFinish(t *testing.T) {
	tests := []struct {
		name string
		n    int
	}{
		{name: "three items", n: 3},
		{name: "single item", n: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewIdManager(tt.n, 5)
			for i := 0; i < tt.n; i++ {
				item, ok := m.GetItem(false, 0)
				if !ok {
					t.Fatalf("expected item %d to be handed out", i)
				}
				if item.Attempt != 1 {
					t.Fatalf("expected attempt 1 on first hand-out, got %d", item.Attempt)
				}
				if !m.FinishItem(item.No) {
					t.Fatalf("FinishItem(%d) should succeed the first time", item.No)
				}
				if m.FinishItem(item.No) {
					t.Fatalf("FinishItem(%d) must return false once already done", item.No)
				}
			}
			if m.Done() != tt.n {
				t.Fatalf("Done()=%d, want %d", m.Done(), tt.n)
			}
			if _, ok := m.GetItem(false, 0); ok {
				t.Fatalf("GetItem should return nothing once every item is done")
			}
		})
	}
}

func TestReturnBackItemReallocates(t *testing.T) {
	m := NewIdManager(1, 5)
	first, ok := m.GetItem(false, 0)
	if !ok {
		t.Fatal("expected an item")
	}
	m.ReturnBackItem(first.No)
	if m.Pending() != 1 {
		t.Fatalf("item should be pending again after ReturnBackItem, Pending()=%d", m.Pending())
	}
	second, ok := m.GetItem(false, 0)
	if !ok {
		t.Fatal("expected the item to be re-handed-out")
	}
	if second.Attempt != 2 {
		t.Fatalf("attempt should have incremented across re-handout, got %d", second.Attempt)
	}
}

func TestReturnBackItemKeepsAllocatedUnderSpeculation(t *testing.T) {
	m := NewIdManager(1, 5)
	a, _ := m.GetItem(false, 0)
	b, ok := m.GetCertainItem(a.No)
	if !ok {
		t.Fatal("expected a speculative duplicate attempt")
	}
	m.ReturnBackItem(a.No)
	if !m.IsAllocated(a.No) {
		t.Fatal("item should remain allocated while a second attempt (b) is still live")
	}
	m.ReturnBackItem(b.No)
	if m.IsAllocated(a.No) {
		t.Fatal("item should return to pending once every outstanding attempt is returned")
	}
}

func TestGetCertainItemRefusesDoneItem(t *testing.T) {
	m := NewIdManager(1, 5)
	item, _ := m.GetItem(false, 0)
	m.FinishItem(item.No)
	if _, ok := m.GetCertainItem(item.No); ok {
		t.Fatal("GetCertainItem must refuse an already-done item")
	}
}

func TestGetCertainItemCapsAtParallelAttempts(t *testing.T) {
	m := NewIdManager(1, 2)
	item, _ := m.GetItem(false, 0) // allocated=1
	if _, ok := m.GetCertainItem(item.No); !ok {
		t.Fatal("second attempt should be allowed") // allocated=2
	}
	if _, ok := m.GetCertainItem(item.No); ok {
		t.Fatal("third concurrent attempt should be refused once parallelAttempts is exceeded")
	}
}

func TestGetItemSpeculatesPastEndGameBegin(t *testing.T) {
	m := NewIdManager(4, 5)
	for i := 0; i < 4; i++ {
		m.GetItem(false, 0)
	}
	if _, ok := m.GetItem(false, 2); ok {
		t.Fatal("without speculation, GetItem must return nothing once all items are allocated")
	}
	item, ok := m.GetItem(true, 2)
	if !ok {
		t.Fatal("with speculation enabled, GetItem should return an allocated item >= endGameBegin")
	}
	if item.No < 2 {
		t.Fatalf("speculative item.No=%d should be >= end game threshold 2", item.No)
	}
}

func TestLoadDumpRoundTrip(t *testing.T) {
	m := NewIdManager(3, 5)
	item, _ := m.GetItem(false, 0)
	m.FinishItem(item.No)
	m.GetItem(false, 0)

	dumped := m.Dump()
	replay := NewIdManager(3, 5)
	replay.Load(dumped)

	if replay.Done() != m.Done() || replay.Allocated() != m.Allocated() || replay.Pending() != m.Pending() {
		t.Fatalf("replayed manager counts diverge: got pending=%d allocated=%d done=%d, want pending=%d allocated=%d done=%d",
			replay.Pending(), replay.Allocated(), replay.Done(), m.Pending(), m.Allocated(), m.Done())
	}
	redumped := replay.Dump()
	for i := range dumped {
		if dumped[i] != redumped[i] {
			t.Fatalf("item %d diverged across Load(Dump(x)): %+v vs %+v", i, dumped[i], redumped[i])
		}
	}
}

func TestMapManagerPreservesSplitMetadataAcrossAttempts(t *testing.T) {
	splits := SplitByRange([]FileInfo{{Path: "a.txt", Size: 100}}, 0)
	m := NewMapManager(splits, 5)
	item, ok := m.GetItem(false, 0)
	if !ok {
		t.Fatal("expected the single split to be handed out")
	}
	if item.InputFile != "a.txt" || item.Length != 100 {
		t.Fatalf("split metadata lost on hand-out: %+v", item)
	}
	m.ReturnBackItem(item.No)
	again, _ := m.GetItem(false, 0)
	if again.InputFile != "a.txt" || again.Length != 100 || again.Attempt != 2 {
		t.Fatalf("split metadata or attempt counter lost across re-handout: %+v", again)
	}
}

func TestSplitByRangeChunksLargeFiles(t *testing.T) {
	items := SplitByRange([]FileInfo{{Path: "big", Size: 150}}, 64)
	if len(items) != 3 {
		t.Fatalf("expected 3 chunks of a 150-byte file split at 64 bytes, got %d", len(items))
	}
	if items[2].Length != 150-128 {
		t.Fatalf("last chunk should carry the remainder, got length %d", items[2].Length)
	}
}

func TestSplitByLineChunksLargeFiles(t *testing.T) {
	items := SplitByLine([]FileInfo{{Path: "big"}}, []int64{250}, 100)
	if len(items) != 3 {
		t.Fatalf("expected 3 line chunks of 250 lines split at 100, got %d", len(items))
	}
	if items[2].LineCount != 50 {
		t.Fatalf("last chunk should carry the remaining 50 lines, got %d", items[2].LineCount)
	}
}
