package playback

import (
	"testing"

	"github.com/douwec/octoplay/internal/emby"
)

func makeTracks(ids ...string) []emby.Item {
	items := make([]emby.Item, len(ids))
	for i, id := range ids {
		items[i] = emby.Item{ID: id, Name: "Track " + id, Type: "Audio"}
	}
	return items
}

func TestNextEmptyQueue(t *testing.T) {
	if _, _, ok := Next(nil, 0, false); ok {
		t.Error("Next() on empty queue should report ok=false")
	}
	if _, _, ok := Previous(nil, 0, false); ok {
		t.Error("Previous() on empty queue should report ok=false")
	}
}

func TestNextSequentialWraps(t *testing.T) {
	queue := makeTracks("a", "b", "c")

	tests := []struct {
		index     int
		wantID    string
		wantIndex int
	}{
		{0, "b", 1},
		{1, "c", 2},
		{2, "a", 0},
	}

	for _, tt := range tests {
		track, next, ok := Next(queue, tt.index, false)
		if !ok {
			t.Fatalf("Next(queue, %d) ok = false", tt.index)
		}
		if track.ID != tt.wantID || next != tt.wantIndex {
			t.Errorf("Next(queue, %d) = (%s, %d), want (%s, %d)",
				tt.index, track.ID, next, tt.wantID, tt.wantIndex)
		}
	}
}

func TestPreviousSequentialWraps(t *testing.T) {
	queue := makeTracks("a", "b", "c")

	tests := []struct {
		index     int
		wantID    string
		wantIndex int
	}{
		{2, "b", 1},
		{1, "a", 0},
		{0, "c", 2},
	}

	for _, tt := range tests {
		track, prev, ok := Previous(queue, tt.index, false)
		if !ok {
			t.Fatalf("Previous(queue, %d) ok = false", tt.index)
		}
		if track.ID != tt.wantID || prev != tt.wantIndex {
			t.Errorf("Previous(queue, %d) = (%s, %d), want (%s, %d)",
				tt.index, track.ID, prev, tt.wantID, tt.wantIndex)
		}
	}
}

func TestNextShuffleAvoidsRepeat(t *testing.T) {
	queue := makeTracks("a", "b", "c", "d", "e")

	for i := 0; i < 100; i++ {
		_, next, ok := Next(queue, 2, true)
		if !ok {
			t.Fatal("Next() shuffle ok = false")
		}
		if next == 2 {
			t.Fatal("shuffle repeated the current index with redraws available")
		}
		if next < 0 || next >= len(queue) {
			t.Fatalf("shuffle index %d out of range", next)
		}
	}
}

func TestNextShuffleSingleTrack(t *testing.T) {
	queue := makeTracks("only")

	track, next, ok := Next(queue, 0, true)
	if !ok || next != 0 || track.ID != "only" {
		t.Errorf("Next() single-track shuffle = (%s, %d, %v), want (only, 0, true)",
			track.ID, next, ok)
	}
}

func TestUpdateQueueWithContext(t *testing.T) {
	contextItems := []emby.Item{
		{ID: "t1", Type: "Audio"},
		{ID: "t2", Type: "Audio"},
		{ID: "folder", Type: "MusicAlbum"},
		{ID: "t3", Type: "Audio"},
	}
	played := emby.Item{ID: "t2", Type: "Audio", Name: "Enriched"}

	queue, index := UpdateQueue(makeTracks("old"), 0, played, contextItems)

	if len(queue) != 3 {
		t.Fatalf("queue length = %d, want 3 (non-audio filtered)", len(queue))
	}
	if index != 1 {
		t.Errorf("index = %d, want 1", index)
	}
	if queue[1].Name != "Enriched" {
		t.Error("played item should replace the context entry with the enriched copy")
	}
}

func TestUpdateQueueContextMissingItem(t *testing.T) {
	contextItems := makeTracks("t1", "t2")
	played := emby.Item{ID: "other", Type: "Audio"}

	queue, index := UpdateQueue(nil, -1, played, contextItems)

	if index != 0 {
		t.Errorf("index = %d, want 0 (item prepended)", index)
	}
	if len(queue) != 3 || queue[0].ID != "other" {
		t.Errorf("queue = %v, want played item at front", queue)
	}
}

func TestUpdateQueueWithoutContext(t *testing.T) {
	existing := makeTracks("a", "b")

	queue, index := UpdateQueue(existing, 0, emby.Item{ID: "c", Type: "Audio"}, nil)
	if len(queue) != 3 || index != 2 || queue[2].ID != "c" {
		t.Errorf("append: queue = %v, index = %d", queue, index)
	}

	queue, index = UpdateQueue(existing, 0, emby.Item{ID: "b", Type: "Audio", Name: "Updated"}, nil)
	if len(queue) != 2 || index != 1 {
		t.Errorf("in-place: queue length = %d, index = %d, want 2, 1", len(queue), index)
	}
	if queue[1].Name != "Updated" {
		t.Error("existing entry should be updated in place")
	}
}

func TestUpdateQueueDoesNotMutateInput(t *testing.T) {
	existing := makeTracks("a", "b")

	UpdateQueue(existing, 0, emby.Item{ID: "a", Type: "Audio", Name: "Changed"}, nil)

	if existing[0].Name == "Changed" {
		t.Error("UpdateQueue mutated the input slice")
	}
}
