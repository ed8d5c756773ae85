package playback

import (
	"math/rand"

	"github.com/douwec/octoplay/internal/emby"
)

// shuffleAttempts bounds the random redraws used to avoid repeating the
// current track. When every draw collides the last draw wins; this is a
// best-effort anti-repeat policy, not a guarantee.
const shuffleAttempts = 20

// Next returns the track that follows index in the queue. Without shuffle
// the advance is cyclic. ok is false only for an empty queue.
func Next(queue []emby.Item, index int, shuffle bool) (track emby.Item, nextIndex int, ok bool) {
	if len(queue) == 0 {
		return emby.Item{}, -1, false
	}

	if shuffle {
		if len(queue) == 1 {
			return queue[0], 0, true
		}
		next := index
		for i := 0; next == index && i < shuffleAttempts; i++ {
			next = rand.Intn(len(queue))
		}
		return queue[next], next, true
	}

	next := (index + 1) % len(queue)
	return queue[next], next, true
}

// Previous is the mirror of Next, decrementing cyclically without shuffle.
func Previous(queue []emby.Item, index int, shuffle bool) (track emby.Item, prevIndex int, ok bool) {
	if len(queue) == 0 {
		return emby.Item{}, -1, false
	}

	if shuffle {
		if len(queue) == 1 {
			return queue[0], 0, true
		}
		prev := index
		for i := 0; prev == index && i < shuffleAttempts; i++ {
			prev = rand.Intn(len(queue))
		}
		return queue[prev], prev, true
	}

	prev := index - 1
	if prev < 0 {
		prev = len(queue) - 1
	}
	return queue[prev], prev, true
}

// UpdateQueue computes the queue after playing item. When context is
// non-nil the queue is replaced wholesale by the context's audio items and
// the played item is located in it by id (inserted at the front if absent).
// Without a context the item is appended if new or updated in place.
func UpdateQueue(queue []emby.Item, index int, item emby.Item, context []emby.Item) ([]emby.Item, int) {
	if context != nil {
		newQueue := make([]emby.Item, 0, len(context))
		for _, it := range context {
			if it.IsAudio() {
				newQueue = append(newQueue, it)
			}
		}
		newIndex := indexByID(newQueue, item.ID)
		if newIndex == -1 {
			newQueue = append([]emby.Item{item}, newQueue...)
			newIndex = 0
		} else {
			// Replace the entry with the enriched item.
			newQueue[newIndex] = item
		}
		return newQueue, newIndex
	}

	newQueue := append([]emby.Item(nil), queue...)
	newIndex := indexByID(newQueue, item.ID)
	if newIndex == -1 {
		newQueue = append(newQueue, item)
		newIndex = len(newQueue) - 1
	} else {
		newQueue[newIndex] = item
	}
	return newQueue, newIndex
}

func indexByID(queue []emby.Item, id string) int {
	for i, it := range queue {
		if it.ID == id {
			return i
		}
	}
	return -1
}
