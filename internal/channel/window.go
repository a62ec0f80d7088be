package channel

import (
	"github.com/hashicorp/golang-lru/simplelru"

	"github.com/danghamo/nearby/internal/domain/chat"
)

// dedupWindow remembers the last n message ids. Lookups go through Contains,
// which leaves recency alone, so eviction follows arrival order.
type dedupWindow struct {
	ids *simplelru.LRU
}

func newDedupWindow(limit int) *dedupWindow {
	if limit <= 0 {
		limit = DefaultConfig().MessageLimit
	}
	ids, err := simplelru.NewLRU(limit, nil)
	if err != nil {
		// only a non-positive size fails
		panic(err)
	}
	return &dedupWindow{ids: ids}
}

func (w *dedupWindow) contains(id chat.MessageID) bool {
	return w.ids.Contains(id)
}

// add records id, forgetting the oldest id once the window is full
func (w *dedupWindow) add(id chat.MessageID) {
	if w.ids.Contains(id) {
		return
	}
	w.ids.Add(id, struct{}{})
}

func (w *dedupWindow) len() int {
	return w.ids.Len()
}
