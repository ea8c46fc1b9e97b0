package cisd

import (
	"sort"
	"sync"
)

// Entry is one bucket of a histogram.
type Entry struct {
	Key   int `json:"key"`
	Count int `json:"count"`
}

// Histogram is a key-sorted list of counters. The key space is bounded by
// two implicit sentinels, 0 and the maximum key; keys at or above the maximum
// are never stored.
type Histogram struct {
	mu      sync.Mutex
	maxKey  int
	entries []Entry
}

// NewHistogram returns an empty histogram accepting keys below maxKey.
func NewHistogram(maxKey int) *Histogram {
	return &Histogram{maxKey: maxKey}
}

// MaxKey returns the upper sentinel of the key space.
func (h *Histogram) MaxKey() int {
	return h.maxKey
}

// Reset discards every bucket.
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = nil
}

// Count increments the bucket for key, inserting it in sorted position when
// it does not exist yet. It reports whether the key was accepted.
func (h *Histogram) Count(key int) bool {
	if key < 0 || key >= h.maxKey {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	i := sort.Search(len(h.entries), func(i int) bool { return h.entries[i].Key >= key })
	if i < len(h.entries) && h.entries[i].Key == key {
		h.entries[i].Count++
		return true
	}

	h.entries = append(h.entries, Entry{})
	copy(h.entries[i+1:], h.entries[i:])
	h.entries[i] = Entry{Key: key, Count: 1}

	return true
}

// Get returns the count stored for key.
func (h *Histogram) Get(key int) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := sort.Search(len(h.entries), func(i int) bool { return h.entries[i].Key >= key })
	if i < len(h.entries) && h.entries[i].Key == key {
		return h.entries[i].Count
	}
	return 0
}

// Len returns the number of distinct keys.
func (h *Histogram) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.entries)
}

// Entries returns a copy of the buckets in ascending key order.
func (h *Histogram) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	ret := make([]Entry, len(h.entries))
	copy(ret, h.entries)
	return ret
}

// replace swaps the content for entries, which must already be validated and
// sorted.
func (h *Histogram) replace(entries []Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = entries
}

// sortEntries sorts and merges duplicated keys.
func sortEntries(entries []Entry) []Entry {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	ret := entries[:0]
	for _, e := range entries {
		if n := len(ret); n > 0 && ret[n-1].Key == e.Key {
			ret[n-1].Count += e.Count
			continue
		}
		ret = append(ret, e)
	}
	return ret
}
