package cache

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Entry is a summary produced by a backend for one (model, language, text).
type Entry struct {
	Text      string
	Backend   string
	ModelID   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// SummaryCache is a TTL cache of summarizer output. Repeated submissions of
// the same page do not pay for a second model call while the entry lives.
type SummaryCache struct {
	mu         sync.Mutex
	entries    map[uint64]Entry
	order      []uint64
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func NewSummaryCache(config Config) *SummaryCache {
	if config.TTL <= 0 {
		config.TTL = 6 * time.Hour
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 1000
	}
	return &SummaryCache{
		entries:    make(map[uint64]Entry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Key hashes the normalized parts; the input text itself is kept verbatim
// so whitespace-only edits still change the key.
func Key(model, language, text string) uint64 {
	digest := xxhash.New()
	_, _ = digest.WriteString(strings.ToLower(strings.TrimSpace(model)))
	_, _ = digest.WriteString("\x00")
	_, _ = digest.WriteString(strings.ToLower(strings.TrimSpace(language)))
	_, _ = digest.WriteString("\x00")
	_, _ = digest.WriteString(strconv.Itoa(len(text)))
	_, _ = digest.WriteString("\x00")
	_, _ = digest.WriteString(text)
	return digest.Sum64()
}

func (c *SummaryCache) Get(key uint64) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	if c.now().After(entry.ExpiresAt) {
		delete(c.entries, key)
		return Entry{}, false
	}
	return entry, true
}

func (c *SummaryCache) Set(key uint64, entry Entry) {
	if c == nil {
		return
	}
	now := c.now()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = entry
	c.evict()
}

func (c *SummaryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evict drops insertion-ordered keys until the cache fits, skipping keys that
// already expired and were removed by Get.
func (c *SummaryCache) evict() {
	for len(c.entries) > c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	if len(c.order) > 2*c.maxEntries {
		live := c.order[:0]
		for _, key := range c.order {
			if _, ok := c.entries[key]; ok {
				live = append(live, key)
			}
		}
		c.order = live
	}
}
