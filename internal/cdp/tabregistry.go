package cdp

import (
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/mediasniff/internal/types"
)

// TabRegistry maps CDP target IDs to numeric tab IDs.
type TabRegistry struct {
	tabs  map[target.ID]*types.TabInfo
	byTab map[int]target.ID
	mu    sync.RWMutex
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{
		tabs:  make(map[target.ID]*types.TabInfo),
		byTab: make(map[int]target.ID),
	}
}

// TabIDFromTargetID derives a stable positive tab ID from a target ID, so a
// restarted process maps a surviving tab back to its durable session. Chromium
// target IDs are hex; the first seven digits are used when possible.
func TabIDFromTargetID(targetID string) int {
	if len(targetID) >= 7 {
		if v, err := strconv.ParseUint(targetID[:7], 16, 32); err == nil && v > 0 {
			return int(v)
		}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(targetID))
	return int(h.Sum32()&0x7fffffff) | 1
}

// Register records or refreshes a target. A target keeps its tab ID across
// navigations.
func (r *TabRegistry) Register(targetID target.ID, url string) *types.TabInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.tabs[targetID]; ok {
		info.URL = url
		copied := *info
		return &copied
	}

	id := TabIDFromTargetID(string(targetID))
	for {
		owner, taken := r.byTab[id]
		if !taken || owner == targetID {
			break
		}
		id++
	}

	info := &types.TabInfo{TargetID: string(targetID), TabID: id, URL: url}
	r.tabs[targetID] = info
	r.byTab[id] = targetID
	copied := *info
	return &copied
}

func (r *TabRegistry) Get(targetID target.ID) (*types.TabInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tabs[targetID]
	if !ok {
		return nil, false
	}
	copied := *info
	return &copied, true
}

func (r *TabRegistry) GetByStringID(targetID string) (*types.TabInfo, bool) {
	return r.Get(target.ID(targetID))
}

// Remove forgets a target and returns its tab ID.
func (r *TabRegistry) Remove(targetID target.ID) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.tabs[targetID]
	if !ok {
		return 0, false
	}
	delete(r.tabs, targetID)
	delete(r.byTab, info.TabID)
	return info.TabID, true
}

// List returns every registered tab.
func (r *TabRegistry) List() []types.TabInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.TabInfo, 0, len(r.tabs))
	for _, info := range r.tabs {
		out = append(out, *info)
	}
	return out
}

func (r *TabRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}
