package discovery

import (
	"sync"
	"time"

	"github.com/core-tools/hsu-quaestor/pkg/registry"
)

// RecentlyUsed remembers which locations were handed out lately. Entries
// expire lazily: the head of the queue is pruned whenever it is consulted.
type RecentlyUsed struct {
	cooldown time.Duration
	now      func() time.Time

	mutex   sync.Mutex
	entries []*QualifiedService
}

func NewRecentlyUsed(cooldown time.Duration) *RecentlyUsed {
	return &RecentlyUsed{
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Deprioritize moves candidates handed out within the cooldown to the end
// of the list, keeping the relative order of both groups. Lists with a
// single candidate are returned unchanged.
func (r *RecentlyUsed) Deprioritize(services []*QualifiedService) []*QualifiedService {
	if len(services) <= 1 {
		return services
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.prune()
	if len(r.entries) == 0 {
		return services
	}

	used := make(map[registry.ServiceLocation]bool, len(r.entries))
	for _, entry := range r.entries {
		used[entry.Location] = true
	}

	fresh := make([]*QualifiedService, 0, len(services))
	var recent []*QualifiedService
	for _, service := range services {
		if used[service.Location] {
			recent = append(recent, service)
		} else {
			fresh = append(fresh, service)
		}
	}
	return append(fresh, recent...)
}

// Use stamps the returned candidates and enqueues them
func (r *RecentlyUsed) Use(services []*QualifiedService) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.now()
	for _, service := range services {
		service.LastUsed = now
		r.entries = append(r.entries, service)
	}
}

// Len counts the entries still within their cooldown
func (r *RecentlyUsed) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.prune()
	return len(r.entries)
}

func (r *RecentlyUsed) prune() {
	now := r.now()
	expired := 0
	for expired < len(r.entries) && r.entries[expired].LastUsed.Add(r.cooldown).Before(now) {
		expired++
	}
	if expired > 0 {
		r.entries = append(r.entries[:0:0], r.entries[expired:]...)
	}
}
