package socket

import (
	"regexp"
	"sync"
)

var scopedPathPattern = regexp.MustCompile(`^\w+:.+$`)

// NeedsUserScope reports whether path lacks a "word:rest" prefix and must be
// rewritten under the signed-in user.
func NeedsUserScope(path string) bool {
	return !scopedPathPattern.MatchString(path)
}

// NormalizePath rewrites "cpu" to "user:<userID>/cpu". Scoped paths such as
// "room:W1N1" are returned unchanged.
func NormalizePath(path string, userID string) string {
	if !NeedsUserScope(path) {
		return path
	}
	return "user:" + userID + "/" + path
}

// Registry reference-counts subscriptions by normalized path.
type Registry struct {
	mu     sync.Mutex
	counts map[string]int
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{counts: map[string]int{}}
}

// Add increments path and returns its new count.
func (r *Registry) Add(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.counts[path]; !ok {
		r.order = append(r.order, path)
	}
	r.counts[path]++
	return r.counts[path]
}

// Remove decrements path and returns its new count. Removing an unknown path
// is a no-op.
func (r *Registry) Remove(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.counts[path]
	if !ok {
		return 0
	}
	n--
	if n > 0 {
		r.counts[path] = n
		return n
	}
	delete(r.counts, path)
	for i, p := range r.order {
		if p == path {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return 0
}

func (r *Registry) Count(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[path]
}

// Active lists paths with a positive count in first-subscribed order.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}
