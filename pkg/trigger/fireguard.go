package trigger

import (
	"fmt"
	"sync"
)

// FireGuard makes trigger firing idempotent per (agent, trigger index,
// message): once a specific trigger on a specific agent has fired for
// a given message ID, it will not fire for that same message ID again.
// A republished copy carries a new message ID, so the guard does not
// cover it. The seen-set lives in memory only; a resumed cluster starts
// with an empty guard. Keying by trigger index as well as
// agent lets two different triggers on the same agent both react to
// the same message.
type FireGuard struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewFireGuard() *FireGuard {
	return &FireGuard{seen: make(map[string]struct{})}
}

func key(agent string, triggerIndex int, messageID string) string {
	return fmt.Sprintf("%s\x00%d\x00%s", agent, triggerIndex, messageID)
}

// Seen reports whether agent's trigger at triggerIndex has already
// fired for messageID.
func (f *FireGuard) Seen(agent string, triggerIndex int, messageID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.seen[key(agent, triggerIndex, messageID)]
	return ok
}

// MarkSeen records that agent's trigger at triggerIndex has fired for
// messageID.
func (f *FireGuard) MarkSeen(agent string, triggerIndex int, messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[key(agent, triggerIndex, messageID)] = struct{}{}
}
