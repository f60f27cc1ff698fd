package presence

// Unread holds live per-counterpart unread counters. Like TypingTracker
// it relies on its owner for serialization.
type Unread struct {
	counts map[string]int
}

func NewUnread() *Unread {
	return &Unread{counts: make(map[string]int)}
}

func (u *Unread) Inc(id string) int {
	u.counts[id]++
	return u.counts[id]
}

func (u *Unread) Clear(id string) {
	delete(u.counts, id)
}

func (u *Unread) Get(id string) int {
	return u.counts[id]
}

func (u *Unread) Snapshot() map[string]int {
	out := make(map[string]int, len(u.counts))
	for id, n := range u.counts {
		out[id] = n
	}
	return out
}
