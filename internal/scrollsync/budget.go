package scrollsync

import "sync/atomic"

// suppressBudget counts the echoes a leader still expects from its latest
// broadcast. Epoch and count share one word so a settlement from an older
// episode can never drain the current one: the high 32 bits hold the epoch,
// the low 32 bits the count.
type suppressBudget struct {
	state atomic.Uint64
}

// reset starts a new episode expecting n echoes and returns its epoch.
func (b *suppressBudget) reset(n int) uint32 {
	if n < 0 {
		n = 0
	}
	for {
		old := b.state.Load()
		epoch := uint32(old>>32) + 1
		if b.state.CompareAndSwap(old, uint64(epoch)<<32|uint64(uint32(n))) {
			return epoch
		}
	}
}

// settle consumes one expected echo of epoch. It is a no-op for a stale epoch
// or an empty budget; the count never goes below zero.
func (b *suppressBudget) settle(epoch uint32) bool {
	for {
		old := b.state.Load()
		if uint32(old>>32) != epoch || uint32(old) == 0 {
			return false
		}
		if b.state.CompareAndSwap(old, old-1) {
			return true
		}
	}
}

func (b *suppressBudget) pending() int {
	return int(uint32(b.state.Load()))
}

func (b *suppressBudget) epoch() uint32 {
	return uint32(b.state.Load() >> 32)
}

// echoToken ties a follower's expected echo back to the leader's budget.
// The zero token (no leader) is used for self-initiated scrolls.
type echoToken struct {
	leader *Synchronizer
	epoch  uint32
}

func (t echoToken) settle() {
	if t.leader == nil {
		return
	}
	t.leader.budget.settle(t.epoch)
}
