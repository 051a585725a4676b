package relay

import "net"

type role uint8

const (
	roleDownstream role = iota
	roleUpstream
)

// handle addresses an arena slot at a particular generation. A handle issued
// before the slot was released no longer resolves, which is what protects a
// paired connection from forwarding into a since-recycled slot.
type handle struct {
	idx int32
	gen uint32
}

// noPartner is the sentinel for an unpaired connection.
var noPartner = handle{idx: -1}

type slot struct {
	gen  uint32
	live bool

	role    role
	conn    net.Conn
	addr    string
	partner handle
	wq      chan []byte
}

// arena is a free-list-backed pool of connection slots. It is owned by the
// event-loop goroutine and must not be touched from anywhere else.
type arena struct {
	slots []*slot
	free  []int32
}

func (a *arena) alloc() handle {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		sl := a.slots[idx]
		sl.live = true
		sl.partner = noPartner
		return handle{idx: idx, gen: sl.gen}
	}

	a.slots = append(a.slots, &slot{live: true, partner: noPartner})
	return handle{idx: int32(len(a.slots) - 1)}
}

// get resolves h to its slot, or reports false if h is stale or unpaired.
func (a *arena) get(h handle) (*slot, bool) {
	if h.idx < 0 || int(h.idx) >= len(a.slots) {
		return nil, false
	}
	sl := a.slots[h.idx]
	if !sl.live || sl.gen != h.gen {
		return nil, false
	}
	return sl, true
}

// release returns a slot to the free list. Bumping the generation invalidates
// every handle issued for the slot's previous life.
func (a *arena) release(h handle) {
	sl := a.slots[h.idx]
	sl.live = false
	sl.gen++
	sl.conn = nil
	sl.wq = nil
	sl.partner = noPartner
	a.free = append(a.free, h.idx)
}

// liveHandles returns a handle for every slot currently in use.
func (a *arena) liveHandles() []handle {
	var hs []handle
	for i, sl := range a.slots {
		if sl.live {
			hs = append(hs, handle{idx: int32(i), gen: sl.gen})
		}
	}
	return hs
}
