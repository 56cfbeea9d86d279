package channelstore

// Deliverer is the per-connection outbound path (out of scope: owned by
// the wire-protocol layer). Probe reports whether the connection's
// outbound memory budget currently allows another message.
type Deliverer interface {
	Probe() bool
	Deliver(channel string, payload []byte)
}

// Dispatcher fans work out to a recipient's home thread; shardset.Set
// satisfies this via DispatchBrief.
type Dispatcher interface {
	DispatchBrief(shardID int, fn func())
}

// ConnRegistry resolves a connection id to its current Deliverer; the
// wire layer owns the actual connection table.
type ConnRegistry func(connID uint64) (Deliverer, bool)

// SendMessages publishes payload to channel: it resolves recipients from
// the current published Store, groups them by home thread, and dispatches
// one brief task per home thread to perform delivery — matching spec.md
// §4.5 "Publication": "build a small per-message buffer shared by a
// pointer, and dispatch a brief task to each home thread... Before
// delivery, each home thread's outbound memory budget is probed."
func (cb *ControlBlock) SendMessages(dispatch Dispatcher, resolve ConnRegistry, channel string, payload []byte) int {
	store := cb.Load()
	recipients := store.Match(channel)
	if len(recipients) == 0 {
		return 0
	}

	byThread := make(map[int][]Recipient)
	for _, r := range recipients {
		byThread[r.HomeThreadID] = append(byThread[r.HomeThreadID], r)
	}

	// payload is shared read-only by every dispatched task; no copy needed
	// since none of them mutate it.
	for threadID, recips := range byThread {
		recips := recips
		dispatch.DispatchBrief(threadID, func() {
			for _, r := range recips {
				conn, ok := resolve(r.ConnID)
				if !ok || !conn.Probe() {
					continue
				}
				conn.Deliver(channel, payload)
			}
		})
	}
	return len(recipients)
}
