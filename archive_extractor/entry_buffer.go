package archive_extractor

// entryBuffer retains the most recent entries up to a fixed count. Pushing
// past the cap evicts the oldest entry and closes its data stream.
type entryBuffer struct {
	max  int
	ring []*Entry
	head int
}

func newEntryBuffer(max int) *entryBuffer {
	return &entryBuffer{max: max, ring: make([]*Entry, 0, min(max, 64))}
}

// push appends e and returns the evicted entry, if any.
func (b *entryBuffer) push(e *Entry) *Entry {
	if len(b.ring) < b.max {
		b.ring = append(b.ring, e)
		return nil
	}
	evicted := b.ring[b.head]
	b.ring[b.head] = e
	b.head = (b.head + 1) % b.max
	_ = evicted.Close()
	return evicted
}

func (b *entryBuffer) count() int {
	return len(b.ring)
}

// entries returns the retained entries oldest first.
func (b *entryBuffer) entries() []*Entry {
	out := make([]*Entry, 0, len(b.ring))
	for i := range b.ring {
		out = append(out, b.ring[(b.head+i)%len(b.ring)])
	}
	return out
}

func (b *entryBuffer) infos() []EntryInfo {
	out := make([]EntryInfo, 0, len(b.ring))
	for _, e := range b.entries() {
		out = append(out, e.Info())
	}
	return out
}

func (b *entryBuffer) closeAll() {
	for _, e := range b.ring {
		_ = e.Close()
	}
}
