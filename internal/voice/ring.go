package voice

// Ring is a byte-capped buffer of recent PCM audio. Writes that would exceed
// the cap evict the oldest bytes first, so the buffer always holds the most
// recent audio up to the cap. The retained window feeds voice verification.
//
// Ring is not safe for concurrent use on its own; [Session] guards it.
type Ring struct {
	limit int
	buf   []byte
}

// NewRing returns a ring holding at most capBytes of audio.
func NewRing(capBytes int) *Ring {
	if capBytes <= 0 {
		capBytes = 1
	}
	return &Ring{limit: capBytes, buf: make([]byte, 0, capBytes)}
}

// Write appends p, evicting the oldest bytes if the cap would be exceeded.
func (r *Ring) Write(p []byte) {
	if len(p) >= r.limit {
		r.buf = append(r.buf[:0], p[len(p)-r.limit:]...)
		return
	}
	r.buf = append(r.buf, p...)
	if over := len(r.buf) - r.limit; over > 0 {
		r.buf = append(r.buf[:0], r.buf[over:]...)
	}
}

// Bytes returns a copy of the buffered audio, oldest first.
func (r *Ring) Bytes() []byte {
	cp := make([]byte, len(r.buf))
	copy(cp, r.buf)
	return cp
}

// Len reports the number of buffered bytes.
func (r *Ring) Len() int { return len(r.buf) }

// Cap reports the configured byte cap.
func (r *Ring) Cap() int { return r.limit }

// Clear discards all buffered audio.
func (r *Ring) Clear() { r.buf = r.buf[:0] }
