package market

// History is a fixed-capacity, insertion-ordered buffer of sealed candles.
// When full, pushing evicts the oldest entry. It is owned by exactly one
// Aggregator and is not safe for concurrent use.
type History struct {
	buf   []Candle
	start int
	size  int
}

// DefaultHistorySize bounds how many closed candles an engine keeps for
// indicator and strategy evaluation.
const DefaultHistorySize = 250

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{buf: make([]Candle, capacity)}
}

func (h *History) Cap() int { return len(h.buf) }
func (h *History) Len() int { return h.size }

// Push appends a sealed candle, evicting the oldest when at capacity.
func (h *History) Push(c Candle) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = c
		h.size++
		return
	}
	h.buf[h.start] = c
	h.start = (h.start + 1) % len(h.buf)
}

// Candles returns the history oldest-first as a fresh slice.
func (h *History) Candles() []Candle {
	out := make([]Candle, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Last returns the most recently pushed candle, if any.
func (h *History) Last() (Candle, bool) {
	if h.size == 0 {
		return Candle{}, false
	}
	return h.buf[(h.start+h.size-1)%len(h.buf)], true
}
