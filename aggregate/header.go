package aggregate

// Header is an insertion-ordered set of column names. The unified header's
// order is part of the output contract, so it is tracked explicitly instead
// of being read back from a map.
type Header struct {
	names []string
	index map[string]int
}

func NewHeader() *Header {
	return &Header{index: make(map[string]int)}
}

// Add appends name unless it is already present and reports whether it was new.
func (h *Header) Add(name string) bool {
	if _, ok := h.index[name]; ok {
		return false
	}
	h.index[name] = len(h.names)
	h.names = append(h.names, name)
	return true
}

// Merge adds names in order and returns the ones that were new.
func (h *Header) Merge(names []string) []string {
	var added []string
	for _, name := range names {
		if h.Add(name) {
			added = append(added, name)
		}
	}
	return added
}

func (h *Header) Index(name string) (int, bool) {
	i, ok := h.index[name]
	return i, ok
}

func (h *Header) Len() int {
	return len(h.names)
}

// Names returns a copy of the columns in insertion order.
func (h *Header) Names() []string {
	out := make([]string, len(h.names))
	copy(out, h.names)
	return out
}
