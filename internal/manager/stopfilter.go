package manager

import "strings"

// stopFilter cuts generated text at the first stop marker, even when the
// marker is split across fragments. A suffix that could still become a marker
// is held back until the next fragment disambiguates it.
type stopFilter struct {
	markers []string
	held    string
	hit     bool
}

func newStopFilter(markers []string) *stopFilter {
	f := &stopFilter{}
	for _, m := range markers {
		if m != "" {
			f.markers = append(f.markers, m)
		}
	}
	return f
}

// push consumes one fragment and returns the text that is safe to forward.
// hit is true once a marker has been seen; nothing is forwarded after it.
func (f *stopFilter) push(frag string) (out string, hit bool) {
	if f.hit {
		return "", true
	}
	buf := f.held + frag
	if idx := f.firstMarker(buf); idx >= 0 {
		f.hit = true
		f.held = ""
		return buf[:idx], true
	}
	keep := f.partialSuffix(buf)
	f.held = buf[len(buf)-keep:]
	return buf[:len(buf)-keep], false
}

// flush returns whatever is still held back once the stream has ended.
func (f *stopFilter) flush() string {
	if f.hit {
		return ""
	}
	out := f.held
	f.held = ""
	return out
}

func (f *stopFilter) firstMarker(s string) int {
	first := -1
	for _, m := range f.markers {
		if i := strings.Index(s, m); i >= 0 && (first < 0 || i < first) {
			first = i
		}
	}
	return first
}

// partialSuffix is the length of the longest suffix of s that is a proper
// prefix of some marker.
func (f *stopFilter) partialSuffix(s string) int {
	best := 0
	for _, m := range f.markers {
		for n := min(len(m)-1, len(s)); n > best; n-- {
			if strings.HasSuffix(s, m[:n]) {
				best = n
				break
			}
		}
	}
	return best
}
