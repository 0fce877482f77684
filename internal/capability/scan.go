package capability

import (
	"github.com/orizon-lang/capsafe/internal/violation"
)

type threadPair [2]violation.ThreadTag

func pairOf(a, b violation.ThreadTag) threadPair {
	if b < a {
		a, b = b, a
	}
	return threadPair{a, b}
}

// access is a conflicting access together with its sync window: the Seq of
// the latest sync marker on every path reaching it, or zero.
type access struct {
	AccessRecord
	window int
}

// windowPair keys the one report allowed per thread pair per window.
type windowPair struct {
	threads threadPair
	window  int
}

// accesses splits the history of b into conflicting accesses and sync
// markers, both in evaluation order.
func accesses(b *binding) ([]access, []AccessRecord) {
	var (
		out   []access
		syncs []AccessRecord
	)
	for _, r := range b.history {
		switch {
		case r.Kind == AccessSync:
			syncs = append(syncs, r)
		case r.Kind.conflicting():
			a := access{AccessRecord: r}
			for i := len(syncs) - 1; i >= 0; i-- {
				if onPath(syncs[i].Path, r.Path) {
					a.window = syncs[i].Seq
					break
				}
			}
			out = append(out, a)
		}
	}
	return out, syncs
}

// conflict reports whether the earlier access a and the later access b may
// run concurrently, and the key their report is deduplicated under. Accesses
// on different arms of a branch never both run; a sync marker separates them
// only when every execution reaching both passes through it.
func conflict(a, b access, syncs []AccessRecord) (windowPair, bool) {
	if a.Thread == b.Thread || exclusive(a.Path, b.Path) {
		return windowPair{}, false
	}
	for _, m := range syncs {
		if m.Seq > a.Seq && m.Seq < b.Seq && onPath(m.Path, a.Path, b.Path) {
			return windowPair{}, false
		}
	}
	return windowPair{threads: pairOf(a.Thread, b.Thread), window: b.window}, true
}

// scanBinding reports the first conflicting access pair for each distinct
// thread pair in each window of b.
func scanBinding(b *binding) []*violation.Violation {
	if b.shared {
		return nil
	}

	accs, syncs := accesses(b)
	var found []*violation.Violation
	seen := make(map[windowPair]bool)
	for j := range accs {
		for i := 0; i < j; i++ {
			key, ok := conflict(accs[i], accs[j], syncs)
			if !ok || seen[key] {
				continue
			}
			seen[key] = true
			found = append(found, concurrent(b, accs[i].AccessRecord, accs[j].AccessRecord))
		}
	}
	return found
}

// checkLatest reports the conflict introduced by the most recent access of
// b, if it forms a thread pair not already present in its window. The
// result is identical to what scanBinding reports for that pair.
func checkLatest(b *binding) *violation.Violation {
	if b.shared || len(b.history) == 0 {
		return nil
	}
	if !b.history[len(b.history)-1].Kind.conflicting() {
		return nil
	}

	accs, syncs := accesses(b)
	last := len(accs) - 1

	seen := make(map[windowPair]bool)
	for j := 0; j < last; j++ {
		for i := 0; i < j; i++ {
			if key, ok := conflict(accs[i], accs[j], syncs); ok {
				seen[key] = true
			}
		}
	}

	for i := 0; i < last; i++ {
		if key, ok := conflict(accs[i], accs[last], syncs); ok && !seen[key] {
			return concurrent(b, accs[i].AccessRecord, accs[last].AccessRecord)
		}
	}
	return nil
}

func concurrent(b *binding, earlier, later AccessRecord) *violation.Violation {
	v := violation.New(violation.ConcurrentUseWithoutSync, b.name, later.Span, earlier.Span)
	v.Threads = [2]violation.ThreadTag{earlier.Thread, later.Thread}
	v.Reason = "accessed from " + string(earlier.Thread) + " and " + string(later.Thread) + " without synchronization"
	return v
}
