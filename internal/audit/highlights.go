package audit

import (
	"bufio"
	"os"
	"sort"
)

// highlightCap bounds each ordered highlight set (spec'd capacity).
const highlightCap = 200

// topEventsLimit bounds the exposed event histogram.
const topEventsLimit = 25

// OrderedSet is an insertion-ordered, deduplicated set with a hard
// capacity: once full, adding a new key evicts the oldest entry. Adding a
// key already present is a no-op — order is preserved and the set never
// shrinks on a duplicate.
type OrderedSet struct {
	order []string
	seen  map[string]struct{}
	cap   int
}

// NewOrderedSet returns an empty set capped at capacity entries.
func NewOrderedSet(capacity int) *OrderedSet {
	return &OrderedSet{seen: make(map[string]struct{}), cap: capacity}
}

// Add inserts item if not already present, evicting the oldest entry first
// if the set is at capacity.
func (o *OrderedSet) Add(item string) {
	if _, ok := o.seen[item]; ok {
		return
	}
	if len(o.order) >= o.cap {
		oldest := o.order[0]
		o.order = o.order[1:]
		delete(o.seen, oldest)
	}
	o.order = append(o.order, item)
	o.seen[item] = struct{}{}
}

// Items returns the set's contents in insertion order.
func (o *OrderedSet) Items() []string {
	out := make([]string, len(o.order))
	copy(out, o.order)
	return out
}

// EventCount is one row of the event histogram.
type EventCount struct {
	Event string
	Count int
}

// TopEvents sorts counts by count descending, then event name ascending,
// and returns at most n rows.
func TopEvents(counts map[string]int, n int) []EventCount {
	rows := make([]EventCount, 0, len(counts))
	for event, count := range counts {
		if event == "" {
			continue
		}
		rows = append(rows, EventCount{Event: event, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Event < rows[j].Event
	})
	if len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

// Highlights accumulates the derived view of one or more audit streams:
// files written, files read, network connections, subprocess invocations
// (each capped and deduplicated), plus a full event histogram.
type Highlights struct {
	FilesWritten       *OrderedSet
	FilesRead          *OrderedSet
	NetworkConnections *OrderedSet
	Subprocesses       *OrderedSet
	EventCounts        map[string]int
}

// NewHighlights returns an empty Highlights accumulator.
func NewHighlights() *Highlights {
	return &Highlights{
		FilesWritten:       NewOrderedSet(highlightCap),
		FilesRead:          NewOrderedSet(highlightCap),
		NetworkConnections: NewOrderedSet(highlightCap),
		Subprocesses:       NewOrderedSet(highlightCap),
		EventCounts:        make(map[string]int),
	}
}

// TopEvents returns the top 25 events by count (ties broken by name).
func (h *Highlights) TopEvents() []EventCount {
	return TopEvents(h.EventCounts, topEventsLimit)
}

// IngestLine parses and classifies one audit JSONL line. defaultStage
// labels entries whose line carried no "install:"/"sandbox:" prefix — the
// stage the caller is reading a single unprefixed file under.
func (h *Highlights) IngestLine(defaultStage, line string) {
	rec, ok := ParseLine(line)
	if !ok {
		return
	}
	stage := rec.Stage
	if stage == "" {
		stage = defaultStage
	}

	h.EventCounts[rec.Event]++

	if path, isWrite, ok := ClassifyFileEvent(rec); ok && path != "" {
		if isWrite {
			h.FilesWritten.Add(stage + ": " + path)
		} else {
			h.FilesRead.Add(stage + ": " + path)
		}
	}
	if IsNetworkEvent(rec.Event) {
		if endpoint, ok := NetworkEndpoint(rec); ok {
			h.NetworkConnections.Add(stage + ": " + endpoint)
		}
	}
	if IsSubprocessEvent(rec.Event) {
		if cmd, ok := SubprocessCommand(rec); ok {
			h.Subprocesses.Add(stage + ": " + cmd)
		}
	}
}

// IngestFile reads path line by line under defaultStage. A missing file is
// not an error — the caller treats it as absent telemetry.
func (h *Highlights) IngestFile(defaultStage, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		h.IngestLine(defaultStage, sc.Text())
	}
	return sc.Err()
}
