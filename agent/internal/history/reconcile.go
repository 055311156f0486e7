package history

// LogEntry is one finished period from the race log: the week it belongs to
// and the contribution of each participant keyed by tag.
type LogEntry struct {
	Week         string
	Participants map[string]int
}

// ParseArchive decodes persisted history strings keyed by tag.
func ParseArchive(rows map[string]string) map[string]History {
	out := make(map[string]History, len(rows))
	for tag, s := range rows {
		out[tag] = Parse(s)
	}
	return out
}

// Reconcile merges archived histories with the live race log and the
// in-progress period. None of the inputs are modified. Because every source
// is folded in with max-merge, the result does not depend on the order of
// archived, logs or current.
func Reconcile(archived map[string]History, logs []LogEntry, current map[string]int, currentWeek string) map[string]History {
	out := make(map[string]History, len(archived))
	get := func(tag string) History {
		h, ok := out[tag]
		if !ok {
			h = make(History)
			out[tag] = h
		}
		return h
	}

	for tag, h := range archived {
		get(tag).Merge(h)
	}
	for _, entry := range logs {
		for tag, v := range entry.Participants {
			get(tag).Set(entry.Week, v)
		}
	}
	for tag, v := range current {
		get(tag).Set(currentWeek, v)
	}
	return out
}
