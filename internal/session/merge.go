package session

import (
	"sort"

	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/data"
	"github.com/LukeT2340/Language-Exchange-App-sub001/internal/gateway"
)

// applyChanges folds listener changes into a sorted message sequence. Added
// and Modified both upsert by id; the later event wins. Removed changes are
// returned unapplied so the caller can log them.
func applyChanges(held []*data.Message, changes []gateway.Change[*data.Message]) (out []*data.Message, ignored []string) {
	pos := indexByID(held)
	out = held
	for _, c := range changes {
		if c.Kind == gateway.Removed || c.Doc == nil {
			ignored = append(ignored, c.ID)
			continue
		}
		m := *c.Doc
		if m.ID == "" {
			m.ID = c.ID
		}
		if i, ok := pos[m.ID]; ok {
			out[i] = &m
			continue
		}
		pos[m.ID] = len(out)
		out = append(out, &m)
	}
	sortMessages(out)
	return out, ignored
}

// mergeOlder adds a pagination page. Messages already held keep their
// version since the live listener is the fresher source.
func mergeOlder(held []*data.Message, page []*data.Message) []*data.Message {
	pos := indexByID(held)
	out := held
	for _, m := range page {
		if _, ok := pos[m.ID]; ok {
			continue
		}
		cp := *m
		pos[cp.ID] = len(out)
		out = append(out, &cp)
	}
	sortMessages(out)
	return out
}

func indexByID(msgs []*data.Message) map[string]int {
	pos := make(map[string]int, len(msgs))
	for i, m := range msgs {
		pos[m.ID] = i
	}
	return pos
}

// sortMessages orders ascending by timestamp, then id.
func sortMessages(msgs []*data.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
}
