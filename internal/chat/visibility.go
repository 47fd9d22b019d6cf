package chat

import "github.com/samber/lo"

// VisibleTo reports whether name may see the message: it sent it, it is a
// broadcast, or it is addressed to name.
func (m Message) VisibleTo(name string) bool {
	return m.From == name || m.To == Broadcast || m.To == name
}

// Visible filters msgs down to the ones name may see, keeping their order.
// A positive limit keeps only the most recent limit entries.
func Visible(msgs []Message, name string, limit int) []Message {
	visible := lo.Filter(msgs, func(m Message, _ int) bool {
		return m.VisibleTo(name)
	})
	if limit > 0 && len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}
	return visible
}
