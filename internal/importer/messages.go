package importer

// Messages collects user-facing advisory messages produced while
// configuring a stage, keyed by the field they concern. Anything present
// should be surfaced to the user as a blocking notice.
type Messages struct {
	order  []string
	fields map[string][]string
}

// NewMessages returns an empty message collection.
func NewMessages() *Messages {
	return &Messages{fields: make(map[string][]string)}
}

// Add appends a message under a field key.
func (m *Messages) Add(field, message string) {
	if _, ok := m.fields[field]; !ok {
		m.order = append(m.order, field)
	}
	m.fields[field] = append(m.fields[field], message)
}

// Empty reports whether no messages were added.
func (m *Messages) Empty() bool {
	return len(m.fields) == 0
}

// Get returns the messages stored under a field key.
func (m *Messages) Get(field string) []string {
	return m.fields[field]
}

// All returns field/message pairs in insertion order.
func (m *Messages) All() map[string][]string {
	out := make(map[string][]string, len(m.fields))
	for _, field := range m.order {
		msgs := make([]string, len(m.fields[field]))
		copy(msgs, m.fields[field])
		out[field] = msgs
	}
	return out
}
