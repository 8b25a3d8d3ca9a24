package ir

// ResponseMapEntry maps a message name and payload-type sequence to a handler
// block. The handler block's bound scope receives the payload; AuxScope holds
// the per-message locals the executor activates alongside it.
type ResponseMapEntry struct {
	MessageName  string
	PayloadTypes []VariableTypeID
	Handler      *Block
	AuxScope     *ScopeDescription
}

// ResponseMap is an ordered table of message handlers. Order is match order:
// the first entry whose name and payload types agree with an incoming message
// wins.
type ResponseMap struct {
	Entries []*ResponseMapEntry
}

func NewResponseMap() *ResponseMap {
	return &ResponseMap{}
}

// AddEntry appends a handler entry. Ownership of the block transfers to the
// map.
func (m *ResponseMap) AddEntry(e *ResponseMapEntry) {
	m.Entries = append(m.Entries, e)
}

// Match returns the first entry matching the message name and payload types,
// or nil.
func (m *ResponseMap) Match(name string, payloadTypes []VariableTypeID) *ResponseMapEntry {
	for _, e := range m.Entries {
		if e.MessageName != name || len(e.PayloadTypes) != len(payloadTypes) {
			continue
		}
		ok := true
		for i, t := range e.PayloadTypes {
			if t != payloadTypes[i] {
				ok = false
				break
			}
		}
		if ok {
			return e
		}
	}
	return nil
}
