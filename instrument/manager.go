package instrument

// Manager maintains a by-name registry of instruments sharing a note-sink
// and sequence-sink pair, with bulk-stop and channel-indexing queries.
type Manager struct {
	notes     NoteSink
	sequences SequenceSink
	byName    map[string]*Instrument
}

// NewManager constructs a Manager over the given shared sinks.
func NewManager(notes NoteSink, sequences SequenceSink) *Manager {
	return &Manager{
		notes:     notes,
		sequences: sequences,
		byName:    make(map[string]*Instrument),
	}
}

// CreateInstrument creates a new instrument. Returns false on a duplicate
// name or invalid configuration parameters — it never returns an error,
// matching the source's "create or report false" contract.
func (m *Manager) CreateInstrument(name string, channel uint8, defaultVelocity uint8, transpose int16) bool {
	if _, exists := m.byName[name]; exists {
		return false
	}

	config, err := NewConfig(channel, name, defaultVelocity, transpose)
	if err != nil {
		return false
	}

	m.byName[name] = New(config, m.notes, m.sequences)
	return true
}

// GetInstrument returns an instrument by name, or nil if not found.
func (m *Manager) GetInstrument(name string) *Instrument {
	return m.byName[name]
}

// HasInstrument reports whether an instrument with the given name exists.
func (m *Manager) HasInstrument(name string) bool {
	_, ok := m.byName[name]
	return ok
}

// GetInstrumentNames returns every registered instrument name.
func (m *Manager) GetInstrumentNames() []string {
	names := make([]string, 0, len(m.byName))
	for name := range m.byName {
		names = append(names, name)
	}
	return names
}

// ListInstruments returns a copy of the name-to-instrument registry.
func (m *Manager) ListInstruments() map[string]*Instrument {
	out := make(map[string]*Instrument, len(m.byName))
	for name, inst := range m.byName {
		out[name] = inst
	}
	return out
}

// RemoveInstrument stops all of the named instrument's sequences, then
// removes it. Returns false if no instrument has that name.
func (m *Manager) RemoveInstrument(name string) bool {
	inst, ok := m.byName[name]
	if !ok {
		return false
	}
	inst.StopAllSequences()
	delete(m.byName, name)
	return true
}

// StopAllInstruments stops every sequence on every instrument, returning
// the total number of sequences that were active beforehand.
func (m *Manager) StopAllInstruments() int {
	total := 0
	for _, inst := range m.byName {
		total += len(inst.ActiveSequenceIDs())
		inst.StopAllSequences()
	}
	return total
}

// GetInstrumentsByChannel returns every instrument registered on the given
// MIDI channel, via a linear scan.
func (m *Manager) GetInstrumentsByChannel(channel uint8) []*Instrument {
	var out []*Instrument
	for _, inst := range m.byName {
		if inst.Channel() == channel {
			out = append(out, inst)
		}
	}
	return out
}

// ClearAllInstruments stops every instrument's sequences and empties the
// registry, returning the number of instruments removed.
func (m *Manager) ClearAllInstruments() int {
	count := len(m.byName)
	m.StopAllInstruments()
	m.byName = make(map[string]*Instrument)
	return count
}

// TotalActiveSequences sums active sequence counts across every registered
// instrument.
func (m *Manager) TotalActiveSequences() int {
	total := 0
	for _, inst := range m.byName {
		total += len(inst.ActiveSequenceIDs())
	}
	return total
}
