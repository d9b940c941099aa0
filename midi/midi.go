// Package midi wraps a physical MIDI output port and adapts it to the
// pitch-velocity-channel capability surface the sequencer and instrument
// layers depend on.
package midi

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // auto-register RtMIDI driver
)

// Output represents a MIDI output connection.
type Output struct {
	port drivers.Out
	send func(msg midi.Message) error
	open bool
}

// ListPorts returns a list of available MIDI output port names.
func ListPorts() ([]string, error) {
	ports := midi.GetOutPorts()
	names := make([]string, len(ports))
	for i, port := range ports {
		names[i] = port.String()
	}
	return names, nil
}

// Open opens a MIDI output port by index.
func Open(portIndex int) (*Output, error) {
	port, err := midi.OutPort(portIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to get MIDI port %d: %w", portIndex, err)
	}

	send, err := midi.SendTo(port)
	if err != nil {
		return nil, fmt.Errorf("failed to create sender: %w", err)
	}

	return &Output{
		port: port,
		send: send,
		open: true,
	}, nil
}

// Close closes the MIDI output port.
func (o *Output) Close() error {
	o.open = false
	return o.port.Close()
}

// PortOpen reports whether the underlying port is connected. Used by
// AllNotesOff as a precondition before sweeping every channel/pitch.
func (o *Output) PortOpen() bool {
	return o != nil && o.open
}

// PlayNote fires a MIDI note-on: 0x90|channel, pitch, velocity.
func (o *Output) PlayNote(pitch, velocity, channel uint8) error {
	return o.send(midi.NoteOn(channel, pitch, velocity))
}

// StopNote fires a MIDI note-off: 0x80|channel, pitch, 0.
func (o *Output) StopNote(pitch, channel uint8) error {
	return o.send(midi.NoteOff(channel, pitch))
}
