package main

import (
	"strconv"

	"github.com/nordicopen/pyeasee/pkg/wire"
)

// Field IDs reported by the simulator.
const (
	fieldChargerOpMode = 109
	fieldTotalPower    = 120
	fieldSessionEnergy = 121
	fieldCableLocked   = 103
	fieldLatestPulse   = 30
)

// Charger operating modes.
const (
	opModeDisconnected = 1
	opModeAwaiting     = 2
	opModeCharging     = 3
	opModeCompleted    = 4
)

// simulator runs a repeating charging session: plug in, charge to a
// target energy, complete, unplug.
type simulator struct {
	id     string
	tick   int
	mode   int
	power  float64
	energy float64
	target float64
	locked bool
}

func newSimulator(id string) *simulator {
	return &simulator{id: id, mode: opModeDisconnected, target: 10}
}

// step advances the session by one tick and returns the changed fields.
func (s *simulator) step() []wire.Event {
	s.tick++

	prevMode := s.mode
	switch s.mode {
	case opModeDisconnected:
		if s.tick%3 == 0 {
			s.mode = opModeAwaiting
			s.locked = true
		}
	case opModeAwaiting:
		s.mode = opModeCharging
		s.energy = 0
	case opModeCharging:
		s.power = 11.0
		s.energy += s.power / 60
		if s.energy >= s.target {
			s.mode = opModeCompleted
		}
	case opModeCompleted:
		s.mode = opModeDisconnected
		s.locked = false
	}
	if s.mode != opModeCharging {
		s.power = 0
	}

	events := []wire.Event{
		s.powerEvent(),
		{DataType: wire.DataTypeString, ID: fieldLatestPulse, Value: strconv.Itoa(s.tick)},
	}
	if s.mode != prevMode {
		events = append(events, s.modeEvent(), s.lockEvent())
	}
	if s.mode == opModeCharging || s.mode == opModeCompleted {
		events = append(events, s.energyEvent())
	}
	return events
}

// state returns the full current state, sent to new subscribers.
func (s *simulator) state() []wire.Event {
	return []wire.Event{s.modeEvent(), s.powerEvent(), s.energyEvent(), s.lockEvent()}
}

func (s *simulator) modeEvent() wire.Event {
	return wire.Event{DataType: wire.DataTypeInteger, ID: fieldChargerOpMode, Value: strconv.Itoa(s.mode)}
}

func (s *simulator) powerEvent() wire.Event {
	return wire.Event{DataType: wire.DataTypeDouble, ID: fieldTotalPower, Value: strconv.FormatFloat(s.power, 'f', 3, 64)}
}

func (s *simulator) energyEvent() wire.Event {
	return wire.Event{DataType: wire.DataTypeDouble, ID: fieldSessionEnergy, Value: strconv.FormatFloat(s.energy, 'f', 3, 64)}
}

func (s *simulator) lockEvent() wire.Event {
	v := "0"
	if s.locked {
		v = "1"
	}
	return wire.Event{DataType: wire.DataTypeBoolean, ID: fieldCableLocked, Value: v}
}
