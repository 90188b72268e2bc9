package main

import (
	"encoding/binary"
	"errors"
)

// connEvent is a change in a connection's lifecycle, reported to the
// statistics coroutine.
type connEvent uint8

const (
	connEstablished connEvent = iota + 1
	connSucceeded
	connFailed
)

// childStatsSize is the size of the wire encoding of childStats.
const childStatsSize = 16

var errStatsSize = errors.New("stats record has wrong size")

// childStats is the record each worker reports to the master over UDP:
// four little endian int32 values.
type childStats struct {
	PID         int32
	Connections int32
	Active      int32
	Failed      int32
}

func (s *childStats) apply(ev connEvent) {
	switch ev {
	case connEstablished:
		s.Connections++
		s.Active++
	case connSucceeded:
		s.Active--
	case connFailed:
		s.Active--
		s.Failed++
	}
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s childStats) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, childStatsSize)
	b = binary.LittleEndian.AppendUint32(b, uint32(s.PID))
	b = binary.LittleEndian.AppendUint32(b, uint32(s.Connections))
	b = binary.LittleEndian.AppendUint32(b, uint32(s.Active))
	b = binary.LittleEndian.AppendUint32(b, uint32(s.Failed))
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *childStats) UnmarshalBinary(b []byte) error {
	if len(b) != childStatsSize {
		return errStatsSize
	}
	s.PID = int32(binary.LittleEndian.Uint32(b[0:]))
	s.Connections = int32(binary.LittleEndian.Uint32(b[4:]))
	s.Active = int32(binary.LittleEndian.Uint32(b[8:]))
	s.Failed = int32(binary.LittleEndian.Uint32(b[12:]))
	return nil
}
