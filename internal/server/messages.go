package server

import (
	"time"

	"github.com/normanking/cortexlipsync/internal/lipsync"
)

// Inbound command types
const (
	CmdStart        = "start"
	CmdStop         = "stop"
	CmdTestVowel    = "test_vowel"
	CmdTestSequence = "test_sequence"
	CmdConfig       = "config"
	CmdSetChannel   = "set_channel"
	CmdStatus       = "status"
)

// SourceStream names the source fed by binary frames on the socket.
const SourceStream = "stream"

// Command is a JSON control message from a client. Only the fields of the
// given type are read.
type Command struct {
	Type string `json:"type"`

	// start
	Source     string `json:"source,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`

	// test_vowel
	Vowel  string   `json:"vowel,omitempty"`
	Weight *float32 `json:"weight,omitempty"`

	// set_channel
	Channel string  `json:"channel,omitempty"`
	Value   float32 `json:"value,omitempty"`

	// config
	Sensitivity      *float64 `json:"sensitivity,omitempty"`
	Smoothing        *float64 `json:"smoothing,omitempty"`
	MinVolume        *float64 `json:"min_volume,omitempty"`
	UpdateIntervalMs *int64   `json:"update_interval_ms,omitempty"`
}

// ConfigUpdate converts a config command into an engine update.
func (c Command) ConfigUpdate() lipsync.ConfigUpdate {
	u := lipsync.ConfigUpdate{
		Sensitivity: c.Sensitivity,
		Smoothing:   c.Smoothing,
		MinVolume:   c.MinVolume,
	}
	if c.UpdateIntervalMs != nil {
		d := time.Duration(*c.UpdateIntervalMs) * time.Millisecond
		u.UpdateInterval = &d
	}
	return u
}

// FrameMessage is sent for every processed lip-sync tick
type FrameMessage struct {
	Type   string  `json:"type"`
	Volume float32 `json:"volume"`
	Vowel  string  `json:"vowel"`
}

// StatusMessage reports the engine state
type StatusMessage struct {
	Type   string         `json:"type"`
	Status lipsync.Status `json:"status"`
}

// ErrorMessage reports a failed command
type ErrorMessage struct {
	Type    string `json:"type"`
	Command string `json:"command,omitempty"`
	Message string `json:"message"`
}
