package worker

import (
	"encoding/json"
	"time"
)

// Config's wire representation carries killTimeout/maxBackoff in
// milliseconds, not Go's default nanosecond time.Duration encoding,
// matching every other millisecond-denominated field on the wire
// (spec.md §3). MarshalJSON/UnmarshalJSON convert at the boundary so
// the rest of the package keeps working with time.Duration directly.
type configAlias Config

func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		configAlias
		KillTimeout int64 `json:"killTimeout,omitempty"`
		MaxBackoff  int64 `json:"maxBackoff,omitempty"`
	}{
		configAlias: configAlias(c),
		KillTimeout: c.KillTimeout.Milliseconds(),
		MaxBackoff:  c.MaxBackoff.Milliseconds(),
	})
}

func (c *Config) UnmarshalJSON(data []byte) error {
	aux := struct {
		*configAlias
		KillTimeout int64 `json:"killTimeout,omitempty"`
		MaxBackoff  int64 `json:"maxBackoff,omitempty"`
	}{configAlias: (*configAlias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.KillTimeout > 0 {
		c.KillTimeout = time.Duration(aux.KillTimeout) * time.Millisecond
	}
	if aux.MaxBackoff > 0 {
		c.MaxBackoff = time.Duration(aux.MaxBackoff) * time.Millisecond
	}
	return nil
}
