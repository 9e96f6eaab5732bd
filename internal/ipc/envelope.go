package ipc

import (
	"encoding/json"

	"github.com/kalambet/tfmt/internal/apperr"
)

// Envelope is the discriminated result of every dispatch: Data on success,
// Error on failure, never both.
type Envelope struct {
	Success bool
	Data    any
	Error   *apperr.Info
}

func success(data any) Envelope {
	return Envelope{Success: true, Data: data}
}

func failure(e *apperr.Error) Envelope {
	info := e.Info()
	return Envelope{Error: &info}
}

// MarshalJSON always emits data on success, as null if the handler
// returned nothing, and never emits data on failure.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Success {
		return json.Marshal(struct {
			Success bool `json:"success"`
			Data    any  `json:"data"`
		}{true, e.Data})
	}
	return json.Marshal(struct {
		Success bool         `json:"success"`
		Error   *apperr.Info `json:"error"`
	}{false, e.Error})
}

// UnmarshalJSON keeps Data as json.RawMessage; callers decode it into the
// command's response type.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var wire struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *apperr.Info    `json:"error"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	*e = Envelope{Success: wire.Success, Error: wire.Error}
	if wire.Success {
		e.Data = wire.Data
	}
	return nil
}
