package wallet

import (
	"encoding/json"
	"time"

	"github.com/brojonat/walletcore/service/chain"
)

// Status is the tag of a wallet state.
type Status string

const (
	StatusCreated      Status = "created"
	StatusLoading      Status = "loading"
	StatusIdle         Status = "idle"
	StatusNoAccount    Status = "no_account"
	StatusNoDerivation Status = "no_derivation"
	StatusFailed       Status = "failed"
)

// State is one value of the wallet lifecycle. Message is set for
// StatusNoAccount, Err for StatusFailed.
type State struct {
	Status    Status
	Message   string
	Err       error
	UpdatedAt time.Time
}

// Terminal reports whether the state ends a refresh cycle.
func (s State) Terminal() bool {
	return s.Status != StatusCreated && s.Status != StatusLoading
}

type stateJSON struct {
	Status    Status            `json:"status"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
	Kind      chain.Kind        `json:"error_kind,omitempty"`
	Code      string            `json:"error_code,omitempty"`
	Details   map[string]string `json:"error_details,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (s State) MarshalJSON() ([]byte, error) {
	out := stateJSON{Status: s.Status, Message: s.Message, UpdatedAt: s.UpdatedAt}
	if s.Err != nil {
		out.Error = s.Err.Error()
		out.Kind = chain.KindOf(s.Err)
		if ce := chain.AsError(s.Err); ce != nil {
			out.Code = ce.Code
			out.Details = ce.Details
		}
	}
	return json.Marshal(out)
}
