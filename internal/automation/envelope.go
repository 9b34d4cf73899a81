package automation

// Envelope is the caller-facing shape of one Execute call.
type Envelope struct {
	Success bool           `json:"success"`
	Data    *ExecuteResult `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ToEnvelope folds an Execute return pair into an Envelope. A skipped run is a
// success with Executed == false.
func ToEnvelope(res *ExecuteResult, err error) Envelope {
	if err != nil {
		return Envelope{Success: false, Error: err.Error()}
	}
	return Envelope{Success: true, Data: res}
}
