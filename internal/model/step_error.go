package model

// StepError records a scenario step the engine rejected.
type StepError struct {
	PoolID    string `json:"pool_id"`
	Step      uint64 `json:"step"`
	Op        string `json:"op"`
	Account   string `json:"account,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Timestamp uint64 `json:"timestamp"`
	Error     string `json:"error"`
}
