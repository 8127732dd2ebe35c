package providers

import "time"

// CallRecord describes one external service call for the audit log.
type CallRecord struct {
	Operation string
	Provider  ProviderInfo
	Cost      float64
	Duration  time.Duration
	Err       error
}

func (r CallRecord) Status() string {
	if r.Err != nil {
		return "failed"
	}
	return "ok"
}
