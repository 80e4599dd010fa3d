package ratelimit

// Outcome classifies a finished request attempt.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeViolation      Outcome = "violation"
	OutcomeHTTPError      Outcome = "http_error"
	OutcomeTransportError Outcome = "transport_error"
	OutcomeMissingPolicy  Outcome = "missing_policy"
)

// Observer receives scheduler events, typically for metrics.
type Observer interface {
	RequestFinished(policy string, outcome Outcome)
	PolicyUpdated(status ManagerStatus)
	Paused(p Pause)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) RequestFinished(string, Outcome) {}
func (NopObserver) PolicyUpdated(ManagerStatus)     {}
func (NopObserver) Paused(Pause)                    {}
