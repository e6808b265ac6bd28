package domain

// Outcome est le résultat net d'une tentative d'acquisition.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeSkipped          Outcome = "skipped"
	OutcomePolicyBlocked    Outcome = "policy_blocked"
	OutcomeInvalidRequest   Outcome = "invalid_request"
	OutcomeExhaustedRetries Outcome = "exhausted_retries"
	OutcomeCancelled        Outcome = "cancelled"
)

// Codes de sortie du process d'acquisition.
const (
	ExitOK             = 0
	ExitInvalidEpisode = 1
	ExitFailed         = 2
	ExitCancelled      = 3
	ExitPolicyBlocked  = 69
)

func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeSuccess, OutcomeSkipped:
		return ExitOK
	case OutcomeInvalidRequest:
		return ExitInvalidEpisode
	case OutcomeCancelled:
		return ExitCancelled
	case OutcomePolicyBlocked:
		return ExitPolicyBlocked
	default:
		return ExitFailed
	}
}

// Terminal indique qu'une plage d'épisodes doit s'arrêter sur ce résultat.
func (o Outcome) Terminal() bool {
	return o != OutcomeSuccess && o != OutcomeSkipped
}
