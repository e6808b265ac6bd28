package app

import (
	"errors"
	"unicode/utf8"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/ports"
)

var ErrNotFound = ports.ErrNotFound

// ErrInvalidCommand : requête rejetée avant toute ressource (lien, plage, abonné).
var ErrInvalidCommand = errors.New("invalid command")

// CodedError permet aux executors de renvoyer un code d'erreur stable,
// persisté dans Job.errorCode.
//
// Codes: nom d'Outcome (exhausted_retries, policy_blocked, ...), storage_error, invalid_params.
type CodedError struct {
	Code    string
	Message string
	Err     error
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *CodedError) Unwrap() error { return e.Err }

// maxDiagnostic borne le message renvoyé aux commandes synchrones (limite des messages chat).
const maxDiagnostic = 1900

// Truncate coupe s à n octets sans casser un caractère UTF-8.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
