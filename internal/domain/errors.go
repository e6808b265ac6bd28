package domain

import "errors"

var (
	ErrInvalidReferenceFormat = errors.New("invalid reference format")
	ErrInvalidEpisodeRange    = errors.New("invalid episode range")
	ErrEpisodeNotYetAired     = errors.New("episode not yet aired")
	ErrEpisodeOutOfBounds     = errors.New("episode out of bounds")
	ErrContentPolicyBlocked   = errors.New("content policy blocked")
	ErrResolverTransient      = errors.New("resolver transient failure")
	ErrStoragePersistence     = errors.New("storage persistence error")
	ErrNotificationDelivery   = errors.New("notification delivery error")
)
