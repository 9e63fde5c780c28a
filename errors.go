package sandwich

import "errors"

var (
	ErrReadConfigurationFailure = errors.New("failed to read configuration")
	ErrLoadConfigurationFailure = errors.New("failed to load configuration")

	ErrMissingToken        = errors.New("configuration is missing a token")
	ErrMissingIdentifier   = errors.New("configuration is missing an identifier")
	ErrUnknownIdentifyMode = errors.New("unknown identify mode")
	ErrUnknownGlobalMode   = errors.New("unknown global rate limit mode")
	ErrMissingIdentifyURL  = errors.New("identify mode url requires a url")
	ErrMissingProducer     = errors.New("configuration is missing a producer type")

	ErrSandwichStarted = errors.New("sandwich already started")
	ErrNoShards        = errors.New("no shards assigned to this node")
)
