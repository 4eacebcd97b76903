package models

import "errors"

var (
	// ErrAuth means upstream credentials are missing or every login endpoint failed.
	ErrAuth = errors.New("upstream authentication failed")

	ErrCameraNotFound      = errors.New("camera not found")
	ErrRTSPURLMissing      = errors.New("camera has no rtsp url")
	ErrOperationInProgress = errors.New("operation already in progress")

	// ErrUpstreamNetwork covers connection failures and timeouts talking to the provider.
	ErrUpstreamNetwork = errors.New("upstream network error")

	// ErrInvalidUpstreamContent is returned when the provider sends HTML or a
	// non-HLS body where a manifest was expected.
	ErrInvalidUpstreamContent = errors.New("invalid upstream content")

	ErrConfiguration = errors.New("configuration error")
)
