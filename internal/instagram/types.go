package instagram

import (
	"errors"
	"fmt"
)

// ErrNotConfigured means the access token or target account id is missing.
// Publish attempts fail on it before any network call is made.
var ErrNotConfigured = errors.New("instagram credentials not configured")

// ContainerStatus is the remote processing state of an upload container.
type ContainerStatus string

const (
	StatusProcessing ContainerStatus = "IN_PROGRESS"
	StatusFinished   ContainerStatus = "FINISHED"
	StatusError      ContainerStatus = "ERROR"
)

// APIError is a structured error returned by the Graph API.
type APIError struct {
	HTTPStatus int
	Type       string
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("graph api: %s (type=%s code=%d http=%d)", e.Message, e.Type, e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("graph api: http %d", e.HTTPStatus)
}

// Credentials identify the posting account.
type Credentials struct {
	AccessToken string
	UserID      string
}

// CredentialSource resolves credentials at call time so token rotation does
// not require a restart.
type CredentialSource interface {
	Credentials() (Credentials, error)
}
