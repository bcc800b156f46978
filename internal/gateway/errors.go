package gateway

import "fmt"

// statusMessages are shown when the server does not explain a failure itself.
var statusMessages = map[int]string{
	400: "Bad Request. Check your input.",
	401: "Unauthorized. Please check your credentials.",
	403: "Forbidden. You do not have permission.",
	404: "Resource not found.",
	500: "Server error. Please try again later.",
	502: "Bad Gateway. Server is temporarily unavailable.",
	503: "Service Unavailable. Please try again later.",
}

// HTTPError is a non-2xx response. Error returns the user-facing message.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// TransportError means no response was received at all.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "No response received. Check your internet connection."
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// errorBody covers the shapes the API uses for error payloads.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func newHTTPError(status int, body errorBody) *HTTPError {
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = statusMessages[status]
	}
	if msg == "" {
		msg = fmt.Sprintf("Request failed with status: %d", status)
	}
	return &HTTPError{StatusCode: status, Message: msg}
}
