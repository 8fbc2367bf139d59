package models

// RelayRequest is the body accepted by the relay endpoint.
type RelayRequest struct {
	Message string `json:"message"`
	APIKey  string `json:"apiKey"`
}

// RelayResponse is the envelope returned by the relay endpoint on success.
type RelayResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
}

// RelayError is the envelope returned by the relay endpoint on failure.
type RelayError struct {
	Error string `json:"error"`
}

// Fixed error messages of the relay envelope.
const (
	RelayErrMethodNotAllowed  = "Method not allowed"
	RelayErrMissingParameters = "Missing required parameters"
	RelayErrRequestFailed     = "API request failed"
	RelayErrInvalidResponse   = "Invalid API response"
	RelayErrBodyTooLarge      = "Request body too large"
)
