package responses

// Envelope is the body of every successful response: {"data": ...}.
type Envelope struct {
	Data any `json:"data"`
}

// ErrorBody is the body of every failed response: {"error": {...}}.
type ErrorBody struct {
	Error Problem `json:"error"`
}

type Problem struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}
