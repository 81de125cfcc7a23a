package models

// ErrorBody is the structured error returned by the server.
type ErrorBody struct {
	Kind           string       `json:"kind"`
	Message        string       `json:"message"`
	Fields         []FieldIssue `json:"fields,omitempty"`
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
	LogID          string       `json:"log_id,omitempty"`
}

type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
