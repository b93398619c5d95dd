package types

// API error codes.
const (
	CodeBadRequest   = "TELEOP_400"
	CodeUnauthorized = "TELEOP_401"
	CodeForbidden    = "TELEOP_403"
	CodeConflict     = "TELEOP_409"
	CodeInternal     = "TELEOP_500"
	CodeUnavailable  = "TELEOP_503"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
