package utils

import (
	"encoding/json"
	"net/http"
)

// APIResponse is the standard envelope for every JSON response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError carries enough structured detail for the client to render a
// message; raw stack traces never cross this boundary.
type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// WriteJSONResponse writes data inside the standard envelope.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: statusCode >= 200 && statusCode < 300,
		Data:    data,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// WriteSuccessResponse writes a 200 response.
func WriteSuccessResponse(w http.ResponseWriter, data interface{}) {
	WriteJSONResponse(w, http.StatusOK, data)
}

// WriteCreatedResponse writes a 201 response.
func WriteCreatedResponse(w http.ResponseWriter, data interface{}) {
	WriteJSONResponse(w, http.StatusCreated, data)
}

// WriteErrorResponseWithCode writes an error response with a machine-readable
// code and optional structured details.
func WriteErrorResponseWithCode(w http.ResponseWriter, statusCode int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// WriteBadRequestResponse writes a 400 response.
func WriteBadRequestResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusBadRequest, "BAD_REQUEST", message, nil)
}

// WriteUnauthorizedResponse writes a 401 response.
func WriteUnauthorizedResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

// WritePaymentRequiredResponse writes a 402 response with the
// INSUFFICIENT_CREDITS code.
func WritePaymentRequiredResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS", message, nil)
}

// WriteForbiddenResponse writes a 403 response.
func WriteForbiddenResponse(w http.ResponseWriter, message string, details interface{}) {
	WriteErrorResponseWithCode(w, http.StatusForbidden, "FORBIDDEN", message, details)
}

// WriteNotFoundResponse writes a 404 response.
func WriteNotFoundResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusNotFound, "NOT_FOUND", message, nil)
}

// WriteConflictResponse writes a 409 response.
func WriteConflictResponse(w http.ResponseWriter, code, message string) {
	WriteErrorResponseWithCode(w, http.StatusConflict, code, message, nil)
}

// WriteUnprocessableResponse writes a 422 response.
func WriteUnprocessableResponse(w http.ResponseWriter, code, message string) {
	WriteErrorResponseWithCode(w, http.StatusUnprocessableEntity, code, message, nil)
}

// WriteBadGatewayResponse writes a 502 response for upstream failures.
func WriteBadGatewayResponse(w http.ResponseWriter, code, message string) {
	WriteErrorResponseWithCode(w, http.StatusBadGateway, code, message, nil)
}

// WriteInternalServerErrorResponse writes a 500 response.
func WriteInternalServerErrorResponse(w http.ResponseWriter, message string) {
	WriteErrorResponseWithCode(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", message, nil)
}

// ParseJSONBody decodes the request body into v.
func ParseJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
