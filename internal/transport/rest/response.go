package rest

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// APIResponse is the envelope of every endpoint except send-manual and the cron trigger.
type APIResponse struct {
	ErrorCode int         `json:"error_code"`
	Status    string      `json:"status"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
	Meta      *ListMeta   `json:"meta,omitempty"`
}

type ListMeta struct {
	Count int `json:"count"`
	Limit int `json:"limit,omitempty"`
}

// errorBody is the bare {"error": "..."} shape of the reminder trigger endpoints.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, httpStatus int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response failed", zap.Int("status", httpStatus), zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, httpStatus int, message string) {
	writeJSON(w, httpStatus, errorBody{Error: message})
}

func Success(w http.ResponseWriter, message string, data interface{}) {
	writeJSON(w, http.StatusOK, APIResponse{Status: "success", Message: message, Data: data})
}

func SuccessList(w http.ResponseWriter, data interface{}, count, limit int) {
	writeJSON(w, http.StatusOK, APIResponse{
		Status: "success",
		Data:   data,
		Meta:   &ListMeta{Count: count, Limit: limit},
	})
}

func SuccessAccepted(w http.ResponseWriter, message string, data interface{}) {
	writeJSON(w, http.StatusAccepted, APIResponse{Status: "success", Message: message, Data: data})
}

// Error writes the envelope with error_code equal to the HTTP status.
func Error(w http.ResponseWriter, message string, httpStatus int) {
	writeJSON(w, httpStatus, APIResponse{ErrorCode: httpStatus, Status: "error", Message: message})
}

func ErrorBadRequest(w http.ResponseWriter, message string) {
	Error(w, message, http.StatusBadRequest)
}

func ErrorUnauthorized(w http.ResponseWriter, message string) {
	Error(w, message, http.StatusUnauthorized)
}

func ErrorNotFound(w http.ResponseWriter, message string) {
	Error(w, message, http.StatusNotFound)
}

func ErrorUnprocessable(w http.ResponseWriter, message string) {
	Error(w, message, http.StatusUnprocessableEntity)
}

func ErrorInternal(w http.ResponseWriter, message string) {
	Error(w, message, http.StatusInternalServerError)
}
