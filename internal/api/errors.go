package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Resinat/Coffer/internal/service"
)

// statusByCode maps ServiceError codes to HTTP statuses. Unknown codes are
// reported as 500.
var statusByCode = map[string]int{
	"INVALID_ARGUMENT": http.StatusBadRequest,
	"NOT_FOUND":        http.StatusNotFound,
	"CONFLICT":         http.StatusConflict,
	"INTERNAL":         http.StatusInternalServerError,
}

func writeInvalidArgument(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", message)
}

func writePayloadTooLarge(w http.ResponseWriter, limit int64) {
	msg := "request body too large"
	if limit > 0 {
		msg = fmt.Sprintf("request body too large (max %d bytes)", limit)
	}
	WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", msg)
}

// writeServiceError writes err as an error envelope. Anything that is not a
// *service.ServiceError is hidden behind a generic INTERNAL message.
func writeServiceError(w http.ResponseWriter, err error) {
	var svcErr *service.ServiceError
	if !errors.As(err, &svcErr) {
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		return
	}
	status, ok := statusByCode[svcErr.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	WriteError(w, status, svcErr.Code, svcErr.Message)
}
