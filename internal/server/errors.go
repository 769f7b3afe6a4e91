package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"gemini-gateway/internal/provider/gemini"
	"gemini-gateway/internal/stream"
	"gemini-gateway/internal/translator"
)

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    any
}

func (e requestError) Error() string {
	return e.Message
}

func writeError(c echo.Context, status int, message, errType string, code any) error {
	return c.JSON(status, translator.ErrorResponse{
		Error: translator.ErrorDetail{
			Message: message,
			Type:    errType,
			Code:    code,
		},
	})
}

// openAIErrorHandler may see the same error twice: once from the request
// logger and once from echo itself. Only the first call writes.
func (s *Server) openAIErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		message := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			message = m
		}
		_ = writeError(c, he.Code, message, "invalid_request_error", nil)
		return
	}

	s.logger.Error("unhandled request error", zap.Error(err))
	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error", nil)
}

// toHTTPError maps failures of a non-streaming request onto a status code.
// Upstream status failures keep the upstream status and message.
func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	var verr *translator.ValidationError
	if errors.As(err, &verr) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: verr.Error(),
			Type:    "invalid_request_error",
			Code:    verr.Field,
		}
	}

	var terr *gemini.TransportError
	if errors.As(err, &terr) {
		switch {
		case terr.Kind == gemini.KindStatus:
			status := terr.Status
			if status < 400 || status > 599 {
				status = http.StatusBadGateway
			}
			return requestError{
				Status:  status,
				Message: terr.ClientMessage(),
				Type:    stream.ErrorTypeUpstream,
				Code:    terr.Status,
			}
		case terr.Timeout():
			return requestError{
				Status:  http.StatusGatewayTimeout,
				Message: terr.ClientMessage(),
				Type:    stream.ErrorTypeConnection,
			}
		default:
			return requestError{
				Status:  http.StatusServiceUnavailable,
				Message: terr.ClientMessage(),
				Type:    stream.ErrorTypeConnection,
			}
		}
	}

	return requestError{
		Status:  http.StatusBadGateway,
		Message: "upstream provider error",
		Type:    stream.ErrorTypeUpstream,
	}
}
