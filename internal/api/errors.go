package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	xerrors "custody-chain/internal/errors"
	"custody-chain/internal/wallet"
)

// errorResponse 是所有失败响应的统一格式。
type errorResponse struct {
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Class    string                 `json:"class,omitempty"`
	Metadata map[string]string      `json:"metadata,omitempty"`
	Transfer *wallet.TransferResult `json:"transfer,omitempty"`
}

// statusFor 将错误码与类别映射为 HTTP 状态码。
func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case xerrors.CodeNotFound, wallet.CodeWalletNotFound, wallet.CodeAliasNotFound:
		return http.StatusNotFound
	case wallet.CodeInsufficientBalance:
		return http.StatusUnprocessableEntity
	case wallet.CodeWalletExists, xerrors.CodeConflict:
		return http.StatusConflict
	}
	switch xerrors.ClassOf(err) {
	case xerrors.ClassInput:
		return http.StatusBadRequest
	case xerrors.ClassTransient:
		return http.StatusServiceUnavailable
	case xerrors.ClassRejected:
		return http.StatusConflict
	case xerrors.ClassAmbiguous:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

func responseFor(err error) errorResponse {
	coded, ok := xerrors.From(err)
	if !ok {
		return errorResponse{
			Code:    string(xerrors.CodeUnknown),
			Message: "internal error",
			Class:   string(xerrors.ClassFatal),
		}
	}
	return errorResponse{
		Code:     string(coded.Code()),
		Message:  coded.Message(),
		Class:    string(coded.Class()),
		Metadata: coded.Metadata(),
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeTransferError(w, r, nil, err)
}

// writeTransferError 在账本已受理交易时一并返回交易 ID 与浏览器链接。
func (s *Server) writeTransferError(w http.ResponseWriter, r *http.Request, result *wallet.TransferResult, err error) {
	status := statusFor(err)
	body := responseFor(err)
	body.Transfer = result
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("code", body.Code),
			slog.Any("error", err),
		)
	}
	writeJSON(w, status, body)
}

func writeStatus(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
