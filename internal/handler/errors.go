package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/dealhub/internal/middleware"
	"github.com/hitoshi/dealhub/internal/model"
)

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 64 << 10

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	middleware.WriteJSON(w, statusCode, body)
}

// decodeJSON はリクエストボディをJSONとして読み取る。
// 解析に失敗した場合はINVALID_REQUESTを書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	return true
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("内部エラーが発生しました", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest, model.ErrCodeValidationFailed, model.ErrCodeInvalidRole:
		return http.StatusBadRequest
	case model.ErrCodeCodeNotFound, model.ErrCodeInvalidOrExpiredCode:
		return http.StatusBadRequest
	case model.ErrCodeEmailInUse:
		return http.StatusConflict
	case model.ErrCodeInvalidCredentials, model.ErrCodeMissingRefreshToken,
		model.ErrCodeInvalidRefreshToken, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeEmailNotVerified, model.ErrCodeInsufficientRole,
		model.ErrCodeOwnershipMismatch, model.ErrCodeOriginNotAllowed:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeTooManyAttempts, model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
