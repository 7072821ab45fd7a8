package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smart-medical/diagnosis-server/internal/domain"
)

// respondError maps a service error onto the standardized error envelope.
func (s *Server) respondError(c *gin.Context, err error) {
	requestID := c.GetString("request_id")

	var status int
	var code, message string

	switch {
	case errors.Is(err, domain.ErrNotFound):
		status, code, message = http.StatusNotFound, domain.ErrCodeNotFound, "记录不存在"
	case errors.Is(err, domain.ErrNoMedicalData):
		status, code, message = http.StatusBadRequest, domain.ErrCodeNoMedicalData, "患者无任何医疗数据，无法生成诊断"
	case errors.Is(err, domain.ErrTaskInProgress):
		status, code, message = http.StatusConflict, domain.ErrCodeTaskInProgress, "该患者已有诊断任务正在执行"
	default:
		status, code, message = http.StatusInternalServerError, domain.ErrCodeInternalServer, "服务器内部错误"
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("request_id", requestID).Error("Request failed")
	}

	c.JSON(status, gin.H{
		"error": domain.NewAPIError(code, message, err.Error(), requestID),
	})
}

// respondInvalid reports a 400 for malformed request input. The offending
// field travels alongside the error envelope so clients can highlight it.
func (s *Server) respondInvalid(c *gin.Context, verr *domain.ValidationError) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":      domain.NewAPIError(domain.ErrCodeInvalidInput, "请求参数无效", verr.Error(), c.GetString("request_id")),
		"validation": verr,
	})
}
