package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Body struct {
	Code int         `json:"code"`
	Data interface{} `json:"data"`
	Msg  string      `json:"msg"`
}

func Success(c *gin.Context, data interface{}) {
	JSON(c, http.StatusOK, data, "")
}

func SuccessWithMsg(c *gin.Context, data interface{}, msg string) {
	JSON(c, http.StatusOK, data, msg)
}

func Error(c *gin.Context, status int, msg string) {
	JSON(c, status, gin.H{}, msg)
}

func JSON(c *gin.Context, status int, data interface{}, msg string) {
	if data == nil {
		data = gin.H{}
	}
	c.JSON(status, Body{
		Code: status,
		Data: data,
		Msg:  msg,
	})
}

// Paged is the envelope for limit/offset listings (commissions, payout
// requests).
func Paged(c *gin.Context, items interface{}, total int64) {
	Success(c, gin.H{"items": items, "total": total})
}

// PagedAt is the envelope for page/size listings (admin users, commission
// configs); it echoes the page back so clients do not have to track it.
func PagedAt(c *gin.Context, items interface{}, total int64, page, size int) {
	Success(c, gin.H{"items": items, "total": total, "page": page, "size": size})
}
