package handler

import (
	"net/http"
	"strconv"

	"lawmate-go/internal/service"
	"lawmate-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SearchHandler 负责消息全文搜索的 API 请求。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// SearchMessages 在当前用户的历史消息中做全文检索。
// GET /api/search/messages?q=estoppel&size=10
func (h *SearchHandler) SearchMessages(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "查询参数 q 不能为空",
		})
		return
	}
	size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))

	user := currentUser(c)
	if user == nil {
		return
	}

	docs, err := h.searchService.SearchMessages(c.Request.Context(), user, query, size)
	if err != nil {
		log.Errorf("SearchMessages: 搜索失败, user: %s, error: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "搜索失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": docs})
}
