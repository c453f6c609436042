package jobs

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// generateRequest はPDF生成APIのリクエストボディです。
type generateRequest struct {
	Images []ImageRequest `json:"images"`
}

// ownerFromRequest は呼び出し元の識別子を解決します。
// ヘッダー、クエリの順に探し、どちらも無ければ匿名扱いにします。
func ownerFromRequest(c *gin.Context) string {
	if owner := c.GetHeader("X-User-Id"); owner != "" {
		return owner
	}
	if owner := c.Query("userId"); owner != "" {
		return owner
	}
	return AnonymousOwner
}

// GenerateHandler はPDF生成タスクを受け付けるハンドラーを返します。
// 受理した時点では変換は完了しておらず、202とタスクIDを返します。
func GenerateHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req generateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "リクエストの形式が正しくありません。",
			})
			return
		}

		taskID, err := manager.Submit(c.Request.Context(), ownerFromRequest(c), req.Images)
		if err != nil {
			if errors.Is(err, ErrEmptyImageList) {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": "変換する画像が指定されていません。",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "タスクの受付に失敗しました。",
			})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"taskId": taskID,
			"status": StatusProcessing,
		})
	}
}

// StatusHandler はタスクの現在状態を返すハンドラーを返します。
func StatusHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		task, err := manager.GetTask(c.Param("taskId"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "TASK_NOT_FOUND",
				"message": "指定されたタスクが見つかりません。",
			})
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

// DownloadHandler は完了済みタスクのダウンロード情報を返すハンドラーを返します。
func DownloadHandler(manager *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("taskId")
		task, err := manager.GetTask(taskID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "TASK_NOT_FOUND",
				"message": "指定されたタスクが見つかりません。",
			})
			return
		}
		if task.Status != StatusCompleted {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "TASK_NOT_READY",
				"message": "PDFはまだ生成されていません。",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"downloadUrl": manager.DownloadURL(taskID),
			"filename":    DocumentFilename(taskID),
		})
	}
}
