package history

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// 匿名呼び出し元は全所有者の履歴を参照できる。所有者分離は信頼境界の外側の責務。
const anonymousOwner = "anonymous"

func ownerFilter(c *gin.Context) string {
	owner := c.Query("userId")
	if owner == "" {
		owner = c.GetHeader("X-User-Id")
	}
	if owner == anonymousOwner {
		return ""
	}
	return owner
}

// ListHandler は履歴一覧を新しい順に返すハンドラーを返します。
func ListHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit <= 0 {
			limit = 50
		}
		offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if err != nil || offset < 0 {
			offset = 0
		}

		records, total, err := store.List(c.Request.Context(), ownerFilter(c), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "履歴の取得に失敗しました。",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"records": records,
			"total":   total,
			"limit":   limit,
			"offset":  offset,
		})
	}
}

// DetailHandler は履歴レコード1件を返すハンドラーを返します。
func DetailHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := store.Detail(c.Request.Context(), c.Param("taskId"))
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "RECORD_NOT_FOUND",
					"message": "指定された履歴が見つかりません。",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "履歴の取得に失敗しました。",
			})
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

// DeleteHandler は履歴レコードと対応するPDFファイルを削除するハンドラーを返します。
// 存在しないレコードの削除も成功として扱います。
func DeleteHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		deleted, err := store.Remove(c.Request.Context(), c.Param("taskId"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "履歴の削除に失敗しました。",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"deletedCount": deleted,
		})
	}
}

// ClearHandler は呼び出し元（匿名の場合は全員）の履歴をまとめて削除するハンドラーを返します。
func ClearHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		deleted, err := store.RemoveByOwner(c.Request.Context(), ownerFilter(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "履歴の全削除に失敗しました。",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"deletedCount": deleted,
		})
	}
}
