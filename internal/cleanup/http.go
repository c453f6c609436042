package cleanup

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type manualSweepRequest struct {
	BeforeDate string `json:"beforeDate"`
}

type configUpdateRequest struct {
	RetentionHours       *int  `json:"retentionHours"`
	SweepIntervalMinutes *int  `json:"sweepIntervalMinutes"`
	AutoSweep            *bool `json:"autoSweep"`
}

// ManualHandler は即時掃除を実行するハンドラーを返します。
// beforeDate（RFC3339）を指定した場合はその時点より古いものだけを削除します。
func ManualHandler(sweeper *Sweeper) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req manualSweepRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": "リクエストの形式が正しくありません。",
				})
				return
			}
		}

		cutoff := time.Now().UTC()
		if req.BeforeDate != "" {
			parsed, err := time.Parse(time.RFC3339, req.BeforeDate)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": "beforeDateはRFC3339形式で指定してください。",
				})
				return
			}
			cutoff = parsed.UTC()
		}

		result, err := sweeper.SweepBefore(c.Request.Context(), cutoff)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "クリーンアップの実行に失敗しました。",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"deletedFiles":   result.DeletedFiles,
			"deletedRecords": result.DeletedRecords,
			"orphanFiles":    result.OrphanFiles,
			"cleanupDate":    cutoff.Format(time.RFC3339),
		})
	}
}

// ConfigGetHandler は現在のクリーンアップ設定を返すハンドラーを返します。
func ConfigGetHandler(sweeper *Sweeper) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, sweeper.Config())
	}
}

// ConfigUpdateHandler はクリーンアップ設定を部分更新するハンドラーを返します。
// 指定されなかった項目は現在値を維持します。
func ConfigUpdateHandler(sweeper *Sweeper) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req configUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "リクエストの形式が正しくありません。",
			})
			return
		}

		cfg := sweeper.Config()
		if req.RetentionHours != nil {
			cfg.RetentionHours = *req.RetentionHours
		}
		if req.SweepIntervalMinutes != nil {
			cfg.SweepIntervalMinutes = *req.SweepIntervalMinutes
		}
		if req.AutoSweep != nil {
			cfg.AutoSweep = *req.AutoSweep
		}

		if err := sweeper.UpdateConfig(cfg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, cfg)
	}
}

// StatsHandler はクリーンアップ対象領域の現況を返すハンドラーを返します。
func StatsHandler(sweeper *Sweeper) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := sweeper.CollectStats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "統計情報の取得に失敗しました。",
			})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// StartHandler は周期掃除を開始するハンドラーを返します。
func StartHandler(sweeper *Sweeper) gin.HandlerFunc {
	return func(c *gin.Context) {
		sweeper.Start()
		c.JSON(http.StatusOK, gin.H{
			"isRunning": sweeper.Running(),
		})
	}
}

// StopHandler は周期掃除を停止するハンドラーを返します。
func StopHandler(sweeper *Sweeper) gin.HandlerFunc {
	return func(c *gin.Context) {
		sweeper.Stop()
		c.JSON(http.StatusOK, gin.H{
			"isRunning": sweeper.Running(),
		})
	}
}
