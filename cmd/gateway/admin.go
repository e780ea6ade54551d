package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/aegis/clog"
	"github.com/ceyewan/aegis/eventbus"
	"github.com/ceyewan/aegis/xerrors"
)

// registerBusAdmin 注册事件总线的管理接口
//
// NATS 驱动不支持滞后查询与位点改写，对应接口返回 501。
func registerBusAdmin(r *gin.Engine, bus eventbus.Bus, logger clog.Logger) {
	group := r.Group("/gateway/eventbus")

	group.GET("/lag", func(c *gin.Context) {
		lags, err := bus.Lag(c.Request.Context())
		if err != nil {
			writeBusError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"lag": lags})
	})

	group.POST("/offsets/reset", func(c *gin.Context) {
		var req struct {
			Topic     string `json:"topic" binding:"required"`
			Partition int32  `json:"partition"`
			Offset    int64  `json:"offset"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
				"code":    "INVALID_BODY",
				"message": err.Error(),
			}})
			return
		}

		if err := bus.ResetOffset(c.Request.Context(), req.Topic, req.Partition, req.Offset); err != nil {
			writeBusError(c, err)
			return
		}

		logger.Info("consumer offset reset via admin api",
			clog.String("topic", req.Topic),
			clog.Int("partition", int(req.Partition)),
			clog.Int64("offset", req.Offset))
		c.JSON(http.StatusOK, gin.H{
			"topic":     req.Topic,
			"partition": req.Partition,
			"offset":    req.Offset,
		})
	})
}

func writeBusError(c *gin.Context, err error) {
	if xerrors.Is(err, eventbus.ErrNotSupported) {
		c.JSON(http.StatusNotImplemented, gin.H{"error": gin.H{
			"code":    "NOT_SUPPORTED",
			"message": err.Error(),
		}})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{
		"code":    "EVENTBUS_ERROR",
		"message": err.Error(),
	}})
}
