package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"perpguard/engine"
	"perpguard/metrics"
	"perpguard/storage"
	"perpguard/utils"
)

// StatusProvider 引擎状态快照
type StatusProvider interface {
	Status() engine.Status
}

// ProcessStatsProvider 进程资源快照
type ProcessStatsProvider interface {
	Snapshot() metrics.ProcessStats
}

// API 只读状态接口，所有依赖都可以为空
type API struct {
	status  StatusProvider
	journal storage.Storage
	logs    *storage.LogStorage
	process ProcessStatsProvider
	started time.Time
}

// NewAPI 创建状态接口
func NewAPI(status StatusProvider, journal storage.Storage, logs *storage.LogStorage, process ProcessStatsProvider) *API {
	return &API{
		status:  status,
		journal: journal,
		logs:    logs,
		process: process,
		started: time.Now(),
	}
}

// healthz 进程存活且引擎未停机时返回 200，停机时返回 503 方便外部告警
func (a *API) healthz(c *gin.Context) {
	if a.status == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	st := a.status.Status()
	if st.Halted {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":      "halted",
			"halt_reason": st.HaltReason,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) getStatus(c *gin.Context) {
	resp := gin.H{
		"uptime_seconds": int64(time.Since(a.started).Seconds()),
		"timezone":       utils.GlobalLocation.String(),
		"server_time":    utils.ToConfiguredTimezone(time.Now()),
	}
	if a.status != nil {
		st := a.status.Status()
		st.StartedAt = utils.ToConfiguredTimezone(st.StartedAt)
		if st.LastCycleAt != nil {
			at := utils.ToConfiguredTimezone(*st.LastCycleAt)
			st.LastCycleAt = &at
		}
		resp["engine"] = st
	}
	if a.process != nil {
		resp["process"] = a.process.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		return 50
	}
	return limit
}

// journalHandler 包装审计查询，存储未启用时返回 503
func (a *API) journalHandler(query func(s storage.Storage, c *gin.Context) (interface{}, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.journal == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "审计存储未启用"})
			return
		}
		data, err := query(a.journal, c)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": data})
	}
}

func (a *API) getOrders(s storage.Storage, c *gin.Context) (interface{}, error) {
	return s.QueryOrders(queryLimit(c))
}

func (a *API) getCloseSequences(s storage.Storage, c *gin.Context) (interface{}, error) {
	return s.QueryCloseSequences(queryLimit(c))
}

func (a *API) getCloseAttempts(s storage.Storage, c *gin.Context) (interface{}, error) {
	return s.QueryCloseAttempts(c.Query("symbol"), queryLimit(c))
}

func (a *API) getReconciliationHistory(s storage.Storage, c *gin.Context) (interface{}, error) {
	return s.QueryReconciliationHistory(c.Query("symbol"), queryLimit(c))
}

func (a *API) getRiskDecisions(s storage.Storage, c *gin.Context) (interface{}, error) {
	return s.QueryRiskDecisions(queryLimit(c))
}

func (a *API) getCycles(s storage.Storage, c *gin.Context) (interface{}, error) {
	return s.QueryCycles(queryLimit(c))
}

// getLogs 查询落库日志
// GET /api/logs?level=ERROR&keyword=平仓&limit=100&offset=0
func (a *API) getLogs(c *gin.Context) {
	if a.logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "日志存储未启用"})
		return
	}

	params := storage.LogQueryParams{
		Level:   c.Query("level"),
		Keyword: c.Query("keyword"),
		Limit:   queryLimit(c),
	}
	if offset, err := strconv.Atoi(c.Query("offset")); err == nil && offset > 0 {
		params.Offset = offset
	}
	if v := c.Query("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.StartTime = t
		}
	}
	if v := c.Query("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.EndTime = t
		}
	}

	logs, total, err := a.logs.GetLogs(params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": logs, "total": total})
}
