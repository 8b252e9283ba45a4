package web

import (
	"net/http/pprof"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes 设置路由，所有接口只读
func SetupRoutes(r *gin.Engine, api *API) {
	r.GET("/healthz", api.healthz)

	// Prometheus metrics 端点（供 Prometheus 抓取）
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// pprof 性能分析端点，默认只监听 127.0.0.1
	pprofGroup := r.Group("/debug/pprof")
	{
		pprofGroup.GET("/", gin.WrapF(pprof.Index))
		pprofGroup.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		pprofGroup.GET("/profile", gin.WrapF(pprof.Profile))
		pprofGroup.GET("/symbol", gin.WrapF(pprof.Symbol))
		pprofGroup.GET("/trace", gin.WrapF(pprof.Trace))
		pprofGroup.GET("/goroutine", gin.WrapH(pprof.Handler("goroutine")))
		pprofGroup.GET("/heap", gin.WrapH(pprof.Handler("heap")))
	}

	v1 := r.Group("/api")
	{
		v1.GET("/status", api.getStatus)
		v1.GET("/logs", api.getLogs)

		journal := v1.Group("/journal")
		{
			journal.GET("/orders", api.journalHandler(api.getOrders))
			journal.GET("/closes", api.journalHandler(api.getCloseSequences))
			journal.GET("/close-attempts", api.journalHandler(api.getCloseAttempts))
			journal.GET("/reconciliations", api.journalHandler(api.getReconciliationHistory))
			journal.GET("/risk", api.journalHandler(api.getRiskDecisions))
			journal.GET("/cycles", api.journalHandler(api.getCycles))
		}
	}
}
