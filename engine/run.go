package engine

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"perpguard/logger"
)

// Service 与引擎同生命周期运行的后台服务（状态接口、系统指标采集等）
// 返回 nil 或 context.Canceled 视为正常退出
type Service func(ctx context.Context) error

// RunWithServices 运行引擎和附属服务；引擎退出后取消所有服务并返回引擎的错误
func RunWithServices(ctx context.Context, e *Engine, services ...Service) error {
	g, gctx := errgroup.WithContext(ctx)
	svcCtx, stopServices := context.WithCancel(gctx)
	defer stopServices()

	var engineErr error
	g.Go(func() error {
		defer stopServices()
		engineErr = e.Run(gctx)
		return nil
	})

	for _, svc := range services {
		svc := svc
		g.Go(func() error {
			if err := svc(svcCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("❌ 后台服务异常退出: %v", err)
				return err
			}
			return nil
		})
	}

	svcErr := g.Wait()
	if engineErr != nil {
		return engineErr
	}
	if svcErr != nil && ctx.Err() == nil {
		return svcErr
	}
	return nil
}
