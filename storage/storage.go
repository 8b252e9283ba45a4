package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"perpguard/config"
	"perpguard/logger"
	"perpguard/utils"
)

// Storage 审计存储接口
type Storage interface {
	SaveOrder(order *OrderRecord) error
	SaveCloseAttempt(attempt *CloseAttemptRecord) error
	SaveCloseSequence(seq *CloseSequenceRecord) error
	SaveReconciliationHistory(history *ReconciliationHistory) error
	SaveRiskDecision(record *RiskDecisionRecord) error
	SaveCycle(cycle *CycleRecord) error
	QueryOrders(limit int) ([]*OrderRecord, error)
	QueryCloseAttempts(symbol string, limit int) ([]*CloseAttemptRecord, error)
	QueryCloseSequences(limit int) ([]*CloseSequenceRecord, error)
	QueryReconciliationHistory(symbol string, limit int) ([]*ReconciliationHistory, error)
	QueryRiskDecisions(limit int) ([]*RiskDecisionRecord, error)
	QueryCycles(limit int) ([]*CycleRecord, error)
	Close() error
}

// storageEvent 存储事件
type storageEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// StorageService 异步审计存储服务
// 审计写入失败不影响交易主流程，落库失败时写入保底日志文件
type StorageService struct {
	storage      Storage
	logs         *LogStorage
	cfg          *config.Config
	runID        string
	eventCh      chan *storageEvent
	buffer       []*storageEvent
	mu           sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}
	fallbackPath string
	stopped      bool
	stopMu       sync.Mutex
}

// NewStorageService 创建存储服务，未启用时返回空实现（所有写入被忽略）
func NewStorageService(cfg *config.Config, runID string) (*StorageService, error) {
	if !cfg.Storage.Enabled {
		return &StorageService{}, nil
	}

	sqliteStorage, err := NewSQLiteStorage(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化 SQLite 存储失败: %w", err)
	}

	ss := &StorageService{
		storage:      sqliteStorage,
		cfg:          cfg,
		runID:        runID,
		eventCh:      make(chan *storageEvent, cfg.Storage.BufferSize),
		buffer:       make([]*storageEvent, 0, cfg.Storage.BatchSize),
		fallbackPath: filepath.Join(filepath.Dir(cfg.Storage.Path), "storage_fallback.log"),
	}
	if cfg.Storage.PersistLogs {
		ss.logs = NewLogStorage(sqliteStorage.DB())
	}
	return ss, nil
}

// Enabled 是否启用了审计存储
func (ss *StorageService) Enabled() bool {
	return ss != nil && ss.storage != nil
}

// GetStorage 获取底层存储接口（用于查询）
func (ss *StorageService) GetStorage() Storage {
	if ss == nil {
		return nil
	}
	return ss.storage
}

// Logs 日志存储，未启用时为 nil
func (ss *StorageService) Logs() *LogStorage {
	if ss == nil {
		return nil
	}
	return ss.logs
}

// Start 启动存储服务
func (ss *StorageService) Start(ctx context.Context) {
	if !ss.Enabled() {
		return
	}

	ctx, ss.cancel = context.WithCancel(ctx)
	ss.done = make(chan struct{})
	go ss.processEvents(ctx)
	if ss.logs != nil {
		ss.logs.Start()
		logger.SetSink(ss.logs.WriteLog)
	}
	logger.Info("✅ 存储服务已启动 (路径: %s)", ss.cfg.Storage.Path)
}

// Stop 停止存储服务，排空队列后关闭数据库
func (ss *StorageService) Stop() {
	if !ss.Enabled() {
		return
	}
	ss.stopMu.Lock()
	if ss.stopped {
		ss.stopMu.Unlock()
		return
	}
	ss.stopped = true
	ss.stopMu.Unlock()

	if ss.cancel != nil {
		ss.cancel()
		<-ss.done
	}
	ss.drain()
	ss.flush()

	if ss.logs != nil {
		logger.SetSink(nil)
		ss.logs.Stop()
	}
	if err := ss.storage.Close(); err != nil {
		logger.Warn("⚠️ 关闭审计数据库失败: %v", err)
	}
}

// Save 保存数据（完全异步，不阻塞）
func (ss *StorageService) Save(eventType string, data interface{}) {
	if !ss.Enabled() {
		return
	}

	ss.stopMu.Lock()
	stopped := ss.stopped
	ss.stopMu.Unlock()
	if stopped {
		return
	}

	select {
	case ss.eventCh <- &storageEvent{Type: eventType, Data: data}:
	default:
		logger.Warn("⚠️ 存储队列已满，丢弃事件: %s", eventType)
	}
}

// RecordOrder 记录订单
func (ss *StorageService) RecordOrder(o *OrderRecord) {
	if !ss.Enabled() {
		return
	}
	ss.stamp(&o.RunID, &o.CreatedAt)
	ss.Save("order", o)
}

// RecordCloseAttempt 记录平仓尝试
func (ss *StorageService) RecordCloseAttempt(a *CloseAttemptRecord) {
	if !ss.Enabled() {
		return
	}
	ss.stamp(&a.RunID, &a.CreatedAt)
	ss.Save("close_attempt", a)
}

// RecordCloseSequence 记录平仓序列结果
func (ss *StorageService) RecordCloseSequence(c *CloseSequenceRecord) {
	if !ss.Enabled() {
		return
	}
	ss.stamp(&c.RunID, &c.CreatedAt)
	ss.Save("close_sequence", c)
}

// RecordReconciliation 记录启动对账
func (ss *StorageService) RecordReconciliation(h *ReconciliationHistory) {
	if !ss.Enabled() {
		return
	}
	ss.stamp(&h.RunID, &h.CreatedAt)
	ss.Save("reconciliation", h)
}

// RecordRiskDecision 记录风控决策
func (ss *StorageService) RecordRiskDecision(r *RiskDecisionRecord) {
	if !ss.Enabled() {
		return
	}
	ss.stamp(&r.RunID, &r.CreatedAt)
	ss.Save("risk_decision", r)
}

// RecordCycle 记录调度周期
func (ss *StorageService) RecordCycle(c *CycleRecord) {
	if !ss.Enabled() {
		return
	}
	ss.stamp(&c.RunID, &c.CreatedAt)
	ss.Save("cycle", c)
}

func (ss *StorageService) stamp(runID *string, createdAt *time.Time) {
	if *runID == "" {
		*runID = ss.runID
	}
	if createdAt.IsZero() {
		*createdAt = utils.NowUTC()
	}
}

// Flush 同步落库队列中已有的事件
func (ss *StorageService) Flush() {
	if !ss.Enabled() {
		return
	}
	ss.drain()
	ss.flush()
}

// drain 将通道中已排队的事件移入缓冲区
func (ss *StorageService) drain() {
	for {
		select {
		case event := <-ss.eventCh:
			ss.mu.Lock()
			ss.buffer = append(ss.buffer, event)
			ss.mu.Unlock()
		default:
			return
		}
	}
}

// processEvents 处理事件（在独立 goroutine 中运行）
func (ss *StorageService) processEvents(ctx context.Context) {
	defer close(ss.done)

	ticker := time.NewTicker(time.Duration(ss.cfg.Storage.FlushInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event := <-ss.eventCh:
			ss.mu.Lock()
			ss.buffer = append(ss.buffer, event)
			bufferSize := len(ss.buffer)
			ss.mu.Unlock()

			// 达到批量大小时立即刷新
			if bufferSize >= ss.cfg.Storage.BatchSize {
				ss.flush()
			}

		case <-ticker.C:
			ss.flush()
		}
	}
}

// flush 刷新缓冲区到数据库
func (ss *StorageService) flush() {
	ss.mu.Lock()
	if len(ss.buffer) == 0 {
		ss.mu.Unlock()
		return
	}
	events := make([]*storageEvent, len(ss.buffer))
	copy(events, ss.buffer)
	ss.buffer = ss.buffer[:0]
	ss.mu.Unlock()

	if failed, err := ss.batchSave(events); err != nil {
		logger.Error("❌ 审计数据库写入失败: %v", err)
		ss.fallbackToLog(failed)
	}
}

// batchSave 逐条保存，返回未能写入的事件
func (ss *StorageService) batchSave(events []*storageEvent) ([]*storageEvent, error) {
	var errs []error
	var failed []*storageEvent
	for _, event := range events {
		var err error
		switch rec := event.Data.(type) {
		case *OrderRecord:
			err = ss.storage.SaveOrder(rec)
		case *CloseAttemptRecord:
			err = ss.storage.SaveCloseAttempt(rec)
		case *CloseSequenceRecord:
			err = ss.storage.SaveCloseSequence(rec)
		case *ReconciliationHistory:
			err = ss.storage.SaveReconciliationHistory(rec)
		case *RiskDecisionRecord:
			err = ss.storage.SaveRiskDecision(rec)
		case *CycleRecord:
			err = ss.storage.SaveCycle(rec)
		default:
			err = fmt.Errorf("未知的事件数据类型: %T", event.Data)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("保存 %s 失败: %w", event.Type, err))
			failed = append(failed, event)
		}
	}
	return failed, errors.Join(errs...)
}

// fallbackToLog 保底方案：写入日志文件
func (ss *StorageService) fallbackToLog(events []*storageEvent) {
	if len(events) == 0 {
		return
	}
	if err := os.MkdirAll(filepath.Dir(ss.fallbackPath), 0o755); err != nil {
		logger.Error("❌ 创建日志目录失败: %v", err)
		return
	}

	file, err := os.OpenFile(ss.fallbackPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.Error("❌ 打开保底日志文件失败: %v", err)
		return
	}
	defer file.Close()

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		fmt.Fprintf(file, "%s %s\n", utils.NowUTC().Format(time.RFC3339), data)
	}
}
