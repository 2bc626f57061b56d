// Package refresh はセッショントークンの定期リフレッシュジョブを提供する。
// 有効期限がマージン内に入ったセッションをバックグラウンドで更新し、
// 更新結果はバックエンドの変更通知を通じてセッションコンテナに反映される。
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Refresher は必要に応じてセッションを更新するインターフェース。
type Refresher interface {
	RefreshIfNeeded(ctx context.Context) error
}

// Recorder はリフレッシュ結果のメトリクス記録インターフェース。
type Recorder interface {
	RecordRefresh(err error)
}

// Worker は一定間隔でRefreshIfNeededを呼び出すジョブ。
type Worker struct {
	refresher Refresher
	interval  time.Duration
	logger    *slog.Logger
	recorder  Recorder

	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewWorker はWorkerを生成する。intervalが0以下の場合はデフォルト値30秒を使用する。
func NewWorker(refresher Refresher, interval time.Duration, logger *slog.Logger, recorder Recorder) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{
		refresher: refresher,
		interval:  interval,
		logger:    logger,
		recorder:  recorder,
	}
}

// Start はバックグラウンドでティッカーループを起動する。Stopで停止する。
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.Run(ctx)
	}()
}

// Stop はループを停止し、終了を待つ。複数回呼び出しても安全。
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

// Run はコンテキストがキャンセルされるまでティッカーでRunOnceを実行する。
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("session refresh worker started",
		slog.Duration("interval", w.interval),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("session refresh worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce はリフレッシュを1回試行する。失敗はログに記録し、次の周期で再試行する。
func (w *Worker) RunOnce(ctx context.Context) {
	err := w.refresher.RefreshIfNeeded(ctx)
	if w.recorder != nil {
		w.recorder.RecordRefresh(err)
	}
	if err != nil && ctx.Err() == nil {
		w.logger.Warn("session refresh failed",
			slog.String("error", err.Error()),
		)
	}
}
