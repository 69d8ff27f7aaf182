package export

import (
	"time"

	"github.com/John-Robertt/qrexport/internal/domain"
)

// Observer 把“阶段/地址级进度”从编排流程中解耦出来。
//
// 约束：
// - export 包只发事件，不做任何输出（stdout 留给 ExportResult JSON）。
// - 实现必须并发安全：OnItemDone 与各导出器的 OnPhaseDone 可能来自不同 goroutine。
type Observer interface {
	// OnStart 在输入校验通过、开始生成位图之前调用。
	OnStart(batch domain.BatchConfig, total, workers int)
	// OnPhaseDone 在阶段结束时调用：rasters、每个 ExportKind、upload。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnItemDone 在一个地址的位图生成结束时调用（idx 为完成序号，从 1 开始）。
	OnItemDone(idx, total int, addressID string, err error, dur time.Duration)
	// OnProgress 在位图阶段每隔 Options.ProgressInterval 调用一次（keepalive），active 为正在生成的地址数。
	OnProgress(done, total, ok, fail, active int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) OnStart(domain.BatchConfig, int, int) {}
func (nopObserver) OnPhaseDone(string, map[string]any, time.Duration) {}
func (nopObserver) OnItemDone(int, int, string, error, time.Duration) {}
func (nopObserver) OnProgress(int, int, int, int, int, time.Duration) {}
