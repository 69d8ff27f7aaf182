// Package export 编排一次 QR 批量导出：
// 校验输入 → 有界并发生成位图 → 并发运行请求的导出器 → （可选）上传产物与元数据。
//
// 状态机：idle → generating_rasters → running_writers → (uploading) → done | failed。
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/qrexport/internal/domain"
	"github.com/John-Robertt/qrexport/internal/infra/logx"
	"github.com/John-Robertt/qrexport/internal/layout"
	"github.com/John-Robertt/qrexport/internal/pngset"
	"github.com/John-Robertt/qrexport/internal/raster"
	"github.com/John-Robertt/qrexport/internal/slug"
	"github.com/John-Robertt/qrexport/internal/store"
)

const (
	DefaultConcurrency = 8
	MaxConcurrency     = 32

	// StagingPrefix 是单次导出的临时目录前缀：<out>/.qrexport-<run_id>。
	StagingPrefix = ".qrexport-"

	// DefaultProgressInterval 是位图阶段 OnProgress 事件的间隔。
	DefaultProgressInterval = 2 * time.Second
)

// Options 是编排器的依赖与参数。零值字段使用默认值（见 withDefaults）。
type Options struct {
	OutDir      string
	Concurrency int

	Encoder raster.Encoder
	// Raster 是 PDF 版式使用的渲染参数；ShareSize 覆盖 PNG/压缩包请求时的位图边长。
	Raster    raster.Options
	ShareSize int
	Paper     layout.Paper

	// RasterTimeout 限制单个地址的生成耗时；UploadTimeout 限制整个上传阶段。0 表示不限。
	RasterTimeout time.Duration
	UploadTimeout time.Duration

	// Objects 非 nil 表示调用方请求远端持久化；Metadata 可选。
	Objects  store.ObjectStore
	Metadata store.MetadataStore

	Logger   *slog.Logger
	Observer Observer
	Now      func() time.Time
	NewRunID func() string

	// ProgressInterval 是位图阶段周期性 OnProgress 的间隔。
	ProgressInterval time.Duration
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.OutDir) == "" {
		o.OutDir = "."
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Concurrency > MaxConcurrency {
		o.Concurrency = MaxConcurrency
	}
	if o.Encoder == nil {
		o.Encoder = raster.Skip2Encoder{}
	}
	o.Raster = o.Raster.WithDefaults()
	if o.ShareSize <= 0 {
		o.ShareSize = raster.ShareSize
	}
	if o.Paper.W <= 0 || o.Paper.H <= 0 {
		o.Paper = layout.PaperForLocale(layout.LocaleFromEnv())
	}
	o.Logger = logx.OrDiscard(o.Logger)
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = DefaultProgressInterval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewRunID == nil {
		o.NewRunID = uuid.NewString
	}
	return o
}

// Exporter 执行导出。一个 Exporter 可被多个 goroutine 并发使用：每次 Export 的状态都在调用栈上。
type Exporter struct {
	opts Options
}

// New 返回使用 opts 的 Exporter。
func New(opts Options) *Exporter {
	return &Exporter{opts: opts.withDefaults()}
}

// Options 返回补齐默认值后的参数。
func (e *Exporter) Options() Options { return e.opts }

// run 是一次导出的可变状态，只由 Export 所在的 goroutine 修改。
type run struct {
	opts  Options
	log   *slog.Logger
	batch domain.BatchConfig
	slug  string
	res   domain.ExportResult

	// pngFiles 是 png_set 成功时写出的文件（上传阶段使用）。
	pngFiles []pngset.File
}

func (r *run) transition(s domain.State) {
	r.res.State = s
	r.log.Info("状态变更", "state", s)
}

// Export 对 addrs 执行一次导出，返回的 ExportResult 总是已 Finalize。
//
// 返回 error 的情况：
//   - invalid_input：批次配置或地址列表非法（未开始任何工作）
//   - no_rasters：所有地址的位图都生成失败
//   - writer_failed：位图有成功，但所有请求的导出类型都失败
//   - upload_failed：上传失败（本地产物仍在 Artifacts 中）
//   - canceled：ctx 被取消或超时
//
// 部分地址失败不是错误：它们记录在 Failures 中。
func (e *Exporter) Export(ctx context.Context, batch domain.BatchConfig, addrs []domain.Address) (domain.ExportResult, error) {
	o := e.opts
	r := &run{
		opts:  o,
		batch: batch,
		res: domain.ExportResult{
			RunID:        o.NewRunID(),
			CampaignID:   batch.CampaignID,
			BatchName:    batch.Name,
			State:        domain.StateIdle,
			AddressCount: len(addrs),
			StartedAt:    o.Now(),
			Artifacts:    map[domain.ExportKind]domain.ArtifactRef{},
		},
	}
	r.log = o.Logger.With("run_id", r.res.RunID, "batch", batch.Name)

	kinds, err := validate(batch, addrs, o.Objects != nil)
	if err != nil {
		return r.finish(domain.StateFailed, err)
	}
	r.batch.Exports = kinds
	r.slug = slug.Normalize(batch.Name)
	o.Observer.OnStart(r.batch, len(addrs), min(o.Concurrency, len(addrs)))

	r.transition(domain.StateGeneratingRasters)
	rasters, err := r.generate(ctx, addrs)
	if err != nil {
		return r.finish(domain.StateFailed, canceled(err))
	}
	if len(rasters) == 0 {
		return r.finish(domain.StateFailed, domain.Errorf(domain.ErrCodeNoRasters, "%d 个地址的位图全部生成失败", len(addrs)))
	}

	r.transition(domain.StateRunningWriters)
	r.runWriters(ctx, rasters)
	if err := ctx.Err(); err != nil {
		return r.finish(domain.StateFailed, canceled(err))
	}
	if r.okKinds() == 0 {
		return r.finish(domain.StateFailed, &domain.Error{
			Code: domain.ErrCodeWriterFailed,
			Err:  fmt.Errorf("请求的 %d 种导出全部失败", len(kinds)),
		})
	}

	if o.Objects != nil {
		r.transition(domain.StateUploading)
		if err := r.upload(ctx); err != nil {
			return r.finish(domain.StateFailed, err)
		}
	}
	return r.finish(domain.StateDone, nil)
}

func (r *run) finish(s domain.State, err error) (domain.ExportResult, error) {
	r.res.State = s
	r.res.FinishedAt = r.opts.Now()
	r.res.Finalize()
	if err != nil {
		r.log.Error("导出失败", "state", s, "error_code", domain.Code(err), "err", err)
		return r.res, err
	}
	r.log.Info("导出完成",
		"state", s,
		"rasters", r.res.RasterCount,
		"failures", len(r.res.Failures),
		"duration", r.res.FinishedAt.Sub(r.res.StartedAt),
	)
	return r.res, nil
}

func (r *run) okKinds() int {
	n := 0
	for _, k := range r.res.Kinds {
		if k.Status == domain.KindStatusOK {
			n++
		}
	}
	return n
}

// validate 在开始任何工作之前拒绝非法输入，返回规范化后的导出类型集合。
func validate(batch domain.BatchConfig, addrs []domain.Address, upload bool) ([]domain.ExportKind, error) {
	invalid := func(format string, args ...any) error {
		return domain.Errorf(domain.ErrCodeInvalidInput, format, args...)
	}
	if strings.TrimSpace(batch.Name) == "" {
		return nil, invalid("批次名不能为空")
	}
	if len(addrs) == 0 {
		return nil, invalid("地址列表为空")
	}
	kinds := domain.NormalizeKinds(batch.Exports)
	if len(kinds) == 0 {
		return nil, invalid("未请求任何导出类型")
	}
	for _, k := range kinds {
		if _, err := domain.ParseExportKind(string(k)); err != nil {
			return nil, &domain.Error{Code: domain.ErrCodeInvalidInput, Err: err}
		}
	}
	if upload && strings.TrimSpace(batch.CampaignID) == "" {
		return nil, invalid("上传需要 campaign_id")
	}
	seen := make(map[string]struct{}, len(addrs))
	for i, a := range addrs {
		id := strings.TrimSpace(a.ID)
		if id == "" {
			return nil, invalid("第 %d 个地址缺少 id", i+1)
		}
		if _, ok := seen[id]; ok {
			return nil, invalid("地址 id 重复：%q", id)
		}
		seen[id] = struct{}{}
		if err := domain.ValidateURL(a.DestinationURL); err != nil {
			return nil, &domain.Error{Code: domain.ErrCodeInvalidInput, Err: fmt.Errorf("地址 %s：%w", id, err)}
		}
	}
	return kinds, nil
}

// canceled 把 ctx 错误映射为 canceled；其它错误原样返回。
func canceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.Error{Code: domain.ErrCodeCanceled, Err: err}
	}
	return err
}
