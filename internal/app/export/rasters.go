package export

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/John-Robertt/qrexport/internal/domain"
	"github.com/John-Robertt/qrexport/internal/infra/imgx"
	"github.com/John-Robertt/qrexport/internal/raster"
)

// rasterItem 是一个成功生成的位图。只保留 PNG 编码结果：
// 导出器都从 PNG 字节工作，整批常驻内存的只有压缩后的数据。
type rasterItem struct {
	AddressID string
	Label     string
	PNG       []byte
}

type rasterResult struct {
	idx  int
	item rasterItem
	err  error
	dur  time.Duration
}

// rasterOptions 选择本次导出的位图参数：请求了 PNG/压缩包时统一用分享尺寸，PDF 直接复用。
func (r *run) rasterOptions() raster.Options {
	opts := r.opts.Raster
	if r.batch.Wants(domain.KindPNGSet) || r.batch.Wants(domain.KindZIPArchive) {
		opts.Size = r.opts.ShareSize
	}
	return opts
}

// generate 以有界并发为每个地址生成位图，结果按输入顺序返回。
//
// 单个地址失败记入 r.res.Failures；只有 ctx 取消/超时返回 error。
// worker 只通过 results 通道交回自己的结果，汇总只发生在本函数这一个汇合点。
func (r *run) generate(ctx context.Context, addrs []domain.Address) ([]rasterItem, error) {
	started := time.Now()
	gen := raster.Generator{Encoder: r.opts.Encoder, Options: r.rasterOptions()}

	workers := r.opts.Concurrency
	if workers > len(addrs) {
		workers = len(addrs)
	}

	jobs := make(chan int)
	results := make(chan rasterResult, len(addrs))

	var (
		wg     sync.WaitGroup
		active atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				active.Add(1)
				res := r.rasterize(ctx, gen, idx, addrs[idx])
				active.Add(-1)
				results <- res
			}
		}()
	}

	go func() {
		defer func() {
			close(jobs)
			wg.Wait()
			close(results)
		}()
		for i := range addrs {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()

	// 汇合点同时负责周期性进度事件，观察者拿到的计数都来自这一处。
	tick := time.NewTicker(r.opts.ProgressInterval)
	defer tick.Stop()

	slots := make([]*rasterResult, len(addrs))
	done, ok, fail := 0, 0, 0
collect:
	for {
		select {
		case res, more := <-results:
			if !more {
				break collect
			}
			done++
			slots[res.idx] = &res
			if res.err != nil {
				fail++
				r.log.Warn("位图生成失败", "address_id", addrs[res.idx].ID, "reason", res.err)
			} else {
				ok++
			}
			r.opts.Observer.OnItemDone(done, len(addrs), addrs[res.idx].ID, res.err, res.dur)
		case <-tick.C:
			r.opts.Observer.OnProgress(done, len(addrs), ok, fail, int(active.Load()), time.Since(started))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 完成顺序不确定；按输入顺序重排后再交给任何导出器。
	items := make([]rasterItem, 0, ok)
	for i, s := range slots {
		if s == nil {
			continue
		}
		if s.err != nil {
			r.res.Failures = append(r.res.Failures, domain.Failure{
				AddressID: addrs[i].ID,
				Stage:     domain.StageRaster,
				ErrorCode: domain.ErrCodeRasterFailed,
				Reason:    s.err.Error(),
			})
			continue
		}
		items = append(items, s.item)
	}
	r.res.RasterCount = len(items)

	r.opts.Observer.OnPhaseDone("rasters", map[string]any{
		"workers": workers,
		"total":   len(addrs),
		"ok":      ok,
		"failed":  fail,
	}, time.Since(started))
	return items, nil
}

func (r *run) rasterize(ctx context.Context, gen raster.Generator, idx int, addr domain.Address) rasterResult {
	started := time.Now()
	out := rasterResult{idx: idx}
	if r.opts.RasterTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.RasterTimeout)
		defer cancel()
	}

	art, err := gen.Generate(ctx, addr)
	if err == nil {
		var b []byte
		if b, err = imgx.EncodePNG(art.Image); err == nil {
			out.item = rasterItem{AddressID: art.AddressID, Label: art.Label, PNG: b}
		} else {
			err = fmt.Errorf("PNG 编码失败：%w", err)
		}
	}
	out.err = err
	out.dur = time.Since(started)
	return out
}
