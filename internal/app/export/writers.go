package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/John-Robertt/qrexport/internal/csvmap"
	"github.com/John-Robertt/qrexport/internal/domain"
	"github.com/John-Robertt/qrexport/internal/infra/digest"
	"github.com/John-Robertt/qrexport/internal/layout"
	"github.com/John-Robertt/qrexport/internal/pngset"
	"github.com/John-Robertt/qrexport/internal/ziparch"
)

// 包内产物命名：<slug><suffix>。
const (
	gridSuffix   = "_grid.pdf"
	singleSuffix = "_single.pdf"
	csvSuffix    = "_batch.csv"
	zipSuffix    = "_batch.zip"

	// archiveCSV 是压缩包根目录下映射文件的名字。
	archiveCSV = "batch.csv"
)

// kindOutcome 是一个导出类型的执行结果。
type kindOutcome struct {
	kind domain.ExportKind
	ref  domain.ArtifactRef
	code string
	err  error
	dur  time.Duration
}

// writerOutput 是一条导出流水线交回汇合点的全部结果。
type writerOutput struct {
	kinds    []kindOutcome
	failures []domain.Failure
	pngFiles []pngset.File
}

type writerTask func(ctx context.Context, items []rasterItem) writerOutput

// runWriters 并发运行请求的导出类型。
//
// 三条流水线互不依赖：网格 PDF、单页 PDF、PNG → CSV → 压缩包。
// 它们读取同一份不可变的位图序列，写不同的输出；某个类型失败不影响其它类型。
func (r *run) runWriters(ctx context.Context, items []rasterItem) {
	var tasks []writerTask
	if r.batch.Wants(domain.KindPDFGrid) {
		tasks = append(tasks, r.writeGrid)
	}
	if r.batch.Wants(domain.KindPDFSingle) {
		tasks = append(tasks, r.writeSingle)
	}
	if r.batch.Wants(domain.KindPNGSet) || r.batch.Wants(domain.KindCSVMapping) || r.batch.Wants(domain.KindZIPArchive) {
		tasks = append(tasks, r.writeBundle)
	}

	outs := make([]writerOutput, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		i, task := i, task
		wg.Add(1)
		go func() {
			defer wg.Done()
			outs[i] = task(ctx, items)
		}()
	}
	wg.Wait()

	for _, out := range outs {
		for _, k := range out.kinds {
			r.record(k)
		}
		r.res.Failures = append(r.res.Failures, out.failures...)
		if out.pngFiles != nil {
			r.pngFiles = out.pngFiles
		}
	}
}

func (r *run) record(k kindOutcome) {
	kr := domain.KindResult{Kind: k.kind, Status: domain.KindStatusOK}
	fields := map[string]any{"status": domain.KindStatusOK}
	if k.err != nil {
		code := k.code
		if code == "" {
			code = domain.ErrCodeWriterFailed
		}
		if errors.Is(k.err, context.Canceled) || errors.Is(k.err, context.DeadlineExceeded) {
			code = domain.ErrCodeCanceled
		}
		kr.Status = domain.KindStatusFailed
		kr.ErrorCode = code
		kr.ErrorMsg = k.err.Error()
		fields["status"] = domain.KindStatusFailed
		fields["error_code"] = code
		r.log.Warn("导出失败", "kind", k.kind, "error_code", code, "err", k.err)
	} else {
		r.res.Artifacts[k.kind] = k.ref
		fields["bytes"] = k.ref.Bytes
		if k.ref.Files > 0 {
			fields["files"] = k.ref.Files
		}
		r.log.Info("导出完成", "kind", k.kind, "path", k.ref.Local, "bytes", k.ref.Bytes)
	}
	r.res.Kinds = append(r.res.Kinds, kr)
	r.opts.Observer.OnPhaseDone(string(k.kind), fields, k.dur)
}

func (r *run) writeGrid(ctx context.Context, items []rasterItem) writerOutput {
	return r.writePDF(ctx, domain.KindPDFGrid, r.slug+gridSuffix, items, layout.WriteGrid)
}

func (r *run) writeSingle(ctx context.Context, items []rasterItem) writerOutput {
	return r.writePDF(ctx, domain.KindPDFSingle, r.slug+singleSuffix, items, layout.WriteSingle)
}

type pdfWriter func(ctx context.Context, dir, name string, items []layout.Item, opts layout.Options) (layout.Result, error)

func (r *run) writePDF(ctx context.Context, kind domain.ExportKind, name string, items []rasterItem, write pdfWriter) writerOutput {
	started := time.Now()
	li := make([]layout.Item, len(items))
	for i, it := range items {
		li[i] = layout.Item{Label: it.Label, PNG: it.PNG}
	}
	k := kindOutcome{kind: kind}
	res, err := write(ctx, r.opts.OutDir, name, li, layout.Options{Paper: r.opts.Paper})
	if err == nil {
		k.ref, err = localRef(res.Path)
	}
	k.err = err
	k.dur = time.Since(started)
	return writerOutput{kinds: []kindOutcome{k}}
}

// writeBundle 依次产出 PNG、CSV 与压缩包（后两者复用前者的文件名）。
//
// 只为压缩包准备的 PNG 写在本次导出独占的临时目录 <out>/.qrexport-<run_id>，结束时总是删除。
func (r *run) writeBundle(ctx context.Context, items []rasterItem) writerOutput {
	var out writerOutput
	wantPNG := r.batch.Wants(domain.KindPNGSet)
	wantCSV := r.batch.Wants(domain.KindCSVMapping)
	wantZIP := r.batch.Wants(domain.KindZIPArchive)

	entries := make([]pngset.Entry, len(items))
	for i, it := range items {
		entries[i] = pngset.Entry{AddressID: it.AddressID, Label: it.Label, PNG: it.PNG}
	}

	started := time.Now()
	var files []pngset.File
	var pngErr error
	if wantPNG || wantZIP {
		root := filepath.Join(r.opts.OutDir, r.slug)
		if !wantPNG {
			staging := filepath.Join(r.opts.OutDir, StagingPrefix+r.res.RunID)
			defer func() {
				if err := os.RemoveAll(staging); err != nil {
					r.log.Warn("清理临时目录失败", "dir", staging, "err", err)
				}
			}()
			root = filepath.Join(staging, r.slug)
		}
		res, err := pngset.Write(ctx, root, entries)
		files = res.Files
		for _, f := range res.Failures {
			r.log.Warn("PNG 写出失败", "address_id", f.AddressID, "file", f.Name, "err", f.Err)
			out.failures = append(out.failures, domain.Failure{
				AddressID: f.AddressID,
				Stage:     domain.StagePNGWrite,
				ErrorCode: domain.ErrCodeWriterFailed,
				Reason:    f.Err.Error(),
			})
		}
		switch {
		case err != nil:
			pngErr = err
		case len(files) == 0:
			pngErr = errors.New("没有成功写出的 PNG")
		}
		if wantPNG {
			k := kindOutcome{kind: domain.KindPNGSet, err: pngErr, dur: time.Since(started)}
			if pngErr == nil {
				k.ref = domain.ArtifactRef{Local: res.Dir, Bytes: res.Bytes(), Files: len(files)}
				out.pngFiles = files
			}
			out.kinds = append(out.kinds, k)
		}
	} else {
		// 只请求映射文件：文件名按同一规则分配，但不落盘 PNG。
		for i, name := range pngset.AssignNames(entries) {
			files = append(files, pngset.File{AddressID: items[i].AddressID, Label: items[i].Label, Name: name})
		}
	}

	rows := make([]csvmap.Row, len(files))
	for i, f := range files {
		rows[i] = csvmap.Row{Address: f.Label, File: f.Name}
	}
	depErr := func() error {
		if pngErr == nil {
			return nil
		}
		return fmt.Errorf("PNG 阶段失败：%w", pngErr)
	}

	if wantCSV {
		started := time.Now()
		k := kindOutcome{kind: domain.KindCSVMapping, err: depErr()}
		if k.err == nil {
			var res csvmap.Result
			if res, k.err = csvmap.Write(ctx, r.opts.OutDir, r.slug+csvSuffix, rows); k.err == nil {
				k.ref, k.err = localRef(res.Path)
			}
		}
		k.dur = time.Since(started)
		out.kinds = append(out.kinds, k)
	}

	if wantZIP {
		started := time.Now()
		k := kindOutcome{kind: domain.KindZIPArchive, code: domain.ErrCodeArchiveFailed, err: depErr()}
		if k.err == nil {
			var res ziparch.Result
			if res, k.err = r.writeArchive(ctx, files, rows); k.err == nil {
				if k.ref, k.err = localRef(res.Path); k.err == nil {
					k.ref.Files = res.Entries
				}
			}
		}
		k.dur = time.Since(started)
		out.kinds = append(out.kinds, k)
	}
	return out
}

// writeArchive 写 <out>/<slug>_batch.zip：<slug>/qr/*.png 在前，<slug>/batch.csv 在后。
func (r *run) writeArchive(ctx context.Context, files []pngset.File, rows []csvmap.Row) (ziparch.Result, error) {
	var csvBuf bytes.Buffer
	if err := csvmap.Encode(&csvBuf, rows); err != nil {
		return ziparch.Result{}, err
	}
	entries := make([]ziparch.Entry, 0, len(files)+1)
	for _, f := range files {
		entries = append(entries, ziparch.FileEntry(f.RelPath(), f.Path))
	}
	entries = append(entries, ziparch.BytesEntry(archiveCSV, csvBuf.Bytes()))
	return ziparch.WriteFile(ctx, r.opts.OutDir, r.slug+zipSuffix, ziparch.WithRoot(r.slug, entries))
}

func localRef(path string) (domain.ArtifactRef, error) {
	d, n, err := digest.File(path)
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("计算摘要失败：%w", err)
	}
	return domain.ArtifactRef{Local: path, Bytes: n, Digest: d}, nil
}
