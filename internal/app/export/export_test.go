package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/John-Robertt/qrexport/internal/domain"
	"github.com/John-Robertt/qrexport/internal/layout"
	"github.com/John-Robertt/qrexport/internal/raster"
	"github.com/John-Robertt/qrexport/internal/store"
)

// failingEncoder 对 URL 以 /<id> 结尾的地址编码失败，其余委托给 skip2。
type failingEncoder struct {
	fail map[string]bool
}

func (failingEncoder) Name() string { return "failing" }

func (e failingEncoder) Encode(content string, level raster.Level) (raster.Matrix, error) {
	id := content[strings.LastIndex(content, "/")+1:]
	if e.fail[id] {
		return nil, errors.New("boom")
	}
	return raster.Skip2Encoder{}.Encode(content, level)
}

type recordObserver struct {
	mu sync.Mutex

	startCalls int
	phases     []string
	items      []string
	progress   [][2]int // {done, active}
}

func (o *recordObserver) OnStart(batch domain.BatchConfig, total, workers int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.startCalls++
}

func (o *recordObserver) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, name)
}

func (o *recordObserver) OnItemDone(idx, total int, addressID string, err error, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(o.items, addressID)
}

func (o *recordObserver) OnProgress(done, total, ok, fail, active int, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = append(o.progress, [2]int{done, active})
}

// slowEncoder 每次编码前等待 delay，其余委托给 skip2。
type slowEncoder struct {
	delay time.Duration
}

func (slowEncoder) Name() string { return "slow" }

func (e slowEncoder) Encode(content string, level raster.Level) (raster.Matrix, error) {
	time.Sleep(e.delay)
	return raster.Skip2Encoder{}.Encode(content, level)
}

type failingStore struct{}

func (failingStore) Put(ctx context.Context, objectPath string, r io.Reader) (string, error) {
	return "", errors.New("503 from object store")
}

func testOptions(out string) Options {
	return Options{
		OutDir:      out,
		Concurrency: 3,
		Raster:      raster.Options{Size: 200, Level: raster.LevelMedium, QuietZone: raster.DefaultQuietZone},
		ShareSize:   256,
		Paper:       layout.A4,
		Now:         func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		NewRunID:    func() string { return "run-1" },
	}
}

func testAddresses(labels ...string) []domain.Address {
	out := make([]domain.Address, len(labels))
	for i, l := range labels {
		id := string(rune('a' + i))
		out[i] = domain.Address{ID: id, DisplayLabel: l, DestinationURL: "https://example.com/addr/" + id}
	}
	return out
}

func bundleBatch(kinds ...domain.ExportKind) domain.BatchConfig {
	return domain.BatchConfig{
		Name:        "161 Sprucewood Crescent!",
		CampaignID:  "c42",
		Destination: domain.PerAddressURL{Template: "https://example.com/addr/{id}"},
		Exports:     kinds,
	}
}

func readZip(t *testing.T, path string) map[string][]byte {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("打开压缩包失败：%v", err)
	}
	defer zr.Close()
	out := map[string][]byte{}
	for _, f := range zr.File {
		if f.Method != zip.Store {
			t.Fatalf("%s 不是 stored：method=%d", f.Name, f.Method)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("打开条目失败：%v", err)
		}
		b, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			t.Fatalf("读取条目失败（CRC 校验）：%v", err)
		}
		out[f.Name] = b
	}
	return out
}

func TestExport_SprucewoodScenario(t *testing.T) {
	out := t.TempDir()
	obs := &recordObserver{}
	opts := testOptions(out)
	opts.Observer = obs
	addrs := testAddresses("12 Elm St", "9 Oak Ave", "1 Main St, Apt 2")

	res, err := New(opts).Export(context.Background(),
		bundleBatch(domain.KindZIPArchive, domain.KindPNGSet, domain.KindCSVMapping), addrs)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if res.State != domain.StateDone || res.RasterCount != 3 || len(res.Failures) != 0 {
		t.Fatalf("结果不符合预期：%+v", res)
	}
	if len(res.Kinds) != 3 || res.Kinds[0].Kind != domain.KindPNGSet || res.Kinds[2].Kind != domain.KindZIPArchive {
		t.Fatalf("kinds 不符合预期：%+v", res.Kinds)
	}
	for _, k := range res.Kinds {
		if k.Status != domain.KindStatusOK {
			t.Fatalf("%s 失败：%+v", k.Kind, k)
		}
	}

	zipRef, ok := res.Artifact(domain.KindZIPArchive)
	if !ok || zipRef.Local != filepath.Join(out, "161_sprucewood_crescent_batch.zip") {
		t.Fatalf("zip 产物不符合预期：%+v", zipRef)
	}
	if !strings.HasPrefix(zipRef.Digest, "blake3:") || zipRef.Files != 4 {
		t.Fatalf("zip 摘要/条目数不符合预期：%+v", zipRef)
	}

	entries := readZip(t, zipRef.Local)
	var pngs []string
	for name := range entries {
		if !strings.HasPrefix(name, "161_sprucewood_crescent/") {
			t.Fatalf("条目不在根目录下：%q", name)
		}
		if strings.HasPrefix(name, "161_sprucewood_crescent/qr/") && strings.HasSuffix(name, ".png") {
			pngs = append(pngs, name)
		}
	}
	if len(pngs) != 3 {
		t.Fatalf("期望 3 个 PNG，实际 %v", pngs)
	}

	csvBytes, ok := entries["161_sprucewood_crescent/batch.csv"]
	if !ok {
		t.Fatalf("压缩包缺少 batch.csv")
	}
	if n := bytes.Count(csvBytes, []byte("\n")); n != 4 {
		t.Fatalf("期望 4 行，实际 %d：%q", n, csvBytes)
	}
	recs, err := csv.NewReader(bytes.NewReader(csvBytes)).ReadAll()
	if err != nil {
		t.Fatalf("CSV 解析失败：%v", err)
	}
	if !reflect.DeepEqual(recs[0], []string{"address", "qr"}) {
		t.Fatalf("表头不符合预期：%v", recs[0])
	}
	if recs[3][0] != "1 Main St, Apt 2" {
		t.Fatalf("含逗号的地址应被正确引用：%v", recs[3])
	}
	for _, rec := range recs[1:] {
		if _, ok := entries["161_sprucewood_crescent/"+rec[1]]; !ok {
			t.Fatalf("CSV 路径 %q 在压缩包中不存在", rec[1])
		}
	}

	standalone, err := os.ReadFile(filepath.Join(out, "161_sprucewood_crescent_batch.csv"))
	if err != nil {
		t.Fatalf("独立 CSV 不存在：%v", err)
	}
	if !bytes.Equal(standalone, csvBytes) {
		t.Fatalf("独立 CSV 与压缩包内 CSV 不一致")
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.startCalls != 1 || len(obs.items) != 3 {
		t.Fatalf("observer 事件不符合预期：start=%d items=%v", obs.startCalls, obs.items)
	}
	if obs.phases[0] != "rasters" {
		t.Fatalf("第一个阶段应为 rasters：%v", obs.phases)
	}
}

func TestExport_RoundTripLengths(t *testing.T) {
	out := t.TempDir()
	res, err := New(testOptions(out)).Export(context.Background(),
		bundleBatch(domain.KindPNGSet, domain.KindCSVMapping, domain.KindZIPArchive),
		testAddresses("12 Elm St", "12 elm st", "Rue de l’Église"))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	entries := readZip(t, res.Artifacts[domain.KindZIPArchive].Local)

	pngDir := res.Artifacts[domain.KindPNGSet].Local
	des, err := os.ReadDir(pngDir)
	if err != nil {
		t.Fatalf("读取 PNG 目录失败：%v", err)
	}
	if len(des) != 3 {
		t.Fatalf("期望 3 个 PNG，实际 %d", len(des))
	}
	for _, de := range des {
		fi, err := de.Info()
		if err != nil {
			t.Fatalf("stat 失败：%v", err)
		}
		b, ok := entries["161_sprucewood_crescent/qr/"+de.Name()]
		if !ok {
			t.Fatalf("压缩包缺少 %s", de.Name())
		}
		if int64(len(b)) != fi.Size() {
			t.Fatalf("%s 长度不一致：%d vs %d", de.Name(), len(b), fi.Size())
		}
	}
	if _, ok := entries["161_sprucewood_crescent/qr/12_elm_st_2.png"]; !ok {
		t.Fatalf("重名地址应追加 _2 后缀：%v", entries)
	}
	csvRef := res.Artifacts[domain.KindCSVMapping]
	if int64(len(entries["161_sprucewood_crescent/batch.csv"])) != csvRef.Bytes {
		t.Fatalf("CSV 长度不一致")
	}
}

func TestExport_PartialRasterFailure(t *testing.T) {
	out := t.TempDir()
	opts := testOptions(out)
	opts.Encoder = failingEncoder{fail: map[string]bool{"b": true, "d": true}}
	addrs := testAddresses("one", "two", "three", "four", "five")

	res, err := New(opts).Export(context.Background(), bundleBatch(domain.KindPDFGrid, domain.KindCSVMapping), addrs)
	if err != nil {
		t.Fatalf("部分失败不应返回 error：%v", err)
	}
	if res.RasterCount != 3 || res.AddressCount != 5 {
		t.Fatalf("计数不符合预期：%+v", res)
	}
	if got := res.FailedIDs(domain.StageRaster); !reflect.DeepEqual(got, []string{"b", "d"}) {
		t.Fatalf("失败地址不符合预期：%v", got)
	}
	for _, f := range res.Failures {
		if f.ErrorCode != domain.ErrCodeRasterFailed || f.Reason == "" {
			t.Fatalf("失败记录不完整：%+v", f)
		}
	}

	b, err := os.ReadFile(res.Artifacts[domain.KindCSVMapping].Local)
	if err != nil {
		t.Fatalf("读取 CSV 失败：%v", err)
	}
	want := "address,qr\none,qr/one.png\nthree,qr/three.png\nfive,qr/five.png\n"
	if string(b) != want {
		t.Fatalf("CSV 不符合预期：\n%s", b)
	}
	if _, ok := res.Artifact(domain.KindPDFGrid); !ok {
		t.Fatalf("grid PDF 应已生成")
	}
}

func TestExport_AllRastersFail(t *testing.T) {
	opts := testOptions(t.TempDir())
	opts.Encoder = failingEncoder{fail: map[string]bool{"a": true, "b": true}}

	res, err := New(opts).Export(context.Background(), bundleBatch(domain.KindPNGSet), testAddresses("x", "y"))
	if domain.Code(err) != domain.ErrCodeNoRasters {
		t.Fatalf("期望 no_rasters，实际 %v", err)
	}
	if res.State != domain.StateFailed || len(res.Failures) != 2 || len(res.Artifacts) != 0 {
		t.Fatalf("结果不符合预期：%+v", res)
	}
}

func TestExport_InvalidInput(t *testing.T) {
	good := testAddresses("x")
	cases := []struct {
		name  string
		batch domain.BatchConfig
		addrs []domain.Address
	}{
		{"空批次名", domain.BatchConfig{Exports: []domain.ExportKind{domain.KindPNGSet}}, good},
		{"无导出类型", domain.BatchConfig{Name: "b"}, good},
		{"空地址", domain.BatchConfig{Name: "b", Exports: []domain.ExportKind{domain.KindPNGSet}}, nil},
		{"未知类型", domain.BatchConfig{Name: "b", Exports: []domain.ExportKind{"tiff"}}, good},
		{"非法 URL", domain.BatchConfig{Name: "b", Exports: []domain.ExportKind{domain.KindPNGSet}},
			[]domain.Address{{ID: "a", DisplayLabel: "x", DestinationURL: "not a url"}}},
		{"重复 id", domain.BatchConfig{Name: "b", Exports: []domain.ExportKind{domain.KindPNGSet}},
			[]domain.Address{good[0], good[0]}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := t.TempDir()
			res, err := New(testOptions(out)).Export(context.Background(), tc.batch, tc.addrs)
			if domain.Code(err) != domain.ErrCodeInvalidInput {
				t.Fatalf("期望 invalid_input，实际 %v", err)
			}
			if res.State != domain.StateFailed || res.RasterCount != 0 {
				t.Fatalf("结果不符合预期：%+v", res)
			}
			des, _ := os.ReadDir(out)
			if len(des) != 0 {
				t.Fatalf("非法输入不应产生任何文件：%v", des)
			}
		})
	}
}

func TestExport_ZipOnlyUsesStagingAndCleansUp(t *testing.T) {
	out := t.TempDir()
	res, err := New(testOptions(out)).Export(context.Background(), bundleBatch(domain.KindZIPArchive), testAddresses("x", "y"))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	des, err := os.ReadDir(out)
	if err != nil {
		t.Fatalf("读取输出目录失败：%v", err)
	}
	if len(des) != 1 || des[0].Name() != "161_sprucewood_crescent_batch.zip" {
		var names []string
		for _, de := range des {
			names = append(names, de.Name())
		}
		t.Fatalf("输出目录只应包含压缩包：%v", names)
	}
	if len(readZip(t, res.Artifacts[domain.KindZIPArchive].Local)) != 3 {
		t.Fatalf("压缩包应包含 2 个 PNG + batch.csv")
	}
}

func TestExport_RerunDropsStalePNGs(t *testing.T) {
	out := t.TempDir()
	batch := bundleBatch(domain.KindPNGSet, domain.KindZIPArchive)
	if _, err := New(testOptions(out)).Export(context.Background(), batch, testAddresses("12 Elm St", "9 Oak Ave", "1 Main St")); err != nil {
		t.Fatalf("第一次导出失败：%v", err)
	}
	res, err := New(testOptions(out)).Export(context.Background(), batch, testAddresses("12 Elm St"))
	if err != nil {
		t.Fatalf("第二次导出失败：%v", err)
	}

	ref := res.Artifacts[domain.KindPNGSet]
	des, err := os.ReadDir(ref.Local)
	if err != nil {
		t.Fatalf("读取 PNG 目录失败：%v", err)
	}
	if len(des) != 1 || des[0].Name() != "12_elm_st.png" {
		var names []string
		for _, de := range des {
			names = append(names, de.Name())
		}
		t.Fatalf("PNG 目录只应包含本次导出的文件：%v", names)
	}
	if ref.Files != 1 {
		t.Fatalf("Files 期望 1，实际 %d", ref.Files)
	}
	if n := len(readZip(t, res.Artifacts[domain.KindZIPArchive].Local)); n != 2 {
		t.Fatalf("压缩包应包含 1 个 PNG + batch.csv，实际 %d 项", n)
	}
}

func TestExport_ArchiveIsDeterministic(t *testing.T) {
	batch := bundleBatch(domain.KindZIPArchive)
	addrs := testAddresses("12 Elm St", "9 Oak Ave", "3 Pine Rd")

	var got [][]byte
	for i := 0; i < 2; i++ {
		res, err := New(testOptions(t.TempDir())).Export(context.Background(), batch, addrs)
		if err != nil {
			t.Fatalf("不期望错误：%v", err)
		}
		b, err := os.ReadFile(res.Artifacts[domain.KindZIPArchive].Local)
		if err != nil {
			t.Fatalf("读取压缩包失败：%v", err)
		}
		got = append(got, b)
	}
	if !bytes.Equal(got[0], got[1]) {
		t.Fatalf("相同输入的压缩包应逐字节一致")
	}
}

func TestExport_AllWritersFail(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}

	res, err := New(testOptions(blocker)).Export(context.Background(),
		bundleBatch(domain.KindPDFGrid, domain.KindCSVMapping), testAddresses("x", "y"))
	if domain.Code(err) != domain.ErrCodeWriterFailed {
		t.Fatalf("期望 writer_failed，实际 %v", err)
	}
	if res.State != domain.StateFailed || res.RasterCount != 2 {
		t.Fatalf("结果不符合预期：%+v", res)
	}
	if len(res.Kinds) != 2 {
		t.Fatalf("每个请求的类型都应有状态：%+v", res.Kinds)
	}
	for _, k := range res.Kinds {
		if k.Status != domain.KindStatusFailed || k.ErrorCode != domain.ErrCodeWriterFailed || k.ErrorMsg == "" {
			t.Fatalf("kind 状态不符合预期：%+v", k)
		}
	}
}

func TestExport_CanceledLeavesNoArchive(t *testing.T) {
	out := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(testOptions(out)).Export(ctx, bundleBatch(domain.KindZIPArchive), testAddresses("x", "y", "z"))
	if domain.Code(err) != domain.ErrCodeCanceled || !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 canceled，实际 %v", err)
	}
	if res.State != domain.StateFailed {
		t.Fatalf("状态不符合预期：%s", res.State)
	}
	des, _ := os.ReadDir(out)
	if len(des) != 0 {
		t.Fatalf("取消后不应留下任何文件：%v", des)
	}
}

func TestExport_UploadToFS(t *testing.T) {
	out := t.TempDir()
	remote := store.FS{Root: t.TempDir()}
	opts := testOptions(out)
	opts.Objects = remote
	opts.Metadata = remote

	batch := bundleBatch(domain.KindPNGSet, domain.KindPDFSingle, domain.KindZIPArchive)
	res, err := New(opts).Export(context.Background(), batch, testAddresses("12 Elm St", "9 Oak Ave"))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if res.Upload == nil || res.Upload.Status != domain.KindStatusOK {
		t.Fatalf("上传结果不符合预期：%+v", res.Upload)
	}
	for _, k := range []domain.ExportKind{domain.KindPNGSet, domain.KindPDFSingle, domain.KindZIPArchive} {
		if res.Artifacts[k].Remote == "" {
			t.Fatalf("%s 缺少远端引用", k)
		}
	}

	zipObj := filepath.Join(remote.Root, "c42", "161_sprucewood_crescent_batch.zip")
	if _, err := os.Stat(zipObj); err != nil {
		t.Fatalf("对象不存在：%v", err)
	}
	if _, err := os.Stat(filepath.Join(remote.Root, "c42", "161_sprucewood_crescent_png", "12_elm_st.png")); err != nil {
		t.Fatalf("PNG 对象不存在：%v", err)
	}

	rec, ok, err := remote.Lookup("c42", batch.Name)
	if err != nil || !ok {
		t.Fatalf("元数据不存在：ok=%v err=%v", ok, err)
	}
	if rec.RunID != "run-1" || rec.Refs[string(domain.KindZIPArchive)] != res.Artifacts[domain.KindZIPArchive].Remote {
		t.Fatalf("元数据不符合预期：%+v", rec)
	}
	if rec.Digests[string(domain.KindZIPArchive)] != res.Artifacts[domain.KindZIPArchive].Digest {
		t.Fatalf("元数据摘要不一致：%+v", rec.Digests)
	}
}

func TestExport_UploadFailureKeepsLocalArtifacts(t *testing.T) {
	out := t.TempDir()
	opts := testOptions(out)
	opts.Objects = failingStore{}

	res, err := New(opts).Export(context.Background(), bundleBatch(domain.KindPDFGrid), testAddresses("x"))
	if domain.Code(err) != domain.ErrCodeUploadFailed {
		t.Fatalf("期望 upload_failed，实际 %v", err)
	}
	if res.Upload == nil || res.Upload.ErrorCode != domain.ErrCodeUploadFailed {
		t.Fatalf("上传结果不符合预期：%+v", res.Upload)
	}
	ref, ok := res.Artifact(domain.KindPDFGrid)
	if !ok || ref.Remote != "" {
		t.Fatalf("本地产物应保留且无远端引用：%+v", ref)
	}
	if _, err := os.Stat(ref.Local); err != nil {
		t.Fatalf("本地 PDF 应保留：%v", err)
	}
}

func TestExport_UploadRequiresCampaign(t *testing.T) {
	opts := testOptions(t.TempDir())
	opts.Objects = store.FS{Root: t.TempDir()}
	batch := bundleBatch(domain.KindPNGSet)
	batch.CampaignID = ""

	_, err := New(opts).Export(context.Background(), batch, testAddresses("x"))
	if domain.Code(err) != domain.ErrCodeInvalidInput {
		t.Fatalf("期望 invalid_input，实际 %v", err)
	}
}

func TestExport_EmitsPeriodicProgress(t *testing.T) {
	obs := &recordObserver{}
	opts := testOptions(t.TempDir())
	opts.Concurrency = 2
	opts.Encoder = slowEncoder{delay: 60 * time.Millisecond}
	opts.Observer = obs
	opts.ProgressInterval = 5 * time.Millisecond

	if _, err := New(opts).Export(context.Background(), bundleBatch(domain.KindCSVMapping), testAddresses("a", "b", "c", "d")); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.progress) == 0 {
		t.Fatalf("位图阶段应至少发出一次 OnProgress")
	}
	for _, p := range obs.progress {
		if p[0] < 0 || p[0] > 4 || p[1] < 0 || p[1] > opts.Concurrency {
			t.Fatalf("进度计数越界：done=%d active=%d", p[0], p[1])
		}
	}
}

func TestObjectPath(t *testing.T) {
	cases := map[domain.ExportKind]string{
		domain.KindPDFGrid:    "c/b_grid.pdf",
		domain.KindPDFSingle:  "c/b_single.pdf",
		domain.KindCSVMapping: "c/b_batch.csv",
		domain.KindZIPArchive: "c/b_batch.zip",
		domain.KindPNGSet:     "c/b_png/",
	}
	for k, want := range cases {
		if got := ObjectPath("c", "b", k); got != want {
			t.Fatalf("%s：期望 %q，实际 %q", k, want, got)
		}
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := New(Options{Concurrency: 1000}).Options()
	if o.Concurrency != MaxConcurrency {
		t.Fatalf("并发应被限制到 %d，实际 %d", MaxConcurrency, o.Concurrency)
	}
	if o.Raster.Size != raster.DefaultSize || o.ShareSize != raster.ShareSize {
		t.Fatalf("默认尺寸不符合预期：%d/%d", o.Raster.Size, o.ShareSize)
	}
	if o.Encoder == nil || o.Paper.W == 0 || o.NewRunID() == "" {
		t.Fatalf("默认依赖未补齐：%+v", o)
	}

	// 只给尺寸时，纠错等级与 quiet space 仍取默认值。
	o = New(Options{Raster: raster.Options{Size: 1024}}).Options()
	if o.Raster.Size != 1024 || o.Raster.Level != raster.LevelHigh || o.Raster.QuietZone != raster.DefaultQuietZone {
		t.Fatalf("raster 默认值不符合预期：%+v", o.Raster)
	}
}
