package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/John-Robertt/qrexport/internal/app"
	"github.com/John-Robertt/qrexport/internal/app/export"
	"github.com/John-Robertt/qrexport/internal/config"
	"github.com/John-Robertt/qrexport/internal/domain"
	"github.com/John-Robertt/qrexport/internal/infra/logx"
)

// 源错误（读取/解析地址）的 error_code。
const errCodeSourceFailed = "source_failed"

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage(os.Stdout)
		return
	}

	switch args[0] {
	case "run":
		if code := runCmd(args[1:]); code != 0 {
			os.Exit(code)
		}
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage(os.Stderr)
		os.Exit(2)
	}
}

func runCmd(args []string) int {
	cli, err := parseRunArgs(args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		emitReport(failedReport(cli.Batch, cli.Campaign, config.Code(err), err))
		return 1
	}

	level, _ := logx.ParseLevel(eff.LogLevel)
	log := logx.New(os.Stderr, level, isTTY(os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progressW, interactive := pickProgressWriter()
	var obs export.Observer
	if interactive {
		obs = newProgressUI(progressW, eff)
	}

	rep := runExport(ctx, eff, log, obs)
	emitReport(rep)
	if interactive {
		emitLocations(progressW, rep.ExportResult)
	}
	if rep.ErrorCode == "" && len(rep.Failures) == 0 {
		return 0
	}
	return 1
}

// report 是 stdout 上的 JSON 契约：完整的 ExportResult，失败时附带 error_code/error_msg。
type report struct {
	domain.ExportResult
	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

func runExport(ctx context.Context, eff config.EffectiveConfig, log *slog.Logger, obs export.Observer) report {
	fetcher, err := app.NewFetcher(eff)
	if err != nil {
		return failedReport(eff.Batch, eff.Campaign, config.ErrCodeInvalid, err)
	}
	campaign := app.CampaignKey(eff)
	log.Info("拉取地址", "campaign", campaign, "source", eff.SourceKind, "offline", eff.Offline)
	src, err := fetcher.FetchAddresses(ctx, campaign)
	if err != nil {
		return failedReport(eff.Batch, eff.Campaign, errCodeSourceFailed, err)
	}

	addrs, err := app.ResolveAddresses(eff.Destination, src)
	if err != nil {
		return failedReport(eff.Batch, eff.Campaign, domain.Code(err), err)
	}

	exp, err := app.NewExporter(eff, log, obs)
	if err != nil {
		return failedReport(eff.Batch, eff.Campaign, config.ErrCodeInvalid, err)
	}
	batch := domain.BatchConfig{
		Name:        eff.Batch,
		CampaignID:  eff.Campaign,
		Destination: eff.Destination,
		Exports:     eff.Exports,
	}
	if eff.Upload {
		batch.CampaignID = campaign
	}
	res, err := exp.Export(ctx, batch, addrs)
	rep := report{ExportResult: res}
	if err != nil {
		rep.ErrorCode = domain.Code(err)
		rep.ErrorMsg = err.Error()
	}
	return rep
}

// failedReport 用于导出开始之前的失败（配置、地址来源、URL 解析）。
func failedReport(batch, campaign, code string, err error) report {
	now := time.Now().UTC()
	res := domain.ExportResult{
		CampaignID: campaign,
		BatchName:  batch,
		State:      domain.StateFailed,
		StartedAt:  now,
		FinishedAt: now,
	}
	res.Finalize()
	if code == "" {
		code = domain.ErrCodeInvalidInput
	}
	return report{ExportResult: res, ErrorCode: code, ErrorMsg: err.Error()}
}

func parseRunArgs(args []string) (config.CLIArgs, error) {
	var cli config.CLIArgs
	fs := pflag.NewFlagSet("qrexport run", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cli.ConfigPath, "config", "", "配置文件路径（默认查找 ./qrexport.json|yaml|yml）")
	fs.StringVarP(&cli.OutDir, "out", "o", "", "输出目录（默认 cwd）")
	fs.StringVar(&cli.Campaign, "campaign", "", "campaign id（地址来源中的 {campaign}；上传路径前缀）")
	fs.StringVarP(&cli.Batch, "batch", "b", "", "批次名（决定产物文件名与压缩包根目录）")
	fs.StringSliceVarP(&cli.Exports, "export", "e", nil, "导出类型：png|csv|grid|single|zip（可重复或逗号分隔）")
	fs.StringVar(&cli.URL, "url", "", "所有地址共用的目标 URL")
	fs.StringVar(&cli.URLTemplate, "url-template", "", "每个地址的目标 URL 模板（{id} 替换为地址 id）")
	fs.StringVar(&cli.SourceKind, "source", "", "地址来源格式：csv|json|html")
	fs.StringVar(&cli.SourceLocation, "addresses", "", "地址来源位置：本地路径或 http(s) URL")
	fs.IntVarP(&cli.Concurrency, "concurrency", "j", 0, "位图生成并发（1-32，默认 8）")
	fs.StringVar(&cli.Encoder, "encoder", "", "QR 编码器：skip2|boombuler|rsc")
	fs.StringVar(&cli.Locale, "locale", "", "纸张地区（例如 en_US、de_DE；默认读 LC_PAPER/LC_ALL/LANG）")
	fs.StringVar(&cli.LogLevel, "log-level", "", "日志等级：debug|info|warn|error")
	fs.BoolVar(&cli.Upload, "upload", false, "上传产物与元数据（支持 --upload=false 覆盖配置）")
	fs.BoolVar(&cli.Offline, "offline", false, "只从 <out>/cache 读取地址")
	fs.BoolP("help", "h", false, "显示帮助")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printRunUsage(os.Stdout, fs)
		}
		return config.CLIArgs{}, err
	}
	if help, _ := fs.GetBool("help"); help {
		printRunUsage(os.Stdout, fs)
		return config.CLIArgs{}, pflag.ErrHelp
	}
	if rest := fs.Args(); len(rest) > 0 {
		return config.CLIArgs{}, fmt.Errorf("未知参数 %q", rest[0])
	}
	cli.UploadSet = fs.Changed("upload")
	cli.OfflineSet = fs.Changed("offline")
	if fs.Changed("concurrency") && cli.Concurrency <= 0 {
		return config.CLIArgs{}, fmt.Errorf("--concurrency 必须为正数，实际是 %d", cli.Concurrency)
	}
	return cli, nil
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `用法：
  qrexport run [flags]

命令：
  run    拉取地址并导出一个批次的二维码（PNG / CSV / PDF / ZIP）

使用 "qrexport run --help" 查看详细说明。
`)
}

func printRunUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprint(w, `用法：
  qrexport run [flags]

参数：
`)
	fmt.Fprint(w, fs.FlagUsages())
}

func emitReport(rep report) {
	summary := fmt.Sprintf("完成：state=%s rasters=%d/%d failures=%d",
		rep.State, rep.RasterCount, rep.AddressCount, len(rep.Failures),
	)
	if isTTY(os.Stdout) {
		fmt.Fprintln(os.Stdout, summary)
		if rep.ErrorCode != "" {
			fmt.Fprintf(os.Stderr, "%s: %s\n", rep.ErrorCode, rep.ErrorMsg)
		}
		for _, f := range rep.Failures {
			fmt.Fprintf(os.Stderr, "%s %s %s: %s\n", f.AddressID, f.Stage, f.ErrorCode, f.Reason)
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 JSON（日志/摘要走 stderr）。
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(rep)
	fmt.Fprintln(os.Stderr, summary)
}

func isTTY(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	if isTTY(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}

func emitLocations(w io.Writer, res domain.ExportResult) {
	if w == nil {
		return
	}
	for _, k := range domain.AllKinds {
		if a, ok := res.Artifacts[k]; ok {
			fmt.Fprintf(w, "%s: %s\n", k, a.Local)
		}
	}
}
