package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/John-Robertt/qrexport/internal/api"
	"github.com/John-Robertt/qrexport/internal/app"
	"github.com/John-Robertt/qrexport/internal/config"
	"github.com/John-Robertt/qrexport/internal/infra/logx"
)

const (
	defaultAddr     = "127.0.0.1:8080"
	shutdownTimeout = 10 * time.Second
)

type options struct {
	cli  config.CLIArgs
	addr string
}

func main() {
	if code := run(os.Args[1:]); code != 0 {
		os.Exit(code)
	}
}

func run(args []string) int {
	opts, err := parseArgs(args, os.Stdout)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n", err)
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}
	eff, err := config.LoadEffective(cwd, opts.cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s：%v\n", config.Code(err), err)
		return 1
	}

	level, _ := logx.ParseLevel(eff.LogLevel)
	log := logx.New(os.Stderr, level, term.IsTerminal(int(os.Stderr.Fd())))

	srv, err := newServer(eff, log)
	if err != nil {
		log.Error("初始化失败", "err", err)
		return 1
	}

	ln, err := net.Listen("tcp", opts.addr)
	if err != nil {
		log.Error("监听失败", "addr", opts.addr, "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := serve(ctx, srv, ln, log); err != nil {
		log.Error("服务异常退出", "err", err)
		return 1
	}
	return 0
}

func parseArgs(args []string, usage io.Writer) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("qrexportd", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.cli.ConfigPath, "config", "", "配置文件路径（默认查找 ./qrexport.json|yaml|yml）")
	fs.StringVarP(&opts.cli.OutDir, "out", "o", "", "输出目录（默认 cwd）")
	fs.StringVar(&opts.addr, "addr", defaultAddr, "监听地址")
	fs.StringVar(&opts.cli.LogLevel, "log-level", "", "日志等级：debug|info|warn|error")
	fs.BoolVar(&opts.cli.Offline, "offline", false, "只从 <out>/cache 读取地址")
	help := fs.BoolP("help", "h", false, "显示帮助")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if *help {
		fmt.Fprintf(usage, "用法：\n  qrexportd [flags]\n\n参数：\n%s", fs.FlagUsages())
		return options{}, pflag.ErrHelp
	}
	if rest := fs.Args(); len(rest) > 0 {
		return options{}, fmt.Errorf("未知参数 %q", rest[0])
	}
	opts.cli.Server = true
	opts.cli.OfflineSet = fs.Changed("offline")
	return opts, nil
}

func newServer(eff config.EffectiveConfig, log *slog.Logger) (*http.Server, error) {
	exp, err := app.NewExporter(eff, log, nil)
	if err != nil {
		return nil, err
	}
	s := &api.Server{Exporter: exp, Logger: log}
	// 未配置 source.location（且非离线）时只接受内联地址。
	if eff.SourceLocation != "" || eff.Offline {
		fetcher, err := app.NewFetcher(eff)
		if err != nil {
			return nil, err
		}
		s.Addresses = fetcher
	}
	return &http.Server{
		Handler:           api.NewRouter(s),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      eff.UploadTimeout + 5*time.Minute,
	}, nil
}

// serve 阻塞直到 ctx 取消，然后优雅关闭：等待进行中的导出完成（最长 shutdownTimeout）。
func serve(ctx context.Context, srv *http.Server, ln net.Listener, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("服务已启动", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("正在关闭服务")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
