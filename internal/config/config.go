package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/qrexport/internal/domain"
	"github.com/John-Robertt/qrexport/internal/infra/logx"
	"github.com/John-Robertt/qrexport/internal/layout"
	"github.com/John-Robertt/qrexport/internal/raster"
)

const (
	// ErrCodeNotFound 表示既没有配置文件，CLI 也没有给出批次名。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
)

const (
	// DefaultConcurrency 是位图生成并发的内置默认值（当配置未指定时）。
	DefaultConcurrency = 8
	// MaxConcurrency 是并发上限；超出截断。
	MaxConcurrency = 32

	DefaultSourceKind    = "csv"
	DefaultStoreKind     = "fs"
	DefaultRasterTimeout = 30 * time.Second
	DefaultUploadTimeout = 5 * time.Minute
)

// FileNames 是在 cwd 中按顺序查找的配置文件名。
var FileNames = []string{"qrexport.json", "qrexport.yaml", "qrexport.yml"}

// DefaultExports 是未指定导出类型时的集合：PNG + 映射文件 + 压缩包。
var DefaultExports = []domain.ExportKind{domain.KindPNGSet, domain.KindCSVMapping, domain.KindZIPArchive}

// CLIArgs 是 CLI 暴露的参数，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --upload=false 必须能覆盖 upload: true。
type CLIArgs struct {
	ConfigPath string

	// Server 为 true 时（qrexportd）batch、destination、campaign 由每个请求给出，
	// source.location 可为空（此时请求必须内联地址）。
	Server bool

	OutDir   string
	Campaign string
	Batch    string

	Exports []string

	URL         string
	URLTemplate string

	SourceKind     string
	SourceLocation string

	Concurrency int
	Encoder     string
	Locale      string
	LogLevel    string

	Upload    bool
	UploadSet bool

	Offline    bool
	OfflineSet bool
}

// FileConfig 对应 qrexport.json / qrexport.yaml 的解析结构。
type FileConfig struct {
	OutDir      string             `json:"out_dir" yaml:"out_dir"`
	Campaign    string             `json:"campaign" yaml:"campaign"`
	Batch       string             `json:"batch" yaml:"batch"`
	Exports     []string           `json:"exports" yaml:"exports"`
	Destination *DestinationConfig `json:"destination" yaml:"destination"`
	Source      *SourceConfig      `json:"source" yaml:"source"`
	Concurrency int                `json:"concurrency" yaml:"concurrency"`
	Raster      *RasterConfig      `json:"raster" yaml:"raster"`
	Locale      string             `json:"locale" yaml:"locale"`
	Timeouts    *TimeoutsConfig    `json:"timeouts" yaml:"timeouts"`
	Store       *StoreConfig       `json:"store" yaml:"store"`
	Upload      *bool              `json:"upload" yaml:"upload"`
	Offline     *bool              `json:"offline" yaml:"offline"`
	Proxy       *ProxyConfig       `json:"proxy" yaml:"proxy"`
	LogLevel    string             `json:"log_level" yaml:"log_level"`
}

type DestinationConfig struct {
	Mode     string `json:"mode" yaml:"mode"`
	URL      string `json:"url" yaml:"url"`
	Template string `json:"template" yaml:"template"`
}

type SourceConfig struct {
	Kind     string `json:"kind" yaml:"kind"`
	Location string `json:"location" yaml:"location"`
}

type RasterConfig struct {
	Encoder    string `json:"encoder" yaml:"encoder"`
	Size       int    `json:"size" yaml:"size"`
	ShareSize  int    `json:"share_size" yaml:"share_size"`
	Level      string `json:"level" yaml:"level"`
	Background string `json:"background" yaml:"background"`
	QuietZone  *int   `json:"quiet_zone" yaml:"quiet_zone"`
}

// TimeoutsConfig 使用 Go duration 字符串（例如 "30s"、"5m"）。
type TimeoutsConfig struct {
	Raster string `json:"raster" yaml:"raster"`
	Upload string `json:"upload" yaml:"upload"`
}

type StoreConfig struct {
	Kind    string `json:"kind" yaml:"kind"`
	Root    string `json:"root" yaml:"root"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	Token   string `json:"token" yaml:"token"`
}

type ProxyConfig struct {
	URL string `json:"url" yaml:"url"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	// ConfigPath 是实际读取的配置文件；没有读取任何文件时为空。
	ConfigPath string

	OutDir   string
	Campaign string
	Batch    string
	Exports  []domain.ExportKind

	Destination domain.Destination

	SourceKind     string
	SourceLocation string
	Offline        bool

	Concurrency int
	Encoder     string
	Raster      raster.Options
	ShareSize   int
	Locale      string
	Paper       layout.Paper

	RasterTimeout time.Duration
	UploadTimeout time.Duration

	Upload       bool
	StoreKind    string
	StoreRoot    string
	StoreBaseURL string
	StoreToken   string

	ProxyURL string
	LogLevel string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：必须存在
// 2) 否则依次尝试 <cwd>/qrexport.json、qrexport.yaml、qrexport.yml（可选）
// 3) 既没有配置文件、CLI 也没有给出 batch：config_not_found
//
// 覆盖优先级（固定）：CLI > 配置文件 > 内置默认。
// 配置文件中的相对路径以配置文件所在目录为基准；CLI 的相对路径以 cwd 为基准。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var (
		cfgPath string
		fc      FileConfig
		exists  bool
	)
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
	} else {
		for _, name := range FileNames {
			p := filepath.Join(cwdAbs, name)
			fc, exists, err = readFileConfig(p)
			if err != nil {
				return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: p, Err: err}
			}
			if exists {
				cfgPath = p
				break
			}
		}
		if !exists && strings.TrimSpace(cli.Batch) == "" && !cli.Server {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: filepath.Join(cwdAbs, FileNames[0]), Err: os.ErrNotExist}
		}
	}

	fileBase := cwdAbs
	if cfgPath != "" {
		fileBase = filepath.Dir(cfgPath)
	}
	eff, err := merge(cwdAbs, fileBase, cli, fc)
	if err != nil {
		where := cfgPath
		if where == "" {
			where = "cli"
		}
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: where, Err: err}
	}
	eff.ConfigPath = cfgPath
	return eff, nil
}

func merge(cwd, fileBase string, cli CLIArgs, fc FileConfig) (EffectiveConfig, error) {
	eff := EffectiveConfig{
		Campaign: firstNonEmpty(cli.Campaign, fc.Campaign),
		Batch:    firstNonEmpty(cli.Batch, fc.Batch),
	}
	if eff.Batch == "" && !cli.Server {
		return EffectiveConfig{}, errors.New("batch 不能为空")
	}

	// out_dir：CLI > config > cwd
	switch {
	case strings.TrimSpace(cli.OutDir) != "":
		eff.OutDir = absCleanFrom(cwd, cli.OutDir)
	case strings.TrimSpace(fc.OutDir) != "":
		eff.OutDir = absCleanFrom(fileBase, fc.OutDir)
	default:
		eff.OutDir = cwd
	}

	exports := fc.Exports
	if len(cli.Exports) > 0 {
		exports = cli.Exports
	}
	if len(exports) == 0 {
		eff.Exports = append([]domain.ExportKind(nil), DefaultExports...)
	} else {
		kinds, err := domain.ParseExportKinds(exports)
		if err != nil {
			return EffectiveConfig{}, fmt.Errorf("exports：%w", err)
		}
		if len(kinds) == 0 {
			return EffectiveConfig{}, errors.New("exports 不能为空")
		}
		eff.Exports = kinds
	}

	if !cli.Server || fc.Destination != nil {
		dest, err := mergeDestination(cli, fc.Destination)
		if err != nil {
			return EffectiveConfig{}, err
		}
		eff.Destination = dest
	}

	var sc SourceConfig
	if fc.Source != nil {
		sc = *fc.Source
	}
	eff.SourceKind = strings.ToLower(firstNonEmpty(cli.SourceKind, sc.Kind, DefaultSourceKind))
	switch eff.SourceKind {
	case "csv", "json", "html":
	default:
		return EffectiveConfig{}, fmt.Errorf("source.kind 只能是 csv|json|html，实际是 %q", eff.SourceKind)
	}
	switch {
	case strings.TrimSpace(cli.SourceLocation) != "":
		eff.SourceLocation = resolveLocation(cwd, cli.SourceLocation)
	case strings.TrimSpace(sc.Location) != "":
		eff.SourceLocation = resolveLocation(fileBase, sc.Location)
	}

	eff.Offline = boolOption(cli.Offline, cli.OfflineSet, fc.Offline)
	eff.Upload = boolOption(cli.Upload, cli.UploadSet, fc.Upload)
	if eff.SourceLocation == "" && !eff.Offline && !cli.Server {
		return EffectiveConfig{}, errors.New("source.location 不能为空（或使用 offline 读取缓存）")
	}
	if eff.Offline && eff.Campaign == "" && !cli.Server {
		return EffectiveConfig{}, errors.New("offline 需要 campaign")
	}

	concurrency := fc.Concurrency
	if cli.Concurrency != 0 {
		concurrency = cli.Concurrency
	}
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	// 范围 [1, 32]；超出截断。
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > MaxConcurrency {
		concurrency = MaxConcurrency
	}
	eff.Concurrency = concurrency

	if err := mergeRaster(&eff, cli, fc.Raster); err != nil {
		return EffectiveConfig{}, err
	}

	eff.Locale = firstNonEmpty(cli.Locale, fc.Locale, layout.LocaleFromEnv())
	eff.Paper = layout.PaperForLocale(eff.Locale)

	var (
		tc  TimeoutsConfig
		err error
	)
	if fc.Timeouts != nil {
		tc = *fc.Timeouts
	}
	if eff.RasterTimeout, err = parseTimeout("timeouts.raster", tc.Raster, DefaultRasterTimeout); err != nil {
		return EffectiveConfig{}, err
	}
	if eff.UploadTimeout, err = parseTimeout("timeouts.upload", tc.Upload, DefaultUploadTimeout); err != nil {
		return EffectiveConfig{}, err
	}

	if err := mergeStore(&eff, fileBase, fc.Store, cli.Server); err != nil {
		return EffectiveConfig{}, err
	}

	if fc.Proxy != nil {
		eff.ProxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if eff.ProxyURL != "" {
		u, err := url.Parse(eff.ProxyURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return EffectiveConfig{}, fmt.Errorf("proxy.url 无效：%q", eff.ProxyURL)
		}
	}

	eff.LogLevel = strings.ToLower(firstNonEmpty(cli.LogLevel, fc.LogLevel, "info"))
	if _, err := logx.ParseLevel(eff.LogLevel); err != nil {
		return EffectiveConfig{}, err
	}
	return eff, nil
}

// mergeDestination：CLI 的 --url / --url-template 整体覆盖配置文件的 destination。
func mergeDestination(cli CLIArgs, dc *DestinationConfig) (domain.Destination, error) {
	cliURL := strings.TrimSpace(cli.URL)
	cliTpl := strings.TrimSpace(cli.URLTemplate)
	switch {
	case cliURL != "" && cliTpl != "":
		return nil, errors.New("--url 与 --url-template 不能同时指定")
	case cliURL != "":
		return fixedURL(cliURL)
	case cliTpl != "":
		return perAddressURL(cliTpl)
	case dc == nil:
		return nil, errors.New("destination 不能为空")
	}

	switch strings.ToLower(strings.TrimSpace(dc.Mode)) {
	case "fixed_url", "fixed", "map", "custom":
		return fixedURL(strings.TrimSpace(dc.URL))
	case "per_address_url", "per_address", "detail":
		return perAddressURL(strings.TrimSpace(dc.Template))
	case "":
		// 未写 mode：按给出的字段推断。
		if strings.TrimSpace(dc.Template) != "" {
			return perAddressURL(strings.TrimSpace(dc.Template))
		}
		return fixedURL(strings.TrimSpace(dc.URL))
	default:
		return nil, fmt.Errorf("destination.mode 只能是 fixed_url 或 per_address_url，实际是 %q", dc.Mode)
	}
}

func fixedURL(u string) (domain.Destination, error) {
	if err := domain.ValidateURL(u); err != nil {
		return nil, fmt.Errorf("destination.url：%w", err)
	}
	return domain.FixedURL{URL: u}, nil
}

func perAddressURL(tpl string) (domain.Destination, error) {
	if !strings.Contains(tpl, "{id}") {
		return nil, fmt.Errorf("destination.template 缺少 {id}：%q", tpl)
	}
	if err := domain.ValidateURL(strings.ReplaceAll(tpl, "{id}", "x")); err != nil {
		return nil, fmt.Errorf("destination.template：%w", err)
	}
	return domain.PerAddressURL{Template: tpl}, nil
}

func mergeRaster(eff *EffectiveConfig, cli CLIArgs, rc *RasterConfig) error {
	var c RasterConfig
	if rc != nil {
		c = *rc
	}

	enc := firstNonEmpty(cli.Encoder, c.Encoder, raster.DefaultEncoder)
	if _, err := raster.LookupEncoder(enc); err != nil {
		return fmt.Errorf("raster.encoder：%w", err)
	}
	eff.Encoder = strings.ToLower(enc)

	level, err := raster.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("raster.level：%w", err)
	}
	bg, err := raster.ParseBackground(c.Background)
	if err != nil {
		return fmt.Errorf("raster.background：%w", err)
	}
	opts := raster.DefaultOptions()
	opts.Level = level
	opts.Background = bg
	if c.Size != 0 {
		opts.Size = c.Size
	}
	if c.QuietZone != nil {
		opts.QuietZone = *c.QuietZone
		if opts.QuietZone == 0 {
			// 配置里显式写 0 表示不留白；Options 的零值表示默认值。
			opts.QuietZone = raster.NoQuietZone
		}
	}
	share := raster.ShareSize
	if c.ShareSize != 0 {
		share = c.ShareSize
	}
	if opts.Size < 64 || share < 64 {
		return fmt.Errorf("raster.size/share_size 不能小于 64：%d/%d", opts.Size, share)
	}
	if c.QuietZone != nil && *c.QuietZone < 0 {
		return fmt.Errorf("raster.quiet_zone 不能为负：%d", *c.QuietZone)
	}
	eff.Raster = opts
	eff.ShareSize = share
	return nil
}

func mergeStore(eff *EffectiveConfig, fileBase string, sc *StoreConfig, server bool) error {
	var c StoreConfig
	if sc != nil {
		c = *sc
	}
	eff.StoreKind = strings.ToLower(firstNonEmpty(c.Kind, DefaultStoreKind))
	eff.StoreToken = strings.TrimSpace(c.Token)
	if strings.TrimSpace(c.Root) != "" {
		eff.StoreRoot = absCleanFrom(fileBase, c.Root)
	}
	eff.StoreBaseURL = strings.TrimSpace(c.BaseURL)

	switch eff.StoreKind {
	case "fs":
		if eff.Upload && eff.StoreRoot == "" {
			return errors.New("upload=true 但 store.root 为空")
		}
	case "http":
		if eff.Upload {
			if err := domain.ValidateURL(eff.StoreBaseURL); err != nil {
				return fmt.Errorf("store.base_url：%w", err)
			}
		}
	default:
		return fmt.Errorf("store.kind 只能是 fs 或 http，实际是 %q", eff.StoreKind)
	}
	if eff.Upload && eff.Campaign == "" && !server {
		return errors.New("upload=true 需要 campaign")
	}
	return nil
}

func parseTimeout(field, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s 无效：%w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s 不能为负：%s", field, raw)
	}
	return d, nil
}

func boolOption(cliVal, cliSet bool, fileVal *bool) bool {
	if cliSet {
		return cliVal
	}
	if fileVal != nil {
		return *fileVal
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// resolveLocation：http(s) URL 原样返回，本地路径按 base 变为绝对路径。
func resolveLocation(base, loc string) string {
	loc = strings.TrimSpace(loc)
	if u, err := url.Parse(loc); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return loc
	}
	return absCleanFrom(base, loc)
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析配置文件：.yaml/.yml 用 YAML，其余按 JSON。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &fc)
	default:
		err = json.Unmarshal(b, &fc)
	}
	if err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
