package domain

import (
	"fmt"
	"sort"
	"strings"
)

// ExportKind 是一种可请求的导出产物。
type ExportKind string

const (
	KindPNGSet     ExportKind = "png_set"
	KindCSVMapping ExportKind = "csv_mapping"
	KindPDFGrid    ExportKind = "pdf_grid"
	KindPDFSingle  ExportKind = "pdf_single"
	KindZIPArchive ExportKind = "zip_archive"
)

// AllKinds 是固定的规范顺序：report/kinds/upload 都按这个顺序输出。
var AllKinds = []ExportKind{KindPNGSet, KindCSVMapping, KindPDFGrid, KindPDFSingle, KindZIPArchive}

func (k ExportKind) rank() int {
	for i, v := range AllKinds {
		if v == k {
			return i
		}
	}
	return len(AllKinds)
}

// ParseExportKind 解析导出类型（接受 CLI 友好的别名）。
func ParseExportKind(s string) (ExportKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "png_set", "pngset", "png":
		return KindPNGSet, nil
	case "csv_mapping", "csvmapping", "csv":
		return KindCSVMapping, nil
	case "pdf_grid", "pdfgrid", "grid":
		return KindPDFGrid, nil
	case "pdf_single", "pdfsingle", "single":
		return KindPDFSingle, nil
	case "zip_archive", "ziparchive", "zip":
		return KindZIPArchive, nil
	case "":
		return "", fmt.Errorf("导出类型不能为空")
	default:
		return "", fmt.Errorf("未知导出类型：%q（可选：png|csv|grid|single|zip）", s)
	}
}

// ParseExportKinds 解析一组导出类型，去重并按规范顺序排列。
func ParseExportKinds(in []string) ([]ExportKind, error) {
	out := make([]ExportKind, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			k, err := ParseExportKind(part)
			if err != nil {
				return nil, err
			}
			out = append(out, k)
		}
	}
	return NormalizeKinds(out), nil
}

// NormalizeKinds 去重并按 AllKinds 的顺序排列（集合语义）。
func NormalizeKinds(in []ExportKind) []ExportKind {
	seen := make(map[ExportKind]struct{}, len(in))
	out := make([]ExportKind, 0, len(in))
	for _, k := range in {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].rank() < out[j].rank() })
	return out
}

// Destination 是目标 URL 策略（封闭的 tagged union：FixedURL | PerAddressURL）。
type Destination interface {
	destination()
	Mode() string
}

// FixedURL：整个批次共用一个 URL（campaign 级的 map / custom URL 模式）。
type FixedURL struct {
	URL string
}

// PerAddressURL：每个地址一个详情页 URL；Template 中的 {id} 会被替换为地址 ID。
type PerAddressURL struct {
	Template string
}

func (FixedURL) destination()      {}
func (PerAddressURL) destination() {}

func (FixedURL) Mode() string      { return "fixed_url" }
func (PerAddressURL) Mode() string { return "per_address_url" }

// BatchConfig 在导出前由调用方创建；一次导出期间不可变。
type BatchConfig struct {
	Name        string
	CampaignID  string
	Destination Destination
	Exports     []ExportKind
}

// Wants 报告是否请求了 k。
func (b BatchConfig) Wants(k ExportKind) bool {
	for _, v := range b.Exports {
		if v == k {
			return true
		}
	}
	return false
}
