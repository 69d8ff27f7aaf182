package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// Coordinate 是地址的经纬度。导出流程只透传，不参与任何计算。
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// SourceAddress 是地址源返回的原始记录（尚未绑定目标 URL）。
type SourceAddress struct {
	ID               string     `json:"id"`
	FormattedAddress string     `json:"formatted_address"`
	Coordinate       Coordinate `json:"coordinate"`
}

// Address 是一次 QR 产物的最小工作单元：地址 + 已解析好的目标 URL。
//
// 约束：构造后不可变；DestinationURL 必须是合法的绝对 URL（见 ValidateURL）。
type Address struct {
	ID             string `json:"id"`
	DisplayLabel   string `json:"display_label"`
	DestinationURL string `json:"destination_url"`
}

// ValidateURL 校验 raw 是 http/https 的绝对 URL。
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("URL 为空")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("URL 无法解析：%q：%w", raw, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("URL 不是绝对地址：%q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL 必须是 http/https：%q", raw)
	}
	return nil
}
