package app

import (
	"net/url"
	"strings"

	"github.com/John-Robertt/qrexport/internal/domain"
)

// IDPlaceholder 是 PerAddressURL 模板中的地址 id 占位符。
const IDPlaceholder = "{id}"

// ResolveAddresses 把来源地址绑定到最终目标 URL。
//
// - FixedURL：所有地址共用同一个 URL
// - PerAddressURL：模板中的 {id} 替换为路径转义后的地址 id
//
// 输出顺序与输入一致；任何非法输入（空列表、重复 id、非法 URL）都返回 invalid_input，不做部分结果。
func ResolveAddresses(dest domain.Destination, src []domain.SourceAddress) ([]domain.Address, error) {
	if len(src) == 0 {
		return nil, domain.Errorf(domain.ErrCodeInvalidInput, "地址列表为空")
	}

	var urlFor func(id string) string
	switch d := dest.(type) {
	case domain.FixedURL:
		u := strings.TrimSpace(d.URL)
		if err := domain.ValidateURL(u); err != nil {
			return nil, &domain.Error{Code: domain.ErrCodeInvalidInput, Err: err}
		}
		urlFor = func(string) string { return u }
	case domain.PerAddressURL:
		tpl := strings.TrimSpace(d.Template)
		if !strings.Contains(tpl, IDPlaceholder) {
			return nil, domain.Errorf(domain.ErrCodeInvalidInput, "per_address_url 模板缺少 %s：%q", IDPlaceholder, tpl)
		}
		urlFor = func(id string) string { return strings.ReplaceAll(tpl, IDPlaceholder, url.PathEscape(id)) }
	case nil:
		return nil, domain.Errorf(domain.ErrCodeInvalidInput, "未配置目标 URL 策略")
	default:
		return nil, domain.Errorf(domain.ErrCodeInvalidInput, "未知的目标 URL 策略：%s", dest.Mode())
	}

	seen := make(map[string]struct{}, len(src))
	out := make([]domain.Address, 0, len(src))
	for _, s := range src {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return nil, domain.Errorf(domain.ErrCodeInvalidInput, "地址缺少 id：%q", s.FormattedAddress)
		}
		if _, dup := seen[id]; dup {
			return nil, domain.Errorf(domain.ErrCodeInvalidInput, "地址 id 重复：%q", id)
		}
		seen[id] = struct{}{}

		u := urlFor(id)
		if err := domain.ValidateURL(u); err != nil {
			return nil, &domain.Error{Code: domain.ErrCodeInvalidInput, Err: err}
		}
		label := strings.Join(strings.Fields(s.FormattedAddress), " ")
		if label == "" {
			label = id
		}
		out = append(out, domain.Address{ID: id, DisplayLabel: label, DestinationURL: u})
	}
	return out, nil
}
