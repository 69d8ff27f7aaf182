package source

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/qrexport/internal/domain"
)

// HTML 解析 campaign 地址页：每个带 data-address-id 的元素是一条地址。
//
//	<tr data-address-id="a1" data-lat="43.1" data-lon="-79.2">
//	  <td class="address">12 Elm St</td>
//	</tr>
//
// 地址文本取 .address 子元素；没有时取整行文本。
// 页面上若有 data-campaign-id，必须与请求的 campaign 一致（避免把错误页当成空列表）。
type HTML struct{}

func (HTML) Name() string { return "html" }

func (HTML) Parse(campaignID string, raw []byte) ([]domain.SourceAddress, error) {
	if len(raw) == 0 {
		return nil, errors.New("html 为空")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	if sel := doc.Find("[data-campaign-id]").First(); sel.Length() > 0 {
		got := strings.TrimSpace(sel.AttrOr("data-campaign-id", ""))
		if got != "" && got != campaignID {
			return nil, fmt.Errorf("campaign 不匹配：期望 %q，页面为 %q", campaignID, got)
		}
	}

	rows := doc.Find("[data-address-id]")
	if rows.Length() == 0 {
		return nil, errors.New("页面中没有地址行（疑似返回了错误页/非地址页）")
	}

	out := make([]domain.SourceAddress, 0, rows.Length())
	var perr error
	rows.EachWithBreak(func(i int, s *goquery.Selection) bool {
		a := domain.SourceAddress{ID: strings.TrimSpace(s.AttrOr("data-address-id", ""))}
		text := s.Find(".address").First().Text()
		if strings.TrimSpace(text) == "" {
			text = s.Text()
		}
		a.FormattedAddress = normSpace(text)
		if v, ok := s.Attr("data-lat"); ok {
			if a.Coordinate.Lat, perr = strconv.ParseFloat(strings.TrimSpace(v), 64); perr != nil {
				perr = fmt.Errorf("地址 %q 的 data-lat 非法：%w", a.ID, perr)
				return false
			}
		}
		if v, ok := s.Attr("data-lon"); ok {
			if a.Coordinate.Lon, perr = strconv.ParseFloat(strings.TrimSpace(v), 64); perr != nil {
				perr = fmt.Errorf("地址 %q 的 data-lon 非法：%w", a.ID, perr)
				return false
			}
		}
		out = append(out, a)
		return true
	})
	if perr != nil {
		return nil, perr
	}
	if err := validate(out); err != nil {
		return nil, err
	}
	return out, nil
}
