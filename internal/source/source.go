// Package source 实现“按 campaign 拉取地址列表”的外部协作方。
//
// 来源格式的差异限制在各个 Source 内部；编排层只依赖 []domain.SourceAddress。
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/John-Robertt/qrexport/internal/domain"
	"github.com/John-Robertt/qrexport/internal/infra/cache"
	"github.com/John-Robertt/qrexport/internal/infra/httpx"
)

// maxBody 限制单次读取的来源大小。
const maxBody = 64 << 20

// Source 解析一种来源格式。
//
// 约束：
// - Parse 必须是纯函数：相同输入 => 相同输出（顺序即来源中的顺序）
// - Parse 不做网络/磁盘访问；读取由 Fetcher 统一完成
type Source interface {
	Name() string
	Parse(campaignID string, raw []byte) ([]domain.SourceAddress, error)
}

// Registry 是 Source 的只读注册表（按 name 索引）。
type Registry struct {
	byName map[string]Source
}

func NewRegistry(sources ...Source) (Registry, error) {
	byName := make(map[string]Source, len(sources))
	for _, s := range sources {
		if s == nil {
			return Registry{}, fmt.Errorf("source 不能为空")
		}
		name := strings.ToLower(strings.TrimSpace(s.Name()))
		if name == "" {
			return Registry{}, fmt.Errorf("source.Name 不能为空")
		}
		if _, ok := byName[name]; ok {
			return Registry{}, fmt.Errorf("重复的 source：%q", name)
		}
		byName[name] = s
	}
	return Registry{byName: byName}, nil
}

// DefaultRegistry 注册内置的 csv/json/html 三种来源。
func DefaultRegistry() Registry {
	r, err := NewRegistry(CSV{}, JSON{}, HTML{})
	if err != nil {
		panic(err)
	}
	return r
}

func (r Registry) Get(name string) (Source, bool) {
	if r.byName == nil {
		return nil, false
	}
	s, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

// Error 标记失败发生在读取（fetch）还是解析（parse）。
type Error struct {
	Source string
	Stage  string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("source %s %s：%v", e.Source, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrOffline 表示离线模式下缓存未命中。
var ErrOffline = errors.New("离线模式下没有该 campaign 的地址缓存")

// Fetcher 按 Location 读取来源并解析；可选地读写地址缓存。
//
// Location 可以是本地路径或 http(s) URL，其中的 {campaign} 会被替换为 campaign id。
type Fetcher struct {
	Source   Source
	Location string
	Client   *http.Client
	Cache    *cache.Store
	Offline  bool
	Now      func() time.Time
}

// FetchAddresses 返回 campaign 的地址列表。
//
// - Offline：只读缓存，未命中返回 ErrOffline
// - 否则：读取 + 解析，成功后写缓存（缓存写失败不影响结果）
func (f Fetcher) FetchAddresses(ctx context.Context, campaignID string) ([]domain.SourceAddress, error) {
	if strings.TrimSpace(campaignID) == "" {
		return nil, errors.New("campaign id 不能为空")
	}
	if f.Offline {
		if f.Cache == nil {
			return nil, ErrOffline
		}
		e, ok, err := f.Cache.ReadCampaign(campaignID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrOffline
		}
		return e.Addresses, nil
	}
	if f.Source == nil {
		return nil, errors.New("source 未配置")
	}

	loc := strings.ReplaceAll(f.Location, "{campaign}", campaignID)
	raw, err := f.read(ctx, loc)
	if err != nil {
		return nil, &Error{Source: f.Source.Name(), Stage: "fetch", Err: err}
	}
	addrs, err := f.Source.Parse(campaignID, raw)
	if err != nil {
		return nil, &Error{Source: f.Source.Name(), Stage: "parse", Err: err}
	}
	if f.Cache != nil && !f.Cache.ReadOnly {
		now := time.Now
		if f.Now != nil {
			now = f.Now
		}
		_ = f.Cache.WriteCampaign(campaignID, addrs, now())
	}
	return addrs, nil
}

func (f Fetcher) read(ctx context.Context, loc string) ([]byte, error) {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return nil, errors.New("来源位置为空")
	}
	if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
		c := f.Client
		if c == nil {
			var err error
			if c, err = httpx.NewClient(httpx.Options{}); err != nil {
				return nil, err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.Do(req)
		if err != nil {
			return nil, err
		}
		if err := httpx.CheckStatus(resp); err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return readLimited(resp.Body)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(loc)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return readLimited(fh)
}

func readLimited(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBody+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxBody {
		return nil, fmt.Errorf("来源超过 %d 字节上限", maxBody)
	}
	return b, nil
}

// validate 校验解析结果：id 与地址非空、id 不重复。
func validate(addrs []domain.SourceAddress) error {
	seen := make(map[string]int, len(addrs))
	for i, a := range addrs {
		if a.ID == "" {
			return fmt.Errorf("第 %d 条地址缺少 id", i+1)
		}
		if a.FormattedAddress == "" {
			return fmt.Errorf("地址 %q 缺少 formatted_address", a.ID)
		}
		if j, ok := seen[a.ID]; ok {
			return fmt.Errorf("地址 id 重复：%q（第 %d 与第 %d 条）", a.ID, j+1, i+1)
		}
		seen[a.ID] = i
	}
	return nil
}

func normSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
