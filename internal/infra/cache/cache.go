package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/John-Robertt/qrexport/internal/domain"
	"github.com/John-Robertt/qrexport/internal/infra/fsx"
)

// Store 提供 <out>/cache/ 下的地址列表缓存读写。
//
// 约束：
// - offline：只允许读（ReadOnly=true），缓存未命中即失败
// - 正常运行：每次拉取成功后覆盖写入
type Store struct {
	Root     string // <out>（输出根目录）
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(root string, readOnly bool) Store {
	return Store{
		Root:     filepath.Clean(strings.TrimSpace(root)),
		ReadOnly: readOnly,
	}
}

// CampaignEntry 是一个 campaign 的缓存内容。
type CampaignEntry struct {
	CampaignID string                 `json:"campaign_id"`
	FetchedAt  time.Time              `json:"fetched_at"`
	Addresses  []domain.SourceAddress `json:"addresses"`
}

// CampaignPath 返回 campaign 地址缓存的绝对路径。
func (s Store) CampaignPath(campaignID string) (string, error) {
	id, err := cleanID(campaignID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Root, "cache", "campaigns", id+".json"), nil
}

// ReadCampaign 读取缓存；未命中返回 ok=false 且 err=nil。
func (s Store) ReadCampaign(campaignID string) (CampaignEntry, bool, error) {
	path, err := s.CampaignPath(campaignID)
	if err != nil {
		return CampaignEntry{}, false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return CampaignEntry{}, false, nil
		}
		return CampaignEntry{}, false, err
	}
	var e CampaignEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return CampaignEntry{}, false, fmt.Errorf("缓存损坏：%s：%w", path, err)
	}
	return e, true, nil
}

// WriteCampaign 覆盖写入 campaign 的地址列表。
func (s Store) WriteCampaign(campaignID string, addrs []domain.SourceAddress, now time.Time) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	id, err := cleanID(campaignID)
	if err != nil {
		return err
	}
	if addrs == nil {
		addrs = []domain.SourceAddress{}
	}
	b, err := json.MarshalIndent(CampaignEntry{CampaignID: id, FetchedAt: now.UTC(), Addresses: addrs}, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	dir := filepath.Join(s.Root, "cache", "campaigns")
	return fsx.WriteFileAtomic(dir, id+".json", b)
}

var idRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

func cleanID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("campaign id 不能为空")
	}
	// 最小约束：避免路径穿越；campaign id 由后端分配，这里不做更多“聪明”处理。
	if !idRE.MatchString(id) || strings.Contains(id, "..") {
		return "", fmt.Errorf("非法 campaign id：%q", id)
	}
	return id, nil
}
