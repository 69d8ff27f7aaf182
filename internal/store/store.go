// Package store 实现远端持久化协作方：对象存储（按路径存文件、返回可取回的引用）
// 与元数据存储（按 campaign+batch upsert 产物引用）。
//
// 两个操作在重试下都是幂等的：同一路径/同一键覆盖写入。
package store

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ObjectStore 存储一个命名文件并返回可取回的引用（URL 或 file:// 路径）。
type ObjectStore interface {
	Put(ctx context.Context, objectPath string, r io.Reader) (ref string, err error)
}

// MetadataStore 以 (CampaignID, BatchName) 为键 upsert 一条导出元数据。
type MetadataStore interface {
	Upsert(ctx context.Context, rec Record) error
}

// Record 是一次导出的元数据行。Refs/Digests 以 ExportKind 字符串为键。
type Record struct {
	CampaignID string            `cbor:"campaign_id" json:"campaign_id"`
	BatchName  string            `cbor:"batch_name" json:"batch_name"`
	RunID      string            `cbor:"run_id" json:"run_id"`
	Refs       map[string]string `cbor:"refs" json:"refs"`
	Digests    map[string]string `cbor:"digests,omitempty" json:"digests,omitempty"`
	UpdatedAt  time.Time         `cbor:"updated_at" json:"updated_at"`
}

func (r Record) validate() error {
	if strings.TrimSpace(r.CampaignID) == "" {
		return fmt.Errorf("campaign_id 不能为空")
	}
	if strings.TrimSpace(r.BatchName) == "" {
		return fmt.Errorf("batch_name 不能为空")
	}
	return nil
}

// cleanObjectPath 要求 '/' 分隔的规范相对路径（不允许 ..、绝对路径、空段）。
func cleanObjectPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", fmt.Errorf("非法对象路径：%q", p)
	}
	if path.Clean(p) != p || p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("非法对象路径：%q", p)
	}
	return p, nil
}
