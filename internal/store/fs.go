package store

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/John-Robertt/qrexport/internal/infra/codec"
	"github.com/John-Robertt/qrexport/internal/infra/fsx"
	"github.com/John-Robertt/qrexport/internal/slug"
)

// FS 把对象与元数据存到本地目录（例如挂载的共享盘）。
//
// 布局：
//
//	<Root>/<objectPath>
//	<Root>/<campaign>/.meta/<slug(batch)>.cbor
type FS struct {
	Root string
}

// Put 原子写入 <Root>/<objectPath> 并返回 file:// 引用。
func (s FS) Put(ctx context.Context, objectPath string, r io.Reader) (string, error) {
	p, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(root, filepath.FromSlash(p))
	f, err := fsx.Create(filepath.Dir(dst), filepath.Base(dst))
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Abort() }()
	if _, err := io.Copy(f, ctxReader{ctx: ctx, r: r}); err != nil {
		return "", err
	}
	if err := f.Commit(); err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dst)}).String(), nil
}

func (s FS) metaPath(campaignID, batchName string) (dir, name string, err error) {
	c, err := cleanObjectPath(campaignID)
	if err != nil || filepath.Base(c) != c {
		return "", "", fmt.Errorf("非法 campaign id：%q", campaignID)
	}
	return filepath.Join(s.Root, c, ".meta"), slug.Normalize(batchName) + ".cbor", nil
}

// Upsert 以确定性 CBOR 覆盖写入元数据。
func (s FS) Upsert(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, name, err := s.metaPath(rec.CampaignID, rec.BatchName)
	if err != nil {
		return err
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	b, err := codec.Marshal(rec)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomic(dir, name, b)
}

// Lookup 读取 (campaign, batch) 的元数据；不存在时 ok=false。
func (s FS) Lookup(campaignID, batchName string) (Record, bool, error) {
	dir, name, err := s.metaPath(campaignID, batchName)
	if err != nil {
		return Record{}, false, err
	}
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	var rec Record
	if err := codec.Unmarshal(b, &rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
