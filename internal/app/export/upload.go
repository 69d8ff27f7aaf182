package export

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/John-Robertt/qrexport/internal/domain"
	"github.com/John-Robertt/qrexport/internal/store"
)

// pngPrefixSuffix 是 PNG 集合在对象存储中的目录后缀：<campaign>/<slug>_png/<file>。
const pngPrefixSuffix = "_png"

// ObjectPath 返回 kind 对应产物在对象存储中的确定性路径。
// png_set 返回以 '/' 结尾的目录前缀，每个文件名追加在其后。
func ObjectPath(campaignID, batchSlug string, kind domain.ExportKind) string {
	base := campaignID + "/" + batchSlug
	switch kind {
	case domain.KindPDFGrid:
		return base + gridSuffix
	case domain.KindPDFSingle:
		return base + singleSuffix
	case domain.KindCSVMapping:
		return base + csvSuffix
	case domain.KindZIPArchive:
		return base + zipSuffix
	case domain.KindPNGSet:
		return base + pngPrefixSuffix + "/"
	default:
		return base + "_" + string(kind)
	}
}

// upload 把每个成功的产物写入对象存储，再 upsert 一条元数据。
//
// 任何失败都映射为 upload_failed：本地产物保持不变，失败之后的产物没有 Remote。
func (r *run) upload(ctx context.Context) error {
	started := time.Now()
	if r.opts.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.UploadTimeout)
		defer cancel()
	}

	objects := 0
	err := r.putArtifacts(ctx, &objects)
	if err == nil && r.opts.Metadata != nil {
		err = r.opts.Metadata.Upsert(ctx, r.metadata())
		if err != nil {
			err = fmt.Errorf("写入元数据失败：%w", err)
		}
	}

	fields := map[string]any{"objects": objects, "status": domain.KindStatusOK}
	if err != nil {
		r.res.Upload = &domain.UploadResult{
			Status:    domain.KindStatusFailed,
			ErrorCode: domain.ErrCodeUploadFailed,
			ErrorMsg:  err.Error(),
		}
		fields["status"] = domain.KindStatusFailed
		r.opts.Observer.OnPhaseDone("upload", fields, time.Since(started))
		return &domain.Error{Code: domain.ErrCodeUploadFailed, Err: err}
	}
	r.res.Upload = &domain.UploadResult{Status: domain.KindStatusOK}
	r.opts.Observer.OnPhaseDone("upload", fields, time.Since(started))
	r.log.Info("上传完成", "objects", objects)
	return nil
}

func (r *run) putArtifacts(ctx context.Context, objects *int) error {
	campaign := strings.TrimSpace(r.batch.CampaignID)
	for _, k := range domain.AllKinds {
		ref, ok := r.res.Artifacts[k]
		if !ok {
			continue
		}
		if k == domain.KindPNGSet {
			prefix := ObjectPath(campaign, r.slug, k)
			var first string
			for _, f := range r.pngFiles {
				remote, err := r.put(ctx, prefix+f.Name, f.Path)
				if err != nil {
					return err
				}
				if first == "" {
					first = strings.TrimSuffix(remote, f.Name)
				}
				*objects++
			}
			ref.Remote = first
		} else {
			remote, err := r.put(ctx, ObjectPath(campaign, r.slug, k), ref.Local)
			if err != nil {
				return err
			}
			ref.Remote = remote
			*objects++
		}
		r.res.Artifacts[k] = ref
	}
	return nil
}

func (r *run) put(ctx context.Context, objectPath, local string) (string, error) {
	f, err := os.Open(local)
	if err != nil {
		return "", err
	}
	defer f.Close()
	r.log.Debug("上传对象", "object", objectPath)
	remote, err := r.opts.Objects.Put(ctx, objectPath, f)
	if err != nil {
		return "", fmt.Errorf("上传 %s 失败：%w", objectPath, err)
	}
	return remote, nil
}

func (r *run) metadata() store.Record {
	rec := store.Record{
		CampaignID: r.batch.CampaignID,
		BatchName:  r.batch.Name,
		RunID:      r.res.RunID,
		Refs:       map[string]string{},
		Digests:    map[string]string{},
		UpdatedAt:  r.opts.Now().UTC(),
	}
	for k, a := range r.res.Artifacts {
		if a.Remote != "" {
			rec.Refs[string(k)] = a.Remote
		}
		if a.Digest != "" {
			rec.Digests[string(k)] = a.Digest
		}
	}
	return rec
}
