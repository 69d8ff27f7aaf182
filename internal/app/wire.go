package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/John-Robertt/qrexport/internal/app/export"
	"github.com/John-Robertt/qrexport/internal/config"
	"github.com/John-Robertt/qrexport/internal/infra/cache"
	"github.com/John-Robertt/qrexport/internal/infra/httpx"
	"github.com/John-Robertt/qrexport/internal/raster"
	"github.com/John-Robertt/qrexport/internal/slug"
	"github.com/John-Robertt/qrexport/internal/source"
	"github.com/John-Robertt/qrexport/internal/store"
)

// CampaignKey 返回用于拉取地址与缓存的 campaign：未配置时退化为批次名的 slug。
func CampaignKey(eff config.EffectiveConfig) string {
	if eff.Campaign != "" {
		return eff.Campaign
	}
	return slug.Normalize(eff.Batch)
}

// NewFetcher 按配置构造地址来源。缓存位于 <out>/cache/；offline 时只读。
func NewFetcher(eff config.EffectiveConfig) (source.Fetcher, error) {
	src, ok := source.DefaultRegistry().Get(eff.SourceKind)
	if !ok {
		return source.Fetcher{}, fmt.Errorf("未知地址来源：%q", eff.SourceKind)
	}
	client, err := httpx.NewClient(httpx.Options{ProxyURL: eff.ProxyURL})
	if err != nil {
		return source.Fetcher{}, err
	}
	c := cache.New(eff.OutDir, eff.Offline)
	return source.Fetcher{
		Source:   src,
		Location: eff.SourceLocation,
		Client:   client,
		Cache:    &c,
		Offline:  eff.Offline,
	}, nil
}

// NewStores 按配置构造远端存储；未请求上传时返回 nil, nil。
func NewStores(eff config.EffectiveConfig) (store.ObjectStore, store.MetadataStore, error) {
	if !eff.Upload {
		return nil, nil, nil
	}
	switch eff.StoreKind {
	case "fs":
		s := store.FS{Root: eff.StoreRoot}
		return s, s, nil
	case "http":
		client, err := httpx.NewClient(httpx.Options{ProxyURL: eff.ProxyURL, Timeout: eff.UploadTimeout})
		if err != nil {
			return nil, nil, err
		}
		s := store.HTTP{BaseURL: eff.StoreBaseURL, Client: client, Token: eff.StoreToken}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("未知 store.kind：%q", eff.StoreKind)
	}
}

// NewExporter 把生效配置转换为 export.Options。
func NewExporter(eff config.EffectiveConfig, log *slog.Logger, obs export.Observer) (*export.Exporter, error) {
	enc, err := raster.LookupEncoder(eff.Encoder)
	if err != nil {
		return nil, err
	}
	objects, meta, err := NewStores(eff)
	if err != nil {
		return nil, err
	}
	return export.New(export.Options{
		OutDir:        eff.OutDir,
		Concurrency:   eff.Concurrency,
		Encoder:       enc,
		Raster:        eff.Raster,
		ShareSize:     eff.ShareSize,
		Paper:         eff.Paper,
		RasterTimeout: eff.RasterTimeout,
		UploadTimeout: eff.UploadTimeout,
		Objects:       objects,
		Metadata:      meta,
		Logger:        log,
		Observer:      obs,
		Now:           time.Now,
	}), nil
}
