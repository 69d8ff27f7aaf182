package domain

import (
	"sort"
	"time"
)

// State 是一次导出的状态机节点。
type State string

const (
	StateIdle              State = "idle"
	StateGeneratingRasters State = "generating_rasters"
	StateRunningWriters    State = "running_writers"
	StateUploading         State = "uploading"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

const (
	KindStatusOK     = "ok"
	KindStatusFailed = "failed"
)

// 失败发生的阶段（写入 Failure.Stage）。
const (
	StageRaster   = "raster"
	StagePNGWrite = "png_write"
)

// ArtifactRef 指向一个已生成的产物：本地路径，以及（上传后）远端引用。
type ArtifactRef struct {
	Local  string `json:"local"`
	Remote string `json:"remote,omitempty"`
	Bytes  int64  `json:"bytes"`
	Digest string `json:"digest,omitempty"`
	Files  int    `json:"files,omitempty"`
}

// KindResult 是每个请求的 ExportKind 的执行状态。
type KindResult struct {
	Kind      ExportKind `json:"kind"`
	Status    string     `json:"status"`
	ErrorCode string     `json:"error_code,omitempty"`
	ErrorMsg  string     `json:"error_msg,omitempty"`
}

// Failure 是地址级的失败记录（按输入地址顺序排列）。
type Failure struct {
	AddressID string `json:"address_id"`
	Stage     string `json:"stage"`
	ErrorCode string `json:"error_code"`
	Reason    string `json:"reason"`
}

// UploadResult 记录远端持久化阶段的结果（未请求上传时为 nil）。
type UploadResult struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

// ExportResult 是对外稳定输出（stdout JSON / HTTP 响应）的结构。
// 由编排器逐步构建；返回后不再修改。
type ExportResult struct {
	RunID        string `json:"run_id"`
	CampaignID   string `json:"campaign_id,omitempty"`
	BatchName    string `json:"batch_name"`
	State        State  `json:"state"`
	AddressCount int    `json:"address_count"`
	RasterCount  int    `json:"raster_count"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Artifacts map[ExportKind]ArtifactRef `json:"artifacts"`
	Kinds     []KindResult               `json:"kinds"`
	Failures  []Failure                  `json:"failures"`
	Upload    *UploadResult              `json:"upload,omitempty"`
}

// Artifact 返回 k 对应的产物引用。
func (r ExportResult) Artifact(k ExportKind) (ArtifactRef, bool) {
	a, ok := r.Artifacts[k]
	return a, ok
}

// FailedIDs 返回 stage 阶段失败的地址 ID（保持顺序）。
func (r ExportResult) FailedIDs(stage string) []string {
	out := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		if f.Stage == stage {
			out = append(out, f.AddressID)
		}
	}
	return out
}

// Finalize 统一时间为 UTC，kinds 按规范顺序排列，nil 集合替换为空集合（JSON 输出稳定）。
// failures 不排序：它的顺序就是输入地址顺序。
func (r *ExportResult) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	if r.Artifacts == nil {
		r.Artifacts = map[ExportKind]ArtifactRef{}
	}
	if r.Kinds == nil {
		r.Kinds = []KindResult{}
	}
	if r.Failures == nil {
		r.Failures = []Failure{}
	}
	sort.SliceStable(r.Kinds, func(i, j int) bool { return r.Kinds[i].Kind.rank() < r.Kinds[j].Kind.rank() })
}
