package source

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/John-Robertt/qrexport/internal/domain"
)

// JSON 解析地址数组，或 {"campaign_id": ..., "addresses": [...]} 包装形式。
// 包装形式中的 campaign_id 若非空必须与请求一致。
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Parse(campaignID string, raw []byte) ([]domain.SourceAddress, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("JSON 为空")
	}
	var out []domain.SourceAddress
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
	} else {
		var env struct {
			CampaignID string                 `json:"campaign_id"`
			Addresses  []domain.SourceAddress `json:"addresses"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, err
		}
		if env.CampaignID != "" && env.CampaignID != campaignID {
			return nil, fmt.Errorf("campaign_id 不匹配：期望 %q，实际 %q", campaignID, env.CampaignID)
		}
		out = env.Addresses
	}
	for i := range out {
		out[i].FormattedAddress = normSpace(out[i].FormattedAddress)
	}
	if err := validate(out); err != nil {
		return nil, err
	}
	return out, nil
}
