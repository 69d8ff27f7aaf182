package source

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/John-Robertt/qrexport/internal/domain"
)

// CSV 解析带表头的 CSV：必需列 id、address（或 formatted_address），可选列 lat、lon。
// 列名大小写不敏感，列顺序任意；可带 UTF-8 BOM。
type CSV struct{}

func (CSV) Name() string { return "csv" }

func (CSV) Parse(campaignID string, raw []byte) ([]domain.SourceAddress, error) {
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("CSV 为空")
	}
	if err != nil {
		return nil, err
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idCol, ok := col["id"]
	if !ok {
		return nil, fmt.Errorf("CSV 缺少 id 列")
	}
	addrCol, ok := col["address"]
	if !ok {
		if addrCol, ok = col["formatted_address"]; !ok {
			return nil, fmt.Errorf("CSV 缺少 address 列")
		}
	}
	latCol, hasLat := col["lat"]
	lonCol, hasLon := col["lon"]

	get := func(rec []string, i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var out []domain.SourceAddress
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		a := domain.SourceAddress{ID: get(rec, idCol), FormattedAddress: normSpace(get(rec, addrCol))}
		if hasLat {
			if a.Coordinate.Lat, err = parseCoord(get(rec, latCol)); err != nil {
				return nil, fmt.Errorf("第 %d 行 lat：%w", line, err)
			}
		}
		if hasLon {
			if a.Coordinate.Lon, err = parseCoord(get(rec, lonCol)); err != nil {
				return nil, fmt.Errorf("第 %d 行 lon：%w", line, err)
			}
		}
		out = append(out, a)
	}
	if err := validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

func parseCoord(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
