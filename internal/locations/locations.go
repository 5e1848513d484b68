package locations

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// RegionMap 用于存储国家代码到区域的映射
type RegionMap map[string]string

// LoadLocationsFromFile 从指定的 JSON 文件加载位置数据
func LoadLocationsFromFile(filePath string) (RegionMap, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法读取位置文件 '%s': %w", filePath, err)
	}
	return Parse(data)
}

// Parse 解析 [{"cc": "JP", "region": "Asia"}, ...] 形式的 JSON
func Parse(data []byte) (RegionMap, error) {
	// 临时的结构，用于解析JSON数组中的每个对象
	type locationEntry struct {
		CC     string `json:"cc"`
		Region string `json:"region"`
	}

	var entries []locationEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("解析位置文件 JSON 失败: %w", err)
	}

	regionMap := make(RegionMap)
	for _, entry := range entries {
		if entry.CC != "" && entry.Region != "" {
			regionMap[strings.ToUpper(entry.CC)] = entry.Region
		}
	}
	return regionMap, nil
}

// GetRegion 根据国家代码从映射中查找区域
func (rm RegionMap) GetRegion(cc string) (string, bool) {
	region, ok := rm[strings.ToUpper(cc)]
	return region, ok
}

// Regions 返回去重后的区域列表
func (rm RegionMap) Regions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, region := range rm {
		if !seen[region] {
			seen[region] = true
			out = append(out, region)
		}
	}
	return out
}
