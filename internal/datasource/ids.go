package datasource

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadIDsFromFile 从指定路径的文件中读取服务器 ID 列表。
// 它会忽略空行和以 '#' 开头的注释行。
func LoadIDsFromFile(filePath string) ([]int, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法打开 ID 文件 '%s': %w", filePath, err)
	}
	defer file.Close()

	seen := make(map[int]struct{})
	var ids []int
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("ID 文件 '%s' 包含无效的行 %q", filePath, line)
		}
		if _, exists := seen[id]; !exists {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取 ID 文件时出错: %w", err)
	}
	return ids, nil
}

// ParseIDList 解析逗号分隔的 ID 列表，忽略空项和无效项
func ParseIDList(s string) []int {
	var ids []int
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
