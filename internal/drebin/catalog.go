package drebin

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Catalog 平台 API 目录：类描述符（不含结尾分号）到成员名集合
type Catalog struct {
	classes map[string]map[string]struct{}
}

// NewCatalog 从内存表构造目录
func NewCatalog(entries map[string][]string) *Catalog {
	classes := make(map[string]map[string]struct{}, len(entries))
	for class, members := range entries {
		set := make(map[string]struct{}, len(members))
		for _, member := range members {
			set[member] = struct{}{}
		}
		classes[strings.TrimSuffix(class, ";")] = set
	}
	return &Catalog{classes: classes}
}

// LoadCatalog 加载 JSON 格式的 API 目录，如 {"Landroid/telephony/SmsManager": ["sendTextMessage"]}
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read api catalog: %w", err)
	}

	var entries map[string][]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse api catalog %s: %w", path, err)
	}

	return NewCatalog(entries), nil
}

// Contains 判断类和成员是否属于平台 API
func (c *Catalog) Contains(class, member string) bool {
	members, ok := c.classes[strings.TrimSuffix(class, ";")]
	if !ok {
		return false
	}
	_, ok = members[member]
	return ok
}

// Classes 目录中的类数量
func (c *Catalog) Classes() int {
	return len(c.classes)
}

// APIList 按行存储的 API 签名列表（受限 API / 可疑 API）
type APIList struct {
	entries map[string]struct{}
}

// NewAPIList 从内存列表构造，忽略空行
func NewAPIList(lines []string) *APIList {
	entries := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			entries[line] = struct{}{}
		}
	}
	return &APIList{entries: entries}
}

// LoadAPIList 加载按行分隔的 API 列表
func LoadAPIList(path string) (*APIList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open api list: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read api list %s: %w", path, err)
	}

	return NewAPIList(lines), nil
}

// Contains 判断签名是否在列表中
func (l *APIList) Contains(api string) bool {
	_, ok := l.entries[api]
	return ok
}

// Len 列表大小
func (l *APIList) Len() int {
	return len(l.entries)
}
