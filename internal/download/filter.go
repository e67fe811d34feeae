package download

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// AndroZoo latest.csv 列位置
const (
	colSHA256      = 0
	colDexDate     = 3
	colPackageName = 5
	colVTDetection = 7
	minColumns     = 11
)

// Criteria 元数据筛选条件
type Criteria struct {
	Year            int
	Malicious       bool // true 时要求 vt_detection >= Threshold，否则要求 vt_detection == 0
	Threshold       int
	Limit           int // 0 表示不限
	ExcludeSHA      map[string]struct{}
	ExcludePackages []string // 包名子串
}

// FilterCSV 按年份和 VT 检测数筛选 SHA256，保持文件中的顺序
func FilterCSV(r io.Reader, c Criteria) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	// 表头
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var shas []string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}

		sha, ok := c.match(row)
		if !ok {
			continue
		}
		shas = append(shas, sha)
		if c.Limit > 0 && len(shas) >= c.Limit {
			break
		}
	}
	return shas, nil
}

func (c Criteria) match(row []string) (string, bool) {
	if len(row) < minColumns {
		return "", false
	}

	sha := strings.ToUpper(strings.TrimSpace(row[colSHA256]))
	if sha == "" {
		return "", false
	}
	if _, excluded := c.ExcludeSHA[sha]; excluded {
		return "", false
	}

	pkg := strings.TrimSpace(row[colPackageName])
	for _, sub := range c.ExcludePackages {
		if sub != "" && strings.Contains(pkg, sub) {
			return "", false
		}
	}

	year, ok := dexYear(row[colDexDate])
	if !ok || year != c.Year {
		return "", false
	}

	vt := 0
	if s := strings.TrimSpace(row[colVTDetection]); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return "", false
		}
		vt = n
	}

	if c.Malicious {
		return sha, vt >= c.Threshold
	}
	return sha, vt == 0
}

// dexYear 解析 "2006-01-02 15:04:05" 或 "2006-01-02"
func dexYear(value string) (int, bool) {
	value = strings.TrimSpace(value)
	layout := "2006-01-02"
	if strings.Contains(value, " ") {
		layout = "2006-01-02 15:04:05"
	}
	t, err := time.Parse(layout, value)
	if err != nil {
		return 0, false
	}
	return t.Year(), true
}

// LoadExcludeList 读取排除的 SHA256 列表（每行一个，忽略空行和 # 注释）
func LoadExcludeList(path string) (map[string]struct{}, error) {
	excluded := make(map[string]struct{})
	if path == "" {
		return excluded, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open exclude list: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		excluded[strings.ToUpper(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read exclude list: %w", err)
	}
	return excluded, nil
}

// OutputSubdir 下载目录命名，如 malicious_2018、benign_2018
func OutputSubdir(malicious bool, year int) string {
	if malicious {
		return fmt.Sprintf("malicious_%d", year)
	}
	return fmt.Sprintf("benign_%d", year)
}
