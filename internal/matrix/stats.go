package matrix

import (
	"fmt"
	"math"
)

// CompareStats 恶意/良性矩阵的对比统计
type CompareStats struct {
	MalSamples int `json:"mal_samples"`
	BenSamples int `json:"ben_samples"`
	FeatureDim int `json:"feature_dim"`

	MalNonZeroMean float64 `json:"mal_nonzero_mean"`
	MalNonZeroStd  float64 `json:"mal_nonzero_std"`
	BenNonZeroMean float64 `json:"ben_nonzero_mean"`
	BenNonZeroStd  float64 `json:"ben_nonzero_std"`

	CommonActive  int `json:"common_active"`  // 两类样本都出现过的列
	MalUniqueCols int `json:"mal_unique_cols"` // 只在恶意样本中出现的列
	BenUniqueCols int `json:"ben_unique_cols"` // 只在良性样本中出现的列
}

// Compare 统计两个同宽矩阵的非零特征分布和活跃列交集
func Compare(mal, ben *Matrix) (*CompareStats, error) {
	if mal.Cols != ben.Cols {
		return nil, fmt.Errorf("feature width mismatch: mal=%d ben=%d", mal.Cols, ben.Cols)
	}

	stats := &CompareStats{
		MalSamples: mal.Rows,
		BenSamples: ben.Rows,
		FeatureDim: mal.Cols,
	}
	stats.MalNonZeroMean, stats.MalNonZeroStd = rowNonZeroStats(mal)
	stats.BenNonZeroMean, stats.BenNonZeroStd = rowNonZeroStats(ben)

	malActive := activeColumns(mal)
	benActive := activeColumns(ben)
	malCount, benCount := 0, 0
	for j := 0; j < mal.Cols; j++ {
		if malActive[j] {
			malCount++
		}
		if benActive[j] {
			benCount++
		}
		if malActive[j] && benActive[j] {
			stats.CommonActive++
		}
	}
	stats.MalUniqueCols = malCount - stats.CommonActive
	stats.BenUniqueCols = benCount - stats.CommonActive

	return stats, nil
}

// rowNonZeroStats 每行非零个数的均值和总体标准差
func rowNonZeroStats(m *Matrix) (float64, float64) {
	if m.Rows == 0 {
		return 0, 0
	}
	counts := make([]float64, m.Rows)
	sum := 0.0
	for i := 0; i < m.Rows; i++ {
		counts[i] = float64(m.Row(i).NonZero())
		sum += counts[i]
	}
	mean := sum / float64(m.Rows)

	variance := 0.0
	for _, c := range counts {
		variance += (c - mean) * (c - mean)
	}
	return mean, math.Sqrt(variance / float64(m.Rows))
}

func activeColumns(m *Matrix) []bool {
	active := make([]bool, m.Cols)
	for i := 0; i < m.Rows; i++ {
		row := m.Row(i)
		for j, x := range row {
			if x != 0 {
				active[j] = true
			}
		}
	}
	return active
}
