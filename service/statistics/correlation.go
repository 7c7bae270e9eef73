package statistics

import (
	"math"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"survey-pipeline-service/service/models"
)

const (
	minCorrelationSamples  = 3
	minReportedCorrelation = 0.1
)

// Correlations 数值字段两两相关性，按 |pearson| 降序；|r|<0.1 的组合不输出
func Correlations(table *models.Table, fields []string) []models.Correlation {
	out := []models.Correlation{}
	for i := 0; i < len(fields); i++ {
		for j := i + 1; j < len(fields); j++ {
			x, y := pairedValues(table.Column(fields[i]), table.Column(fields[j]))
			if len(x) < minCorrelationSamples {
				continue
			}

			pearson := Pearson(x, y)
			if math.Abs(pearson) < minReportedCorrelation {
				continue
			}

			out = append(out, models.Correlation{
				FieldA:     fields[i],
				FieldB:     fields[j],
				Pearson:    pearson,
				Spearman:   Spearman(x, y),
				Strength:   Strength(pearson),
				SampleSize: len(x),
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Pearson) > math.Abs(out[j].Pearson)
	})
	return out
}

// pairedValues 取两列同一行均为数值的样本
func pairedValues(a, b []string) ([]float64, []float64) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var x, y []float64
	for i := 0; i < n; i++ {
		va, errA := cast.ToFloat64E(strings.TrimSpace(a[i]))
		vb, errB := cast.ToFloat64E(strings.TrimSpace(b[i]))
		if errA != nil || errB != nil || strings.TrimSpace(a[i]) == "" || strings.TrimSpace(b[i]) == "" {
			continue
		}
		x = append(x, va)
		y = append(y, vb)
	}
	return x, y
}

// Strength 相关强度描述
func Strength(r float64) string {
	abs := math.Abs(r)
	switch {
	case abs >= 0.7:
		return "强相关"
	case abs >= 0.4:
		return "中等相关"
	case abs >= 0.2:
		return "弱相关"
	}
	return "无明显相关"
}

// Pearson 皮尔逊相关系数，方差为0时返回0
func Pearson(x, y []float64) float64 {
	n := float64(len(x))
	if n == 0 || len(x) != len(y) {
		return 0
	}

	var sumX, sumY, sumXY, sumX2, sumY2 float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
		sumXY += x[i] * y[i]
		sumX2 += x[i] * x[i]
		sumY2 += y[i] * y[i]
	}

	num := n*sumXY - sumX*sumY
	den := math.Sqrt((n*sumX2 - sumX*sumX) * (n*sumY2 - sumY*sumY))
	if den == 0 {
		return 0
	}
	return num / den
}

// Spearman 斯皮尔曼等级相关，并列值取平均秩
func Spearman(x, y []float64) float64 {
	if len(x) == 0 || len(x) != len(y) {
		return 0
	}
	return Pearson(ranks(x), ranks(y))
}

func ranks(values []float64) []float64 {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	out := make([]float64, len(values))
	for i := 0; i < len(idx); {
		j := i
		for j < len(idx) && values[idx[j]] == values[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2 // 秩从1开始：(i+1 + j) / 2
		for k := i; k < j; k++ {
			out[idx[k]] = avg
		}
		i = j
	}
	return out
}
