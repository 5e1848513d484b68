// Package geo 提供球面大圆距离计算与按距离排序
package geo

import (
	"fmt"
	"math"
	"sort"
)

// EarthRadius 地球平均半径 (km)
const EarthRadius = 6371.0

// Point 是一个不可变的经纬度坐标
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%.1f,%.1f)", p.Latitude, p.Longitude)
}

// Distance 使用 haversine 公式计算两点间的大圆距离 (km)
func Distance(a, b Point) float64 {
	if a == b {
		return 0
	}
	dlat := radians(b.Latitude - a.Latitude)
	dlon := radians(b.Longitude - a.Longitude)
	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(radians(a.Latitude))*math.Cos(radians(b.Latitude))*
			math.Sin(dlon/2)*math.Sin(dlon/2)
	// 舍入误差可能让 h 略微超出 [0,1]，对跖点附近会得到 NaN
	h = math.Min(1, math.Max(0, h))
	return EarthRadius * 2 * math.Asin(math.Sqrt(h))
}

// SortByDistance 返回按 dist 升序排列的新切片，距离相同时保持原有顺序
func SortByDistance[T any](items []T, dist func(T) float64) []T {
	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return dist(sorted[i]) < dist(sorted[j])
	})
	return sorted
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
