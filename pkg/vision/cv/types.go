// Package cv 提供卡牌识别所需的图像匹配原语
package cv

import "image"

// Point 表示二维坐标点
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Detection 单个卡背检测假设（非极大值抑制前/后）
type Detection struct {
	// Bounds 检测框（帧坐标系）
	Bounds image.Rectangle `json:"bounds"`
	// Score 归一化互相关得分 (0-1)
	Score float64 `json:"score"`
}

// Center 检测框中心点
func (d Detection) Center() Point {
	return Point{
		X: (d.Bounds.Min.X + d.Bounds.Max.X) / 2,
		Y: (d.Bounds.Min.Y + d.Bounds.Max.Y) / 2,
	}
}
