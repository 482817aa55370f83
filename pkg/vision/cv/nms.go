package cv

import (
	"image"
	"sort"
)

// rectAt 以左上角 (x, y) 和宽高构造矩形
func rectAt(x, y, w, h int) image.Rectangle {
	return image.Rect(x, y, x+w, y+h)
}

// overlapRatio 计算交叠面积占低分框自身面积的比例
func overlapRatio(keep, other image.Rectangle) float64 {
	inter := keep.Intersect(other)
	if inter.Empty() {
		return 0
	}
	area := other.Dx() * other.Dy()
	if area == 0 {
		return 0
	}
	return float64(inter.Dx()*inter.Dy()) / float64(area)
}

// NonMaxSuppress 非极大值抑制
// 按得分降序贪心保留检测框，剔除与已保留框交叠率超过 overlap 的低分框
// 排序使用严格全序（得分降序，同分按坐标升序）保证结果确定
func NonMaxSuppress(detections []Detection, overlap float64) []Detection {
	if len(detections) == 0 {
		return nil
	}

	sorted := make([]Detection, len(detections))
	copy(sorted, detections)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		if sorted[i].Bounds.Min.Y != sorted[j].Bounds.Min.Y {
			return sorted[i].Bounds.Min.Y < sorted[j].Bounds.Min.Y
		}
		return sorted[i].Bounds.Min.X < sorted[j].Bounds.Min.X
	})

	var kept []Detection
	for _, d := range sorted {
		suppressed := false
		for _, k := range kept {
			if overlapRatio(k.Bounds, d.Bounds) > overlap {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}

	return kept
}
