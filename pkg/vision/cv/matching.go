package cv

import (
	"fmt"

	"gocv.io/x/gocv"
)

// ImageSizeError 图像尺寸错误
type ImageSizeError struct {
	SourceSize [2]int
	SearchSize [2]int
}

func (e *ImageSizeError) Error() string {
	return fmt.Sprintf("搜索图像尺寸 %dx%d 大于源图像 %dx%d",
		e.SearchSize[0], e.SearchSize[1], e.SourceSize[0], e.SourceSize[1])
}

// checkSourceLargerThanSearch 检查源图像是否大于搜索图像
func checkSourceLargerThanSearch(source, search gocv.Mat) error {
	if source.Rows() < search.Rows() || source.Cols() < search.Cols() {
		return &ImageSizeError{
			SourceSize: [2]int{source.Cols(), source.Rows()},
			SearchSize: [2]int{search.Cols(), search.Rows()},
		}
	}
	return nil
}

// MatchScore 计算两张同尺寸图像块的归一化互相关得分
// 尺寸不一致时先将 search 缩放到 source 大小，结果矩阵为 1×1
func MatchScore(source, search gocv.Mat) float64 {
	srcGray := ToGray(source)
	searchGray := ToGray(search)
	defer srcGray.Close()
	defer searchGray.Close()

	if srcGray.Rows() != searchGray.Rows() || srcGray.Cols() != searchGray.Cols() {
		resized := ResizeImage(searchGray, srcGray.Cols(), srcGray.Rows())
		searchGray.Close()
		searchGray = resized
	}

	result := gocv.NewMat()
	defer result.Close()

	gocv.MatchTemplate(srcGray, searchGray, &result, gocv.TmCcoeffNormed, gocv.NewMat())

	_, maxVal, _, _ := gocv.MinMaxLoc(result)
	return float64(maxVal)
}

// FindMatches 在源图像中查找模板的所有匹配位置
// source 与 search 需为单通道灰度图；返回得分不低于 threshold 的全部检测框
func FindMatches(source, search gocv.Mat, threshold float64) ([]Detection, error) {
	if err := checkSourceLargerThanSearch(source, search); err != nil {
		return nil, err
	}

	result := gocv.NewMat()
	defer result.Close()

	gocv.MatchTemplate(source, search, &result, gocv.TmCcoeffNormed, gocv.NewMat())

	w, h := search.Cols(), search.Rows()

	var detections []Detection
	for y := 0; y < result.Rows(); y++ {
		for x := 0; x < result.Cols(); x++ {
			score := float64(result.GetFloatAt(y, x))
			if score >= threshold {
				detections = append(detections, Detection{
					Bounds: rectAt(x, y, w, h),
					Score:  score,
				})
			}
		}
	}

	return detections, nil
}
