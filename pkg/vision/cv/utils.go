package cv

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

// ReadImage 读取图像文件
func ReadImage(filename string) (gocv.Mat, error) {
	mat := gocv.IMRead(filename, gocv.IMReadColor)
	if mat.Empty() {
		return mat, fmt.Errorf("无法读取图像: %s", filename)
	}
	return mat, nil
}

// ReadImageGray 读取灰度图像
func ReadImageGray(filename string) (gocv.Mat, error) {
	mat := gocv.IMRead(filename, gocv.IMReadGrayScale)
	if mat.Empty() {
		return mat, fmt.Errorf("无法读取图像: %s", filename)
	}
	return mat, nil
}

// WriteImage 保存图像文件
func WriteImage(filename string, img gocv.Mat) error {
	// 确保目录存在
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	if ok := gocv.IMWrite(filename, img); !ok {
		return fmt.Errorf("保存图像失败: %s", filename)
	}
	return nil
}

// ToGray 转换为灰度图
func ToGray(src gocv.Mat) gocv.Mat {
	if src.Channels() == 1 {
		return src.Clone()
	}
	dst := gocv.NewMat()
	gocv.CvtColor(src, &dst, gocv.ColorBGRToGray)
	return dst
}

// CropImage 裁剪图像区域，自动约束到图像边界内
func CropImage(img gocv.Mat, rect image.Rectangle) gocv.Mat {
	bounded := rect.Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))
	if bounded.Empty() {
		return gocv.NewMat()
	}

	region := img.Region(bounded)
	defer region.Close()
	return region.Clone()
}

// ResizeImage 调整图像大小
func ResizeImage(img gocv.Mat, width, height int) gocv.Mat {
	dst := gocv.NewMat()
	gocv.Resize(img, &dst, image.Point{X: width, Y: height}, 0, 0, gocv.InterpolationLinear)
	return dst
}

// Normalize 卡面归一化预处理: 灰度化、缩放到 size×size、直方图均衡
// 配对与标注共用该预处理，使得分对亮度偏移不敏感
func Normalize(img gocv.Mat, size int) gocv.Mat {
	gray := ToGray(img)
	defer gray.Close()

	resized := gocv.NewMat()
	gocv.Resize(gray, &resized, image.Point{X: size, Y: size}, 0, 0, gocv.InterpolationLinear)
	defer resized.Close()

	dst := gocv.NewMat()
	gocv.EqualizeHist(resized, &dst)
	return dst
}

// MeanBrightness 计算图像平均亮度（灰度）
func MeanBrightness(img gocv.Mat) float64 {
	if img.Channels() == 1 {
		return img.Mean().Val1
	}
	gray := ToGray(img)
	defer gray.Close()
	return gray.Mean().Val1
}

// MeanAbsDiff 计算两张同尺寸灰度图的平均绝对像素差
func MeanAbsDiff(a, b gocv.Mat) float64 {
	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(a, b, &diff)
	return diff.Mean().Val1
}

// ImageToMat 将 image.Image 转换为 gocv.Mat
func ImageToMat(img image.Image) (gocv.Mat, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("图像转换失败: %w", err)
	}
	// 转换为 BGR（OpenCV 默认格式）
	dst := gocv.NewMat()
	gocv.CvtColor(mat, &dst, gocv.ColorRGBToBGR)
	mat.Close()
	return dst, nil
}

// MatToImage 将 gocv.Mat 转换为 image.Image
func MatToImage(mat gocv.Mat) (image.Image, error) {
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("Mat 转换失败: %w", err)
	}
	return img, nil
}

// EncodePNG 将 Mat 编码为 PNG 字节流
func EncodePNG(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("PNG 编码失败: %w", err)
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	return data, nil
}
