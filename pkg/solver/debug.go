package solver

import (
	"fmt"
	"image/color"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/zoeyai/cardsolver/pkg/vision/cv"
)

// dumpGrid 输出带检测框的网格标定图
func (s *Solver) dumpGrid(frame gocv.Mat, cells []GridCell) {
	if s.cfg.DebugDir == "" {
		return
	}

	img := frame.Clone()
	defer img.Close()

	green := color.RGBA{0, 255, 0, 255}
	red := color.RGBA{255, 0, 0, 255}
	for _, cell := range cells {
		gocv.Rectangle(&img, cell.Bounds, green, 2)
		gocv.PutText(&img, fmt.Sprintf("%d", cell.Index+1),
			cell.Bounds.Min, gocv.FontHersheySimplex, 0.8, red, 2)
	}

	path := filepath.Join(s.cfg.DebugDir, "detected_grid.png")
	if err := cv.WriteImage(path, img); err != nil {
		s.log.Warn("网格标定图输出失败: %v", err)
	}
}

// dumpBaselines 输出各槽位的基准裁剪图
func (s *Solver) dumpBaselines(baselines []gocv.Mat, cells []GridCell) {
	if s.cfg.DebugDir == "" {
		return
	}

	for i, baseline := range baselines {
		if baseline.Empty() {
			continue
		}
		path := filepath.Join(s.cfg.DebugDir, fmt.Sprintf("baseline_%d.png", cells[i].Index))
		if err := cv.WriteImage(path, baseline); err != nil {
			s.log.Warn("基准图输出失败: %v", err)
			return
		}
	}
}

// dumpFaces 输出提取到的卡面
func (s *Solver) dumpFaces(faces map[int]ExtractedFace) {
	if s.cfg.DebugDir == "" {
		return
	}

	for idx, face := range faces {
		path := filepath.Join(s.cfg.DebugDir, fmt.Sprintf("face_%d.png", idx))
		if err := cv.WriteImage(path, face.Patch); err != nil {
			s.log.Warn("卡面输出失败: %v", err)
			return
		}
	}
}
