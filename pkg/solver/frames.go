package solver

import (
	"context"
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"github.com/go-vgo/robotgo"

	"github.com/zoeyai/cardsolver/pkg/config"
	"github.com/zoeyai/cardsolver/pkg/vision/cv"
)

// FrameBuffer 有界帧缓冲
// 超过上限时丢弃最早的帧并释放其图像
type FrameBuffer struct {
	frames    []Frame
	maxFrames int
	next      int // 下一帧序号
}

// NewFrameBuffer 创建帧缓冲
func NewFrameBuffer(maxFrames int) *FrameBuffer {
	if maxFrames <= 0 {
		maxFrames = 600
	}
	return &FrameBuffer{maxFrames: maxFrames}
}

// Add 追加一帧，mat 的所有权转移给缓冲
func (b *FrameBuffer) Add(timestamp float64, mat gocv.Mat) {
	b.frames = append(b.frames, Frame{Index: b.next, Timestamp: timestamp, Mat: mat})
	b.next++
	if len(b.frames) > b.maxFrames {
		b.frames[0].Mat.Close()
		b.frames = b.frames[1:]
	}
}

// Frames 返回当前全部帧（按时间升序）
func (b *FrameBuffer) Frames() []Frame {
	return b.frames
}

// Len 当前帧数
func (b *FrameBuffer) Len() int {
	return len(b.frames)
}

// Close 释放全部帧图像
func (b *FrameBuffer) Close() {
	for i := range b.frames {
		b.frames[i].Mat.Close()
	}
	b.frames = nil
}

// LoadVideo 解码视频文件到帧缓冲
// 超出 cfg.MaxSeconds 的帧不再读取（游戏开局动画只需前几秒）
func LoadVideo(path string, cfg *config.SolverConfig) (*FrameBuffer, error) {
	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, newInputError(fmt.Sprintf("无法打开视频 %s", path), err)
	}
	defer cap.Close()

	fps := cap.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = 30
	}

	buf := NewFrameBuffer(cfg.MaxFrames)
	frameCount := 0
	for {
		mat := gocv.NewMat()
		if ok := cap.Read(&mat); !ok {
			mat.Close()
			break
		}
		if mat.Empty() {
			mat.Close()
			continue
		}

		ts := float64(frameCount) / fps
		if ts > cfg.MaxSeconds {
			mat.Close()
			break
		}

		buf.Add(ts, mat)
		frameCount++
	}

	if buf.Len() == 0 {
		buf.Close()
		return nil, newInputError(fmt.Sprintf("视频 %s 未解码出任何帧", path), nil)
	}

	return buf, nil
}

// RecordScreen 录制屏幕区域到帧缓冲（录制-回放模式）
// region 为空矩形时录制全屏；录制时长为 cfg.MaxSeconds，约 10 fps
func RecordScreen(ctx context.Context, x, y, w, h int, cfg *config.SolverConfig) (*FrameBuffer, error) {
	buf := NewFrameBuffer(cfg.MaxFrames)
	start := time.Now()
	interval := 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			buf.Close()
			return nil, ctx.Err()
		default:
		}

		elapsed := time.Since(start).Seconds()
		if elapsed > cfg.MaxSeconds {
			break
		}

		shot, err := captureRegion(x, y, w, h)
		if err != nil {
			buf.Close()
			return nil, newInputError("屏幕截取失败", err)
		}

		buf.Add(elapsed, shot)
		time.Sleep(interval)
	}

	if buf.Len() == 0 {
		buf.Close()
		return nil, newInputError("录制未捕获任何帧", nil)
	}

	return buf, nil
}

// captureRegion 截取屏幕区域并转换为 BGR Mat
func captureRegion(x, y, w, h int) (gocv.Mat, error) {
	var err error
	var img image.Image
	if w > 0 && h > 0 {
		img, err = robotgo.CaptureImg(x, y, w, h)
	} else {
		img, err = robotgo.CaptureImg()
	}
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("截屏失败: %w", err)
	}
	return cv.ImageToMat(img)
}
