// Package server 提供视频上传求解的 HTTP API
//
// POST /solve  上传视频（multipart 字段 file），同步求解并返回 JSON 结果
// GET  /ws     WebSocket 进度推送
// GET  /healthz 健康检查
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zoeyai/cardsolver/internal/logger"
	"github.com/zoeyai/cardsolver/pkg/config"
	"github.com/zoeyai/cardsolver/pkg/solver"
	"github.com/zoeyai/cardsolver/pkg/vision/cv"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingEvery     = (pongWait * 9) / 10
	maxUploadSize = 256 << 20 // 256 MB
)

// Server 求解 API 服务
type Server struct {
	cfg          *config.SolverConfig
	log          *logger.Logger
	templatePath string
	uploadDir    string

	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]*sync.Mutex

	solveMu sync.Mutex // 同一时刻只处理一个求解请求
}

// New 创建 API 服务
func New(templatePath string, cfg *config.SolverConfig, log *logger.Logger) *Server {
	return &Server{
		cfg:          cfg,
		log:          log,
		templatePath: templatePath,
		uploadDir:    "uploads",
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

// Run 启动服务并阻塞，ctx 取消时优雅退出
func (s *Server) Run(ctx context.Context, addr string) error {
	if err := os.MkdirAll(s.uploadDir, 0755); err != nil {
		return fmt.Errorf("创建上传目录失败: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/solve", s.handleSolve)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info("API 服务启动: %s", addr)
	err := httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// solveResponse /solve 的响应体
type solveResponse struct {
	SessionID     string             `json:"session_id"`
	Status        string             `json:"status"`
	CardsDetected int                `json:"cards_detected"`
	PairsCount    int                `json:"pairs_count"`
	Pairs         [][2]int           `json:"pairs"`
	Labels        []solver.Label     `json:"labels,omitempty"`
	GridFaces     map[string]*string `json:"grid_faces"`
	ElapsedMs     float64            `json:"elapsed_ms"`
}

// handleSolve 处理视频上传求解
func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("缺少上传文件: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	sessionID := uuid.New().String()
	videoPath := filepath.Join(s.uploadDir, sessionID+"_"+filepath.Base(header.Filename))

	out, err := os.Create(videoPath)
	if err != nil {
		http.Error(w, "保存上传文件失败", http.StatusInternalServerError)
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(videoPath)
		http.Error(w, "保存上传文件失败", http.StatusInternalServerError)
		return
	}
	out.Close()
	defer os.Remove(videoPath)

	s.log.Info("收到求解请求: session=%s file=%s", sessionID, header.Filename)

	s.solveMu.Lock()
	defer s.solveMu.Unlock()

	sol, err := solver.New(s.templatePath, s.cfg,
		solver.WithLogger(s.log),
		solver.WithProgress(func(stage string, current, total int) {
			s.broadcast(map[string]any{
				"type":    "progress",
				"session": sessionID,
				"stage":   stage,
				"current": current,
				"total":   total,
			})
		}))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer sol.Close()

	result, err := sol.SolveVideo(r.Context(), videoPath)
	if err != nil {
		// 输入不可用（无帧/坏视频）按 400 上报
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer result.Close()

	resp := solveResponse{
		SessionID:     sessionID,
		Status:        result.Status,
		CardsDetected: result.CardsDetected,
		PairsCount:    len(result.Pairs),
		Pairs:         make([][2]int, 0, len(result.Pairs)),
		Labels:        result.Labels,
		GridFaces:     make(map[string]*string, s.cfg.GridCells),
		ElapsedMs:     result.Timing.TotalMs,
	}
	for _, p := range result.Pairs {
		resp.Pairs = append(resp.Pairs, [2]int{p.CellA, p.CellB})
	}
	for i := 0; i < s.cfg.GridCells; i++ {
		resp.GridFaces[fmt.Sprintf("%d", i)] = nil
		if face, ok := result.Faces[i]; ok {
			if data, err := cv.EncodePNG(face); err == nil {
				uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
				resp.GridFaces[fmt.Sprintf("%d", i)] = &uri
			}
		}
	}

	s.broadcast(map[string]any{
		"type":    "done",
		"session": sessionID,
		"status":  result.Status,
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleHealth 健康检查
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleWS WebSocket 进度订阅
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	s.mu.Lock()
	s.clients[conn] = writeMu
	s.mu.Unlock()

	// 心跳
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	// 读取循环只消费控制帧
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()
}

// broadcast 向全部订阅连接推送 JSON 消息
func (s *Server) broadcast(payload map[string]any) {
	s.mu.Lock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(s.clients))
	for c, m := range s.clients {
		conns[c] = m
	}
	s.mu.Unlock()

	for conn, writeMu := range conns {
		writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteJSON(payload)
		writeMu.Unlock()
		if err != nil {
			s.mu.Lock()
			delete(s.clients, conn)
			s.mu.Unlock()
			_ = conn.Close()
		}
	}
}
