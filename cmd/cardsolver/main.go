package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/schollz/progressbar/v3"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/zoeyai/cardsolver/internal/logger"
	"github.com/zoeyai/cardsolver/pkg/config"
	"github.com/zoeyai/cardsolver/pkg/server"
	"github.com/zoeyai/cardsolver/pkg/solver"
)

// 版本信息 (可通过 ldflags 注入)
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		videoPath    = flag.String("video", "", "待求解的视频文件路径")
		templatePath = flag.String("template", "", "卡背模板图像路径 (必填)")
		refsDir      = flag.String("refs", "", "参考模板目录，指定后启用标注模式")
		outPath      = flag.String("out", "card_pairs.json", "结果 JSON 输出路径")
		solutionPath = flag.String("solution", "", "配对标记图输出路径 (可选)")
		buildRefs    = flag.String("build-refs", "", "从配对结果生成参考模板集到该目录 (可选)")
		serveAddr    = flag.String("serve", "", "以 API 服务模式启动 (例: :8000)")
		record       = flag.Bool("record", false, "录制屏幕代替视频文件")
		region       = flag.String("region", "", "录屏区域 x,y,w,h，缺省为全屏")
		debugDir     = flag.String("debug-dir", "", "调试图像输出目录")
		workers      = flag.Int("workers", 0, "并行 worker 数，0 表示 CPU 核数")
		logLevel     = flag.String("log-level", "INFO", "日志级别 (DEBUG/INFO/WARN/ERROR)")
		saveConfig   = flag.Bool("save", false, "保存当前配置到本地")
		showVersion  = flag.Bool("version", false, "显示版本信息")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	log := logger.Default()
	log.SetLevel(logger.ParseLevel(*logLevel))

	// 加载配置，命令行参数优先级更高
	cfg, err := config.Load()
	if err != nil {
		log.Warn("加载配置失败: %v", err)
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *debugDir != "" {
		cfg.DebugDir = *debugDir
	}

	if *saveConfig {
		if err := config.Save(cfg); err != nil {
			log.Error("保存配置失败: %v", err)
			os.Exit(1)
		}
		log.Info("配置已保存到 %s", config.GetDefaultManager().GetConfigFile())
	}

	if *templatePath == "" {
		fmt.Println("[ERROR] 缺少卡背模板，请使用 -template 参数指定")
		flag.Usage()
		os.Exit(1)
	}

	logHostInfo(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// API 服务模式
	if *serveAddr != "" {
		srv := server.New(*templatePath, cfg, log)
		if err := srv.Run(ctx, *serveAddr); err != nil {
			log.Error("API 服务退出: %v", err)
			os.Exit(1)
		}
		return
	}

	if *videoPath == "" && !*record {
		fmt.Println("[ERROR] 请使用 -video 指定视频，或 -record 录制屏幕")
		flag.Usage()
		os.Exit(1)
	}

	opts := []solver.Option{
		solver.WithLogger(log),
		solver.WithProgress(newProgressBar()),
	}

	// 标注模式
	if *refsDir != "" {
		refs, err := solver.LoadReferenceSet(*refsDir)
		if err != nil {
			log.Error("加载参考模板失败: %v", err)
			os.Exit(1)
		}
		opts = append(opts, solver.WithReferences(refs))
	}

	sol, err := solver.New(*templatePath, cfg, opts...)
	if err != nil {
		log.Error("创建求解器失败: %v", err)
		os.Exit(1)
	}
	defer sol.Close()

	var buf *solver.FrameBuffer
	if *record {
		x, y, w, h := parseRegion(*region)
		log.Info("开始录制屏幕 (%.0fs)...", cfg.MaxSeconds)
		buf, err = solver.RecordScreen(ctx, x, y, w, h, cfg)
	} else {
		buf, err = solver.LoadVideo(*videoPath, cfg)
	}
	if err != nil {
		log.Error("帧源不可用: %v", err)
		os.Exit(1)
	}
	defer buf.Close()
	log.Info("载入 %d 帧", buf.Len())

	result, err := sol.Solve(ctx, buf)
	if err != nil {
		log.Error("求解失败: %v", err)
		os.Exit(1)
	}
	defer result.Close()

	printResult(os.Stdout, result)

	if err := solver.SaveResult(result, *outPath); err != nil {
		log.Error("保存结果失败: %v", err)
	} else {
		log.Info("结果已保存到 %s", *outPath)
	}

	if *solutionPath != "" && len(result.Pairs) > 0 && buf.Len() > 0 {
		frame := buf.Frames()[0]
		if err := solver.WriteSolution(frame.Mat, result.Cells, result.Pairs, *solutionPath); err != nil {
			log.Error("保存配对标记图失败: %v", err)
		} else {
			log.Info("配对标记图已保存到 %s", *solutionPath)
		}
	}

	if *buildRefs != "" {
		if err := solver.BuildReferenceSet(result, cfg.LabelSize, *buildRefs); err != nil {
			log.Error("生成参考模板失败: %v", err)
		} else {
			log.Info("参考模板已生成到 %s", *buildRefs)
		}
	}
}

// newProgressBar 构造按阶段切换的进度条回调
func newProgressBar() solver.ProgressFunc {
	var mu sync.Mutex
	var bar *progressbar.ProgressBar
	currentStage := ""

	return func(stage string, current, total int) {
		mu.Lock()
		defer mu.Unlock()

		if stage != currentStage {
			if bar != nil {
				_ = bar.Finish()
			}
			currentStage = stage
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(stage),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set(current)
	}
}

// printResult 以表格输出求解结果
// 标注模式输出槽位标注表，否则输出配对表
func printResult(w io.Writer, result *solver.SolveResult) {
	fmt.Fprintln(w)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	if len(result.Labels) > 0 {
		t.AppendHeader(table.Row{"槽位", "类型", "得分"})
		for _, l := range result.Labels {
			name := l.Name
			if name == "" {
				name = "-"
			}
			t.AppendRow(table.Row{l.CellIndex, name, fmt.Sprintf("%.4f", l.Score)})
		}
		t.AppendFooter(table.Row{"", "status", result.Status})
	} else {
		t.AppendHeader(table.Row{"#", "槽位 A", "槽位 B", "得分"})
		for i, p := range result.Pairs {
			t.AppendRow(table.Row{i + 1, p.CellA, p.CellB, fmt.Sprintf("%.4f", p.Score)})
		}
		t.AppendFooter(table.Row{"", "", "status", result.Status})
	}
	t.Render()

	if len(result.Unresolved) > 0 {
		fmt.Fprintf(w, "未提取到卡面的槽位: %v\n", result.Unresolved)
	}
	fmt.Fprintf(w, "检测卡背 %d 张，耗时 %.1fms\n", result.CardsDetected, result.Timing.TotalMs)
}

// parseRegion 解析 "x,y,w,h" 形式的录屏区域
func parseRegion(s string) (x, y, w, h int) {
	if s == "" {
		return 0, 0, 0, 0
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return 0, 0, 0, 0
	}
	vals := make([]int, 4)
	for i, p := range parts {
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%d", &vals[i]); err != nil {
			return 0, 0, 0, 0
		}
	}
	return vals[0], vals[1], vals[2], vals[3]
}

// logHostInfo 输出运行环境信息
func logHostInfo(log *logger.Logger) {
	cores, err := cpu.Counts(true)
	if err != nil {
		cores = runtime.NumCPU()
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		log.Debug("运行环境: %s/%s, CPU %d 核, 内存 %.1fGB",
			runtime.GOOS, runtime.GOARCH, cores, float64(vm.Total)/(1<<30))
	} else {
		log.Debug("运行环境: %s/%s, CPU %d 核", runtime.GOOS, runtime.GOARCH, cores)
	}
}

// printVersion 显示版本信息
func printVersion() {
	fmt.Printf("cardsolver %s\n", Version)
	fmt.Printf("  build time: %s\n", BuildTime)
	fmt.Printf("  git commit: %s\n", GitCommit)
}
