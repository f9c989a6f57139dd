package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/ZephyrDeng/cprofcsv/analyzer"
	"github.com/ZephyrDeng/cprofcsv/artifact"
	"github.com/ZephyrDeng/cprofcsv/batch"
	"github.com/ZephyrDeng/cprofcsv/config"
	"github.com/ZephyrDeng/cprofcsv/runner"
	"github.com/ZephyrDeng/cprofcsv/selector"
)

// toolHandlers 持有 MCP 工具处理器共享的配置和日志。
type toolHandlers struct {
	cfg    config.Config
	logger zerolog.Logger
	// newRunner 可在测试中替换
	newRunner func(cfg config.Config, logger zerolog.Logger) runner.Runner
}

func newToolHandlers(cfg config.Config, logger zerolog.Logger) *toolHandlers {
	return &toolHandlers{
		cfg:    cfg,
		logger: logger,
		newRunner: func(cfg config.Config, logger zerolog.Logger) runner.Runner {
			// stdout 是 MCP 传输通道，脚本输出一律丢弃
			return runner.NewCProfile(cfg.Python, runner.WithLogger(logger))
		},
	}
}

// handleProfileScripts 处理 MCP 工具 "profile_scripts"：运行一个批次并返回每个脚本的结果。
func (h *toolHandlers) handleProfileScripts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments

	// --- 1. 获取并验证参数 ---
	directory, ok := args["directory"].(string)
	if !ok || directory == "" {
		return nil, fmt.Errorf("missing or invalid required argument: directory (string)")
	}
	absDir, err := filepath.Abs(directory)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for '%s': %w", directory, err)
	}
	file, _ := args["file"].(string)
	recursive, _ := args["recursive"].(bool)
	pprof, ok := args["pprof"].(bool)
	if !ok {
		pprof = h.cfg.Pprof
	}
	outputFormat, ok := args["output_format"].(string)
	if !ok || outputFormat == "" {
		outputFormat = "text"
	}
	// 未指定输出目录时写到脚本目录，而不是服务器的工作目录
	outputDir, ok := args["output_dir"].(string)
	if !ok || outputDir == "" {
		outputDir = h.cfg.OutputDir
	}
	if outputDir == "" {
		outputDir = absDir
	}

	h.logger.Info().
		Str("directory", absDir).
		Str("file", file).
		Bool("recursive", recursive).
		Str("output_dir", outputDir).
		Msg("Handling profile_scripts")

	// --- 2. 运行批次 ---
	batchLogger := h.logger.With().Str("component", "batch").Logger()
	orchestrator := batch.New(h.newRunner(h.cfg, h.logger), artifact.NewWriter(outputDir),
		batch.WithLogger(batchLogger),
		batch.WithVerbose(true),
		batch.WithPprof(pprof),
	)
	summary := orchestrator.RunSelection(ctx, selector.Options{
		BaseDir:    absDir,
		File:       file,
		Recursive:  recursive,
		Extensions: h.cfg.Extensions,
	})

	// --- 3. 返回结果 ---
	resultText, err := summary.Format(outputFormat)
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: resultText,
			},
		},
		IsError: summary.Completed() == 0,
	}, nil
}

// handleSummarizeProfileCSV 处理 MCP 工具 "summarize_profile_csv"：读取 CSV 产物
// (或 .pb.gz 伴随文件) 并列出前 N 个函数。
func (h *toolHandlers) handleSummarizeProfileCSV(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments

	// --- 1. 获取并验证参数 ---
	csvURI, ok := args["csv_uri"].(string)
	if !ok || csvURI == "" {
		return nil, fmt.Errorf("missing or invalid required argument: csv_uri (string)")
	}
	outputFormat, ok := args["output_format"].(string)
	if !ok || outputFormat == "" {
		outputFormat = "text"
	}
	topNFloat, ok := args["top_n"].(float64)
	if !ok {
		topNFloat = 5.0 // MCP 数字参数为 float64
	}
	topN := int(topNFloat)
	if topN <= 0 {
		topN = 5
	}

	h.logger.Info().Str("uri", csvURI).Int("top_n", topN).Str("format", outputFormat).Msg("Handling summarize_profile_csv")

	// --- 2. 获取 CSV 文件（本地或下载）并解析 ---
	filePath, cleanup, err := getArtifactAsFile(csvURI, h.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact file: %w", err)
	}
	defer cleanup()

	report, err := loadReport(filePath)
	if err != nil {
		h.logger.Error().Err(err).Str("path", filePath).Msg("Failed to parse artifact")
		return nil, err
	}

	// --- 3. 汇总 ---
	resultText, err := analyzer.Summarize(report, topN, outputFormat)
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: resultText,
			},
		},
	}, nil
}

// loadReport 按扩展名读取 CSV 产物或 pprof 伴随文件。
func loadReport(path string) (*analyzer.ProfileReport, error) {
	if !strings.HasSuffix(path, ".pb.gz") {
		return artifact.ReadFile(path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pprof file '%s': %w", path, err)
	}
	defer file.Close()

	report, err := analyzer.ParsePprof(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read pprof file '%s': %w", path, err)
	}
	if report.Source == "" {
		report.Source = strings.TrimSuffix(filepath.Base(path), ".pb.gz")
	}
	return report, nil
}
