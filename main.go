package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ZephyrDeng/cprofcsv/artifact"
	"github.com/ZephyrDeng/cprofcsv/batch"
	"github.com/ZephyrDeng/cprofcsv/config"
	"github.com/ZephyrDeng/cprofcsv/logging"
	"github.com/ZephyrDeng/cprofcsv/runner"
	"github.com/ZephyrDeng/cprofcsv/selector"
)

// version 在发布构建时通过 -ldflags "-X main.version=..." 覆盖。
var version = "0.1.0"

const longHelp = `Extract performance data from the functions of Python scripts.

Every selected script is run under cProfile and its call statistics are
written to <script>-<YYYY-MM-DD-HH-MM-SS>.csv, one row per function, ordered
by cumulative time. Modules that do nothing when run are profiled as they are.

Invalid arguments are ignored.

Exit status: 0 all scripts profiled, 1 all failed, 2 nothing selected,
3 some failed, 4 configuration error.`

const examples = `  cprofcsv
      Profile every Python file in the working directory.

  cprofcsv -r
      Profile every Python file in the working directory and all subfolders.

  cprofcsv -d /tmp/py -r -v
      Profile everything under /tmp/py and narrate progress.

  cprofcsv -f my_script.py -o profiles/ --pprof
      Profile one file, writing the CSV and a pprof profile to profiles/.

  cprofcsv mcp
      Serve the profile_scripts and summarize_profile_csv tools over stdio.`

func main() {
	// 1. 信号处理：SIGINT/SIGTERM 取消 context，正在运行的解释器随之被终止
	ctx, stop := setupSignalHandler(context.Background(), logging.New(logging.DefaultConfig()))

	// 2. 执行命令行
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run 执行命令行并返回进程退出码。
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	exitCode := batch.ExitSuccess
	rootCmd := newRootCmd(stdout, stderr, &exitCode)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		if exitCode == batch.ExitSuccess {
			return 1
		}
	}
	return exitCode
}

// newRootCmd 构建根命令。根命令自己不解析参数：config.ParseArgs 会忽略无法识别的参数，
// 而 cobra 会直接报错。这里注册的 flag 只用于生成帮助信息。
func newRootCmd(stdout, stderr io.Writer, exitCode *int) *cobra.Command {
	var helpOnly config.Settings

	rootCmd := &cobra.Command{
		Use:                "cprofcsv [flags]",
		Short:              "Profile Python scripts with cProfile and write the stats as CSV",
		Long:               longHelp,
		Example:            examples,
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			*exitCode = profileScripts(cmd, args, stdout, stderr)
			return nil
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	config.RegisterFlags(rootCmd.Flags(), &helpOnly)

	rootCmd.AddCommand(newMCPCmd(stderr, exitCode))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("cprofcsv version %s\n", version)
		},
	}
}

// newMCPCmd 构建 "mcp" 子命令：通过 stdio 提供 MCP 服务。
func newMCPCmd(stderr io.Writer, exitCode *int) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the profiling tools over MCP (stdio transport)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				*exitCode = batch.ExitConfigError
				return err
			}
			// stdout 被 MCP 占用，日志只能写到 stderr
			logger := logging.NewWithComponent(logging.Config{
				Level:  cfg.LogLevel,
				Pretty: cfg.PrettyLog,
				Output: stderr,
			}, "mcp")

			mcpServer := newMCPServer(newToolHandlers(cfg, logger))
			logger.Info().Str("version", version).Msg("Starting cprofcsv MCP server via stdio")
			if err := server.ServeStdio(mcpServer); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	return cmd
}

// newMCPServer 创建 MCP 服务器并注册所有工具。
func newMCPServer(h *toolHandlers) *server.MCPServer {
	// 1. 初始化 MCP 服务器
	mcpServer := server.NewMCPServer(
		"cprofcsv",
		version,
		server.WithLogging(),
		server.WithRecovery(),
	)

	// 2. 定义 profile_scripts 工具
	profileTool := mcp.NewTool("profile_scripts",
		mcp.WithDescription("使用 cProfile 运行目录中的 Python 脚本，并为每个脚本写出一个 CSV 统计文件。"),
		mcp.WithString("directory",
			mcp.Description("脚本所在的基础目录 (绝对路径或相对于服务器工作目录的路径)。"),
			mcp.Required(),
		),
		mcp.WithString("file",
			mcp.Description("只分析该文件 (相对于 directory)。与 recursive 同时给出时 recursive 优先。"),
		),
		mcp.WithBoolean("recursive",
			mcp.Description("递归搜索 directory 下的所有子目录。"),
		),
		mcp.WithString("output_dir",
			mcp.Description("CSV 文件的输出目录。省略时使用配置中的 output_dir，否则使用 directory。"),
		),
		mcp.WithBoolean("pprof",
			mcp.Description("同时为每个脚本写出 gzip 压缩的 pprof profile。"),
		),
		mcp.WithString("output_format",
			mcp.Description("结果的输出格式。"),
			mcp.DefaultString("text"),
			mcp.Enum("text", "markdown", "json"),
		),
	)

	// 3. 定义 summarize_profile_csv 工具
	summarizeTool := mcp.NewTool("summarize_profile_csv",
		mcp.WithDescription("读取 cprofcsv 生成的 CSV 文件 (或 .pb.gz pprof 伴随文件)，按累计时间列出前 N 个函数。"),
		mcp.WithString("csv_uri",
			mcp.Description("CSV 或 .pb.gz 文件的 URI (支持 'file://', 'http://', 'https://' 或本地路径)。"),
			mcp.Required(),
		),
		mcp.WithNumber("top_n",
			mcp.Description("返回结果的数量上限。"),
			mcp.DefaultNumber(5.0),
		),
		mcp.WithString("output_format",
			mcp.Description("结果的输出格式。"),
			mcp.DefaultString("text"),
			mcp.Enum("text", "markdown", "json"),
		),
	)

	// 4. 注册工具及其处理器
	mcpServer.AddTool(profileTool, h.handleProfileScripts)
	mcpServer.AddTool(summarizeTool, h.handleSummarizeProfileCSV)
	return mcpServer
}

// profileScripts 是根命令的实际逻辑：解析参数、加载配置、运行一个批次。
func profileScripts(cmd *cobra.Command, args []string, stdout, stderr io.Writer) int {
	settings := config.ParseArgs(args)
	if settings.Help {
		_ = cmd.Help()
		return batch.ExitSuccess
	}

	cfg, err := config.Load(settings.ConfigPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return batch.ExitConfigError
	}
	// 命令行优先级最高
	if settings.OutputDir != "" {
		cfg.OutputDir = settings.OutputDir
	}
	if settings.Pprof {
		cfg.Pprof = true
	}

	logger := newLogger(cfg, settings.Verbose, stderr)
	if settings.Verbose && len(settings.Ignored) > 0 {
		logger.Info().Strs("ignored", settings.Ignored).Msg("Ignoring unrecognized arguments")
	}

	r := runner.NewCProfile(cfg.Python,
		runner.WithOutput(stdout, stderr),
		runner.WithLogger(logger.With().Str("component", "runner").Logger()),
	)
	orchestrator := batch.New(r, artifact.NewWriter(cfg.OutputDir),
		batch.WithLogger(logger.With().Str("component", "batch").Logger()),
		batch.WithVerbose(settings.Verbose),
		batch.WithPprof(cfg.Pprof),
	)

	summary := orchestrator.RunSelection(cmd.Context(), selectionOptions(settings, cfg))
	return summary.ExitCode()
}

// newLogger 在 verbose 模式下至少输出 info 级别日志。
func newLogger(cfg config.Config, verbose bool, out io.Writer) zerolog.Logger {
	logCfg := logging.Config{Level: cfg.LogLevel, Pretty: cfg.PrettyLog, Output: out}
	if verbose && logging.ParseLevel(cfg.LogLevel) > zerolog.InfoLevel {
		logCfg.Level = "info"
	}
	return logging.New(logCfg)
}

func selectionOptions(s config.Settings, cfg config.Config) selector.Options {
	return selector.Options{
		BaseDir:    s.Directory,
		File:       s.File,
		WorkingDir: s.WorkingDir,
		Recursive:  s.Recursive,
		Extensions: cfg.Extensions,
	}
}
