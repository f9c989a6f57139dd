package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// getArtifactAsFile 获取 CSV 或 pprof 产物文件。
// - 如果输入不包含 "://", 则视为本地文件路径（相对或绝对）。
// - 如果是 file:// URI，直接使用其路径。
// - 如果是 http:// 或 https:// URI，下载到临时文件并返回其路径。
// 返回最终的文件路径、一个用于清理临时文件的函数（如果创建了临时文件）以及错误。
// 下载的临时文件保留原文件名：artifact.ReadFile 依赖它恢复脚本名和时间戳，
// loadReport 依赖扩展名区分 CSV 和 pprof。
func getArtifactAsFile(uriStr string, logger zerolog.Logger) (filePath string, cleanup func(), err error) {
	cleanup = func() {}

	if !strings.Contains(uriStr, "://") {
		absPath, err := filepath.Abs(uriStr)
		if err != nil {
			return "", nil, fmt.Errorf("failed to get absolute path for '%s': %w", uriStr, err)
		}
		if _, err := os.Stat(absPath); err != nil {
			return "", nil, fmt.Errorf("local file '%s' (resolved to '%s') error: %w", uriStr, absPath, err)
		}
		logger.Debug().Str("path", absPath).Msg("Using local artifact file")
		return absPath, cleanup, nil
	}

	parsedURI, err := url.Parse(uriStr)
	if err != nil {
		return "", nil, fmt.Errorf("invalid artifact URI '%s': %w", uriStr, err)
	}

	switch parsedURI.Scheme {
	case "file":
		filePath = parsedURI.Path
		if filePath == "" {
			return "", nil, fmt.Errorf("invalid file path derived from URI '%s'", uriStr)
		}
		logger.Debug().Str("path", filePath).Msg("Using local artifact file")
		return filePath, cleanup, nil

	case "http", "https":
		logger.Info().Str("url", uriStr).Msg("Downloading artifact")
		resp, err := http.Get(uriStr)
		if err != nil {
			return "", nil, fmt.Errorf("failed to download artifact from '%s': %w", uriStr, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", nil, fmt.Errorf("failed to download artifact from '%s': received status code %d", uriStr, resp.StatusCode)
		}

		// 在临时目录中保留 URL 的文件名
		tempDir, err := os.MkdirTemp("", "cprofcsv-*")
		if err != nil {
			return "", nil, fmt.Errorf("failed to create temporary directory for download: %w", err)
		}
		cleanup = func() {
			if err := os.RemoveAll(tempDir); err != nil {
				logger.Warn().Err(err).Str("path", tempDir).Msg("Failed to remove temporary directory")
			}
		}

		name := filepath.Base(parsedURI.Path)
		if name == "." || name == "/" || name == "" {
			name = "download.csv"
		}
		filePath = filepath.Join(tempDir, name)
		tempFile, err := os.Create(filePath)
		if err != nil {
			cleanup()
			return "", nil, fmt.Errorf("failed to create temporary file for download: %w", err)
		}

		_, err = io.Copy(tempFile, resp.Body)
		closeErr := tempFile.Close()
		if err != nil {
			cleanup()
			return "", nil, fmt.Errorf("failed to write downloaded content to temporary file '%s': %w", filePath, err)
		}
		if closeErr != nil {
			cleanup()
			return "", nil, fmt.Errorf("failed to close temporary file '%s': %w", filePath, closeErr)
		}

		logger.Debug().Str("path", filePath).Msg("Downloaded artifact")
		return filePath, cleanup, nil

	default:
		return "", nil, fmt.Errorf("unsupported URI scheme '%s', only 'file://', 'http://', 'https://', or a plain local path are supported", parsedURI.Scheme)
	}
}
