package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
)

// setupSignalHandler 返回一个在收到 SIGINT/SIGTERM 时被取消的 context。
// 正在运行的 Python 解释器通过 exec.CommandContext 绑定到该 context，
// 因此会随之被终止；批次中剩余的脚本会被记录为失败。
// 第二次收到信号时直接退出。
func setupSignalHandler(parent context.Context, logger zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigs:
			logger.Warn().Str("signal", sig.String()).Msg("Received signal, stopping the running interpreter")
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigs:
			logger.Warn().Str("signal", sig.String()).Msg("Received second signal, exiting")
			os.Exit(130)
		case <-done:
		}
	}()

	stop := func() {
		signal.Stop(sigs)
		close(done)
		cancel()
	}
	return ctx, stop
}
