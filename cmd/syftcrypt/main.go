package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/syftcrypt/internal/config"
	"github.com/openmined/syftcrypt/internal/utils"
	"github.com/openmined/syftcrypt/internal/version"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

// logLevel is raised to debug by --verbose.
var logLevel = new(slog.LevelVar)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "syftcrypt",
		Short:         "Peer to peer encrypted file sync through a shared folder",
		Version:       version.Detailed(),
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				logLevel.Set(slog.LevelDebug)
			}
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "syftcrypt config file (default "+config.DefaultConfigPath+")")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug messages")

	rootCmd.AddCommand(
		newInitCmd(),
		newSyncCmd(),
		newStatusCmd(),
		newInfoCmd(),
		newDecryptCmd(),
		newPasswdCmd(),
		newResolveCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func setupLogging() (func(), error) {
	rotator := &lumberjack.Logger{
		Filename:   config.DefaultLogFilePath,
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
	}
	if err := utils.EnsureParent(config.DefaultLogFilePath); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	stderrHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	logInterceptor := utils.NewLogInterceptor(rotator)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// Do not include time as it is added by the log interceptor.
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stderrHandler, fileHandler)))

	return func() {
		logInterceptor.Close()
		rotator.Close()
	}, nil
}

func main() {
	logLevel.Set(slog.LevelInfo)
	closeLogs, err := setupLogging()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err = newRootCmd().ExecuteContext(ctx)
	stop()
	closeLogs()
	if err != nil {
		fmt.Fprintln(os.Stderr, red.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}
