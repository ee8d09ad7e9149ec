package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/ini.v1"

	"whistle/phone"
	"whistle/sipua"
)

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "whistle",
		Short:         "Headless SIP/WebRTC softphone",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "settings.ini", "path to the settings file")
	return cmd
}

func run(ctx context.Context, configPath string, in io.Reader, out io.Writer) error {
	cfg, err := ini.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	settings, err := LoadSettings(cfg)
	if err != nil {
		return fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}
	defer closeLogging()
	coreLog.Infof("settings loaded from %s", configPath)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := settings.obtainToken(ctx, coreLog); err != nil {
		return err
	}
	settings.checkToken(coreLog, time.Now())

	n := &notifier{out: out, log: coreLog}
	ua := sipua.New(settings.UAConfig(coreLog, sipLog))
	ctrl := phone.NewController(ua, n, settings.PhoneConfig(mediaLog))
	if settings.AutoAnswer() {
		n.autoAnswer = ctrl.Answer
	}

	result := make(chan error, 1)
	go func() { result <- ctrl.Run(ctx) }()
	go newConsole(ctrl, in, out, coreLog).run(ctx)

	err = <-result
	coreLog.Info("performing a graceful shutdown...")
	return err
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
