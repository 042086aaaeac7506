package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/betbot/bothost/internal/domain"
	"github.com/betbot/bothost/internal/logstream"
	"github.com/spf13/cobra"
)

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), flagTimeout)
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "list all bots",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		bots, err := api.List(ctx)
		if err != nil {
			return err
		}
		if len(bots) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("no bots"))
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderBots(bots))
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <bot-id>",
	Short: "show one bot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		b, err := api.Get(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderBot(b.Bot, b.Running))
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <archive>",
	Short: "upload a .zip/.tar.gz/.tgz bot archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(args[0]); err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()
		b, err := api.Upload(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s) entry=%s\n",
			successStyle.Render("uploaded"), b.Name, b.ID, b.EntryFile)
		return nil
	},
}

func lifecycleCmd(use, short string, fn func(context.Context, string) (*domain.Bot, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <bot-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			b, err := fn(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", b.Name, statusText(b.Status))
			return nil
		},
	}
}

var (
	startCmd   = lifecycleCmd("start", "start a bot", func(ctx context.Context, id string) (*domain.Bot, error) { return api.Start(ctx, id) })
	stopCmd    = lifecycleCmd("stop", "stop a bot", func(ctx context.Context, id string) (*domain.Bot, error) { return api.Stop(ctx, id) })
	restartCmd = lifecycleCmd("restart", "restart a bot", func(ctx context.Context, id string) (*domain.Bot, error) { return api.Restart(ctx, id) })
)

var deleteCmd = &cobra.Command{
	Use:     "delete <bot-id>",
	Aliases: []string{"rm"},
	Short:   "stop a bot and delete it with its files",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		if err := api.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("deleted ")+args[0])
		return nil
	},
}

var (
	flagFollow  bool
	flagHistory int
)

var logsCmd = &cobra.Command{
	Use:   "logs <bot-id>",
	Short: "print the buffered logs of a bot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		botID := args[0]

		if flagHistory > 0 {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			lines, err := api.History(ctx, botID, flagHistory)
			if err != nil {
				return err
			}
			for _, l := range lines {
				fmt.Fprintln(out, l)
			}
			return nil
		}

		if flagFollow {
			// backlog 由服务端在订阅时先推送
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return api.Follow(ctx, botID, func(m logstream.Message) {
				fmt.Fprintln(out, renderLine(m.Level, m.Message))
			})
		}

		ctx, cancel := requestContext(cmd)
		defer cancel()
		lines, err := api.Logs(ctx, botID)
		if err != nil {
			return err
		}
		for _, l := range lines {
			fmt.Fprintln(out, renderLine(l.Level, l.Message))
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().BoolVarP(&flagFollow, "follow", "f", false, "stream new lines over websocket")
	logsCmd.Flags().IntVar(&flagHistory, "history", 0, "print the last N lines of the archived log file instead")
}

var uptimeCmd = &cobra.Command{
	Use:   "uptime",
	Short: "show server uptime",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		d, err := api.Uptime(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "online, up %s\n", d.Round(1e9))
		return nil
	},
}
