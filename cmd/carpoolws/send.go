package main

import (
	"context"
	"fmt"
	"time"

	"github.com/carpoolkit/realtime"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func sendCmd() *cobra.Command {
	var (
		flags   connectFlags
		chat    string
		timeout time.Duration
		linger  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send [text]",
		Short: "Send one chat message",
		Long: `Connect, join the chat, send one message and disconnect. The message id is
printed to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if chat == "" {
				return errors.New("--chat is required")
			}

			logger := flags.logger()
			defer func() { _ = logger.Sync() }()

			d, err := flags.dispatcher(logger)
			if err != nil {
				return err
			}
			defer shutdown(d, time.Second)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := d.Connect(ctx); err != nil {
				return errors.Wrap(err, "cannot connect")
			}

			stream := realtime.NewMessageStream(d, chat)
			defer stream.Close()

			d.JoinChannel(chat)
			id := stream.Send(args[0])
			logger.Debug("message sent", zap.String("id", id), zap.String("chat", chat))
			fmt.Println(id)

			// Let the writer drain before the close frame goes out.
			select {
			case <-time.After(linger):
			case <-cmd.Context().Done():
			}
			d.LeaveChannel(chat)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&chat, "chat", "", "chat or trip channel to post to")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "give up connecting after this long")
	cmd.Flags().DurationVar(&linger, "linger", 500*time.Millisecond, "wait before disconnecting")

	return cmd
}
