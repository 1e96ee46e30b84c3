package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"uprpc/codec"
	"uprpc/keyexpr"
	"uprpc/message"
	"uprpc/middleware"
	"uprpc/server"
	"uprpc/uri"
)

func newEchoCmd(opts *globalOptions) *cobra.Command {
	var (
		methods    []string
		codecName  string
		timeout    time.Duration
		rateLimit  float64
		burst      int
		replyDelay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Serve methods that reply with the request payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := opts.logger()
			if err != nil {
				return err
			}
			defer log.Sync()

			cdc, err := codecByName(codecName)
			if err != nil {
				return err
			}
			session, closeSession, err := opts.session(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer closeSession()

			srv := server.NewServer(session, keyexpr.NewResolver(opts.authority), server.WithCodec(cdc), server.WithLogger(log))
			srv.Use(middleware.LoggingMiddleware(log))
			if rateLimit > 0 {
				srv.Use(middleware.RateLimitMiddleware(rateLimit, burst))
			}
			if timeout > 0 {
				srv.Use(middleware.TimeOutMiddleware(timeout))
			}

			handler := func(ctx context.Context, req *message.Message) *message.Message {
				if replyDelay > 0 {
					select {
					case <-time.After(replyDelay):
					case <-ctx.Done():
					}
				}
				return &message.Message{Payload: req.Payload}
			}
			for _, m := range methods {
				method, err := uri.Parse(m)
				if err != nil {
					return err
				}
				if err := srv.RegisterHandler(method, handler); err != nil {
					return err
				}
			}

			log.Info("echo serving", zap.Strings("methods", methods))
			<-cmd.Context().Done()
			return srv.Close()
		},
	}
	flags := cmd.Flags()
	flags.StringSliceVar(&methods, "method", nil, "method uri to serve, repeatable")
	flags.StringVar(&codecName, "codec", "protobuf", "attachment codec for replies (protobuf, binary, json)")
	flags.DurationVar(&timeout, "timeout", 0, "per request handler timeout, 0 disables")
	flags.Float64Var(&rateLimit, "rate", 0, "requests per second admitted, 0 disables")
	flags.IntVar(&burst, "burst", 10, "rate limiter burst")
	flags.DurationVar(&replyDelay, "delay", 0, "wait this long before replying")
	_ = cmd.MarkFlagRequired("method")
	return cmd
}

func codecByName(name string) (codec.Codec, error) {
	t, err := codec.ParseCodecType(name)
	if err != nil {
		return nil, err
	}
	return codec.GetCodec(t)
}
