package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"uprpc/client"
	"uprpc/keyexpr"
	"uprpc/message"
	"uprpc/uri"
)

func newInvokeCmd(opts *globalOptions) *cobra.Command {
	var (
		methodURI string
		data      string
		format    string
		ttl       uint32
		priority  string
		token     string
		ueID      uint32
		codecName string
		noPayload bool
	)
	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Invoke a method once and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := opts.logger()
			if err != nil {
				return err
			}
			defer log.Sync()

			method, err := uri.Parse(methodURI)
			if err != nil {
				return err
			}
			payloadFormat, err := message.ParsePayloadFormat(format)
			if err != nil {
				return err
			}
			prio, err := message.ParsePriority(priority)
			if err != nil {
				return err
			}
			cdc, err := codecByName(codecName)
			if err != nil {
				return err
			}

			session, closeSession, err := opts.session(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer closeSession()

			c := client.NewClient(session, uri.NewStaticProvider(opts.authority, ueID, 1),
				client.WithCodec(cdc),
				client.WithLogger(log),
				client.WithKeyResolver(keyexpr.NewResolver(opts.authority)),
			)

			var payload *message.Payload
			if !noPayload {
				payload = message.NewPayload([]byte(data), payloadFormat)
			}
			callOpts := []client.CallOption{client.WithPriority(prio)}
			if token != "" {
				callOpts = append(callOpts, client.WithToken(token))
			}

			result, err := c.InvokeMethod(cmd.Context(), method, client.NewCallOptions(ttl, callOpts...), payload)
			if err != nil {
				var rpcErr *client.RpcError
				if errors.As(err, &rpcErr) {
					return fmt.Errorf("%s failed with %s", method, rpcErr.Status)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", result.Format, result.Data)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&methodURI, "method", "", "method uri, e.g. up://vehicle/2002/2/7")
	flags.StringVar(&data, "data", "", "request payload")
	flags.StringVar(&format, "format", "TEXT", "request payload format")
	flags.BoolVar(&noPayload, "no-payload", false, "send the query without a body")
	flags.Uint32Var(&ttl, "ttl", 1000, "time to wait for the reply, in milliseconds")
	flags.StringVar(&priority, "priority", "UNSPECIFIED", "priority class, UNSPECIFIED or CS0..CS6")
	flags.StringVar(&token, "token", "", "authorization token")
	flags.Uint32Var(&ueID, "ue-id", 0xFFFE, "entity id of the caller")
	flags.StringVar(&codecName, "codec", "protobuf", "attachment codec (protobuf, binary, json)")
	_ = cmd.MarkFlagRequired("method")
	return cmd
}
