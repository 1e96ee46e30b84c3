package main

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uprpc/message"
	"uprpc/router"
	"uprpc/server"
	"uprpc/transport"
	"uprpc/uri"
)

func TestInvokeCommand(t *testing.T) {
	r := router.NewRouter(router.DefaultSettings())
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go r.Serve(l)
	t.Cleanup(func() { r.Shutdown(time.Second) })
	addr := l.Addr().String()

	session, err := transport.Dial(context.Background(), addr, transport.DefaultSettings())
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	srv := server.NewServer(session, nil)
	t.Cleanup(func() { srv.Close() })

	method, err := uri.Parse("up://vehicle/2002/2/7")
	require.NoError(t, err)
	require.NoError(t, srv.RegisterHandler(method, func(ctx context.Context, req *message.Message) *message.Message {
		return &message.Message{Payload: req.Payload}
	}))

	var out bytes.Buffer
	require.Eventually(t, func() bool {
		out.Reset()
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs([]string{"invoke", "--router", addr, "--method", "up://vehicle/2002/2/7", "--data", "hello", "--ttl", "500"})
		return cmd.ExecuteContext(context.Background()) == nil
	}, 3*time.Second, 50*time.Millisecond)
	assert.Equal(t, "TEXT hello\n", out.String())
}

func TestInvokeCommandRequiresRouter(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"invoke", "--method", "up://vehicle/2002/2/7"})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--router or --etcd")
}

func TestInvokeCommandRejectsUnknownPriority(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"invoke", "--router", "127.0.0.1:1", "--method", "up://vehicle/2002/2/7", "--priority", "99"})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown priority "99"`)
}

func TestLoggerOptions(t *testing.T) {
	opts := &globalOptions{logLevel: "debug", dev: true}
	log, err := opts.logger()
	require.NoError(t, err)
	assert.NotNil(t, log)

	opts.logLevel = "loud"
	_, err = opts.logger()
	assert.Error(t, err)
}
