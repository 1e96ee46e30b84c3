package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"uprpc/keyexpr"
	"uprpc/loadbalance"
	"uprpc/registry"
	"uprpc/transport"
)

// globalOptions are the flags every command shares.
type globalOptions struct {
	logLevel   string
	logFile    string
	logMaxSize int
	dev        bool

	etcd        []string
	serviceName string
	balancer    string
	hashKey     string
	routerAddr  string
	authority   string
	heartbeat   time.Duration
}

func (o *globalOptions) bind(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&o.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&o.logFile, "log-file", "", "write logs to this file, rotated, instead of stderr")
	flags.IntVar(&o.logMaxSize, "log-max-size", 100, "rotate the log file after this many megabytes")
	flags.BoolVar(&o.dev, "dev", false, "human readable console logs")

	flags.StringSliceVar(&o.etcd, "etcd", nil, "etcd endpoints used to register and discover routers")
	flags.StringVar(&o.serviceName, "service", "uprpc-router", "service name routers register under")
	flags.StringVar(&o.balancer, "balancer", "roundrobin", "router selection (roundrobin, weighted, hash)")
	flags.StringVar(&o.hashKey, "hash-key", "", "key for the hash balancer, defaults to the local authority")
	flags.StringVar(&o.routerAddr, "router", "", "router address, bypasses discovery")
	flags.StringVar(&o.authority, "authority", keyexpr.DefaultAuthority, "authority of local uris")
	flags.DurationVar(&o.heartbeat, "heartbeat", 30*time.Second, "session heartbeat interval")
}

func (o *globalOptions) logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(o.logLevel)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)
	if o.dev {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	sink := zapcore.Lock(os.Stderr)
	if o.logFile != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   o.logFile,
			MaxSize:    o.logMaxSize, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	return zap.New(zapcore.NewCore(encoder, sink, level), zap.AddCaller()), nil
}

// registry returns the etcd registry when endpoints are configured, nil
// otherwise. The close function is always safe to call.
func (o *globalOptions) registry(log *zap.Logger) (registry.Registry, func(), error) {
	if len(o.etcd) == 0 {
		return nil, func() {}, nil
	}
	reg, err := registry.NewEtcdRegistry(o.etcd, log)
	if err != nil {
		return nil, nil, err
	}
	return reg, func() { reg.Close() }, nil
}

// session connects to the router given by --router, or discovers one.
func (o *globalOptions) session(ctx context.Context, log *zap.Logger) (transport.Session, func(), error) {
	settings := transport.DefaultSettings()
	settings.Log = log
	settings.HeartbeatInterval = o.heartbeat

	if o.routerAddr != "" {
		s, err := transport.Dial(ctx, o.routerAddr, settings)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}

	reg, closeReg, err := o.registry(log)
	if err != nil {
		return nil, nil, err
	}
	if reg == nil {
		return nil, nil, fmt.Errorf("either --router or --etcd is required")
	}
	key := o.hashKey
	if key == "" {
		key = o.authority
	}
	bal, err := loadbalance.New(strings.ToLower(o.balancer), key)
	if err != nil {
		closeReg()
		return nil, nil, err
	}
	s, err := transport.DialRouter(ctx, reg, bal, o.serviceName, settings)
	if err != nil {
		closeReg()
		return nil, nil, err
	}
	return s, func() {
		s.Close()
		closeReg()
	}, nil
}
