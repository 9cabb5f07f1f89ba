// Command transporterd is a demo daemon that binds a small exported module
// to an in-memory transport and serves it until a shutdown signal arrives,
// exercising CreateModule/UseModule end to end. Configuration comes from
// an explicit path argument, then config/transporterd.yaml, then hardcoded
// defaults.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loopwire/transporter/auditlog"
	"github.com/loopwire/transporter/config"
	"github.com/loopwire/transporter/endpoint"
	"github.com/loopwire/transporter/handle"
)

const defaultConfigPath = "config/transporterd.yaml"

func main() {
	var cfg *config.Config
	var configSource string

	if len(os.Args) >= 2 {
		loaded, err := config.Load(os.Args[1])
		if err != nil {
			log.Fatalf("failed to load config from %s: %v", os.Args[1], err)
		}
		cfg, configSource = loaded, fmt.Sprintf("config file: %s", os.Args[1])
	} else if _, err := os.Stat(defaultConfigPath); err == nil {
		loaded, err := config.Load(defaultConfigPath)
		if err != nil {
			log.Printf("warning: %s exists but failed to load: %v", defaultConfigPath, err)
			cfg, configSource = defaultConfig(), "hardcoded defaults (config file failed to parse)"
		} else {
			cfg, configSource = loaded, defaultConfigPath
		}
	} else {
		cfg, configSource = defaultConfig(), "hardcoded defaults"
	}

	log.Printf("starting transporterd using %s", configSource)
	if cfg.Debug {
		log.Printf("debug enabled, namespace=%q codec=%q timeout=%ds", cfg.Namespace, cfg.Codec, cfg.TimeoutSeconds)
	}

	codec, err := cfg.NewCodec()
	if err != nil {
		log.Fatalf("failed to build codec: %v", err)
	}

	var audit *auditlog.Log
	if cfg.Debug {
		audit, err = auditlog.Open("transporterd-audit")
		if err != nil {
			log.Printf("warning: failed to open audit log: %v", err)
		} else {
			defer audit.Close()
		}
	}

	serverTransport, clientTransport := endpoint.NewMemoryPair()

	exported := demoModule()

	serverOpts := []endpoint.ServerOption{
		endpoint.WithNamespace(cfg.Namespace),
		endpoint.WithCodec(codec),
		endpoint.WithTimeout(cfg.Timeout()),
		endpoint.WithDebug(cfg.Debug),
	}
	if audit != nil {
		serverOpts = append(serverOpts, endpoint.WithAuditLog(audit, "transporterd-server"))
	}

	server, err := endpoint.CreateModule(serverTransport, exported, serverOpts...)
	if err != nil {
		log.Fatalf("createModule failed: %v", err)
	}
	log.Printf("module %q created", cfg.Namespace)

	clientOpts := []endpoint.ClientOption{
		endpoint.WithClientNamespace(cfg.Namespace),
		endpoint.WithClientCodec(codec),
		endpoint.WithClientTimeout(cfg.Timeout()),
		endpoint.WithClientDebug(cfg.Debug),
	}
	if audit != nil {
		clientOpts = append(clientOpts, endpoint.WithClientAuditLog(audit, "transporterd-client"))
	}

	client, err := endpoint.UseModule(clientTransport, clientTransport, clientOpts...)
	if err != nil {
		log.Fatalf("useModule failed: %v", err)
	}
	log.Printf("module %q bound for local demo traffic", cfg.Namespace)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout())
	if v, err := client.Await(ctx, "version"); err != nil {
		log.Printf("demo Get(version) failed: %v", err)
	} else {
		log.Printf("demo Get(version) -> %v", v)
	}
	cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Printf("received signal: %s, shutting down", sig)

	client.Release()
	server.Release()

	done := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
		log.Println("transporterd shut down cleanly")
	case <-time.After(10 * time.Second):
		log.Println("shutdown timeout exceeded")
	}
}

// defaultConfig is the hardcoded fallback used when no config file is
// specified and config/transporterd.yaml does not exist.
func defaultConfig() *config.Config {
	return &config.Config{
		Namespace:      "demo",
		TimeoutSeconds: 30,
		Codec:          "json",
		MaxFrameBytes:  65536,
		Debug:          true,
	}
}

// demoModule is the exported value served by this daemon: enough surface
// to exercise get, apply, and callback handoff from a connecting client.
func demoModule() map[string]any {
	var echo handle.Func = func(args []any) (any, error) {
		if len(args) == 0 {
			return nil, nil
		}
		return args[0], nil
	}
	var greet handle.Func = func(args []any) (any, error) {
		if len(args) < 2 {
			return nil, fmt.Errorf("greet requires a name and a callback")
		}
		name, _ := args[0].(string)
		cb, ok := args[1].(interface {
			Call(args []any) (any, error)
		})
		if !ok {
			return nil, fmt.Errorf("second argument to greet must be callable")
		}
		return cb.Call([]any{"hello " + name})
	}
	return map[string]any{
		"version": "1.0.0",
		"echo":    &echo,
		"greet":   &greet,
	}
}
