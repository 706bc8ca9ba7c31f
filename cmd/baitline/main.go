/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sabouaram/baitline/internal/capture"
	"github.com/sabouaram/baitline/internal/config"
	"github.com/sabouaram/baitline/internal/geo"
	"github.com/sabouaram/baitline/internal/hub"
	"github.com/sabouaram/baitline/internal/listener"
	"github.com/sabouaram/baitline/internal/logging"
	"github.com/sabouaram/baitline/internal/metrics"
	"github.com/sabouaram/baitline/internal/model"
	"github.com/sabouaram/baitline/internal/protocol/ftp"
	"github.com/sabouaram/baitline/internal/protocol/mysql"
	"github.com/sabouaram/baitline/internal/protocol/rdp"
	"github.com/sabouaram/baitline/internal/protocol/sip"
	"github.com/sabouaram/baitline/internal/protocol/smtp"
	"github.com/sabouaram/baitline/internal/protocol/ssh"
	"github.com/sabouaram/baitline/internal/protocol/telnet"
	"github.com/sabouaram/baitline/internal/scheduler"
	"github.com/sabouaram/baitline/internal/store"
	"github.com/sabouaram/baitline/internal/wsapi"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "baitline",
		Short: "Multi-protocol authentication honeypot",
		Long:  "baitline emulates SSH, Telnet, FTP, SMTP, RDP, SIP, and MySQL login prompts, captures submitted credentials, and fans captures out to connected dashboards.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file overlaying environment defaults")

	root.AddCommand(serveCommand())
	root.AddCommand(configValidateCommand())
	root.AddCommand(versionCommand())

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "baitline dev")
			return nil
		},
	}
}

func configValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config-validate",
		Short: "Load configuration and report any errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: host=%s web_port=%d database=%s\n", cfg.Host, cfg.HTTPPort, cfg.DatabaseURL)
			return nil
		},
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start every protocol listener and the dashboard API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
}

// run wires and starts every component explicitly: config, logging,
// metrics, store, geolocation, scheduler, hub, capture pipeline, and one
// listener per protocol descriptor. There is no init()-based listener
// registry; the descriptor slice below is the single source of truth
// for what this process serves.
func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("cmd: load config: %w", err)
	}

	log := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Stdout: true,
		File: &logging.FileOptions{
			Path:       cfg.LogFile,
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
		},
		SyslogTag: cfg.SyslogTag,
	})
	defer log.Close()

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	st, err := store.Open(cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("cmd: open store: %w", err)
	}
	defer st.Close()

	geoResolver := geo.New(geo.Options{
		CachePath: cfg.GeoCachePath,
		BaseURL:   cfg.GeoAPIBaseURL,
	}, log, m)
	defer geoResolver.Shutdown()

	sched := scheduler.New(scheduler.Options{
		MaxWorkers:  cfg.MaxThreads,
		MaxPerIP:    cfg.MaxConnectionsPerIP,
		IdleTimeout: time.Duration(cfg.ConnectionTimeout) * time.Second,
	}, log)
	defer sched.Shutdown(10 * time.Second)

	subscriberHub := hub.New(log, m)
	defer subscriberHub.Shutdown()

	pipeline := capture.New(geoResolver, st, subscriberHub, log, m)

	hostKey, err := ssh.HostKey()
	if err != nil {
		return fmt.Errorf("cmd: generate ssh host key: %w", err)
	}

	descriptors := []listener.Descriptor{
		{Name: model.ProtocolSSH, DefaultPort: cfg.SSHPort, Handler: ssh.NewHandler(hostKey), Network: "tcp"},
		{Name: model.ProtocolTelnet, DefaultPort: cfg.TelnetPort, Handler: telnet.Handle, Network: "tcp"},
		{Name: model.ProtocolFTP, DefaultPort: cfg.FTPPort, Handler: ftp.Handle, Network: "tcp"},
		{Name: model.ProtocolSMTP, DefaultPort: cfg.SMTPPort, Handler: smtp.Handle, Network: "tcp"},
		{Name: model.ProtocolRDP, DefaultPort: cfg.RDPPort, Handler: rdp.Handle, Network: "tcp"},
		{Name: model.ProtocolSIP, DefaultPort: cfg.SIPPort, Handler: sip.Handle, Network: "tcp"},
		{Name: model.ProtocolSIP, DefaultPort: cfg.SIPPort, Handler: sip.Handle, Network: "udp"},
		{Name: model.ProtocolMySQL, DefaultPort: cfg.MySQLPort, Handler: mysql.Handle, Network: "tcp"},
	}

	captureFn := func(proto model.Protocol, clientIP, username, password string) {
		pipeline.Capture(ctx, capture.Record{
			Protocol: proto,
			Username: username,
			Password: password,
			ClientIP: clientIP,
		})
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, desc := range descriptors {
		l := listener.New(desc, sched, captureFn, geoResolver.Prefetch, log, m)
		wg.Add(1)
		go func(d listener.Descriptor) {
			defer wg.Done()
			if err := l.Serve(serveCtx, cfg.Host, d.DefaultPort, cfg.MaxQueuedConnections); err != nil {
				log.Error("cmd: listener exited", err, logging.Fields{"protocol": string(d.Name), "network": d.Network})
			}
		}(desc)
	}

	go st.Supervise(serveCtx, 30*time.Second)

	httpSrv := buildHTTPServer(cfg, subscriberHub, st, m, log)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("cmd: http server exited", err, nil)
		}
	}()

	log.Info("cmd: baitline started", logging.Fields{
		"host":      cfg.Host,
		"web_port":  cfg.HTTPPort,
		"protocols": len(descriptors),
	})

	waitForShutdown(ctx, log)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	cancel()
	wg.Wait()

	return nil
}

func buildHTTPServer(cfg config.Config, h *hub.Hub, st *store.Store, m *metrics.Metrics, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/ws", wsapi.New(h, st, log))
	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}

	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.HTTPPort),
		Handler: mux,
	}
}

// waitForShutdown blocks until ctx is canceled or an interrupt/TERM
// signal arrives, matching the shutdown cascade: signal -> stop
// admitting -> cancel live records -> drain -> close subscribers.
func waitForShutdown(ctx context.Context, log logging.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		log.Info("cmd: shutdown signal received", logging.Fields{"signal": sig.String()})
	}
}
