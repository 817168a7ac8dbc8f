// Package server - router and server setup for tuziyo
// Contains: Server struct, route registration, middleware, server start
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tuziyo/tuziyo/cache"
	"github.com/tuziyo/tuziyo/discover"
	"github.com/tuziyo/tuziyo/envconfig"
	"github.com/tuziyo/tuziyo/inference/onnx"
	"github.com/tuziyo/tuziyo/logutil"
	"github.com/tuziyo/tuziyo/provision"
	"github.com/tuziyo/tuziyo/registry"
	"github.com/tuziyo/tuziyo/version"
)

var mode string = gin.DebugMode

// Server owns the provisioning service, the editing sessions and the model
// used for one-shot requests.
type Server struct {
	addr    net.Addr
	service *provision.Service

	// store is consulted by the model list; it may be nil.
	store cache.Store

	backends func() []discover.Backend
	devices  func() []discover.Device

	sessions     *sessionManager
	maxImageSize int

	// oneShot serializes one-shot requests on a shared session per model.
	oneShot struct {
		mu     sync.Mutex
		models map[registry.Type]*provision.Resolved
	}
}

func init() {
	switch mode {
	case gin.DebugMode:
	case gin.ReleaseMode:
	case gin.TestMode:
	default:
		mode = gin.DebugMode
	}

	gin.SetMode(mode)
}

// isLocalIP reports whether ip belongs to a local interface.
func isLocalIP(ip netip.Addr) bool {
	if interfaces, err := net.Interfaces(); err == nil {
		for _, iface := range interfaces {
			addrs, err := iface.Addrs()
			if err != nil {
				continue
			}

			for _, a := range addrs {
				if parsed, _, err := net.ParseCIDR(a.String()); err == nil {
					if parsed.String() == ip.String() {
						return true
					}
				}
			}
		}
	}

	return false
}

func allowedHost(host string) bool {
	host = strings.ToLower(host)

	if host == "" || host == "localhost" {
		return true
	}

	if hostname, err := os.Hostname(); err == nil && host == strings.ToLower(hostname) {
		return true
	}

	tlds := []string{
		"localhost",
		"local",
		"internal",
	}

	for _, tld := range tlds {
		if strings.HasSuffix(host, "."+tld) {
			return true
		}
	}

	return false
}

// allowedHostsMiddleware rejects requests for foreign host names while the
// server listens on loopback, which blocks DNS rebinding.
func allowedHostsMiddleware(addr net.Addr) gin.HandlerFunc {
	return func(c *gin.Context) {
		if addr == nil {
			c.Next()
			return
		}

		if addr, err := netip.ParseAddrPort(addr.String()); err == nil && !addr.Addr().IsLoopback() {
			c.Next()
			return
		}

		host, _, err := net.SplitHostPort(c.Request.Host)
		if err != nil {
			host = c.Request.Host
		}

		if addr, err := netip.ParseAddr(host); err == nil {
			if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() || isLocalIP(addr) {
				c.Next()
				return
			}
		}

		if allowedHost(host) {
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}

			c.Next()
			return
		}

		c.AbortWithStatus(http.StatusForbidden)
	}
}

// GenerateRoutes builds the HTTP router.
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
	}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		gin.Logger(),
		gin.Recovery(),
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
		metricsMiddleware(),
	)

	// General
	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "tuziyo is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "tuziyo is running") })
	r.HEAD("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })
	r.GET("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Models and backends
	r.GET("/api/models", s.ListHandler)
	r.POST("/api/pull", s.PullHandler)
	r.GET("/api/backends", s.BackendsHandler)

	// One-shot inpainting
	r.POST("/api/inpaint", s.InpaintHandler)

	// Editing sessions
	sessions := r.Group("/api/sessions")
	sessions.POST("", s.CreateSessionHandler)
	sessions.GET("/:id", s.withSession(s.SessionHandler))
	sessions.DELETE("/:id", s.DeleteSessionHandler)
	sessions.PUT("/:id/image", s.withSession(s.SetImageHandler))
	sessions.GET("/:id/image.png", s.withSession(s.ImageHandler))
	sessions.POST("/:id/strokes", s.withSession(s.StrokeHandler))
	sessions.PUT("/:id/mask", s.withSession(s.ApplyMaskHandler))
	sessions.DELETE("/:id/mask", s.withSession(s.ClearMaskHandler))
	sessions.POST("/:id/inpaint", s.withSession(s.SessionInpaintHandler))
	sessions.GET("/:id/history", s.withSession(s.HistoryHandler))
	sessions.POST("/:id/history/:index", s.withSession(s.NavigateHandler))

	return r
}

// shutdown ends every editing session and releases shared models.
func (s *Server) shutdown() {
	s.sessions.closeAll()

	s.oneShot.mu.Lock()
	defer s.oneShot.mu.Unlock()
	for t, m := range s.oneShot.models {
		if err := m.Release(); err != nil {
			slog.Warn("failed to release model", "model", t, "error", err)
		}
	}
	clear(s.oneShot.models)
}

// Serve starts the HTTP server on ln and blocks until it is stopped by
// SIGINT or SIGTERM.
func Serve(ln net.Listener) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	slog.Info("server config", "env", envconfig.Values())

	reg, err := registry.Load(envconfig.RegistryFile())
	if err != nil {
		return err
	}

	store, err := cache.Open(envconfig.CacheKind(), envconfig.Models())
	if err != nil {
		return err
	}
	defer store.Close()

	service := provision.New(reg, store, onnx.New(onnx.OptionsFromEnvironment()),
		provision.WithDownloadTimeout(envconfig.DownloadTimeout()),
		provision.WithLogger(slog.Default()),
	)

	ctx, done := context.WithCancel(context.Background())
	defer done()

	s := &Server{
		addr:         ln.Addr(),
		service:      service,
		store:        store,
		backends:     discover.Backends,
		devices:      discover.Devices,
		sessions:     newSessionManager(ctx, int(envconfig.MaxSessions())),
		maxImageSize: int(envconfig.MaxImageSize()),
	}

	srvr := &http.Server{
		Handler: s.GenerateRoutes(),
	}

	// listen for a ctrl+c and release every loaded model
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		srvr.Close()
		s.shutdown()
		if err := onnx.Shutdown(); err != nil {
			slog.Warn("failed to shut down inference runtime", "error", err)
		}
		done()
	}()

	// log devices at startup so problems show up before the first model load
	for _, d := range s.devices() {
		slog.Info("inference device", "device", d.String(), "features", d.Features)
	}

	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version))
	err = srvr.Serve(ln)
	// If server is closed from the signal handler, wait for the ctx to be done
	// otherwise error out quickly
	if !slices.Contains([]error{http.ErrServerClosed}, err) {
		return err
	}
	<-ctx.Done()
	return nil
}
