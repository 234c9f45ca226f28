package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/browser"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/assetstorm/internal/logging"
)

// Reload endpoints.
const (
	EventsPath  = "/__reload/events"
	ClientPath  = "/__reload/client.js"
	MetricsPath = "/metrics"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 3 * time.Second

// Config configures the preview server.
type Config struct {
	// Addr is the listen address, host:port.
	Addr string

	// BaseDir is the directory served.
	BaseDir string

	// Open launches the default browser once listening.
	Open bool

	// Gatherer, when set, is exposed at /metrics.
	Gatherer prometheus.Gatherer

	Logger *logging.Logger
}

var (
	defaultOpenURL = browser.OpenURL
	openURL        = defaultOpenURL
)

// Server serves the built site with live reload.
type Server struct {
	notifier *Notifier

	mu   sync.Mutex
	addr string
}

// NewServer creates a server publishing n's signals.
func NewServer(n *Notifier) *Server {
	return &Server{notifier: n}
}

// Addr returns the address the server is listening on, once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, cfg Config) error {
	log := logging.OrNull(cfg.Logger).WithComponent("server")

	info, err := os.Stat(cfg.BaseDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("preview: base directory %s is not a directory", cfg.BaseDir)
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("preview: listen: %w", err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	done := make(chan struct{})
	srv := &http.Server{
		Handler:           s.handler(cfg, done),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()

	url := "http://" + displayAddr(s.Addr())
	log.Info("serving %s at %s", cfg.BaseDir, url)
	if cfg.Open {
		if err := openURL(url); err != nil {
			log.Warn("cannot open browser: %v", err)
		}
	}

	select {
	case err := <-errc:
		close(done)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	close(done)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("preview: shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func displayAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

// Handler returns the HTTP handler without starting a listener.
func (s *Server) Handler(cfg Config) http.Handler {
	return s.handler(cfg, nil)
}

func (s *Server) handler(cfg Config, done <-chan struct{}) http.Handler {
	log := logging.OrNull(cfg.Logger).WithComponent("server")

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	router.GET(ClientPath, func(c *gin.Context) {
		c.Data(http.StatusOK, "application/javascript; charset=utf-8", []byte(clientScript))
	})
	router.GET(EventsPath, func(c *gin.Context) {
		s.streamEvents(c, done)
	})
	if cfg.Gatherer != nil {
		router.GET(MetricsPath, gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	router.NoRoute(func(c *gin.Context) {
		serveStatic(c, cfg.BaseDir)
	})
	return router
}

func requestLogger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == EventsPath {
			return
		}
		log.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) streamEvents(c *gin.Context, done <-chan struct{}) {
	client, unsubscribe := s.notifier.Subscribe()
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.SSEvent("hello", client.ID)
	c.Writer.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case sig := <-client.C():
			c.SSEvent("reload", sig)
			c.Writer.Flush()
		case <-keepalive.C:
			c.SSEvent("ping", time.Now().Unix())
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		case <-done:
			return
		}
	}
}

// serveStatic serves files under base, injecting the reload client into
// HTML documents.
func serveStatic(c *gin.Context, base string) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.Status(http.StatusMethodNotAllowed)
		return
	}

	rel := path.Clean("/" + c.Request.URL.Path)
	file := filepath.Join(base, filepath.FromSlash(rel))

	info, err := os.Stat(file)
	if err == nil && info.IsDir() {
		file = filepath.Join(file, "index.html")
		_, err = os.Stat(file)
	}
	if err != nil {
		c.String(http.StatusNotFound, "404 not found: %s", rel)
		return
	}

	if filepath.Ext(file) != ".html" {
		c.File(file)
		return
	}

	data, err := os.ReadFile(file)
	if err != nil {
		c.String(http.StatusInternalServerError, "%v", err)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "text/html; charset=utf-8", InjectClient(data))
}

var scriptTag = []byte(`<script src="` + ClientPath + `"></script>`)

// InjectClient inserts the reload client script before </body>, or
// appends it when the document has no body end tag.
func InjectClient(html []byte) []byte {
	if bytes.Contains(html, scriptTag) {
		return html
	}
	i := bytes.LastIndex(bytes.ToLower(html), []byte("</body>"))
	if i < 0 {
		return append(append([]byte(nil), html...), scriptTag...)
	}
	out := make([]byte, 0, len(html)+len(scriptTag))
	out = append(out, html[:i]...)
	out = append(out, scriptTag...)
	return append(out, html[i:]...)
}

// clientScript reloads the page or swaps stylesheets when told to.
var clientScript = strings.TrimSpace(`
(function () {
  var source = new EventSource("` + EventsPath + `");
  source.addEventListener("reload", function (e) {
    var sig = JSON.parse(e.data);
    if (sig.scope !== "styles") {
      window.location.reload();
      return;
    }
    var links = document.querySelectorAll('link[rel="stylesheet"]');
    for (var i = 0; i < links.length; i++) {
      var url = links[i].href.replace(/([?&])_r=\d+&?/, "$1").replace(/[?&]$/, "");
      links[i].href = url + (url.indexOf("?") < 0 ? "?" : "&") + "_r=" + Date.now();
    }
  });
})();
`)
