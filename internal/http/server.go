package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"cpidash/internal/chart"
	applog "cpidash/internal/log"
	"cpidash/internal/middleware/ratelimit"
	"cpidash/internal/middleware/security"
	"cpidash/internal/middleware/trace"
	"cpidash/internal/services"
	appweb "cpidash/web"
)

// Paths that skip rate limiting and authentication.
var probePaths = []string{"/healthz", "/readyz", "/metrics"}

// Options configures a Server.
type Options struct {
	Title string

	// Initial selection for the dashboard. An empty DefaultEnd means the
	// last date in the dataset; an empty DefaultStart means the first.
	DefaultCategories []string
	DefaultStart      string
	DefaultEnd        string

	// Users maps user names to plain or bcrypt secrets. Empty disables auth.
	Users              map[string]string
	RateLimitPerMinute int

	// TrustedProxies are CIDRs, beyond the private ranges, whose
	// X-Forwarded-For header is believed.
	TrustedProxies []string

	Logger  *applog.Logger
	Metrics *Metrics
}

// Server serves the dashboard, its HTMX partials and the JSON API.
type Server struct {
	http.Server

	service   *services.QueryService
	templates *template.Template
	opts      Options
	logger    *applog.Logger
	sl        *applog.StructuredLogger
	metrics   *Metrics

	detector    *security.Detector
	rateLimiter *ratelimit.Limiter
	chartSize   chart.Size
	started     time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes, templates and middleware around svc.
func NewServer(addr string, svc *services.QueryService, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = applog.FromContext(context.Background())
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Title == "" {
		opts.Title = "Consumer Price Index, Australia"
	}
	logger := opts.Logger.WithComponent(applog.ComponentHTTP)

	s := &Server{
		service:   svc,
		opts:      opts,
		logger:    logger,
		sl:        applog.NewStructuredLogger(logger),
		metrics:   opts.Metrics,
		detector:  security.NewDetector(),
		chartSize: chart.DefaultSize,
		started:   time.Now(),
	}

	for _, cidr := range opts.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", applog.FieldError, err)
		}
	}

	rlConfig := ratelimit.DefaultConfig()
	rlConfig.ExemptPaths = probePaths
	if opts.RateLimitPerMinute > 0 {
		rlConfig.RequestsPerMinute = opts.RateLimitPerMinute
	}
	s.rateLimiter = ratelimit.NewLimiter(rlConfig)

	t, err := template.New("").Funcs(templateFuncs()).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.Error("Failed parsing templates",
			applog.FieldError, err,
			applog.FieldErrorType, applog.ErrorTypeConfiguration)
	} else {
		s.templates = t
	}

	ds := svc.Dataset()
	s.metrics.datasetRows.Set(float64(ds.Len()))
	s.metrics.GaugeFunc("cpidash_rate_limit_clients", "Clients tracked by the rate limiter.",
		func() float64 { return float64(s.rateLimiter.ActiveClients()) })
	s.metrics.GaugeFunc("cpidash_suspicious_requests", "Requests blocked as suspicious since start.",
		func() float64 { return float64(s.detector.SuspiciousCount()) })

	mux := http.NewServeMux()

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("/static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		logger.Warn("Failed to mount embedded static FS", applog.FieldError, err)
	}

	mux.HandleFunc("/", s.handleIndex)
	query := applog.ComponentMiddleware(applog.ComponentQuery)
	mux.Handle("/ui/results", query(http.HandlerFunc(s.handleResults)))
	mux.Handle("/api/query", query(http.HandlerFunc(s.handleAPIQuery)))
	mux.HandleFunc("/api/categories", s.handleCategories)
	mux.Handle("/export.csv", applog.ComponentMiddleware(applog.ComponentExport)(http.HandlerFunc(s.handleExport)))
	mux.Handle("/chart.svg", applog.ComponentMiddleware(applog.ComponentChart)(http.HandlerFunc(s.handleChart)))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.Handle("/metrics", s.metrics.Handler())

	auth := security.NewBasicAuth(opts.Title, opts.Users, probePaths, s.metrics.authFailures.Inc)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	tracer := trace.NewMiddleware(logger, s.detector.ExtractClientIP, s.metrics.Observe)

	var h http.Handler = mux
	h = auth.Middleware(h)
	h = s.rateLimiter.Middleware(s.detector.ExtractClientIP, s.onRateLimited)(h)
	h = headers.Middleware(h)
	h = s.detector.Middleware(h)
	h = tracer.Middleware(h)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if auth.Enabled() {
		logger.Info("Basic authentication enabled", "users", len(opts.Users))
	}
	return s
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	s.metrics.rateLimited.Inc()
	applog.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldPath, r.URL.Path,
		applog.FieldComponent, applog.ComponentRateLimit)
	http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

var displayLanguages = language.NewMatcher([]language.Tag{
	language.English,
	language.BritishEnglish,
	language.German,
	language.French,
	language.Italian,
})

// printerFor picks a number printer from the Accept-Language header.
func printerFor(r *http.Request) *message.Printer {
	tags, _, _ := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	tag, _, _ := displayLanguages.Match(tags...)
	return message.NewPrinter(tag)
}

func formatValue(p *message.Printer, v float64) string {
	return p.Sprint(number.Decimal(v, number.MaxFractionDigits(3)))
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"value": formatValue,
		"contains": func(list []string, s string) bool {
			for _, v := range list {
				if v == s {
					return true
				}
			}
			return false
		},
	}
}
