package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/cheekschecker/internal/database"
	"github.com/TobiSchelling/cheekschecker/internal/mask"
	"github.com/TobiSchelling/cheekschecker/internal/metrics"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// historyDays is the default window of the history page.
const historyDays = 31

// Server is the read-only dashboard over archived summaries and masked
// history.
type Server struct {
	db    *database.DB
	pages map[string]*template.Template
	mux   *http.ServeMux
	now   func() time.Time
}

// New creates a new Server.
func New(db *database.DB) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown":     renderMarkdown,
		"formatPeriod": database.FormatPeriodDisplay,
		"levelName":    levelName,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so "title" and "content" do not clash.
	pageNames := []string{"index.html", "summary.html", "history.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, pages: pages, mux: http.NewServeMux(), now: time.Now}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	metrics.Register()
	s.mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/summary/", s.handleSummary)
	s.mux.HandleFunc("/history", s.handleHistory)
	s.mux.HandleFunc("/healthz", s.handleHealth)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	summaries, err := s.db.GetAllSummaries()
	if err != nil {
		log.WithError(err).Error("loading summaries")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	stats, err := s.db.GetStats()
	if err != nil {
		log.WithError(err).Error("loading stats")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	runs, _ := s.db.GetRecentReports(10)

	s.render(w, "index.html", map[string]any{
		"Summaries": summaries,
		"Stats":     stats,
		"Runs":      runs,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/summary/")
	if key == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if _, _, ok := database.SplitPeriodKey(key); !ok {
		http.NotFound(w, r)
		return
	}

	sum, err := s.db.GetSummary(key)
	if err != nil {
		log.WithError(err).WithField("period", key).Error("loading summary")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	status := http.StatusOK
	if sum == nil {
		status = http.StatusNotFound
	}
	s.renderStatus(w, status, "summary.html", map[string]any{
		"Summary":   sum,
		"PeriodKey": key,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	to := r.URL.Query().Get("to")
	if to == "" {
		to = s.now().Format("2006-01-02")
	}
	end, err := time.Parse("2006-01-02", to)
	if err != nil {
		http.Error(w, "invalid 'to' date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	from := r.URL.Query().Get("from")
	if from == "" {
		from = end.AddDate(0, 0, -(historyDays - 1)).Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", from); err != nil {
		http.Error(w, "invalid 'from' date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	records, err := s.db.GetMaskedHistory(from, to)
	if err != nil {
		log.WithError(err).Error("loading masked history")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.render(w, "history.html", map[string]any{
		"From":    from,
		"To":      to,
		"Records": records,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	s.renderStatus(w, http.StatusOK, name, data)
}

func (s *Server) renderStatus(w http.ResponseWriter, status int, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Errorf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		log.WithError(err).Errorf("Error rendering template %s", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

func levelName(level any) string {
	var l mask.Level
	switch v := level.(type) {
	case mask.Level:
		l = v
	case int:
		l = mask.Level(v)
	default:
		return fmt.Sprint(level)
	}
	switch l {
	case mask.LevelRaw:
		return "raw"
	case mask.LevelBanded:
		return "banded"
	case mask.LevelAbstract:
		return "abstract"
	}
	return fmt.Sprint(int(l))
}

// Serve runs the dashboard on 127.0.0.1:port until ctx is done.
func Serve(ctx context.Context, db *database.DB, port int) error {
	srv, err := New(db)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Server listening on http://%s", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("Shutting down server...")
		return httpSrv.Shutdown(shutdownCtx)
	}
}
