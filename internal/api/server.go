package api

import (
	"context"
	stderrors "errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"sigfit/domain/core"
	"sigfit/domain/run"
	"sigfit/internal"
	"sigfit/internal/errors"
	"sigfit/internal/report"
	"sigfit/ports"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

const defaultListLimit = 50

// Server exposes finished runs read-only for plotting clients.
type Server struct {
	router *gin.Engine
	dir    string
	repo   ports.ResultRepository
	logger *internal.Logger
}

// NewServer creates a server over an output directory. repo is optional; when
// set, run listings come from the ledger instead of the file system.
func NewServer(dir string, repo ports.ResultRepository, mode string, logger *internal.Logger) *Server {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	if mode != "" {
		gin.SetMode(mode)
	}
	s := &Server{
		router: gin.New(),
		dir:    dir,
		repo:   repo,
		logger: logger,
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)

	runs := s.router.Group("/api/runs")
	runs.GET("", s.handleListRuns)
	runs.GET("/:id", s.handleGetRun)
	runs.GET("/:id/scan", s.handleGetScan)
	runs.GET("/:id/report", s.handleGetReport)
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving fit results from %s on %s", s.dir, addr)
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// runSummary is one entry of the run listing.
type runSummary struct {
	RunID     core.RunID `json:"run_id"`
	POI       string     `json:"poi"`
	Variable  string     `json:"variable"`
	BestFit   float64    `json:"best_fit"`
	ErrorUp   float64    `json:"error_up"`
	ErrorDown float64    `json:"error_down"`
	LowerOpen bool       `json:"lower_open"`
	UpperOpen bool       `json:"upper_open"`
	Label     string     `json:"label"`
	CreatedAt time.Time  `json:"created_at"`
}

func fromRecord(r ports.FitRunRecord) runSummary {
	return runSummary{
		RunID:     r.RunID,
		POI:       r.POI,
		Variable:  r.Variable,
		BestFit:   r.BestFit,
		ErrorUp:   r.ErrorUp,
		ErrorDown: r.ErrorDown,
		LowerOpen: r.LowerOpen,
		UpperOpen: r.UpperOpen,
		Label:     r.Label,
		CreatedAt: r.CreatedAt,
	}
}

func (s *Server) handleListRuns(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	if s.repo != nil {
		records, err := s.repo.ListRuns(c.Request.Context(), limit)
		if err != nil {
			s.logger.Error("list runs: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
			return
		}
		out := make([]runSummary, 0, len(records))
		for _, r := range records {
			out = append(out, fromRecord(r))
		}
		c.JSON(http.StatusOK, gin.H{"runs": out})
		return
	}

	runs, err := s.scanRuns()
	if err != nil {
		s.logger.Error("list runs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// listingFields are the result.json paths a run listing needs.
var listingFields = []string{
	"run_id", "poi", "variable", "best_fit", "error_up", "error_down",
	"interval.lower.open", "interval.upper.open", "label", "created_at",
}

// scanRuns reads the listing fields of every result.json below the runs
// directory, newest first, without decoding parameters or scans.
func (s *Server) scanRuns() ([]runSummary, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, run.RunsDir, "*", report.SummaryFile))
	if err != nil {
		return nil, err
	}
	runs := make([]runSummary, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil || !gjson.ValidBytes(data) {
			s.logger.Warn("skipping unreadable run summary %s", p)
			continue
		}
		f := gjson.GetManyBytes(data, listingFields...)
		runs = append(runs, runSummary{
			RunID:     core.RunID(f[0].String()),
			POI:       f[1].String(),
			Variable:  f[2].String(),
			BestFit:   f[3].Float(),
			ErrorUp:   f[4].Float(),
			ErrorDown: f[5].Float(),
			LowerOpen: f[6].Bool(),
			UpperOpen: f[7].Bool(),
			Label:     f[8].String(),
			CreatedAt: f[9].Time(),
		})
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].RunID > runs[j].RunID
	})
	return runs, nil
}

// runDir resolves the run directory for the :id parameter, writing the error
// response itself when it fails.
func (s *Server) runDir(c *gin.Context) (string, bool) {
	id, err := core.ParseRunID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	dir := run.Dir(s.dir, id)
	if _, err := os.Stat(filepath.Join(dir, report.SummaryFile)); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found", "run_id": id})
		return "", false
	}
	return dir, true
}

func (s *Server) handleGetRun(c *gin.Context) {
	dir, ok := s.runDir(c)
	if !ok {
		return
	}
	sum, err := report.ReadSummary(filepath.Join(dir, report.SummaryFile))
	if err != nil {
		s.logger.Error("read run %s: %v", dir, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read run"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// handleGetScan returns the profile scan as JSON, or the raw CSV with ?format=csv.
func (s *Server) handleGetScan(c *gin.Context) {
	dir, ok := s.runDir(c)
	if !ok {
		return
	}
	if c.Query("format") == "csv" {
		s.serveFile(c, filepath.Join(dir, report.ScanFile), "text/csv; charset=utf-8")
		return
	}
	sum, err := report.ReadSummary(filepath.Join(dir, report.SummaryFile))
	if err != nil {
		s.logger.Error("read run %s: %v", dir, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read run"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":   sum.RunID,
		"poi":      sum.POI,
		"best_fit": sum.BestFit,
		"interval": sum.Interval,
		"points":   sum.Scan,
	})
}

func (s *Server) handleGetReport(c *gin.Context) {
	dir, ok := s.runDir(c)
	if !ok {
		return
	}
	s.serveFile(c, filepath.Join(dir, report.HTMLFile), "text/html; charset=utf-8")
}

func (s *Server) serveFile(c *gin.Context, path, contentType string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": filepath.Base(path) + " not found"})
			return
		}
		s.logger.Error("read %s: %v", path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read artifact"})
		return
	}
	c.Data(http.StatusOK, contentType, data)
}
