// Package server exposes the export pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/flanksource/prepress/api"
	"github.com/flanksource/prepress/pipeline"
)

var log = logger.GetLogger("server")

// Response is the envelope of every JSON answer.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Server struct {
	services *pipeline.Services
	engine   *gin.Engine
	http     *http.Server
}

func New(services *pipeline.Services) *Server {
	if log.IsLevelEnabled(2) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:  services.Config.Server.CORSOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s := &Server{services: services, engine: engine}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.Static("/exports", s.services.Config.ExportsDir)

	a := s.engine.Group("/api")
	a.GET("/health", s.health)

	e := a.Group("/export")
	e.GET("/tools", s.tools)
	e.POST("/tools/refresh", s.refreshTools)
	e.GET("/check-icc-profiles", s.checkProfiles)
	e.POST("/convert", s.convert)
	e.POST("/validate", s.validate)
	e.POST("", s.export)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.services.Config.Server.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = s.Shutdown(context.Background())
	}()
	log.Infof("listening on %s, exports served from %s", s.http.Addr, s.services.Config.ExportsDir)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// fail maps error kinds onto HTTP status codes.
func fail(c *gin.Context, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case api.IsKind(err, api.KindInvalidInput):
		status = http.StatusBadRequest
	case api.IsKind(err, api.KindConfigurationMissing):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, Response{Success: false, Message: message, Error: err.Error()})
}

func (s *Server) health(c *gin.Context) {
	ok(c, gin.H{
		"status": "ok",
		"tools":  s.services.Tools().AvailableNames(),
		"time":   time.Now().UTC(),
	})
}

func (s *Server) tools(c *gin.Context) {
	ok(c, s.services.Tools().List())
}

func (s *Server) refreshTools(c *gin.Context) {
	snapshot, err := s.services.Refresh(toolContext(c))
	if err != nil {
		fail(c, "tool detection failed", err)
		return
	}
	ok(c, snapshot.List())
}

func (s *Server) checkProfiles(c *gin.Context) {
	ok(c, gin.H{
		"check":    s.services.Profiles.Check(),
		"profiles": s.services.Profiles.All(),
	})
}

func (s *Server) convert(c *gin.Context) {
	var req api.ConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, "invalid request", api.Wrap(api.KindInvalidInput, "server.convert", "malformed JSON", err))
		return
	}
	res, err := s.services.Engine().ConvertPDF(toolContext(c), req)
	if err != nil {
		fail(c, "conversion failed", err)
		return
	}
	ok(c, res)
}

type validateRequest struct {
	Path     string `json:"path" binding:"required"`
	Original string `json:"original,omitempty"`
}

type validateResponse struct {
	ColorSpace  api.WeightedConsensus     `json:"colorSpace"`
	Vector      api.VectorIntegrityReport `json:"vector"`
	Consistency *api.ColorConsistency     `json:"consistency,omitempty"`
}

func (s *Server) validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, "invalid request", api.Wrap(api.KindInvalidInput, "server.validate", "path is required", err))
		return
	}
	v := s.services.Validator()
	ctx := toolContext(c)
	resp := validateResponse{
		ColorSpace: v.ValidateColorSpace(ctx, req.Path),
		Vector:     v.ValidateVectorIntegrity(ctx, req.Path),
	}
	if req.Original != "" {
		cc, err := v.CompareColor(ctx, req.Original, req.Path)
		if err != nil {
			log.Warnf("color comparison of %s failed: %v", req.Path, err)
		} else {
			resp.Consistency = &cc
		}
	}
	ok(c, resp)
}

// ExportResponse adds download links below /exports to the report.
type ExportResponse struct {
	*api.ExportReport
	Download map[string]string `json:"download"`
}

func (s *Server) export(c *gin.Context) {
	var req api.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, "invalid request", api.Wrap(api.KindInvalidInput, "server.export", "malformed JSON", err))
		return
	}
	if req.TaskID == "" {
		req.TaskID = api.NewTaskID()
	}
	if filepath.Base(req.TaskID) != req.TaskID {
		fail(c, "invalid request", api.Errorf(api.KindInvalidInput, "server.export", "task id %q is not a plain name", req.TaskID))
		return
	}
	// tasks always live below the served exports directory
	req.ExportDir = filepath.Join(s.services.Config.ExportsDir, req.TaskID)

	report, err := s.services.Export(toolContext(c), req)
	if err != nil {
		fail(c, "export failed", err)
		return
	}
	ok(c, ExportResponse{ExportReport: report, Download: downloads(report)})
}

// toolContext keeps request values but not its cancellation: a client that
// disconnects must not kill a conversion halfway through.
func toolContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func downloads(r *api.ExportReport) map[string]string {
	base := "/exports/" + r.TaskID
	links := map[string]string{
		"preview": base + "/preview.png",
		"report":  base + "/" + pipeline.ReportFile,
	}
	for _, region := range r.Regions {
		prefix := ""
		if r.ExportType == api.ExportMultiRegion {
			prefix = region.RegionID + "."
		}
		if region.PDF != "" {
			links[prefix+"pdf"] = fmt.Sprintf("%s/%s", base, relative(r.ExportDir, region.PDF))
		}
		if region.CMYKPDF != "" {
			links[prefix+"cmyk"] = fmt.Sprintf("%s/%s", base, relative(r.ExportDir, region.CMYKPDF))
		}
		if region.SVG != "" {
			links[prefix+"svg"] = fmt.Sprintf("%s/%s", base, relative(r.ExportDir, region.SVG))
		}
	}
	return links
}

func relative(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}
