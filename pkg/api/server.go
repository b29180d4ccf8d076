package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentinel-governance/sentinel/pkg/apperr"
	"github.com/sentinel-governance/sentinel/pkg/database"
	"github.com/sentinel-governance/sentinel/pkg/governance"
	"github.com/sentinel-governance/sentinel/pkg/identity"
)

// Server is the HTTP API server: one gin.Engine, a governance.Service,
// and the outer request timeout (spec.md §5's per-tool timeout range),
// grounded on the teacher's pkg/api.Server (NewServer wiring one engine
// around a set of services).
type Server struct {
	engine  *gin.Engine
	svc     *governance.Service
	db      *database.Client
	tokens  *identity.TokenIssuer
	timeout time.Duration
}

// NewServer builds the router and registers every operation in
// spec.md §6's dispatch table.
func NewServer(svc *governance.Service, db *database.Client, tokens *identity.TokenIssuer, requestTimeout time.Duration) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), sessionKeyMiddleware)

	s := &Server{engine: engine, svc: svc, db: db, tokens: tokens, timeout: requestTimeout}
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin.Engine for ListenAndServe/testing.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	r := s.engine.Group("/v1")
	r.POST("/onboard", s.handleOnboard)
	r.GET("/identity", s.handleIdentity)
	r.POST("/process_update", s.handleProcessUpdate)
	r.POST("/get_metrics", s.handleGetMetrics)
	r.POST("/get_history", s.handleGetHistory)
	r.POST("/direct_resume_if_safe", s.handleDirectResume)
	r.POST("/request_dialectic_review", s.handleRequestDialecticReview)
	r.POST("/submit_thesis", s.handleSubmitThesis)
	r.POST("/submit_antithesis", s.handleSubmitAntithesis)
	r.POST("/submit_synthesis", s.handleSubmitSynthesis)
	r.POST("/store_discovery", s.handleStoreDiscovery)
	r.POST("/search_discoveries", s.handleSearchDiscoveries)
	r.POST("/leave_note", s.handleLeaveNote)
	r.POST("/update_discovery_status", s.handleUpdateDiscoveryStatus)
	r.POST("/list_agents", s.handleListAgents)
	r.POST("/archive", s.handleArchive)
	r.POST("/delete", s.handleDelete)
	r.POST("/update_metadata", s.handleUpdateMetadata)
	s.engine.GET("/health", s.handleHealthCheck)
}

// withTimeout wraps ctx with the server's outer request deadline
// (spec.md §5: "per-tool timeout, default range 10-60s").
func (s *Server) withTimeout(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.timeout)
}

// bindStrict decodes the request body into v, rejecting unknown JSON
// fields (spec.md §9's explicit redesign instruction: "define a
// tagged-variant request type per operation ... unknown fields
// rejected"), unlike gin's default ShouldBindJSON which silently drops
// them.
func bindStrict(c *gin.Context, v any) error {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return apperr.New(apperr.CodeInvalidArgument, "failed to read request body")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.New(apperr.CodeInvalidArgument, fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

func writeOK(c *gin.Context, v any) { c.JSON(http.StatusOK, v) }
