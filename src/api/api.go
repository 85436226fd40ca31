package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/buaazp/fasthttprouter"
	"github.com/valyala/fasthttp"

	loggly_client "gitlab.com/crypto_project/core/resourcepool_service/src/sources/loggly"

	"gitlab.com/crypto_project/core/resourcepool_service/src/pool"
	"gitlab.com/crypto_project/core/resourcepool_service/src/resource"
	"gitlab.com/crypto_project/core/resourcepool_service/src/stats"
	"gitlab.com/crypto_project/core/resourcepool_service/src/strategy"
)

// Server is the operator surface: read-only stats and events, plus
// pool/resource CRUD. The dashboard is a consumer of this API, not
// part of the engine.
type Server struct {
	mgr *pool.Manager
}

func NewServer(mgr *pool.Manager) *Server {
	return &Server{mgr: mgr}
}

func writeJSON(ctx *fasthttp.RequestCtx, v interface{}) {
	ctx.SetContentType("application/json; charset=utf8")
	jsonStr, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		fmt.Fprintf(ctx, `{"error":%q}`, err.Error())
		return
	}
	fmt.Fprint(ctx, string(jsonStr))
}

func writeError(ctx *fasthttp.RequestCtx, status int, err error) {
	ctx.SetContentType("application/json; charset=utf8")
	ctx.SetStatusCode(status)
	fmt.Fprintf(ctx, `{"error":%q}`, err.Error())
}

// Index lists every pool's stats, the dashboard landing payload.
func (s *Server) Index(ctx *fasthttp.RequestCtx) {
	out := []stats.PoolStats{}
	for _, p := range s.mgr.Pools() {
		poolStats, err := s.mgr.Stats(p.ID)
		if err != nil {
			continue
		}
		out = append(out, poolStats)
	}
	writeJSON(ctx, out)
}

func (s *Server) Healthz(ctx *fasthttp.RequestCtx) {
	fmt.Fprint(ctx, "alive!\n")
}

func (s *Server) GetStats(ctx *fasthttp.RequestCtx) {
	poolID := string(ctx.QueryArgs().Peek("pool"))
	poolStats, err := s.mgr.Stats(poolID)
	if err != nil {
		writeError(ctx, fasthttp.StatusNotFound, err)
		return
	}
	writeJSON(ctx, poolStats)
}

func (s *Server) GetEvents(ctx *fasthttp.RequestCtx) {
	poolID := string(ctx.QueryArgs().Peek("pool"))
	limit, err := strconv.Atoi(string(ctx.QueryArgs().Peek("limit")))
	if err != nil || limit <= 0 {
		limit = 100
	}
	if poolID != "" {
		writeJSON(ctx, s.mgr.EventLog().ByPool(poolID, limit))
		return
	}
	writeJSON(ctx, s.mgr.EventLog().Recent(limit))
}

func (s *Server) CreatePool(ctx *fasthttp.RequestCtx) {
	var spec pool.Spec
	if err := json.Unmarshal(ctx.PostBody(), &spec); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err)
		return
	}
	p, err := s.mgr.CreatePool(spec)
	if err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err)
		return
	}
	loggly_client.GetInstance().Infof("API: created pool %s from %s", p.ID, ctx.RemoteIP())
	writeJSON(ctx, p.View())
}

func (s *Server) DeletePool(ctx *fasthttp.RequestCtx) {
	id := ctx.UserValue("id").(string)
	if err := s.mgr.RemovePool(id); err != nil {
		writeError(ctx, fasthttp.StatusNotFound, err)
		return
	}
	writeJSON(ctx, map[string]bool{"removed": true})
}

func (s *Server) SetPoolActive(ctx *fasthttp.RequestCtx) {
	id := ctx.UserValue("id").(string)
	var body struct {
		Active bool `json:"active"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err)
		return
	}
	if err := s.mgr.SetPoolActive(id, body.Active); err != nil {
		writeError(ctx, fasthttp.StatusNotFound, err)
		return
	}
	writeJSON(ctx, map[string]bool{"active": body.Active})
}

func (s *Server) UpdateStrategy(ctx *fasthttp.RequestCtx) {
	id := ctx.UserValue("id").(string)
	var body struct {
		Strategy strategy.Params `json:"strategy"`
		Filters  []pool.Filter   `json:"filters"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err)
		return
	}
	if err := s.mgr.UpdateStrategy(id, body.Strategy, body.Filters); err != nil {
		status := fasthttp.StatusBadRequest
		if err == pool.ErrUnknownPool {
			status = fasthttp.StatusNotFound
		}
		writeError(ctx, status, err)
		return
	}
	writeJSON(ctx, map[string]bool{"updated": true})
}

func (s *Server) AddPoolResource(ctx *fasthttp.RequestCtx) {
	id := ctx.UserValue("id").(string)
	var body struct {
		ResourceID string `json:"resourceId"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err)
		return
	}
	if err := s.mgr.AddResourceToPool(id, body.ResourceID); err != nil {
		writeError(ctx, fasthttp.StatusNotFound, err)
		return
	}
	writeJSON(ctx, map[string]bool{"added": true})
}

func (s *Server) RemovePoolResource(ctx *fasthttp.RequestCtx) {
	id := ctx.UserValue("id").(string)
	rid := ctx.UserValue("rid").(string)
	if err := s.mgr.RemoveResourceFromPool(id, rid); err != nil {
		writeError(ctx, fasthttp.StatusNotFound, err)
		return
	}
	writeJSON(ctx, map[string]bool{"removed": true})
}

func (s *Server) CreateResource(ctx *fasthttp.RequestCtx) {
	var seed resource.Seed
	if err := json.Unmarshal(ctx.PostBody(), &seed); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err)
		return
	}
	r, err := s.mgr.AddResource(seed)
	if err != nil {
		writeError(ctx, fasthttp.StatusConflict, err)
		return
	}
	writeJSON(ctx, r.View())
}

func (s *Server) DeleteResource(ctx *fasthttp.RequestCtx) {
	id := ctx.UserValue("id").(string)
	writeJSON(ctx, map[string]bool{"removed": s.mgr.RemoveResource(id)})
}

func (s *Server) ListResources(ctx *fasthttp.RequestCtx) {
	out := []resource.View{}
	for _, r := range s.mgr.Registry().List() {
		out = append(out, r.View())
	}
	writeJSON(ctx, out)
}

func (s *Server) ResetResource(ctx *fasthttp.RequestCtx) {
	id := ctx.UserValue("id").(string)
	if err := s.mgr.ResetFailed(id); err != nil {
		writeError(ctx, fasthttp.StatusNotFound, err)
		return
	}
	writeJSON(ctx, map[string]bool{"reset": true})
}

func (s *Server) SetResourceMaintenance(ctx *fasthttp.RequestCtx) {
	id := ctx.UserValue("id").(string)
	var body struct {
		On bool `json:"on"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err)
		return
	}
	if err := s.mgr.SetMaintenance(id, body.On); err != nil {
		writeError(ctx, fasthttp.StatusNotFound, err)
		return
	}
	writeJSON(ctx, map[string]bool{"maintenance": body.On})
}

func (s *Server) RateLimitResource(ctx *fasthttp.RequestCtx) {
	id := ctx.UserValue("id").(string)
	var body struct {
		RetryAfterSec int `json:"retryAfterSec"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err)
		return
	}
	if err := s.mgr.MarkRateLimited(id, time.Duration(body.RetryAfterSec)*time.Second); err != nil {
		writeError(ctx, fasthttp.StatusNotFound, err)
		return
	}
	writeJSON(ctx, map[string]bool{"rateLimited": true})
}

// Acquire is the hot path used by task executors before opening an
// outbound session. The contract: always POST back to /release, on
// failure paths too.
func (s *Server) Acquire(ctx *fasthttp.RequestCtx) {
	poolID := string(ctx.QueryArgs().Peek("pool"))
	reason := string(ctx.QueryArgs().Peek("reason"))
	if reason == "" {
		reason = "caller request"
	}

	r, err := s.mgr.Acquire(poolID, reason)
	if err == pool.ErrNotAvailable {
		writeError(ctx, fasthttp.StatusServiceUnavailable, err)
		return
	}
	if err != nil {
		writeError(ctx, fasthttp.StatusNotFound, err)
		return
	}
	writeJSON(ctx, r.View())
}

func (s *Server) Release(ctx *fasthttp.RequestCtx) {
	var body struct {
		ResourceID string `json:"resourceId"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err)
		return
	}
	if err := s.mgr.Release(body.ResourceID); err != nil {
		writeError(ctx, fasthttp.StatusNotFound, err)
		return
	}
	writeJSON(ctx, map[string]bool{"released": true})
}

func (s *Server) Report(ctx *fasthttp.RequestCtx) {
	var body struct {
		ResourceID string `json:"resourceId"`
		Success    bool   `json:"success"`
		LatencyMs  int64  `json:"latencyMs"`
		Error      string `json:"error"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, err)
		return
	}
	if err := s.mgr.ReportOutcome(body.ResourceID, body.Success, body.LatencyMs, body.Error); err != nil {
		writeError(ctx, fasthttp.StatusNotFound, err)
		return
	}
	writeJSON(ctx, map[string]bool{"reported": true})
}

// Router builds the route table; split out from RunServer so tests can
// serve it in-process.
func (s *Server) Router() *fasthttprouter.Router {
	router := fasthttprouter.New()
	router.GET("/", s.Index)
	router.GET("/healthz", s.Healthz)
	router.GET("/stats", s.GetStats)
	router.GET("/events", s.GetEvents)
	router.GET("/acquire", s.Acquire)
	router.POST("/release", s.Release)
	router.POST("/report", s.Report)
	router.POST("/pools", s.CreatePool)
	router.DELETE("/pools/:id", s.DeletePool)
	router.POST("/pools/:id/active", s.SetPoolActive)
	router.POST("/pools/:id/strategy", s.UpdateStrategy)
	router.POST("/pools/:id/resources", s.AddPoolResource)
	router.DELETE("/pools/:id/resources/:rid", s.RemovePoolResource)
	router.GET("/resources", s.ListResources)
	router.POST("/resources", s.CreateResource)
	router.DELETE("/resources/:id", s.DeleteResource)
	router.POST("/resources/:id/reset", s.ResetResource)
	router.POST("/resources/:id/ratelimit", s.RateLimitResource)
	router.POST("/resources/:id/maintenance", s.SetResourceMaintenance)
	return router
}

func (s *Server) RunServer(port string) {
	loggly_client.GetInstance().Infof("Listening on port %s", port)
	loggly_client.GetInstance().Fatal(fasthttp.ListenAndServe(port, s.Router().Handler))
}
