// Package api exposes the sync engine over HTTP: list and mutation
// endpoints plus a websocket feed of engine snapshots. Authentication
// sits in front of this layer; tenant and user identity arrive as
// headers placed there by the gateway.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deskd-io/deskd/internal/collection"
	"github.com/deskd-io/deskd/internal/engine"
	"github.com/deskd-io/deskd/internal/models"
	"github.com/deskd-io/deskd/internal/realtime"
)

const (
	headerTenant = "X-Tenant-ID"
	headerUser   = "X-User-ID"
)

// Server wires the per-tenant engine registry and the realtime hub
// into a gin router. Every request resolves its tenant's own store, so
// one tenant's fetches never surface in another tenant's snapshot.
type Server struct {
	stores *engine.Registry
	hub    *realtime.Hub
}

// NewServer creates the API server.
func NewServer(stores *engine.Registry, hub *realtime.Hub) *Server {
	return &Server{stores: stores, hub: hub}
}

// Router builds the route table.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", s.serveWS)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/tickets", s.listTickets)
		v1.POST("/tickets", s.createTicket)
		v1.POST("/tickets/more", s.loadMore)
		v1.GET("/counts", s.viewCounts)
		v1.PATCH("/tickets/:id", s.updateTicket)
		v1.DELETE("/tickets/:id", s.deleteTicket)
		v1.POST("/tickets/:id/select", s.selectTicket)
		v1.DELETE("/selection", s.clearSelection)
		v1.GET("/tickets/:id/messages", s.listMessages)
		v1.POST("/tickets/:id/messages", s.addMessage)
	}
	return r
}

func tenantID(c *gin.Context) (string, bool) {
	id := c.GetHeader(headerTenant)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + headerTenant + " header"})
		return "", false
	}
	return id, true
}

// tenantStore resolves the request's tenant and that tenant's engine.
func (s *Server) tenantStore(c *gin.Context) (string, *engine.Store, bool) {
	tenant, ok := tenantID(c)
	if !ok {
		return "", nil, false
	}
	return tenant, s.stores.Get(tenant), true
}

// serveWS joins the client to its tenant's snapshot room. Browsers
// cannot set headers on websocket upgrades, so the tenant may also
// arrive as a query parameter.
func (s *Server) serveWS(c *gin.Context) {
	tenant := c.GetHeader(headerTenant)
	if tenant == "" {
		tenant = c.Query("tenant")
	}
	if tenant == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing tenant"})
		return
	}
	s.hub.ServeWS(c.Writer, c.Request, tenant)
}

// listTickets runs a replacing fetch for the requested view and returns
// the resulting snapshot. Soft-empty views return an empty list and no
// error, matching the engine's semantics.
func (s *Server) listTickets(c *gin.Context) {
	tenant, store, ok := s.tenantStore(c)
	if !ok {
		return
	}
	view := models.View(c.DefaultQuery("view", string(models.ViewAll)))
	if !view.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown view"})
		return
	}
	f := engine.Filters{
		TenantID: tenant,
		UserID:   c.GetHeader(headerUser),
		View:     view,
		Status:   c.Query("status"),
		Search:   c.Query("search"),
	}
	if err := store.FetchTickets(c.Request.Context(), f); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, store.Snapshot())
}

func (s *Server) loadMore(c *gin.Context) {
	_, store, ok := s.tenantStore(c)
	if !ok {
		return
	}
	if err := store.LoadMoreTickets(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, store.Snapshot())
}

func (s *Server) viewCounts(c *gin.Context) {
	tenant, store, ok := s.tenantStore(c)
	if !ok {
		return
	}
	counts, err := store.ComputeCounts(c.Request.Context(), tenant, c.GetHeader(headerUser))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (s *Server) createTicket(c *gin.Context) {
	tenant, store, ok := s.tenantStore(c)
	if !ok {
		return
	}
	var req models.CreateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := store.CreateTicket(c.Request.Context(), tenant, req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) updateTicket(c *gin.Context) {
	tenant, store, ok := s.tenantStore(c)
	if !ok {
		return
	}
	var patch models.TicketPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := store.UpdateTicket(c.Request.Context(), tenant, c.Param("id"), patch)
	if errors.Is(err, collection.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// deleteTicket is restricted to archived tickets; the archived check is
// the one permission rule enforced at this layer because the UI has no
// other guard in front of it.
func (s *Server) deleteTicket(c *gin.Context) {
	tenant, store, ok := s.tenantStore(c)
	if !ok {
		return
	}
	ticket, err := store.Ticket(c.Request.Context(), tenant, c.Param("id"))
	if errors.Is(err, collection.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if !ticket.IsArchived() {
		c.JSON(http.StatusConflict, gin.H{"error": "only archived tickets can be deleted"})
		return
	}
	if err := store.DeleteTicket(c.Request.Context(), tenant, ticket.ID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) selectTicket(c *gin.Context) {
	_, store, ok := s.tenantStore(c)
	if !ok {
		return
	}
	if err := store.SelectTicket(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, store.Snapshot())
}

func (s *Server) clearSelection(c *gin.Context) {
	_, store, ok := s.tenantStore(c)
	if !ok {
		return
	}
	if err := store.SelectTicket(c.Request.Context(), ""); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (s *Server) listMessages(c *gin.Context) {
	tenant, store, ok := s.tenantStore(c)
	if !ok {
		return
	}
	msgs, err := store.Messages(c.Request.Context(), tenant, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *Server) addMessage(c *gin.Context) {
	tenant, store, ok := s.tenantStore(c)
	if !ok {
		return
	}
	var req models.CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.TicketID = c.Param("id")
	id, err := store.AddMessage(c.Request.Context(), tenant, req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}
