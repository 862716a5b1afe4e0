package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/urmzd/zwaved/pkg/api/types"
	"github.com/urmzd/zwaved/pkg/device"
	"github.com/urmzd/zwaved/pkg/zwave"
)

// NodesHandler exposes Z-Wave-specific node detail and interview endpoints
// that go beyond the protocol-agnostic device.Controller surface. It is
// registered only when the active controller is a *zwave.DeviceController.
type NodesHandler struct {
	controller *zwave.DeviceController
}

// NewNodesHandler creates a new nodes handler.
func NewNodesHandler(controller *zwave.DeviceController) *NodesHandler {
	return &NodesHandler{controller: controller}
}

func parseNodeIDParam(c *gin.Context) (byte, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 8)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResponse{
			Error:   "invalid_node_id",
			Message: "node id must be a number between 0 and 255",
		})
		return 0, false
	}
	return byte(id), true
}

// ListNodes handles GET /zwave/nodes
// @Summary      List Z-Wave nodes
// @Description  Returns protocol info, interview status, and the Command Class set for every known node
// @Tags         zwave
// @Produce      json
// @Success      200  {array}  zwave.NodeSnapshot
// @Router       /zwave/nodes [get]
func (h *NodesHandler) ListNodes(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.Nodes())
}

// GetNode handles GET /zwave/nodes/:id
// @Summary      Get a Z-Wave node
// @Description  Returns protocol info, interview status, and the Command Class set for one node
// @Tags         zwave
// @Produce      json
// @Param        id   path      int  true  "Node ID"
// @Success      200  {object}  zwave.NodeSnapshot
// @Failure      400  {object}  types.ErrorResponse  "Invalid node id"
// @Failure      404  {object}  types.ErrorResponse  "Node not found"
// @Router       /zwave/nodes/{id} [get]
func (h *NodesHandler) GetNode(c *gin.Context) {
	nodeID, ok := parseNodeIDParam(c)
	if !ok {
		return
	}
	snap, ok := h.controller.Node(nodeID)
	if !ok {
		c.JSON(http.StatusNotFound, types.ErrorResponse{Error: "not_found", Message: "Node not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// InterviewNode handles POST /zwave/nodes/:id/interview
// @Summary      Re-interview a node
// @Description  Re-runs the dependency-ordered Command Class interview sequence for one node
// @Tags         zwave
// @Produce      json
// @Param        id   path      int  true  "Node ID"
// @Success      200  {object}  zwave.NodeSnapshot
// @Failure      400  {object}  types.ErrorResponse  "Invalid node id"
// @Failure      404  {object}  types.ErrorResponse  "Node not found"
// @Description  If the interview ends with errors, the response is still 200, with body {"node": <snapshot>, "warning": <error text>}
// @Router       /zwave/nodes/{id}/interview [post]
func (h *NodesHandler) InterviewNode(c *gin.Context) {
	nodeID, ok := parseNodeIDParam(c)
	if !ok {
		return
	}

	err := h.controller.InterviewNode(c.Request.Context(), nodeID)
	snap, found := h.controller.Node(nodeID)
	if !found {
		c.JSON(http.StatusNotFound, types.ErrorResponse{Error: "not_found", Message: "Node not found"})
		return
	}

	if err != nil && !errors.Is(err, device.ErrNotFound) {
		// A PartiallyComplete interview still has a useful snapshot; report
		// the error but return what was learned.
		c.JSON(http.StatusOK, gin.H{"node": snap, "warning": err.Error()})
		return
	}

	c.JSON(http.StatusOK, snap)
}
