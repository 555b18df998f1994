package http

import (
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed assets/sandbox-bridge.js
var bridgeScript []byte

// BridgeScript serves the script injected into every fetched project. It
// patches fetch inside the sandbox and talks to /embed/bridge.
func (h *Handlers) BridgeScript(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", bridgeScript)
}
