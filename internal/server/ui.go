package server

import (
	"embed"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

//go:embed static/index.html
var staticFS embed.FS

const prefixPlaceholder = "{{PREFIX}}"

const fallbackUI = `<!DOCTYPE html>
<html>
<head><title>Flow Debugger</title></head>
<body>
  <h1>Flow Debugger</h1>
  <p>The debug console is not available in this build.</p>
  <ul>
    <li><a href="{{PREFIX}}/">Debug API home</a></li>
    <li><a href="{{PREFIX}}/flows">List flows</a></li>
  </ul>
</body>
</html>
`

func (s *Server) handleUI(c *gin.Context) {
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		page = []byte(fallbackUI)
	}
	html := strings.ReplaceAll(string(page), prefixPlaceholder, s.cfg.Prefix)
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}
