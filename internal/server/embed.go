package server

import (
	"io/fs"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vesaa/nasdash/webui"
)

// RegisterStaticFiles mounts the embedded dashboard on the Gin engine.
// API routes registered before this take precedence. Unknown paths outside
// /api fall back to index.html.
func RegisterStaticFiles(r *gin.Engine) {
	webRoot, err := fs.Sub(webui.FS, "web")
	if err != nil {
		panic("embed: web sub-fs failed: " + err.Error())
	}
	registerStatic(r, webRoot)
}

func registerStatic(r *gin.Engine, root fs.FS) {
	files := http.FileServer(http.FS(root))

	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		name := strings.TrimPrefix(path, "/")
		if name != "" {
			if st, err := fs.Stat(root, name); err == nil && !st.IsDir() {
				files.ServeHTTP(c.Writer, c.Request)
				return
			}
		}
		index, err := fs.ReadFile(root, "index.html")
		if err != nil {
			c.String(http.StatusNotFound, "UI not found")
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", index)
	})
}
