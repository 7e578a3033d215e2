package server

import (
	"net/http"
	"path"
	"strings"
)

// StaticConfig names the asset directory and the fallback document inside it.
type StaticConfig struct {
	Dir   string
	Index string
}

// spaHandler serves files from a directory and answers every other GET with
// the index document, so client side routes resolve. Directory listings are
// never produced.
type spaHandler struct {
	root  http.FileSystem
	index string
}

func newSPAHandler(cfg StaticConfig) *spaHandler {
	index := cfg.Index
	if index == "" {
		index = "index.html"
	}
	return &spaHandler{root: http.Dir(cfg.Dir), index: "/" + strings.TrimPrefix(index, "/")}
}

func (h *spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)

	if h.serve(w, r, name) {
		return
	}
	if h.serve(w, r, path.Join(name, h.index)) {
		return
	}
	if h.serve(w, r, h.index) {
		return
	}
	http.NotFound(w, r)
}

// serve writes the named regular file and reports whether it existed.
func (h *spaHandler) serve(w http.ResponseWriter, r *http.Request, name string) bool {
	if hidden(name) {
		return false
	}
	f, err := h.root.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return false
	}

	// ServeContent, unlike ServeFile, never redirects */index.html to the
	// directory.
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return true
}

func hidden(name string) bool {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return true
		}
	}
	return false
}

// indexAvailable reports whether the fallback document exists.
func (h *spaHandler) indexAvailable() bool {
	f, err := h.root.Open(h.index)
	if err != nil {
		return false
	}
	defer f.Close()
	info, err := f.Stat()
	return err == nil && !info.IsDir()
}
