package main

import (
	"embed"
	"fmt"
	"log/slog"
	"net/http"
	"os"
)

//go:embed assets/index_missing.html
var embeddedFiles embed.FS

// placeholderPage returns the page served when index.html is absent.
func placeholderPage() []byte {
	data, err := embeddedFiles.ReadFile("assets/index_missing.html")
	if err != nil {
		return []byte("<h1>index.html not found</h1>")
	}
	return data
}

// readIndex loads the frontend from disk on every request so it can be
// edited without a restart.
func readIndex(path string) ([]byte, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("index file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index file: %w", err)
	}
	return data, nil
}

func handleIndex(indexPath string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")

		page, err := readIndex(indexPath)
		if err != nil {
			logger.Error("serving placeholder page", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			w.Write(placeholderPage())
			return
		}

		w.Write(page)
	}
}
