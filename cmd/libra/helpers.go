package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/libravcs/libra/internal/store"
)

// findRepository walks up from the working directory until it finds a
// repository database.
func findRepository() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, ok := store.Detect(dir); ok {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a libra repository (or any of the parent directories)")
		}
		dir = parent
	}
}
