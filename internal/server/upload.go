package server

import (
	"io"
	"net/http"
	"os"
)

const maxFirmwareSize = 32 << 20

// saveUpload spools the multipart firmware image to a temp file so the flash
// tool can read it from disk. The caller removes it via cleanup.
func saveUpload(r *http.Request) (string, func(), error) {
	if err := r.ParseMultipartForm(maxFirmwareSize); err != nil {
		return "", nil, err
	}

	file, _, err := r.FormFile("firmware")
	if err != nil {
		return "", nil, err
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "lfictl-fw-*.uf2")
	if err != nil {
		return "", nil, err
	}

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, err
	}

	cleanup := func() { os.Remove(tmp.Name()) }
	return tmp.Name(), cleanup, nil
}
