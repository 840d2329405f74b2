// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package routes

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"codeberg.org/casebook/casebook/database"
	"codeberg.org/casebook/casebook/server/utils"
)

// Media handles GET /media/{id} and GET /media/{id}/{size}.
//
// The size variable is accepted for compatibility with the front end but
// ignored: pictures are served at their stored resolution.
func (a *API) Media(w http.ResponseWriter, r *http.Request) error {
	id, ok := pathID(utils.GetPathVar(r, "id"))
	if !ok {
		return ErrNotFound
	}

	p, err := a.DB.PictureByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrNotFound
		}

		return err
	}

	// Stored paths are relative file names; never let one climb out of the
	// media directory.
	path := filepath.Join(a.MediaDir, filepath.Base(p.Path))

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}

		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", p.MimeType)
	http.ServeContent(w, r, p.Name, info.ModTime(), f)

	return nil
}
