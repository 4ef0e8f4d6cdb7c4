package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dkeye/Telecare/internal/app/files"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/gin-gonic/gin"
)

// multipartSlack covers the multipart framing around the file part.
const multipartSlack = 1 << 20

func (a *api) postFile(c *gin.Context) {
	limit := a.Files.MaxBytes()
	if c.Request.ContentLength > limit+multipartSlack {
		writeError(c, fmt.Errorf("request of %d bytes: %w", c.Request.ContentLength, domain.ErrFileTooLarge))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartSlack)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(c, domain.ErrFileTooLarge)
			return
		}
		badPayload(c, err)
		return
	}
	if fh.Size > limit {
		writeError(c, fmt.Errorf("%q is %d bytes: %w", fh.Filename, fh.Size, domain.ErrFileTooLarge))
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()

	uid, _ := callerOf(c)
	rec, err := a.Files.Upload(c.Request.Context(), sessionOf(c), uid, files.Upload{
		Name:      fh.Filename,
		MimeType:  fh.Header.Get("Content-Type"),
		SizeBytes: fh.Size,
		Body:      f,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (a *api) listFiles(c *gin.Context) {
	recs, err := a.Files.List(c.Request.Context(), sessionOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if recs == nil {
		recs = []domain.FileRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"files": recs})
}
