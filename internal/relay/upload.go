package relay

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
)

const defaultFolder = "uploads"

// handleUpload POST /uploads (multipart: file, folder). Each call stores a
// new object under a fresh id.
func (s *Server) handleUpload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "open upload")
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(f)
	if err != nil {
		return errors.Wrap(err, "read upload")
	}

	folder := cleanFolder(c.FormValue("folder"))
	id := uuid.NewString()
	name := id + strings.ToLower(filepath.Ext(fh.Filename))

	dir := filepath.Join(s.mediaDir, filepath.FromSlash(folder))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "create upload folder")
	}
	dst := filepath.Join(dir, name)
	if err := os.WriteFile(dst, data, 0600); err != nil {
		return errors.Wrapf(err, "write upload %s", name)
	}

	up := Upload{
		ID:       id,
		Folder:   folder,
		FileName: fh.Filename,
		MIMEType: fh.Header.Get(fiber.HeaderContentType),
		Size:     int64(len(data)),
		Path:     dst,
	}
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		up.Width, up.Height = cfg.Width, cfg.Height
		s.logger.Debug("decoded upload", zap.String("format", format), zap.Int("width", cfg.Width), zap.Int("height", cfg.Height))
	}
	if err := s.db.Create(&up).Error; err != nil {
		return errors.Wrap(err, "insert upload")
	}

	return c.JSON(fiber.Map{
		"url":    s.publicURL + "/files/" + path.Join(folder, name),
		"id":     up.ID,
		"width":  up.Width,
		"height": up.Height,
	})
}

// cleanFolder confines folder to a relative path inside the media dir.
func cleanFolder(folder string) string {
	f := strings.Trim(path.Clean("/"+filepath.ToSlash(folder)), "/")
	if f == "" || f == "." {
		return defaultFolder
	}
	return f
}
