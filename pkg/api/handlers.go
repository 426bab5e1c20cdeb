package api

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/marmos91/dittostash/pkg/manager"
	"github.com/marmos91/dittostash/pkg/store/metadata"
)

type handlers struct {
	svc        Service
	stagingDir string
	timeout    time.Duration
}

// domainPayload is one entry of GET /v1/domains.
type domainPayload struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	ParentID string   `json:"parent_id,omitempty"`
	Path     []string `json:"path"`
	MaxBytes int64    `json:"max_bytes,omitempty"`
}

// registerBody is the JSON body of POST /v1/domains/:id/resources.
//
// Absent key fields are wildcards; an explicit empty string matches
// Resources without that attribute.
type registerBody struct {
	StagedPath      string  `json:"staged_path"`
	UUID            *string `json:"uuid,omitempty"`
	SourceReference *string `json:"source_reference,omitempty"`
	Version         *string `json:"version,omitempty"`
	PurgePriority   int     `json:"purge_priority"`
	Filename        string  `json:"filename,omitempty"`
}

func (h *handlers) requestContext(c fiber.Ctx) (context.Context, context.CancelFunc) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, h.timeout)
}

func (h *handlers) health(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *handlers) usage(c fiber.Ctx) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	usage, err := h.svc.Usage(ctx)
	if err != nil {
		return err
	}
	return c.JSON(usage)
}

func (h *handlers) listDomains(c fiber.Ctx) error {
	nodes := h.svc.Domains().All()
	payload := make([]domainPayload, 0, len(nodes))
	for _, n := range nodes {
		payload = append(payload, domainPayload{
			ID:       n.ID,
			Name:     n.Name,
			ParentID: n.ParentID,
			Path:     n.Path(),
			MaxBytes: n.MaxBytes,
		})
	}
	return c.JSON(fiber.Map{"domains": payload})
}

func (h *handlers) listResources(c fiber.Ctx) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	resources, err := h.svc.Resources(ctx, c.Params("id"))
	if err != nil {
		return err
	}
	if resources == nil {
		resources = []*metadata.Resource{}
	}
	return c.JSON(fiber.Map{"resources": resources})
}

func (h *handlers) lookup(c fiber.Ctx) error {
	req := manager.LookupRequest{DomainID: c.Params("id")}

	args := c.Request().URI().QueryArgs()
	if args.Has("uuid") {
		id, err := parseUUID(c.Query("uuid"))
		if err != nil {
			return err
		}
		req.UUID = &id
	}
	if args.Has("source") {
		source := c.Query("source")
		req.SourceReference = &source
	}
	if args.Has("version") {
		version := c.Query("version")
		req.Version = &version
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	res, err := h.svc.LookupWait(ctx, req)
	if err != nil {
		return err
	}
	if res == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no_match"})
	}
	return c.JSON(res)
}

func (h *handlers) register(c fiber.Ctx) error {
	var body registerBody
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return metadata.NewInvalidArgumentError("malformed request body: " + err.Error())
	}

	staged, err := h.stagedPath(body.StagedPath)
	if err != nil {
		return err
	}

	req := manager.RegisterRequest{
		StagedPath:    staged,
		DomainID:      c.Params("id"),
		PurgePriority: body.PurgePriority,
		Filename:      body.Filename,
	}
	if body.UUID != nil {
		id, err := parseUUID(*body.UUID)
		if err != nil {
			return err
		}
		req.UUID = &id
	}
	req.SourceReference = body.SourceReference
	req.Version = body.Version

	ctx, cancel := h.requestContext(c)
	defer cancel()

	res, err := h.svc.RegisterWait(ctx, req)
	if err != nil {
		return err
	}

	status := fiber.StatusOK
	if res.CreateDate.Equal(res.UpdateDate) {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(res)
}

func (h *handlers) purge(c fiber.Ctx) error {
	id, err := parseUUID(c.Params("uuid"))
	if err != nil {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	res, err := h.svc.PurgeWait(ctx, c.Params("id"), id)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// stagedPath accepts only absolute paths of regular files inside the staging
// directory. Symlinks are refused.
func (h *handlers) stagedPath(raw string) (string, error) {
	if raw == "" {
		return "", metadata.NewInvalidArgumentError("staged_path is required")
	}
	if !filepath.IsAbs(raw) {
		return "", metadata.NewInvalidArgumentError("staged_path must be absolute: " + raw)
	}

	path := filepath.Clean(raw)
	rel, err := filepath.Rel(h.stagingDir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", metadata.NewInvalidArgumentError("staged_path must be inside the staging directory " + h.stagingDir)
	}

	// A missing file is reported by the manager as an I/O error.
	if info, err := os.Lstat(path); err == nil && !info.Mode().IsRegular() {
		return "", metadata.NewInvalidArgumentError("staged_path must be a regular file: " + raw)
	}
	return path, nil
}

func parseUUID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, metadata.NewInvalidArgumentError("invalid uuid: " + raw)
	}
	return id, nil
}
