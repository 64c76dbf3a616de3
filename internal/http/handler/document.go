package handler

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"docgate/internal/http/middleware"
	"docgate/internal/lifecycle"
	"docgate/internal/service"
)

type transitionRequest struct {
	Status string `json:"status"`
}

func validID(c *fiber.Ctx) (string, bool) {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}

// ListDocuments lists documents with limit & offset, optionally filtered by status.
//
//	@Summary	List documents
//	@Tags		documents
//	@Produce	json
//	@Param		limit	query		int		false	"page size"	default(10)
//	@Param		offset	query		int		false	"page offset"	default(0)
//	@Param		status	query		string	false	"lifecycle status filter"
//	@Success	200		{object}	service.DocumentListResult
//	@Failure	400		{object}	errorPayload
//	@Router		/documents [get]
func ListDocuments(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}
		var status lifecycle.Status
		if v := c.Query("status"); v != "" {
			if status, err = lifecycle.ParseStatus(v); err != nil {
				return writeError(c, fiber.StatusBadRequest, "INVALID_STATUS", "unknown document status")
			}
		}

		res, err := docSvc.List(c.UserContext(), limit, offset, status)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

// UploadDocument accepts a multipart upload in the form field "file".
// The skip_scan form field is honoured only when allowSkipScan is set.
//
//	@Summary	Upload a document
//	@Tags		documents
//	@Accept		multipart/form-data
//	@Produce	json
//	@Param		file		formData	file	true	"document"
//	@Param		skip_scan	formData	bool	false	"skip malware scanning when enabled server-side"
//	@Success	201			{object}	service.UploadResult
//	@Failure	400			{object}	errorPayload
//	@Failure	422			{object}	errorPayload
//	@Router		/documents [post]
func UploadDocument(docSvc service.DocumentService, allowSkipScan bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/octet-stream"
		}

		skip, _ := strconv.ParseBool(c.FormValue("skip_scan"))
		opts := service.UploadOptions{SkipScan: skip && allowSkipScan}

		res, err := docSvc.Upload(c.UserContext(), f, fh.Filename, ct, fh.Size, opts)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	}
}

// GetDocument returns one document.
//
//	@Summary	Get a document
//	@Tags		documents
//	@Produce	json
//	@Param		id	path		string	true	"document id"
//	@Success	200	{object}	model.Document
//	@Failure	404	{object}	errorPayload
//	@Router		/documents/{id} [get]
func GetDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := validID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		doc, err := docSvc.Get(c.UserContext(), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(doc)
	}
}

// DeleteDocument removes the object and its record.
//
//	@Summary	Delete a document
//	@Tags		documents
//	@Param		id	path	string	true	"document id"
//	@Success	204
//	@Failure	404	{object}	errorPayload
//	@Router		/documents/{id} [delete]
func DeleteDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := validID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		if err := docSvc.Delete(c.UserContext(), id); err != nil {
			return writeServiceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// DocumentTransitions lists the statuses a document may move to next.
//
//	@Summary	Valid next statuses
//	@Tags		lifecycle
//	@Produce	json
//	@Param		id	path		string	true	"document id"
//	@Success	200	{object}	service.NextStatesResult
//	@Failure	404	{object}	errorPayload
//	@Router		/documents/{id}/transitions [get]
func DocumentTransitions(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := validID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		res, err := docSvc.NextStates(c.UserContext(), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

// TransitionDocument moves a document to a new lifecycle status. The caller's
// role comes from the X-Actor-Role header.
//
//	@Summary	Change document status
//	@Tags		lifecycle
//	@Accept		json
//	@Produce	json
//	@Param		id				path		string				true	"document id"
//	@Param		X-Actor-Role	header		string				false	"caller role (reviewer, system, uploader)"
//	@Param		body			body		transitionRequest	true	"target status"
//	@Success	200				{object}	model.Document
//	@Failure	403				{object}	errorPayload
//	@Failure	409				{object}	errorPayload
//	@Router		/documents/{id}/status [patch]
func TransitionDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := validID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}

		var req transitionRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		to, err := lifecycle.ParseStatus(strings.TrimSpace(req.Status))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_STATUS", "unknown document status")
		}

		doc, err := docSvc.Transition(c.UserContext(), id, to, middleware.RoleFromCtx(c))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(doc)
	}
}

// DownloadDocument returns a presigned download link.
//
//	@Summary	Presigned download link
//	@Tags		documents
//	@Produce	json
//	@Param		id	path		string	true	"document id"
//	@Success	200	{object}	service.DownloadResult
//	@Failure	404	{object}	errorPayload
//	@Failure	409	{object}	errorPayload
//	@Router		/documents/{id}/download [get]
func DownloadDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := validID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		res, err := docSvc.DownloadURL(c.UserContext(), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}
