package controller

import (
	"errors"

	"annotation-collab-be/internal/dto"
	"annotation-collab-be/internal/pkg/serverutils"
	"annotation-collab-be/internal/service"
	"annotation-collab-be/pkg/export"
	"annotation-collab-be/pkg/offset"
	"annotation-collab-be/pkg/projection"
	"annotation-collab-be/pkg/shareddoc"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type IDocumentController interface {
	RegisterRoutes(r fiber.Router)
	Import(ctx *fiber.Ctx) error
	List(ctx *fiber.Ctx) error
	Show(ctx *fiber.Ctx) error
	Locate(ctx *fiber.Ctx) error
	State(ctx *fiber.Ctx) error
	Parity(ctx *fiber.Ctx) error
	Export(ctx *fiber.Ctx) error
}

type documentController struct {
	service       service.IDocumentService
	exportService service.IExportService
	auth          fiber.Handler
}

func NewDocumentController(service service.IDocumentService, exportService service.IExportService, auth fiber.Handler) IDocumentController {
	return &documentController{
		service:       service,
		exportService: exportService,
		auth:          auth,
	}
}

func (c *documentController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/documents")
	h.Use(c.auth)
	h.Post("", c.Import)
	h.Get("", c.List)
	h.Get(":id", c.Show)
	h.Get(":id/locate", c.Locate)
	h.Get(":id/state", c.State)
	h.Post(":id/parity", c.Parity)
	h.Get(":id/export", c.Export)
}

// ErrorStatus maps document and annotation errors to HTTP statuses.
func ErrorStatus(err error) (int, bool) {
	switch {
	case errors.Is(err, service.ErrDocumentNotFound):
		return fiber.StatusNotFound, true
	case errors.Is(err, service.ErrInvalidDocumentID),
		errors.Is(err, export.ErrUnknownFormat):
		return fiber.StatusBadRequest, true
	case errors.Is(err, offset.ErrOffsetOutOfRange),
		errors.Is(err, shareddoc.ErrAddressing),
		errors.Is(err, projection.ErrExportPrecondition):
		return fiber.StatusUnprocessableEntity, true
	case errors.Is(err, export.ErrFormatterUnavailable):
		return fiber.StatusServiceUnavailable, true
	}
	return 0, false
}

func documentID(ctx *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return uuid.Nil, service.ErrInvalidDocumentID
	}
	return id, nil
}

func (c *documentController) Import(ctx *fiber.Ctx) error {
	userId := ctx.Locals("user_id").(string)

	var req dto.ImportDocumentRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Import(ctx.UserContext(), userId, &req)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Success import document", res))
}

func (c *documentController) List(ctx *fiber.Ctx) error {
	userId := ctx.Locals("user_id").(string)
	limit := ctx.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	skip := ctx.QueryInt("offset", 0)
	if skip < 0 {
		skip = 0
	}

	res, err := c.service.List(ctx.UserContext(), userId, limit, skip)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get documents", res))
}

func (c *documentController) Show(ctx *fiber.Ctx) error {
	id, err := documentID(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.Show(ctx.UserContext(), id)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success show document", res))
}

func (c *documentController) Locate(ctx *fiber.Ctx) error {
	id, err := documentID(ctx)
	if err != nil {
		return err
	}
	charOffset := ctx.QueryInt("offset", -1)
	if charOffset < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "offset must be a non-negative integer")
	}

	res, err := c.service.Locate(ctx.UserContext(), id, charOffset)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success locate offset", res))
}

func (c *documentController) State(ctx *fiber.Ctx) error {
	id, err := documentID(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.State(ctx.UserContext(), id)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get document state", res))
}

func (c *documentController) Parity(ctx *fiber.Ctx) error {
	id, err := documentID(ctx)
	if err != nil {
		return err
	}

	var req dto.ParityRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Parity(ctx.UserContext(), id, &req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success check parity", res))
}

func (c *documentController) Export(ctx *fiber.Ctx) error {
	id, err := documentID(ctx)
	if err != nil {
		return err
	}

	artifact, filename, err := c.exportService.Export(ctx.UserContext(), id, ctx.Query("format", "html"))
	if err != nil {
		return err
	}

	ctx.Set(fiber.HeaderContentType, artifact.ContentType)
	ctx.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return ctx.Send(artifact.Data)
}
