package images

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	formFileField     = "image_file"
	formMetadataField = "metadata"
)

type errorResponse struct {
	Error         string         `json:"error"`
	Message       string         `json:"message"`
	ExistingImage *ExistingImage `json:"existing_image,omitempty"`
}

type uploadResponse struct {
	Message string        `json:"message"`
	Data    *UploadResult `json:"data"`
}

type ImageHandler struct {
	svc            service
	maxUploadBytes int64
	log            zerolog.Logger
}

func NewImageHandler(svc service, maxUploadBytes int64, logger zerolog.Logger) *ImageHandler {
	return &ImageHandler{
		svc:            svc,
		maxUploadBytes: maxUploadBytes,
		log:            logger.With().Str("component", "image_handler").Logger(),
	}
}

// UploadImage POST /api/upload: multipart "image_file" plus JSON "metadata".
func (h *ImageHandler) UploadImage(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
			return FileTooLarge(c, h.maxUploadBytes)
		}
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "No image file provided",
			Message: `Please provide an image file with key "image_file"`,
		})
	}

	files := form.File[formFileField]
	if len(files) == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "No image file provided",
			Message: `Please provide an image file with key "image_file"`,
		})
	}
	metadata, ok := form.Value[formMetadataField]
	if !ok || len(metadata) == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "No metadata provided",
			Message: `Please provide metadata as JSON string with key "metadata"`,
		})
	}

	fileHeader := files[0]
	if fileHeader.Filename == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "No file selected",
			Message: "Please select a file to upload",
		})
	}
	if h.maxUploadBytes > 0 && fileHeader.Size > h.maxUploadBytes {
		return FileTooLarge(c, h.maxUploadBytes)
	}

	src, err := fileHeader.Open()
	if err != nil {
		h.log.Error().Err(err).Str("filename", fileHeader.Filename).Msg("cannot open uploaded file")
		return internalError(c)
	}
	defer src.Close()

	result, err := h.svc.Upload(c.Request().Context(), UploadRequest{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Body:        src,
		Metadata:    []byte(metadata[0]),
	})
	if err != nil {
		return h.uploadError(c, err)
	}

	return c.JSON(http.StatusCreated, uploadResponse{
		Message: "Image uploaded successfully",
		Data:    result,
	})
}

func (h *ImageHandler) uploadError(c echo.Context, err error) error {
	var (
		clientErr   *ClientInputError
		conflictErr *ConflictError
	)

	switch Classify(err) {
	case CategoryDuplicate:
		errors.As(err, &conflictErr)
		resp := errorResponse{
			Error:   "Image already exists",
			Message: "An image with the same content already exists",
		}
		// Empty when the winning record of an insert race could not be read back.
		if conflictErr.Existing.ID != "" {
			resp.ExistingImage = &conflictErr.Existing
		}
		return c.JSON(http.StatusConflict, resp)
	case CategoryClientError:
		if errors.As(err, &clientErr) {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: clientErr.Reason, Message: clientErr.Message})
		}
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "Invalid image file",
			Message: "The uploaded file is not a valid image",
		})
	default:
		h.log.Error().Err(err).Msg("upload failed")
		return internalError(c)
	}
}

// GetImage GET /api/images/:id
func (h *ImageHandler) GetImage(c echo.Context) error {
	result, err := h.svc.GetImage(c.Request().Context(), c.Param("id"))
	if err != nil {
		var clientErr *ClientInputError
		switch {
		case errors.As(err, &clientErr):
			return c.JSON(http.StatusBadRequest, errorResponse{Error: clientErr.Reason, Message: clientErr.Message})
		case errors.Is(err, ErrNotFound):
			return c.JSON(http.StatusNotFound, errorResponse{Error: "Image not found", Message: "No image with this id"})
		default:
			h.log.Error().Err(err).Str("id", c.Param("id")).Msg("get image failed")
			return internalError(c)
		}
	}

	return c.JSON(http.StatusOK, result)
}

// ListImages GET /api/images?limit=N, newest first.
func (h *ImageHandler) ListImages(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid limit", Message: "limit must be a non-negative integer"})
		}
		limit = n
	}

	images, err := h.svc.ListImages(c.Request().Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("list images failed")
		return internalError(c)
	}

	return c.JSON(http.StatusOK, images)
}

// FileTooLarge writes the 413 body used by the handler and the server's error handler.
func FileTooLarge(c echo.Context, maxBytes int64) error {
	return c.JSON(http.StatusRequestEntityTooLarge, errorResponse{
		Error:   "File too large",
		Message: fmt.Sprintf("Maximum file size is %dMB", maxBytes/(1024*1024)),
	})
}

func internalError(c echo.Context) error {
	return c.JSON(http.StatusInternalServerError, errorResponse{
		Error:   "Internal server error",
		Message: "An unexpected error occurred while processing your request",
	})
}
