package identity

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/sing3demons/instance-identity/internal/keystone"
	"github.com/sing3demons/instance-identity/pkg/kp"
	"github.com/sing3demons/instance-identity/pkg/logger"
)

type IdentityHandler struct {
	validate *validator.Validate
	service  *IdentityService
}

func NewIdentityHandler(service *IdentityService) *IdentityHandler {
	return &IdentityHandler{
		validate: validator.New(),
		service:  service,
	}
}

// VendordataHandler serves POST /vendordata/instance-identity.
func (h *IdentityHandler) VendordataHandler(ctx *kp.Ctx) {
	ctx.L("instance_identity")

	var body VendordataRequest
	if err := ctx.Bind(&body); err != nil {
		ctx.Fail(kp.NewError(http.StatusBadRequest, "invalid_request", err))
		return
	}
	if err := h.validate.Struct(&body); err != nil {
		ctx.Fail(kp.NewError(http.StatusBadRequest, "invalid_request", err))
		return
	}

	token, expiresAt, err := h.service.IssueInstanceToken(ctx.Context(), body)
	if err != nil {
		if errors.Is(err, keystone.ErrInvalidProjectID) {
			ctx.Fail(kp.NewError(http.StatusBadRequest, "invalid_request", err))
			return
		}
		if errors.Is(err, ErrDirectoryUnavailable) {
			ctx.Fail(kp.NewError(http.StatusBadGateway, "directory_unavailable", err))
			return
		}
		ctx.Fail(kp.NewError(http.StatusInternalServerError, "server_error", err))
		return
	}

	ctx.JSON(http.StatusOK, VendordataResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(http.TimeFormat),
	}, logger.MaskingRule{
		Field: "body.token",
		Type:  logger.MaskingTypeFull,
	})
}
