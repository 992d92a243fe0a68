package analyzer

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/joseph-ayodele/docanalysis/constants"
	"github.com/joseph-ayodele/docanalysis/internal/common"
)

var disablePDFConfigDir sync.Once

// validateRequest rejects documents the service would refuse, before any network call.
func validateRequest(req Request) error {
	if len(req.File) == 0 {
		return common.ConfigError("file is empty")
	}
	if len(req.File) > constants.MaxFileBytes {
		return common.ConfigError("file is %d bytes, limit is %d", len(req.File), constants.MaxFileBytes)
	}
	if req.ContentType == "" {
		return common.ConfigError("content type is required")
	}
	if !constants.IsSupportedContentType(req.ContentType) {
		return common.ConfigError("unsupported content type %q", req.ContentType)
	}
	if constants.IsPDF(req.ContentType) {
		if _, err := pdfPageCount(req.File); err != nil {
			return common.ConfigError("file is not a readable PDF: %v", err)
		}
	}
	return nil
}

func pdfPageCount(b []byte) (int, error) {
	disablePDFConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(b), conf)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("no pages")
	}
	return n, nil
}

func validateEndpoint(v *validator.Validate, ep EndpointConfig) error {
	if err := v.Struct(ep); err != nil {
		return common.ConfigError("invalid endpoint: %s", common.FormatValidationErrors(err))
	}
	return nil
}
