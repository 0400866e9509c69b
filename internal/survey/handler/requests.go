package handler

import (
	"strings"

	"iinportal/internal/survey/models"
)

type RecordRequest struct {
	ApplicationType int    `json:"application_type" validate:"required,gt=0"`
	ApplicationID   int64  `json:"application_id" validate:"required,gt=0"`
	CertificateType string `json:"certificate_type" validate:"max=64"`
}

func (r *RecordRequest) Validate() error {
	r.CertificateType = strings.TrimSpace(r.CertificateType)
	return nil
}

func (r *RecordRequest) key() models.Key {
	return models.Key{ApplicationType: r.ApplicationType, ApplicationID: r.ApplicationID}
}

type OpenGateRequest struct {
	ApplicationType int   `json:"application_type" validate:"required,gt=0"`
	ApplicationID   int64 `json:"application_id" validate:"required,gt=0"`
}

func (r *OpenGateRequest) key() models.Key {
	return models.Key{ApplicationType: r.ApplicationType, ApplicationID: r.ApplicationID}
}
