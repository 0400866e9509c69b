package service

import (
	"bytes"
	"context"
	"text/template"

	"iinportal/internal/application/models"
	"iinportal/internal/catalog"
	dErrors "iinportal/pkg/domain-errors"
	"iinportal/pkg/requestcontext"
)

const certificateTemplate = `SERTIFIKAT ISSUER IDENTIFICATION NUMBER
=======================================

Nomor IIN        : {{.IssuedNumber}}
Nomor Permohonan : {{.Number}}
Jenis Layanan    : {{.KindLabel}}
Nama Perusahaan  : {{.CompanyName}}
Pemohon          : {{.OwnerName}}
Tanggal Terbit   : {{.IssuedAt}}

Sertifikat ini diterbitkan secara elektronik dan sah tanpa tanda tangan basah.
`

var kindLabels = map[catalog.Kind]string{
	catalog.KindIinNasional:           "IIN Nasional",
	catalog.KindSingleIinBlockholder:  "Single IIN / Blockholder",
	catalog.KindPengawasanIinNasional: "Pengawasan IIN Nasional",
	catalog.KindPengawasanSingleIin:   "Pengawasan Single IIN / Blockholder",
}

type certificateRenderer struct {
	tmpl *template.Template
}

func newCertificateRenderer() *certificateRenderer {
	return &certificateRenderer{
		tmpl: template.Must(template.New("certificate").Parse(certificateTemplate)),
	}
}

type certificateData struct {
	IssuedNumber string
	Number       string
	KindLabel    string
	CompanyName  string
	OwnerName    string
	IssuedAt     string
}

func (r *certificateRenderer) render(app *models.Application) ([]byte, error) {
	data := certificateData{
		IssuedNumber: app.IssuedNumber,
		Number:       app.Number,
		KindLabel:    kindLabels[app.Kind],
		CompanyName:  app.CompanyName,
		OwnerName:    app.Owner.Name,
	}
	if app.IssuedAt != nil {
		data.IssuedAt = app.IssuedAt.Format("02 January 2006")
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// storeCertificate renders the certificate of an issued application into the
// blob store and returns its unsaved document row.
func (s *Service) storeCertificate(ctx context.Context, app *models.Application) (*models.Document, error) {
	body, err := s.certificates.render(app)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render certificate")
	}
	name := "sertifikat-" + app.Number + ".txt"
	storedPath, err := s.blobs.Store(ctx, body, name)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageFault, "failed to store certificate")
	}
	return &models.Document{
		ApplicationID: app.ID,
		Slot:          models.SlotCertificate,
		OriginalName:  name,
		StoredPath:    storedPath,
		UploadedBy:    requestcontext.UserID(ctx),
		UploadedAt:    requestcontext.Now(ctx),
	}, nil
}
