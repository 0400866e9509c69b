package service

import (
	"github.com/shopspring/decimal"

	"iinportal/internal/application/models"
	"iinportal/internal/catalog"
	dErrors "iinportal/pkg/domain-errors"
)

func reimbursementRequest(id int64, amount string, names ...string) models.ReimbursementRequest {
	req := models.ReimbursementRequest{
		ApplicationID: id,
		Amount:        decimal.RequireFromString(amount),
		Description:   "biaya perjalanan verifikasi",
	}
	for _, n := range names {
		req.Files = append(req.Files, models.File{Name: n, Data: []byte("content of " + n)})
	}
	return req
}

func (s *LifecycleSuite) TestReimbursement() {
	s.Run("not before field verification", func() {
		app := s.driveTo(catalog.KindIinNasional, catalog.StatusPembayaran)
		_, err := s.svc.SubmitReimbursement(s.applicant(), reimbursementRequest(app.ID, "150000", "tiket.pdf"))
		s.requireCode(err, dErrors.CodeGuardViolation)
	})

	s.Run("submit, verify, and re-upload resets to pending", func() {
		app := s.driveTo(catalog.KindIinNasional, catalog.StatusVerifikasiLapangan)

		r, err := s.svc.SubmitReimbursement(s.applicant(), reimbursementRequest(app.ID, "150000.50", "tiket.pdf", "hotel.pdf"))
		s.Require().NoError(err)
		s.Equal(models.ReimbursementPending, r.Status)
		s.Len(r.Proofs, 2)

		_, err = s.svc.VerifyReimbursement(s.applicant(), app.ID, true, "")
		s.requireCode(err, dErrors.CodeForbidden)

		r, err = s.svc.VerifyReimbursement(s.admin(), app.ID, true, "")
		s.Require().NoError(err)
		s.Equal(models.ReimbursementVerified, r.Status)
		s.Require().NotNil(r.ReviewedBy)
		s.Equal(adminID, *r.ReviewedBy)

		_, err = s.svc.VerifyReimbursement(s.admin(), app.ID, false, "duplikat")
		s.requireCode(err, dErrors.CodeGuardViolation)

		r, err = s.svc.SubmitReimbursement(s.applicant(), reimbursementRequest(app.ID, "175000", "tiket-revisi.pdf"))
		s.Require().NoError(err)
		s.Equal(models.ReimbursementPending, r.Status)
		s.Nil(r.ReviewedBy)

		proof, data, err := s.svc.DownloadReimbursementProof(s.admin(), app.ID, 0)
		s.Require().NoError(err)
		s.Equal("tiket-revisi.pdf", proof.OriginalName)
		s.Equal("content of tiket-revisi.pdf", string(data))

		_, _, err = s.svc.DownloadReimbursementProof(s.admin(), app.ID, 1)
		s.requireCode(err, dErrors.CodeNotFound)

		detail, err := s.svc.Get(s.applicant(), app.ID)
		s.Require().NoError(err)
		s.Require().NotNil(detail.Reimbursement)
		s.True(detail.Reimbursement.Amount.Equal(decimal.NewFromInt(175000)))
	})

	s.Run("rejection needs a note", func() {
		app := s.driveTo(catalog.KindPengawasanIinNasional, catalog.StatusVerifikasiLapangan)
		_, err := s.svc.SubmitReimbursement(s.applicant(), reimbursementRequest(app.ID, "90000", "tiket.pdf"))
		s.Require().NoError(err)

		_, err = s.svc.VerifyReimbursement(s.admin(), app.ID, false, "")
		s.requireCode(err, dErrors.CodeValidation)

		r, err := s.svc.VerifyReimbursement(s.admin(), app.ID, false, "bukti tidak terbaca")
		s.Require().NoError(err)
		s.Equal(models.ReimbursementRejected, r.Status)
	})

	s.Run("invalid amounts write no blob", func() {
		app := s.driveTo(catalog.KindIinNasional, catalog.StatusVerifikasiLapangan)
		before := s.blobs.Len()
		for _, amount := range []string{"0", "-5", "1000000000.01", "10.005"} {
			_, err := s.svc.SubmitReimbursement(s.applicant(), reimbursementRequest(app.ID, amount, "tiket.pdf"))
			s.requireCode(err, dErrors.CodeValidation)
		}
		s.Equal(before, s.blobs.Len())
	})

	s.Run("only the applicant submits", func() {
		app := s.driveTo(catalog.KindIinNasional, catalog.StatusVerifikasiLapangan)
		_, err := s.svc.SubmitReimbursement(s.admin(), reimbursementRequest(app.ID, "1000", "tiket.pdf"))
		s.requireCode(err, dErrors.CodeForbidden)
	})

	s.Run("verify without a record", func() {
		app := s.submit(catalog.KindIinNasional)
		_, err := s.svc.VerifyReimbursement(s.admin(), app.ID, true, "")
		s.requireCode(err, dErrors.CodeNotFound)
	})
}
