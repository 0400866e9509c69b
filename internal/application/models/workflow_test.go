package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"iinportal/internal/catalog"
	dErrors "iinportal/pkg/domain-errors"
)

type WorkflowSuite struct {
	suite.Suite
	now time.Time
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

func (s *WorkflowSuite) SetupTest() {
	s.now = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
}

func (s *WorkflowSuite) newApp(kind catalog.Kind, status catalog.Status) *Application {
	app, err := NewApplication(kind, UserRef{ID: 7, Name: "Budi"}, "PT Kartu Nusantara", s.now)
	s.Require().NoError(err)
	app.ID = 42
	app.Status = status
	return app
}

func (s *WorkflowSuite) TestAdvanceGuards() {
	w := WorkflowFor(catalog.KindIinNasional)

	s.Run("pengajuan requires form and archive", func() {
		app := s.newApp(catalog.KindIinNasional, catalog.StatusPengajuan)
		_, err := w.CanAdvance(app, DocumentCounts{KeyApplicationForm: 1})
		s.True(dErrors.HasCode(err, dErrors.CodeGuardViolation))
		s.Contains(dErrors.MessageOf(err), "requirements_archive")

		to, err := w.CanAdvance(app, DocumentCounts{KeyApplicationForm: 1, KeyRequirementsArchive: 1})
		s.Require().NoError(err)
		s.Equal(catalog.StatusPembayaran, to)
	})

	s.Run("pembayaran requires a stage-1 proof", func() {
		app := s.newApp(catalog.KindIinNasional, catalog.StatusPembayaran)
		_, err := w.CanAdvance(app, DocumentCounts{})
		s.True(dErrors.HasCode(err, dErrors.CodeGuardViolation))
		s.Contains(dErrors.MessageOf(err), "stage-1 payment proof")
	})

	s.Run("pembayaran-tahap-2 requires a stage-2 proof", func() {
		app := s.newApp(catalog.KindSingleIinBlockholder, catalog.StatusPembayaranTahap2)
		_, err := WorkflowFor(catalog.KindSingleIinBlockholder).CanAdvance(app, DocumentCounts{KeyPaymentStage1: 3})
		s.True(dErrors.HasCode(err, dErrors.CodeGuardViolation))

		to, err := WorkflowFor(catalog.KindSingleIinBlockholder).CanAdvance(app, DocumentCounts{KeyPaymentStage2: 1})
		s.Require().NoError(err)
		s.Equal(catalog.StatusMenungguTerbit, to)
	})

	s.Run("advance never enters terbit", func() {
		app := s.newApp(catalog.KindIinNasional, catalog.StatusMenungguTerbit)
		_, err := w.CanAdvance(app, DocumentCounts{})
		s.True(dErrors.HasCode(err, dErrors.CodeGuardViolation))

		sup := s.newApp(catalog.KindPengawasanIinNasional, catalog.StatusVerifikasiLapangan)
		_, err = WorkflowFor(catalog.KindPengawasanIinNasional).CanAdvance(sup, DocumentCounts{KeyFieldVerification: 1})
		s.True(dErrors.HasCode(err, dErrors.CodeGuardViolation))
	})

	s.Run("perbaikan and terminal states do not advance", func() {
		for _, st := range []catalog.Status{catalog.StatusPerbaikan, catalog.StatusTerbit, catalog.StatusDitolak} {
			_, err := w.CanAdvance(s.newApp(catalog.KindIinNasional, st), DocumentCounts{})
			s.True(dErrors.HasCode(err, dErrors.CodeGuardViolation), "status %s", st)
		}
	})
}

func (s *WorkflowSuite) TestIssue() {
	s.Run("primary issues from menunggu-terbit only", func() {
		w := WorkflowFor(catalog.KindIinNasional)
		s.Equal(catalog.StatusMenungguTerbit, w.PreTerminal())

		err := w.CanIssue(s.newApp(catalog.KindIinNasional, catalog.StatusPembayaranTahap2), nil, "IIN-001")
		s.True(dErrors.HasCode(err, dErrors.CodeGuardViolation))

		app := s.newApp(catalog.KindIinNasional, catalog.StatusMenungguTerbit)
		s.True(dErrors.HasCode(w.CanIssue(app, nil, "  "), dErrors.CodeValidation))
		s.Require().NoError(w.CanIssue(app, nil, "60 12 34"))

		app.ApplyIssue("60 12 34", s.now)
		s.Equal(catalog.StatusTerbit, app.Status)
		s.NotNil(app.IssuedAt)
		s.NoError(app.CheckInvariants())
	})

	s.Run("supervisory issue applies the field verification guard", func() {
		w := WorkflowFor(catalog.KindPengawasanSingleIin)
		s.Equal(catalog.StatusVerifikasiLapangan, w.PreTerminal())

		app := s.newApp(catalog.KindPengawasanSingleIin, catalog.StatusVerifikasiLapangan)
		err := w.CanIssue(app, DocumentCounts{}, "PS-9")
		s.True(dErrors.HasCode(err, dErrors.CodeGuardViolation))
		s.Require().NoError(w.CanIssue(app, DocumentCounts{KeyFieldVerification: 1}, "PS-9"))

		app.ApplyIssue("PS-9", s.now)
		s.NotNil(app.FieldVerificationCompletedAt)
	})
}

func (s *WorkflowSuite) TestRejectAndCorrection() {
	w := WorkflowFor(catalog.KindIinNasional)

	s.NoError(w.CanReject(s.newApp(catalog.KindIinNasional, catalog.StatusPerbaikan)))
	s.True(dErrors.HasCode(w.CanReject(s.newApp(catalog.KindIinNasional, catalog.StatusTerbit)), dErrors.CodeGuardViolation))
	s.True(dErrors.HasCode(w.CanReject(s.newApp(catalog.KindIinNasional, catalog.StatusDitolak)), dErrors.CodeGuardViolation))

	s.NoError(w.CanRequestCorrection(s.newApp(catalog.KindIinNasional, catalog.StatusMenungguTerbit)))
	s.NoError(w.CanRequestCorrection(s.newApp(catalog.KindIinNasional, catalog.StatusPerbaikan)))
	s.True(dErrors.HasCode(w.CanRequestCorrection(s.newApp(catalog.KindIinNasional, catalog.StatusDitolak)), dErrors.CodeGuardViolation))
}

func (s *WorkflowSuite) TestAttachPolicy() {
	w := WorkflowFor(catalog.KindIinNasional)

	s.Run("stage-2 proof before stage-1 verification is a guard violation", func() {
		app := s.newApp(catalog.KindIinNasional, catalog.StatusPembayaran)
		_, err := w.CanAttach(app, KeyPaymentStage2, false)
		s.True(dErrors.HasCode(err, dErrors.CodeGuardViolation))
		s.Contains(dErrors.MessageOf(err), "stage-1")
	})

	s.Run("stage-2 proof after verification", func() {
		app := s.newApp(catalog.KindIinNasional, catalog.StatusPembayaran)
		app.ApplyAdvance(catalog.StatusVerifikasiLapangan, s.now)
		rule, err := w.CanAttach(app, KeyPaymentStage2, false)
		s.Require().NoError(err)
		s.Equal(ActionAppend, rule.Action())
	})

	s.Run("field documents are admin only", func() {
		app := s.newApp(catalog.KindIinNasional, catalog.StatusVerifikasiLapangan)
		_, err := w.CanAttach(app, KeyFieldVerification, false)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		_, err = w.CanAttach(app, KeyFieldVerification, true)
		s.NoError(err)
	})

	s.Run("single slots replace in any open status", func() {
		app := s.newApp(catalog.KindIinNasional, catalog.StatusPerbaikan)
		rule, err := w.CanAttach(app, KeyApplicationForm, false)
		s.Require().NoError(err)
		s.Equal(ActionReplace, rule.Action())

		_, err = w.CanAttach(s.newApp(catalog.KindIinNasional, catalog.StatusTerbit), KeyApplicationForm, false)
		s.True(dErrors.HasCode(err, dErrors.CodeGuardViolation))
	})

	s.Run("additional documents accepted after issuance but not after rejection", func() {
		_, err := w.CanAttach(s.newApp(catalog.KindIinNasional, catalog.StatusTerbit), KeyAdditional, true)
		s.NoError(err)
		_, err = w.CanAttach(s.newApp(catalog.KindIinNasional, catalog.StatusDitolak), KeyAdditional, false)
		s.True(dErrors.HasCode(err, dErrors.CodeGuardViolation))
	})

	s.Run("supervisory kinds have no stage-2 slot", func() {
		app := s.newApp(catalog.KindPengawasanIinNasional, catalog.StatusVerifikasiLapangan)
		_, err := WorkflowFor(catalog.KindPengawasanIinNasional).CanAttach(app, KeyPaymentStage2, false)
		s.True(dErrors.HasCode(err, dErrors.CodeGuardViolation))
	})

	s.Run("certificate slot is not uploadable", func() {
		_, err := w.CanAttach(s.newApp(catalog.KindIinNasional, catalog.StatusTerbit), KeyCertificate, true)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *WorkflowSuite) TestMilestonesNeverRewind() {
	app := s.newApp(catalog.KindIinNasional, catalog.StatusPembayaran)
	first := s.now
	app.ApplyAdvance(catalog.StatusVerifikasiLapangan, first)
	s.Require().NotNil(app.PaymentStage1VerifiedAt)

	app.ApplyCorrectionRequest("lengkapi NPWP", first.Add(time.Hour))
	app.ApplyResubmit(first.Add(2 * time.Hour))
	app.Status = catalog.StatusPembayaran
	app.ApplyAdvance(catalog.StatusVerifikasiLapangan, first.Add(3*time.Hour))
	s.Equal(first, *app.PaymentStage1VerifiedAt)
}

func TestApplicationNumber(t *testing.T) {
	created := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	app, err := NewApplication(catalog.KindSingleIinBlockholder, UserRef{ID: 1}, "PT Bank", created)
	require.NoError(t, err)

	assert.Error(t, app.AssignNumber(), "id not allocated yet")
	app.ID = 42
	require.NoError(t, app.AssignNumber())
	assert.Equal(t, "IIN-SB-202610-000042", app.Number)
	assert.True(t, dErrors.HasCode(app.AssignNumber(), dErrors.CodeInvariantViolation))
}

func TestNewApplicationRequiresOwner(t *testing.T) {
	_, err := NewApplication(catalog.KindIinNasional, UserRef{}, "PT", time.Now())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = NewApplication(catalog.Kind(9), UserRef{ID: 1}, "PT", time.Now())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}
