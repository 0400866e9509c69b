//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"iinportal/internal/application/models"
	"iinportal/internal/application/store"
	"iinportal/internal/catalog"
	"iinportal/pkg/platform/sentinel"
	txcontext "iinportal/pkg/platform/tx"
	"iinportal/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	// Truncate in dependency order
	err := s.postgres.TruncateTables(ctx,
		"reimbursement_proofs", "reimbursements", "document_history",
		"application_documents", "status_logs", "applications")
	s.Require().NoError(err)
	s.now = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) create(kind catalog.Kind, ownerID int64, company string) *models.Application {
	s.now = s.now.Add(time.Minute)
	app, err := models.NewApplication(kind, models.UserRef{ID: ownerID, Name: "Pemohon"}, company, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateApplication(context.Background(), app))
	return app
}

func (s *PostgresStoreSuite) TestApplicationRoundTrip() {
	ctx := context.Background()
	app := s.create(catalog.KindPengawasanSingleIin, 7, "PT Kartu")
	s.Equal("IIN-PS-202610-000001", app.Number)

	found, err := s.store.FindApplication(ctx, app.ID)
	s.Require().NoError(err)
	s.Equal(catalog.KindPengawasanSingleIin, found.Kind)
	s.Equal(catalog.StatusPengajuan, found.Status)
	s.Equal("PT Kartu", found.CompanyName)
	s.Require().NotNil(found.SubmittedAt)
	s.True(found.SubmittedAt.Equal(s.now))

	issued := s.now.Add(time.Hour)
	found.Status = catalog.StatusTerbit
	found.IssuedNumber = "IIN-0042"
	found.IssuedAt = &issued
	found.Verificator = &models.UserRef{ID: 1, Name: "Siti"}
	s.Require().NoError(s.store.UpdateApplication(ctx, found, catalog.StatusPengajuan))

	again, err := s.store.FindApplication(ctx, app.ID)
	s.Require().NoError(err)
	s.Equal(catalog.StatusTerbit, again.Status)
	s.Equal("IIN-0042", again.IssuedNumber)
	s.Require().NotNil(again.Verificator)
	s.Equal("Siti", again.Verificator.Name)

	_, err = s.store.FindApplication(ctx, 9999)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.UpdateApplication(ctx, &models.Application{ID: 9999, Kind: catalog.KindIinNasional, Status: catalog.StatusPengajuan}, catalog.StatusPengajuan), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestUpdateChecksExpectedStatus() {
	ctx := context.Background()
	app := s.create(catalog.KindIinNasional, 7, "PT Kartu")

	stale := *app
	app.Status = catalog.StatusPembayaran
	s.Require().NoError(s.store.UpdateApplication(ctx, app, catalog.StatusPengajuan))

	stale.Status = catalog.StatusPerbaikan
	s.ErrorIs(s.store.UpdateApplication(ctx, &stale, catalog.StatusPengajuan), sentinel.ErrInvalidState)

	found, err := s.store.FindApplication(ctx, app.ID)
	s.Require().NoError(err)
	s.Equal(catalog.StatusPembayaran, found.Status)
}

func (s *PostgresStoreSuite) TestIssuedNumberConstraint() {
	ctx := context.Background()
	app := s.create(catalog.KindIinNasional, 7, "PT Kartu")
	app.Status = catalog.StatusTerbit
	s.Error(s.store.UpdateApplication(ctx, app, catalog.StatusPengajuan), "terbit without an issued number violates the check constraint")
}

func (s *PostgresStoreSuite) TestListApplications() {
	ctx := context.Background()
	a := s.create(catalog.KindIinNasional, 7, "PT Alfa Kartu")
	b := s.create(catalog.KindSingleIinBlockholder, 7, "PT Beta")
	c := s.create(catalog.KindIinNasional, 8, "CV Gamma")

	b.Archived = true
	s.Require().NoError(s.store.UpdateApplication(ctx, b, b.Status))

	s.Run("newest first", func() {
		apps, total, err := s.store.ListApplications(ctx, models.ListFilter{})
		s.Require().NoError(err)
		s.Equal(2, total)
		s.Require().Len(apps, 2)
		s.Equal(c.ID, apps[0].ID)
		s.Equal(a.ID, apps[1].ID)
	})

	s.Run("filters combine", func() {
		apps, total, err := s.store.ListApplications(ctx, models.ListFilter{OwnerID: 7, Query: "kartu"})
		s.Require().NoError(err)
		s.Equal(1, total)
		s.Require().Len(apps, 1)
		s.Equal(a.ID, apps[0].ID)
	})

	s.Run("total survives an empty page", func() {
		apps, total, err := s.store.ListApplications(ctx, models.ListFilter{IncludeArchived: true, Offset: 10})
		s.Require().NoError(err)
		s.Empty(apps)
		s.Equal(3, total)
	})
}

func (s *PostgresStoreSuite) TestDocumentsAndHistory() {
	ctx := context.Background()
	app := s.create(catalog.KindIinNasional, 7, "PT Kartu")

	add := func(key models.SlotKey, name string, replace bool) {
		s.now = s.now.Add(time.Minute)
		doc := &models.Document{
			ApplicationID: app.ID, Slot: key.Slot, Stage: key.Stage,
			OriginalName: name, StoredPath: "k/" + name, UploadedBy: 7, UploadedAt: s.now,
		}
		s.Require().NoError(s.store.AddDocument(ctx, doc, replace))
		s.NotZero(doc.ID)
		action := models.ActionAppend
		if replace {
			action = models.ActionReplace
		}
		s.Require().NoError(s.store.AppendDocumentHistory(ctx, &models.DocumentHistoryEntry{
			ApplicationID: app.ID, Slot: key.Slot, Stage: key.Stage, Action: action,
			OriginalName: name, StoredPath: doc.StoredPath, UploadedBy: 7, CreatedAt: s.now,
		}))
	}
	add(models.KeyPaymentStage1, "bayar-1.pdf", true)
	add(models.KeyPaymentStage1, "bayar-1b.pdf", true)
	add(models.KeyPaymentStage2, "bayar-2.pdf", true)
	add(models.KeyAdditional, "a.pdf", false)
	add(models.KeyAdditional, "b.pdf", false)

	counts, err := s.store.CountDocuments(ctx, app.ID)
	s.Require().NoError(err)
	s.Equal(1, counts[models.KeyPaymentStage1])
	s.Equal(1, counts[models.KeyPaymentStage2])
	s.Equal(2, counts[models.KeyAdditional])

	docs, err := s.store.ListDocuments(ctx, app.ID)
	s.Require().NoError(err)
	s.Require().Len(docs, 4)
	s.Equal("bayar-1b.pdf", docs[0].OriginalName)

	history, err := s.store.ListDocumentHistory(ctx, app.ID)
	s.Require().NoError(err)
	s.Len(history, 5, "superseded uploads stay in the history")
}

func (s *PostgresStoreSuite) TestStatusLog() {
	ctx := context.Background()
	app := s.create(catalog.KindIinNasional, 7, "PT Kartu")

	created := models.NewLogEntry(app.ID, nil, catalog.StatusPengajuan, 7, "", s.now)
	s.Require().NoError(s.store.AppendStatusLog(ctx, &created))
	from := catalog.StatusPengajuan
	moved := models.NewLogEntry(app.ID, &from, catalog.StatusPembayaran, 1, "", s.now.Add(time.Minute))
	s.Require().NoError(s.store.AppendStatusLog(ctx, &moved))

	entries, err := s.store.ListStatusLog(ctx, app.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Nil(entries[0].From)
	s.Require().NotNil(entries[1].From)
	s.Equal(catalog.StatusPengajuan, *entries[1].From)
	s.Equal(catalog.StatusPembayaran, entries[1].To)
}

func (s *PostgresStoreSuite) TestReimbursementUpsert() {
	ctx := context.Background()
	app := s.create(catalog.KindIinNasional, 7, "PT Kartu")

	_, err := s.store.FindReimbursement(ctx, app.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)

	r, err := models.NewReimbursement(app.ID, decimal.RequireFromString("1250000.50"), "tiket",
		[]models.ReimbursementProof{{OriginalName: "a.pdf", StoredPath: "k/a", UploadedAt: s.now}}, 7, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.SaveReimbursement(ctx, r))

	r.ApplyReview(true, "", 1, s.now.Add(time.Hour))
	s.Require().NoError(s.store.SaveReimbursement(ctx, r))

	found, err := s.store.FindReimbursement(ctx, app.ID)
	s.Require().NoError(err)
	s.True(found.Amount.Equal(decimal.RequireFromString("1250000.5")))
	s.Equal(models.ReimbursementVerified, found.Status)
	s.Require().Len(found.Proofs, 1)

	replaced, err := models.NewReimbursement(app.ID, decimal.NewFromInt(10), "", []models.ReimbursementProof{
		{OriginalName: "b.pdf", StoredPath: "k/b", UploadedAt: s.now},
		{OriginalName: "c.pdf", StoredPath: "k/c", UploadedAt: s.now},
	}, 7, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.SaveReimbursement(ctx, replaced))

	found, err = s.store.FindReimbursement(ctx, app.ID)
	s.Require().NoError(err)
	s.Equal(models.ReimbursementPending, found.Status)
	s.Nil(found.ReviewedBy)
	s.Len(found.Proofs, 2)
}

func (s *PostgresStoreSuite) TestRolledBackTransactionLeavesNoRows() {
	ctx := context.Background()
	app := s.create(catalog.KindIinNasional, 7, "PT Kartu")

	tx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)
	txCtx := txcontext.WithTx(ctx, tx)

	locked, err := s.store.FindApplicationForUpdate(txCtx, app.ID)
	s.Require().NoError(err)
	locked.Status = catalog.StatusPembayaran
	s.Require().NoError(s.store.UpdateApplication(txCtx, locked, catalog.StatusPengajuan))
	s.Require().NoError(tx.Rollback())

	found, err := s.store.FindApplication(ctx, app.ID)
	s.Require().NoError(err)
	s.Equal(catalog.StatusPengajuan, found.Status)
}
