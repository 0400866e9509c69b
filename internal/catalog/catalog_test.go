package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := map[string]Status{
		"pengajuan":             StatusPengajuan,
		"  PERBAIKAN ":          StatusPerbaikan,
		"verifikasi_lapangan":   StatusVerifikasiLapangan,
		"Verifikasi Lapangan":   StatusVerifikasiLapangan,
		"pembayaran__tahap_2":   StatusPembayaranTahap2,
		"menunggu-terbit":       StatusMenungguTerbit,
		"submitted":             StatusPengajuan,
		"needs_correction":      StatusPerbaikan,
		"payment_verified":      StatusPembayaran,
		"field_verification":    StatusVerifikasiLapangan,
		"payment_stage_2":       StatusPembayaranTahap2,
		"awaiting_issuance":     StatusMenungguTerbit,
		"Issued":                StatusTerbit,
		"rejected":              StatusDitolak,
		"":                      StatusUnknown,
		"selesai":               StatusUnknown,
	}
	for raw, want := range cases {
		assert.Equal(t, want, Normalize(raw), "raw=%q", raw)
	}
	assert.Equal(t, StatusUnknown, Normalize("<script>terbit</script>"))
}

func TestStatusUnmarshalNeverFails(t *testing.T) {
	var body struct {
		Status Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"status":"legacy-token"}`), &body))
	assert.Equal(t, StatusUnknown, body.Status)
}

func TestSequenceAndNext(t *testing.T) {
	assert.Equal(t, []Status{
		StatusPengajuan, StatusPembayaran, StatusVerifikasiLapangan,
		StatusPembayaranTahap2, StatusMenungguTerbit, StatusTerbit,
	}, Sequence(KindIinNasional))
	assert.Equal(t, []Status{
		StatusPengajuan, StatusPembayaran, StatusVerifikasiLapangan, StatusTerbit,
	}, Sequence(KindPengawasanSingleIin))

	next, ok := Next(KindSingleIinBlockholder, StatusVerifikasiLapangan)
	require.True(t, ok)
	assert.Equal(t, StatusPembayaranTahap2, next)

	next, ok = Next(KindPengawasanIinNasional, StatusVerifikasiLapangan)
	require.True(t, ok)
	assert.Equal(t, StatusTerbit, next)

	_, ok = Next(KindIinNasional, StatusTerbit)
	assert.False(t, ok)
	_, ok = Next(KindIinNasional, StatusPerbaikan)
	assert.False(t, ok)
}

func TestOrdinal(t *testing.T) {
	assert.Equal(t, 1, Ordinal(KindIinNasional, StatusPengajuan))
	assert.Equal(t, 1, Ordinal(KindIinNasional, StatusPerbaikan))
	assert.Equal(t, 5, Ordinal(KindIinNasional, StatusMenungguTerbit))
	assert.Equal(t, 6, Ordinal(KindIinNasional, StatusTerbit))
	assert.Equal(t, 7, Ordinal(KindIinNasional, StatusDitolak))
	assert.Equal(t, 4, Ordinal(KindPengawasanIinNasional, StatusTerbit))
	assert.Equal(t, 0, Ordinal(KindPengawasanIinNasional, StatusMenungguTerbit))
	assert.Equal(t, 0, Ordinal(KindIinNasional, StatusUnknown))
}

func TestLabelAndSeverity(t *testing.T) {
	assert.Equal(t, "Pembayaran Tahap 1", Label(KindIinNasional, StatusPembayaran, true))
	assert.Equal(t, "Pembayaran", Label(KindIinNasional, StatusPembayaran, false))
	assert.Equal(t, "Hasil Pengawasan Terbit", Label(KindPengawasanSingleIin, StatusTerbit, true))
	assert.Equal(t, "Menunggu Terbit", Label(KindPengawasanSingleIin, StatusMenungguTerbit, true))
	assert.Equal(t, unknownLabel, Label(KindIinNasional, StatusUnknown, true))

	assert.Equal(t, SeverityWarning, SeverityOf(StatusDitolak))
	assert.Equal(t, SeverityWarning, SeverityOf(StatusPerbaikan))
	assert.Equal(t, SeveritySuccess, SeverityOf(StatusTerbit))
	assert.Equal(t, SeverityInfo, SeverityOf(StatusPembayaranTahap2))
	assert.Equal(t, SeverityNeutral, SeverityOf(Normalize("???")))
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("Pengawasan_IIN_Nasional")
	require.True(t, ok)
	assert.Equal(t, KindPengawasanIinNasional, k)
	assert.True(t, k.IsSupervisory())

	k, ok = ParseKind("2")
	require.True(t, ok)
	assert.Equal(t, KindSingleIinBlockholder, k)
	assert.Equal(t, "SB", k.NumberPrefix())

	_, ok = ParseKind("5")
	assert.False(t, ok)
	_, ok = ParseKind("visa")
	assert.False(t, ok)
}

func TestDescribeAll(t *testing.T) {
	entries := DescribeAll(KindPengawasanIinNasional)
	require.Len(t, entries, 6)
	assert.Equal(t, StatusPengajuan, entries[0].Status)
	assert.Equal(t, StatusDitolak, entries[len(entries)-1].Status)
	assert.Equal(t, SeverityWarning, entries[len(entries)-1].Severity)
}
