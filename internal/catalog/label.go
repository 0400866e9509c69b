package catalog

// Severity is the display tone of a status; renderers map it to a style.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeveritySuccess Severity = "success"
	SeverityNeutral Severity = "neutral"
)

var shortLabels = map[Status]string{
	StatusPengajuan:          "Pengajuan",
	StatusPerbaikan:          "Perbaikan",
	StatusPembayaran:         "Pembayaran",
	StatusVerifikasiLapangan: "Verifikasi Lapangan",
	StatusPembayaranTahap2:   "Pembayaran Tahap 2",
	StatusMenungguTerbit:     "Menunggu Terbit",
	StatusTerbit:             "Terbit",
	StatusDitolak:            "Ditolak",
}

var primaryDetailed = map[Status]string{
	StatusPengajuan:          "Pengajuan Permohonan",
	StatusPerbaikan:          "Perbaikan Dokumen",
	StatusPembayaran:         "Pembayaran Tahap 1",
	StatusVerifikasiLapangan: "Verifikasi Lapangan",
	StatusPembayaranTahap2:   "Pembayaran Tahap 2",
	StatusMenungguTerbit:     "Menunggu Penerbitan IIN",
	StatusTerbit:             "IIN Terbit",
	StatusDitolak:            "Permohonan Ditolak",
}

var supervisoryDetailed = map[Status]string{
	StatusPengajuan:          "Pengajuan Pengawasan",
	StatusPerbaikan:          "Perbaikan Dokumen Pengawasan",
	StatusPembayaran:         "Pembayaran Terverifikasi",
	StatusVerifikasiLapangan: "Verifikasi Lapangan",
	StatusTerbit:             "Hasil Pengawasan Terbit",
	StatusDitolak:            "Pengawasan Ditolak",
}

const unknownLabel = "Status Tidak Dikenal"

// Label returns the display label of s for kind. Detailed labels fall back
// to the short label when the kind has no specific wording.
func Label(kind Kind, s Status, detailed bool) string {
	if detailed {
		table := primaryDetailed
		if kind.IsSupervisory() {
			table = supervisoryDetailed
		}
		if l, ok := table[s]; ok {
			return l
		}
	}
	if l, ok := shortLabels[s]; ok {
		return l
	}
	return unknownLabel
}

func SeverityOf(s Status) Severity {
	switch s {
	case StatusTerbit:
		return SeveritySuccess
	case StatusPerbaikan, StatusDitolak:
		return SeverityWarning
	case StatusPengajuan, StatusPembayaran, StatusVerifikasiLapangan,
		StatusPembayaranTahap2, StatusMenungguTerbit:
		return SeverityInfo
	default:
		return SeverityNeutral
	}
}

// Entry is the rendered catalog view of one status.
type Entry struct {
	Status   Status   `json:"status"`
	Label    string   `json:"label"`
	Detailed string   `json:"detailed_label"`
	Severity Severity `json:"severity"`
	Ordinal  int      `json:"ordinal"`
}

// Describe renders s for kind.
func Describe(kind Kind, s Status) Entry {
	return Entry{
		Status:   s,
		Label:    Label(kind, s, false),
		Detailed: Label(kind, s, true),
		Severity: SeverityOf(s),
		Ordinal:  Ordinal(kind, s),
	}
}

// DescribeAll renders every status of kind, forward path first.
func DescribeAll(kind Kind) []Entry {
	statuses := Statuses(kind)
	out := make([]Entry, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, Describe(kind, s))
	}
	return out
}
