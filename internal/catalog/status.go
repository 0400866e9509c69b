// Package catalog is the status vocabulary of the licensing portal: the
// finite states per application kind, their order, labels and display
// severity. Every function here is total; unrecognised input maps to
// StatusUnknown instead of failing.
package catalog

import "strings"

// Status is a canonical status token as stored in the database.
type Status string

const (
	StatusPengajuan          Status = "pengajuan"
	StatusPerbaikan          Status = "perbaikan"
	StatusPembayaran         Status = "pembayaran"
	StatusVerifikasiLapangan Status = "verifikasi-lapangan"
	StatusPembayaranTahap2   Status = "pembayaran-tahap-2"
	StatusMenungguTerbit     Status = "menunggu-terbit"
	StatusTerbit             Status = "terbit"
	StatusDitolak            Status = "ditolak"

	// StatusUnknown stands in for malformed or legacy tokens.
	StatusUnknown Status = "unknown"
)

var primarySequence = []Status{
	StatusPengajuan,
	StatusPembayaran,
	StatusVerifikasiLapangan,
	StatusPembayaranTahap2,
	StatusMenungguTerbit,
	StatusTerbit,
}

var supervisorySequence = []Status{
	StatusPengajuan,
	StatusPembayaran,
	StatusVerifikasiLapangan,
	StatusTerbit,
}

var aliases = map[string]Status{
	"submitted":          StatusPengajuan,
	"needs-correction":   StatusPerbaikan,
	"correction":         StatusPerbaikan,
	"payment-verified":   StatusPembayaran,
	"payment":            StatusPembayaran,
	"pembayaran-tahap-1": StatusPembayaran,
	"field-verification": StatusVerifikasiLapangan,
	"payment-stage-2":    StatusPembayaranTahap2,
	"awaiting-issuance":  StatusMenungguTerbit,
	"issued":             StatusTerbit,
	"rejected":           StatusDitolak,
}

// Normalize maps a raw token to a canonical Status. It is case-insensitive,
// trims whitespace, treats '_' and ' ' like '-', and accepts the English
// aliases used by older clients.
func Normalize(raw string) Status {
	s := canonical(raw)
	switch st := Status(s); st {
	case StatusPengajuan, StatusPerbaikan, StatusPembayaran, StatusVerifikasiLapangan,
		StatusPembayaranTahap2, StatusMenungguTerbit, StatusTerbit, StatusDitolak:
		return st
	}
	if st, ok := aliases[s]; ok {
		return st
	}
	return StatusUnknown
}

func canonical(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("_", "-", " ", "-").Replace(s)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return strings.Trim(s, "-")
}

func (s Status) IsKnown() bool {
	return s != StatusUnknown && Normalize(string(s)) == s
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusTerbit || s == StatusDitolak
}

func (s Status) String() string {
	return string(s)
}

// UnmarshalText normalizes on decode so legacy tokens read from JSON never fail.
func (s *Status) UnmarshalText(b []byte) error {
	*s = Normalize(string(b))
	return nil
}

// Sequence returns the forward path for kind, from pengajuan to terbit. The
// correction branch and rejection are not part of it.
func Sequence(kind Kind) []Status {
	if kind.IsSupervisory() {
		return append([]Status(nil), supervisorySequence...)
	}
	return append([]Status(nil), primarySequence...)
}

// Statuses lists every status valid for kind, forward path first.
func Statuses(kind Kind) []Status {
	return append(Sequence(kind), StatusPerbaikan, StatusDitolak)
}

// Belongs reports whether s is a valid status for kind.
func Belongs(kind Kind, s Status) bool {
	for _, st := range Statuses(kind) {
		if st == s {
			return true
		}
	}
	return false
}

// Ordinal is the 1-based position of s on kind's forward path. perbaikan
// shares pengajuan's position, ditolak sorts after terbit, anything else is 0.
func Ordinal(kind Kind, s Status) int {
	seq := Sequence(kind)
	switch s {
	case StatusPerbaikan:
		return 1
	case StatusDitolak:
		return len(seq) + 1
	}
	for i, st := range seq {
		if st == s {
			return i + 1
		}
	}
	return 0
}

// Next returns the status after s on kind's forward path.
func Next(kind Kind, s Status) (Status, bool) {
	seq := Sequence(kind)
	for i, st := range seq[:len(seq)-1] {
		if st == s {
			return seq[i+1], true
		}
	}
	return "", false
}
