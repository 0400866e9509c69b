package catalog

import (
	"strconv"
	"strings"
)

// Kind is an application kind. The numeric value is the application type
// code used by the survey gate and reports.
type Kind int

const (
	KindIinNasional           Kind = 1
	KindSingleIinBlockholder  Kind = 2
	KindPengawasanIinNasional Kind = 3
	KindPengawasanSingleIin   Kind = 4
)

var kindSlugs = map[Kind]string{
	KindIinNasional:           "iin-nasional",
	KindSingleIinBlockholder:  "single-iin-blockholder",
	KindPengawasanIinNasional: "pengawasan-iin-nasional",
	KindPengawasanSingleIin:   "pengawasan-single-iin",
}

var kindPrefixes = map[Kind]string{
	KindIinNasional:           "IN",
	KindSingleIinBlockholder:  "SB",
	KindPengawasanIinNasional: "PN",
	KindPengawasanSingleIin:   "PS",
}

// Kinds lists every kind in code order.
func Kinds() []Kind {
	return []Kind{KindIinNasional, KindSingleIinBlockholder, KindPengawasanIinNasional, KindPengawasanSingleIin}
}

func (k Kind) IsValid() bool {
	_, ok := kindSlugs[k]
	return ok
}

// IsSupervisory reports whether k follows the short pengawasan lifecycle.
func (k Kind) IsSupervisory() bool {
	return k == KindPengawasanIinNasional || k == KindPengawasanSingleIin
}

func (k Kind) String() string {
	if s, ok := kindSlugs[k]; ok {
		return s
	}
	return "unknown"
}

// Code is the numeric application type.
func (k Kind) Code() int {
	return int(k)
}

// NumberPrefix is the kind segment of an application number.
func (k Kind) NumberPrefix() string {
	return kindPrefixes[k]
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, ok := ParseKind(string(b))
	if !ok {
		return &UnknownKindError{Raw: string(b)}
	}
	*k = parsed
	return nil
}

// ParseKind accepts a slug (any separator or case) or a numeric code.
func ParseKind(raw string) (Kind, bool) {
	s := canonical(raw)
	if n, err := strconv.Atoi(s); err == nil {
		k := Kind(n)
		return k, k.IsValid()
	}
	for k, slug := range kindSlugs {
		if slug == s {
			return k, true
		}
	}
	return 0, false
}

type UnknownKindError struct {
	Raw string
}

func (e *UnknownKindError) Error() string {
	return "unknown application kind " + strconv.Quote(strings.TrimSpace(e.Raw))
}
