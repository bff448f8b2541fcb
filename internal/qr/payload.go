// Package qr parses the QR payloads embossed on assessment pages and wraps
// the external decoder used to read them from page images.
package qr

import (
	"fmt"
	"strconv"
)

// Kind is the semantic type a payload reports.
type Kind string

const (
	// KindTPV is an ordinary page payload carrying (paper, page, version).
	KindTPV Kind = "tpv"
	// KindExtra marks an extra (unstructured answer) page.
	KindExtra Kind = "extra"
	// KindScrap marks scrap paper.
	KindScrap Kind = "scrap"
	// KindSeparator marks a bundle separator sheet.
	KindSeparator Kind = "separator"
)

// Special payload markers printed on non-ordinary pages.
const (
	MarkerExtra     = "plomX"
	MarkerScrap     = "plomS"
	MarkerSeparator = "plomB"
)

// tpvLength is the length of an ordinary payload:
// paper (5) + page (3) + version (3) + corner (1) + magic code (5).
const tpvLength = 17

// TPV is the decoded content of an ordinary payload.
type TPV struct {
	Paper   int
	Page    int
	Version int
	// Corner is the page corner the symbol was printed in (1..4).
	Corner int
	// Code is the public verification ("magic") code of the assessment.
	Code string
}

// Triple returns the (paper, page, version) triple.
func (t TPV) Triple() [3]int { return [3]int{t.Paper, t.Page, t.Version} }

// Payload is one parsed QR symbol.
type Payload struct {
	Raw  string
	Kind Kind
	TPV  *TPV // only when Kind == KindTPV
}

// Parse decodes a raw symbol string into a Payload.
func Parse(raw string) (*Payload, error) {
	switch raw {
	case MarkerExtra:
		return &Payload{Raw: raw, Kind: KindExtra}, nil
	case MarkerScrap:
		return &Payload{Raw: raw, Kind: KindScrap}, nil
	case MarkerSeparator:
		return &Payload{Raw: raw, Kind: KindSeparator}, nil
	}

	if len(raw) != tpvLength {
		return nil, fmt.Errorf("payload %q: want %d characters, got %d", raw, tpvLength, len(raw))
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("payload %q: non-digit character %q", raw, r)
		}
	}

	paper, _ := strconv.Atoi(raw[0:5])
	page, _ := strconv.Atoi(raw[5:8])
	version, _ := strconv.Atoi(raw[8:11])
	corner, _ := strconv.Atoi(raw[11:12])
	code := raw[12:17]

	if paper < 1 {
		return nil, fmt.Errorf("payload %q: invalid paper number %d", raw, paper)
	}
	if page < 1 {
		return nil, fmt.Errorf("payload %q: invalid page number %d", raw, page)
	}
	if version < 1 {
		return nil, fmt.Errorf("payload %q: invalid version %d", raw, version)
	}
	if corner < 1 || corner > 4 {
		return nil, fmt.Errorf("payload %q: invalid corner %d", raw, corner)
	}

	return &Payload{
		Raw:  raw,
		Kind: KindTPV,
		TPV:  &TPV{Paper: paper, Page: page, Version: version, Corner: corner, Code: code},
	}, nil
}

// Format renders an ordinary payload string. The inverse of Parse for
// KindTPV payloads; used by tests and by paper production tooling.
func Format(t TPV) string {
	return fmt.Sprintf("%05d%03d%03d%d%s", t.Paper, t.Page, t.Version, t.Corner, t.Code)
}
