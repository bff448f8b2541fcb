package qr

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    Kind
		tpv     *TPV
		wantErr bool
	}{
		{
			// paper 7, page 2, version 1, corner 4, code 12345
			name: "ordinary payload",
			raw:  "00007002001412345",
			kind: KindTPV,
			tpv:  &TPV{Paper: 7, Page: 2, Version: 1, Corner: 4, Code: "12345"},
		},
		{
			name: "extra marker",
			raw:  MarkerExtra,
			kind: KindExtra,
		},
		{
			name: "scrap marker",
			raw:  MarkerScrap,
			kind: KindScrap,
		},
		{
			name: "separator marker",
			raw:  MarkerSeparator,
			kind: KindSeparator,
		},
		{
			name:    "too short",
			raw:     "0000700200",
			wantErr: true,
		},
		{
			name:    "non-digit",
			raw:     "0000700200141234x",
			wantErr: true,
		},
		{
			name:    "corner out of range",
			raw:     "00007002001512345",
			wantErr: true,
		},
		{
			name:    "zero paper",
			raw:     "00000002001412345",
			wantErr: true,
		},
		{
			name:    "zero page",
			raw:     "00007000001412345",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) succeeded, want error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.raw, err)
			}
			if p.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", p.Kind, tt.kind)
			}
			if tt.tpv != nil {
				if p.TPV == nil {
					t.Fatal("expected TPV payload")
				}
				if *p.TPV != *tt.tpv {
					t.Errorf("tpv = %+v, want %+v", *p.TPV, *tt.tpv)
				}
			}
		})
	}
}

func TestFormatRoundTrip(t *testing.T) {
	in := TPV{Paper: 123, Page: 11, Version: 2, Corner: 1, Code: "54321"}
	raw := Format(in)
	if len(raw) != 17 {
		t.Fatalf("Format produced %d characters, want 17", len(raw))
	}

	p, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse(Format(tpv)): %v", err)
	}
	if *p.TPV != in {
		t.Errorf("round trip = %+v, want %+v", *p.TPV, in)
	}
}

func TestTriple(t *testing.T) {
	tpv := TPV{Paper: 7, Page: 2, Version: 1, Corner: 3, Code: "12345"}
	if got := tpv.Triple(); got != [3]int{7, 2, 1} {
		t.Errorf("Triple() = %v, want [7 2 1]", got)
	}
}
