// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package format

import (
	"errors"
	"reflect"
	"testing"

	"github.com/aplane-algo/keyresolver/internal/keys"
)

func TestParse(t *testing.T) {
	tests := []struct {
		token string
		want  Format
	}{
		{"inlineopenpgp", InlineOpenPGP},
		{"OpenPGPMIME", OpenPGPMIME},
		{"SMIME", SMIME},
		{"smimeopaque", SMIMEOpaque},
		{"AnyOpenPGP", AnyOpenPGP},
		{"anysmime", AnySMIME},
		{"Auto", Auto},
		{" auto ", Auto},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := Parse(tt.token)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.token, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}

func TestParseUnknown(t *testing.T) {
	for _, token := range []string{"", "pgp", "openpgp", "smime3"} {
		if _, err := Parse(token); !errors.Is(err, ErrUnknownFormat) {
			t.Errorf("Parse(%q) error = %v, want ErrUnknownFormat", token, err)
		}
	}
}

func TestParseList(t *testing.T) {
	f, err := ParseList(nil)
	if err != nil || f != Auto {
		t.Errorf("ParseList(nil) = %v, %v; want Auto", f, err)
	}

	f, err = ParseList([]string{"openpgpmime", "smime"})
	if err != nil {
		t.Fatalf("ParseList error: %v", err)
	}
	if f != OpenPGPMIME|SMIME {
		t.Errorf("ParseList = %v, want OpenPGPMIME|SMIME", f)
	}
}

func TestExpand(t *testing.T) {
	tests := []struct {
		name string
		in   Format
		want []Format
	}{
		{"concrete", SMIME, []Format{SMIME}},
		{"anyopenpgp", AnyOpenPGP, []Format{OpenPGPMIME, InlineOpenPGP}},
		{"anysmime", AnySMIME, []Format{SMIME, SMIMEOpaque}},
		{"auto", Auto, []Format{OpenPGPMIME, InlineOpenPGP, SMIME, SMIMEOpaque}},
		{"none", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Expand()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expand() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConcreteAndWildcard(t *testing.T) {
	for _, c := range Concrete {
		if !c.IsConcrete() || c.IsWildcard() {
			t.Errorf("%v: IsConcrete=%v IsWildcard=%v", c, c.IsConcrete(), c.IsWildcard())
		}
	}
	for _, w := range []Format{AnyOpenPGP, AnySMIME, Auto} {
		if w.IsConcrete() || !w.IsWildcard() {
			t.Errorf("%v: IsConcrete=%v IsWildcard=%v", w, w.IsConcrete(), w.IsWildcard())
		}
	}
	if Format(0).IsConcrete() || Format(0).IsWildcard() {
		t.Error("zero format must be neither concrete nor wildcard")
	}
}

func TestFamily(t *testing.T) {
	if InlineOpenPGP.Family() != keys.OpenPGP || OpenPGPMIME.Family() != keys.OpenPGP {
		t.Error("OpenPGP formats must map to the OpenPGP family")
	}
	if SMIME.Family() != keys.CMS || SMIMEOpaque.Family() != keys.CMS {
		t.Error("S/MIME formats must map to the CMS family")
	}
	if got := Auto.Families(); !reflect.DeepEqual(got, []keys.Protocol{keys.OpenPGP, keys.CMS}) {
		t.Errorf("Auto.Families() = %v", got)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	for f := range tokens {
		got, err := Parse(f.Token())
		if err != nil || got != f {
			t.Errorf("Parse(%q) = %v, %v; want %v", f.Token(), got, err, f)
		}
	}
}
