package deobfuscator

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"

	http "github.com/bogdanfinn/fhttp"
	"github.com/t14raptor/go-fast/generator"
	"github.com/t14raptor/go-fast/parser"

	"github.com/glizzykingdreko/Incapsula-utmvc-Deobfuscator/visitors"
)

func normalize(t *testing.T, src string) string {
	t.Helper()
	p, err := parser.ParseFile(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return strings.TrimSpace(generator.Generate(p))
}

func wrap(payload string) string {
	return fmt.Sprintf(`var z = ""; var b = "%s"; eval(b);`, hex.EncodeToString([]byte(payload)))
}

func TestDeobfuscateHexPayload(t *testing.T) {
	res, err := New(Options{SavePartial: true}).Deobfuscate(wrap("1 + 2;"))
	if err != nil {
		t.Fatalf("Deobfuscate: %v", err)
	}
	if got, want := strings.TrimSpace(res.Code), normalize(t, "3;"); got != want {
		t.Errorf("Code = %q, want %q", got, want)
	}
	if got, want := strings.TrimSpace(res.Partial), normalize(t, "1 + 2;"); got != want {
		t.Errorf("Partial = %q, want %q", got, want)
	}
	if !res.Stats.HexExtracted || res.Stats.ExpressionsFolded != 1 {
		t.Errorf("unexpected stats %+v", res.Stats)
	}
}

func TestDeobfuscateWithoutHexPayload(t *testing.T) {
	src := `var order = "1|0"["split"]("|"), i = 0;
while (!![]) {
	switch (order[i++]) {
	case "0":
		b(2 * 3);
		continue;
	case "1":
		a();
		continue;
	}
	break;
}`
	res, err := New(Options{}).Deobfuscate(src)
	if err != nil {
		t.Fatalf("Deobfuscate: %v", err)
	}
	if got, want := strings.TrimSpace(res.Code), normalize(t, "a(); b(6);"); got != want {
		t.Errorf("Code = %q, want %q", got, want)
	}
	if res.Stats.HexExtracted || res.Stats.SwitchesFlattened != 1 {
		t.Errorf("unexpected stats %+v", res.Stats)
	}
	if res.Partial != "" {
		t.Error("partial output produced without SavePartial")
	}
}

func TestDeobfuscateFallsBackOnExtractionFailure(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		// decodes to a lone 0xab byte, which does not parse
		{`var k = "ab"; eval(k);`, `var k = "ab"; eval(k);`},
		{`var k = "ab"; f(k);`, `var k = "ab"; f(k);`},
		{`var a = "3132"; log(a);`, `var a = "3132"; log(a);`},
	}
	for _, tt := range tests {
		res, err := New(Options{}).Deobfuscate(tt.src)
		if err != nil {
			t.Fatalf("Deobfuscate(%q): %v", tt.src, err)
		}
		if got, want := strings.TrimSpace(res.Code), normalize(t, tt.want); got != want {
			t.Errorf("Deobfuscate(%q) = %q, want %q", tt.src, got, want)
		}
		if res.Stats.HexExtracted {
			t.Errorf("Deobfuscate(%q): hex reported as extracted", tt.src)
		}
	}
}

func TestDeobfuscateParseError(t *testing.T) {
	if _, err := New(Options{}).Deobfuscate("var = ;"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDeobfuscateVirtualize(t *testing.T) {
	src := `function enc(a) {
	var c = readCookie();
	var s = 0;
	for (var i = 0; i < 1; i++) {
		s = sum(c + a);
	}
	out = s + ":" + a;
	setCookie("___utmvc", out);
}`
	res, err := New(Options{Virtualize: true}).Deobfuscate(wrap(src))
	if err != nil {
		t.Fatalf("Deobfuscate: %v", err)
	}
	if res.VirtualizeErr != nil {
		t.Fatalf("VirtualizeErr: %v", res.VirtualizeErr)
	}
	got, err := res.Routine.Call(visitors.RoutineName, "b", "a")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != "195:b" {
		t.Errorf("%s = %q, want %q", visitors.RoutineName, got, "195:b")
	}

	report := res.Report()
	if v, _ := report.Get("virtualized"); v != true {
		t.Errorf("report virtualized = %v", v)
	}
}

func TestDeobfuscateVirtualizeMissing(t *testing.T) {
	res, err := New(Options{Virtualize: true}).Deobfuscate(wrap("f();"))
	if err != nil {
		t.Fatalf("Deobfuscate: %v", err)
	}
	if !errors.Is(res.VirtualizeErr, visitors.ErrNoEncryptionRoutine) {
		t.Errorf("VirtualizeErr = %v, want ErrNoEncryptionRoutine", res.VirtualizeErr)
	}
	if res.Routine != nil {
		t.Error("routine set on failure")
	}
	if _, ok := res.Report().Get("virtualize_error"); !ok {
		t.Error("report misses virtualize_error")
	}
}

func TestReportOrder(t *testing.T) {
	r := &Result{Code: "abc", Stats: Stats{StringsDecrypted: 4}}
	want := []string{
		"hex_extracted",
		"literals_normalized",
		"strings_decrypted",
		"switches_flattened",
		"calls_inlined",
		"expressions_folded",
		"virtualized",
		"output_bytes",
	}
	keys := r.Report().Keys()
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("keys = %v, want %v", keys, want)
	}
}

func TestScriptHeaders(t *testing.T) {
	req, err := http.NewRequest("GET", "https://example.com/_Incapsula_Resource?SWJIYLWA=abc", nil)
	if err != nil {
		t.Fatal(err)
	}
	setScriptHeaders(req, originFromURL(req.URL.String()))

	// keys are stored as sent, so they are read without canonicalization
	if got := req.Header["referer"]; len(got) != 1 || got[0] != "https://example.com/" {
		t.Errorf("referer = %v", got)
	}
	if got := req.Header["sec-fetch-dest"]; len(got) != 1 || got[0] != "script" {
		t.Errorf("sec-fetch-dest = %v", got)
	}
	if order := req.Header[http.HeaderOrderKey]; len(order) == 0 || order[0] != "sec-ch-ua" {
		t.Errorf("header order = %v", order)
	}
}
