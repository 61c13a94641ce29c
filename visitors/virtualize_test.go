package visitors

import (
	"errors"
	"testing"
)

const routineSource = `function enc(a) {
	var c = readCookie();
	noise();
	var arr = new ns["Array"](c["length"]);
	var s = 0;
	for (var i = 0; i < 1; i++) {
		s = ns.hash(c + a);
	}
	out = String(obf(s) + ":" + a);
	setCookie("___utmvc", out);
}`

const routineStubs = `var ns = {
	Array: Array,
	hash: function (s) {
		var n = 0;
		for (var i = 0; i < s.length; i++) {
			n += s.charCodeAt(i);
		}
		return n;
	}
};
function readCookie() { return "ab"; }
function noise() {}
function obf(v) { return v; }
var captured;
function setCookie(name, value) { captured = value; }
`

func TestVirtualizeEncryption(t *testing.T) {
	p := parse(t, routineSource)
	before := render(p)
	ctx := newSandbox(t)

	routine, err := VirtualizeEncryption(p, ctx, nil)
	if err != nil {
		t.Fatalf("VirtualizeEncryption: %v", err)
	}
	if render(p) != before {
		t.Error("program was modified")
	}
	if ctx.Has(RoutineName) {
		t.Errorf("%s leaked into the source context", RoutineName)
	}

	got, err := routine.Call(RoutineName, "k", "ab")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != "302:k" {
		t.Errorf("%s = %q, want %q", RoutineName, got, "302:k")
	}

	// the original, run against stubs, must agree
	orig := newSandbox(t)
	if _, err := orig.Run(routineStubs + routineSource + "\nenc(\"k\");"); err != nil {
		t.Fatalf("run original: %v", err)
	}
	want, err := orig.EvalString("captured;")
	if err != nil {
		t.Fatalf("captured: %v", err)
	}
	if got != want {
		t.Errorf("virtualized %q, original %q", got, want)
	}
}

func TestVirtualizeEncryptionNested(t *testing.T) {
	p := parse(t, "(function () {\n"+routineSource+"\n})();")

	routine, err := VirtualizeEncryption(p, newSandbox(t), nil)
	if err != nil {
		t.Fatalf("VirtualizeEncryption: %v", err)
	}
	if !routine.Has(RoutineName) {
		t.Errorf("%s not defined", RoutineName)
	}
}

func TestVirtualizeEncryptionMissing(t *testing.T) {
	for _, src := range []string{
		`function f(a) { setCookie("other", a); }`,
		`function f(a, b) { setCookie("___utmvc", a); }`,
		`var x = 1;`,
	} {
		if _, err := VirtualizeEncryption(parse(t, src), newSandbox(t), nil); !errors.Is(err, ErrNoEncryptionRoutine) {
			t.Errorf("%s: got %v, want ErrNoEncryptionRoutine", src, err)
		}
	}
}

func TestVirtualizeEncryptionShape(t *testing.T) {
	p := parse(t, `function f(a) { var c = 1; setCookie("___utmvc", a); }`)

	if _, err := VirtualizeEncryption(p, newSandbox(t), nil); !errors.Is(err, ErrRoutineShape) {
		t.Errorf("got %v, want ErrRoutineShape", err)
	}
}
