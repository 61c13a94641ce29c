package visitors

import "testing"

func TestReorderSwitchCases(t *testing.T) {
	p := parse(t, `var order = "2|0|1"["split"]("|"), i = 0;
while (!![]) {
	switch (order[i++]) {
	case "0":
		a();
		continue;
	case "1":
		b();
		continue;
	case "2":
		c();
		var d = 1;
		continue;
	}
	break;
}
after();`)

	if n := ReorderSwitchCases(p); n != 1 {
		t.Errorf("matches = %d, want 1", n)
	}
	assertProgram(t, p, `c(); var d = 1; a(); b(); after();`)
}

func TestReorderSwitchCasesNested(t *testing.T) {
	p := parse(t, `function f() {
	var order = "1|0"["split"]("|"), i = 0;
	while (true) {
		switch (order[i++]) {
		case "0":
			y(x);
			continue;
		case "1":
			x = 2;
			continue;
		}
		break;
	}
}`)

	if n := ReorderSwitchCases(p); n != 1 {
		t.Errorf("matches = %d, want 1", n)
	}
	assertProgram(t, p, `function f() { x = 2; y(x); }`)
}

func TestReorderSwitchCasesMissingArm(t *testing.T) {
	src := `var order = "0|3"["split"]("|"), i = 0;
while (!![]) {
	switch (order[i++]) {
	case "0":
		a();
		continue;
	}
	break;
}`
	p := parse(t, src)

	if n := ReorderSwitchCases(p); n != 0 {
		t.Errorf("matches = %d, want 0", n)
	}
	assertProgram(t, p, src)
}

func TestReorderSwitchCasesIgnoresPlainLoops(t *testing.T) {
	src := `var i = 0; while (i < 3) { switch (i) { case 0: a(); break; } i++; }`
	p := parse(t, src)

	if n := ReorderSwitchCases(p); n != 0 {
		t.Errorf("matches = %d, want 0", n)
	}
	assertProgram(t, p, src)
}
