package visitors

import "testing"

const tableSource = `var tbl = {
	"abc": function (x, y) { return x + y; },
	"qwe": function (x) { return tbl["abc"](x, 1); },
	"val": 7
}, keep = 1;
`

func TestInlineFunctionTables(t *testing.T) {
	p := parse(t, tableSource+`var r = tbl["abc"](5, 1);
var q = tbl["qwe"](4) - 2;
var v = tbl["val"] + keep;`)

	if n := InlineFunctionTables(p, DefaultInlineKeyLength, nil); n != 2 {
		t.Errorf("matches = %d, want 2", n)
	}
	assertProgram(t, p, `var keep = 1;
var r = 5 + 1;
var q = 4 + 1 - 2;
var v = 7 + keep;`)

	SimplifyBinaryExpressions(p)
	assertProgram(t, p, `var keep = 1;
var r = 6;
var q = 3;
var v = 7 + keep;`)
}

func TestInlineFunctionTablesMissingArgument(t *testing.T) {
	p := parse(t, `var tbl = { "abc": function (x, y) { return f(x, y); } };
g(tbl["abc"](1));`)

	if n := InlineFunctionTables(p, DefaultInlineKeyLength, nil); n != 1 {
		t.Errorf("matches = %d, want 1", n)
	}
	assertProgram(t, p, `g(f(1, undefined));`)
}

func TestInlineFunctionTablesCycle(t *testing.T) {
	p := parse(t, `var cyc = {
	"aaa": function (x) { return cyc["bbb"](x); },
	"bbb": function (x) { return cyc["aaa"](x); }
};
var z = cyc["aaa"](1);`)

	if n := InlineFunctionTables(p, DefaultInlineKeyLength, nil); n != 0 {
		t.Errorf("matches = %d, want 0", n)
	}
	assertProgram(t, p, `var z = cyc["aaa"](1);`)
}

func TestExtractInlineTablesKeyLength(t *testing.T) {
	p := parse(t, `var a = { "ab": 1 }, b = { "xyz": 2 }, c = {}, d = { "xyz": 1, "toolong": 2 };`)

	tables := ExtractInlineTables(p, 3)
	if len(tables) != 1 {
		t.Fatalf("tables = %d, want 1", len(tables))
	}
	tbl, ok := tables["b"]
	if !ok {
		t.Fatal("table b not captured")
	}
	if keys := tbl.Entries.Keys(); len(keys) != 1 || keys[0] != "xyz" {
		t.Errorf("keys = %v", keys)
	}
	assertProgram(t, p, `var a = { "ab": 1 }, c = {}, d = { "xyz": 1, "toolong": 2 };`)
}

func TestExtractInlineTablesOrder(t *testing.T) {
	p := parse(t, `var t = { "ccc": 1, "aaa": 2, "bbb": 3 };`)

	tbl := ExtractInlineTables(p, 3)["t"]
	if tbl == nil {
		t.Fatal("table t not captured")
	}
	want := []string{"ccc", "aaa", "bbb"}
	keys := tbl.Entries.Keys()
	for i := range want {
		if i >= len(keys) || keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
	if len(p.Body) != 0 {
		t.Errorf("declaration not removed, body has %d statements", len(p.Body))
	}
}

func TestExtractInlineTablesIdentifierKeys(t *testing.T) {
	src := `var pos = { top: 1, bot: 2 };`
	p := parse(t, src)

	if tables := ExtractInlineTables(p, 3); len(tables) != 0 {
		t.Errorf("tables = %d, want 0", len(tables))
	}
	assertProgram(t, p, src)
}

func TestInlineFunctionTablesKeepsWriteTargets(t *testing.T) {
	p := parse(t, `var tbl = { "val": 7 };
tbl["val"] = 2;
tbl["val"]++;
--tbl["val"];
tbl["val"] += tbl["val"];
f(tbl["val"]);`)

	InlineFunctionTables(p, DefaultInlineKeyLength, nil)
	assertProgram(t, p, `tbl["val"] = 2;
tbl["val"]++;
--tbl["val"];
tbl["val"] += 7;
f(7);`)
}
