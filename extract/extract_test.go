package extract

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func sampleDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "Actors.json", `[null,{"id":1,"name":"ハロルド","nickname":"","profile":"勇者です。<br>","battlerName":"Actor1_1","faceName":"Actor1"}]`)
	writeFile(t, dir, "Items.json", `[null,{"id":1,"name":"ポーション","price":50,"consumable":true,"note":"","image":"宝箱","meta":{"image":["画像"],"desc":"回復"}}]`)
	writeFile(t, dir, "System.json", `{"gameTitle":"冒険","currencyUnit":"G","terms":{"basic":["レベル","Lv"]},"ratio":1.5}`)
	writeFile(t, dir, "CommonEvents.json", `[null,{"name":"共通"}]`)
	writeFile(t, dir, "readme.txt", "日本語")
	return dir
}

func TestScanCollectsInDocumentOrder(t *testing.T) {
	dir := sampleDir(t)
	e, err := New(Options{SourceDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	c, err := e.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	want := []string{"ハロルド", "勇者です。<br>", "ポーション", "宝箱", "画像", "回復", "冒険", "レベル"}
	if got := c.Texts(); !reflect.DeepEqual(got, want) {
		t.Errorf("Texts = %q, want %q", got, want)
	}

	wantPointers := []string{"/1/name", "/1/profile", "/1/name", "/1/image", "/1/meta/image/0", "/1/meta/desc", "/gameTitle", "/terms/basic/0"}
	for i, tg := range c.Targets {
		if tg.Pointer != wantPointers[i] {
			t.Errorf("target %d pointer = %s, want %s", i, tg.Pointer, wantPointers[i])
		}
	}

	var skipped []string
	for _, tg := range c.Targets {
		if tg.Skip {
			skipped = append(skipped, tg.String())
		}
	}
	wantSkipped := []string{"Items.json#/1/image", "Items.json#/1/meta/image/0"}
	if !reflect.DeepEqual(skipped, wantSkipped) {
		t.Errorf("skipped = %v, want %v", skipped, wantSkipped)
	}

	if !reflect.DeepEqual(c.Excluded, []string{"CommonEvents.json"}) {
		t.Errorf("Excluded = %v", c.Excluded)
	}
	if len(c.Documents) != 3 {
		t.Errorf("Documents = %d, want 3", len(c.Documents))
	}
}

func TestApplyAndWrite(t *testing.T) {
	dir := sampleDir(t)
	out := filepath.Join(t.TempDir(), "data_translated")
	e, err := New(Options{SourceDir: dir, OutputDir: out})
	if err != nil {
		t.Fatal(err)
	}
	c, err := e.Scan()
	if err != nil {
		t.Fatal(err)
	}

	translations := []string{"哈罗德", "我是勇者。<br>", "药水", "IGNORED", "IGNORED", "回复", "冒险", "等级"}
	applied, skipped, err := c.Apply(translations)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied != 6 || skipped != 2 {
		t.Errorf("applied=%d skipped=%d", applied, skipped)
	}
	if err := e.Write(c); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(out, "Items.json"))
	if err != nil {
		t.Fatal(err)
	}
	wantItems := `[
  null,
  {
    "id": 1,
    "name": "药水",
    "price": 50,
    "consumable": true,
    "note": "",
    "image": "宝箱",
    "meta": {
      "image": [
        "画像"
      ],
      "desc": "回复"
    }
  }
]`
	if string(data) != wantItems {
		t.Errorf("Items.json =\n%s\nwant\n%s", data, wantItems)
	}

	data, err = os.ReadFile(filepath.Join(out, "System.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"ratio": 1.5`) || !strings.Contains(string(data), `"等级"`) {
		t.Errorf("System.json = %s", data)
	}

	actors, err := os.ReadFile(filepath.Join(out, "Actors.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(actors), `"我是勇者。<br>"`) {
		t.Errorf("HTML was escaped or translation missing: %s", actors)
	}

	common, err := os.ReadFile(filepath.Join(out, "CommonEvents.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(common) != `[null,{"name":"共通"}]` {
		t.Errorf("excluded file not copied verbatim: %s", common)
	}
	if _, err := os.Stat(filepath.Join(out, "readme.txt")); !os.IsNotExist(err) {
		t.Errorf("non-JSON file should not be written")
	}
}

func TestRescanOfOutputKeepsTargetCountForIdentityTranslation(t *testing.T) {
	dir := sampleDir(t)
	out := filepath.Join(t.TempDir(), "out")
	e, err := New(Options{SourceDir: dir, OutputDir: out})
	if err != nil {
		t.Fatal(err)
	}
	c, err := e.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Apply(c.Texts()); err != nil {
		t.Fatal(err)
	}
	if err := e.Write(c); err != nil {
		t.Fatal(err)
	}

	e2, err := New(Options{SourceDir: out})
	if err != nil {
		t.Fatal(err)
	}
	c2, err := e2.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(c.Texts(), c2.Texts()) {
		t.Errorf("rescan = %q, want %q", c2.Texts(), c.Texts())
	}
}

func TestApplyLengthMismatch(t *testing.T) {
	e, err := New(Options{SourceDir: sampleDir(t)})
	if err != nil {
		t.Fatal(err)
	}
	c, err := e.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Apply([]string{"only one"}); err == nil {
		t.Error("expected length mismatch error")
	}
}

func TestWriteRefusesSourceDir(t *testing.T) {
	dir := sampleDir(t)
	e, err := New(Options{SourceDir: dir, OutputDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	c, err := e.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Write(c); err == nil {
		t.Error("writing into the source directory should fail")
	}
}

func TestScanInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Broken.json", `{"name": "壊れ"`)
	e, err := New(Options{SourceDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Scan(); err == nil || !strings.Contains(err.Error(), "Broken.json") {
		t.Errorf("err = %v, want parse error naming the file", err)
	}
}

func TestScanAcceptsJSONOnlyEscapes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Map001.json", `{"path\/key":["a\/bあ","\ud83d\ude00です","plain"],"n":1}`)
	out := filepath.Join(t.TempDir(), "out")
	e, err := New(Options{SourceDir: dir, OutputDir: out})
	if err != nil {
		t.Fatal(err)
	}
	c, err := e.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := []string{"a/bあ", "😀です"}
	if got := c.Texts(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Texts = %q, want %q", got, want)
	}
	if got := c.Targets[0].Pointer; got != "/path~1key/0" {
		t.Errorf("pointer = %s", got)
	}

	if _, _, err := c.Apply([]string{"a/b甲", "😀是"}); err != nil {
		t.Fatal(err)
	}
	if err := e.Write(c); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(out, "Map001.json"))
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{`"path/key": [`, `"a/b甲"`, `"😀是"`, `"plain"`, `"n": 1`} {
		if !strings.Contains(string(data), s) {
			t.Errorf("output missing %s:\n%s", s, data)
		}
	}
}

func TestWriteKeepsNumberSpelling(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "System.json", `{"big":1e400,"exp":2E+10,"neg":-0.50,"flag":false,"none":null,"quoted":"1e400","name":"名前"}`)
	out := filepath.Join(t.TempDir(), "out")
	e, err := New(Options{SourceDir: dir, OutputDir: out, Pattern: `.+`})
	if err != nil {
		t.Fatal(err)
	}
	c, err := e.Scan()
	if err != nil {
		t.Fatal(err)
	}
	// Only JSON strings are collected, even with a match-all pattern.
	if got := c.Texts(); !reflect.DeepEqual(got, []string{"1e400", "名前"}) {
		t.Fatalf("Texts = %q", got)
	}
	if _, _, err := c.Apply(c.Texts()); err != nil {
		t.Fatal(err)
	}
	if err := e.Write(c); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(out, "System.json"))
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{`"big": 1e400,`, `"exp": 2E+10,`, `"neg": -0.50,`, `"flag": false,`, `"none": null,`, `"quoted": "1e400",`} {
		if !strings.Contains(string(data), s) {
			t.Errorf("output missing %s:\n%s", s, data)
		}
	}
}

func TestNewOptions(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("missing source dir should fail")
	}
	if _, err := New(Options{SourceDir: ".", Pattern: "("}); err == nil {
		t.Error("bad pattern should fail")
	}

	dir := t.TempDir()
	writeFile(t, dir, "Words.json", `["hello","world","日本"]`)
	e, err := New(Options{SourceDir: dir, Pattern: `^h`, ExcludeFiles: []string{}})
	if err != nil {
		t.Fatal(err)
	}
	c, err := e.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Texts(); !reflect.DeepEqual(got, []string{"hello"}) {
		t.Errorf("custom pattern Texts = %q", got)
	}
}

func TestEscapePointer(t *testing.T) {
	if got := escapePointer("a/b~c"); got != "a~1b~0c" {
		t.Errorf("escapePointer = %q", got)
	}
}

func TestItemsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "items.json")
	items := []string{"こんにちは", "<b>&</b>", ""}
	if err := WriteItems(path, items); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"<b>&</b>"`) {
		t.Errorf("HTML escaped: %s", data)
	}
	got, err := ReadItems(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, items) {
		t.Errorf("ReadItems = %q", got)
	}

	if err := os.WriteFile(path, []byte(`{"a":1}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadItems(path); err == nil {
		t.Error("object should not parse as items")
	}
}
