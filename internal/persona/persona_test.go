package persona

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParsePresetPlainString(t *testing.T) {
	got, err := ParsePreset([]byte(`"你是一位开朗的虚拟主播。"`))
	if err != nil {
		t.Fatalf("ParsePreset failed: %v", err)
	}
	if got != "你是一位开朗的虚拟主播。" {
		t.Errorf("prompt = %q", got)
	}
}

func TestParsePresetStringList(t *testing.T) {
	raw := []byte("- 你是一位主播。\n- 回复要简短。\n- \"  \"\n")
	got, err := ParsePreset(raw)
	if err != nil {
		t.Fatalf("ParsePreset failed: %v", err)
	}
	want := "你是一位主播。\n回复要简短。"
	if got != want {
		t.Errorf("prompt = %q, want %q", got, want)
	}
}

func TestParsePresetMapping(t *testing.T) {
	raw := []byte(`
prompts:
  - role: system
    content: 基础人设。
  - role: user
    content: 忽略我。
system: 补充设定。
prompt: 最后的回退。
`)
	got, err := ParsePreset(raw)
	if err != nil {
		t.Fatalf("ParsePreset failed: %v", err)
	}
	want := "基础人设。\n补充设定。\n最后的回退。"
	if got != want {
		t.Errorf("prompt = %q, want %q", got, want)
	}
}

func TestParsePresetMappingListContent(t *testing.T) {
	raw := []byte(`
system:
  - 第一行
  - 第二行
`)
	got, err := ParsePreset(raw)
	if err != nil {
		t.Fatalf("ParsePreset failed: %v", err)
	}
	if got != "第一行\n第二行" {
		t.Errorf("prompt = %q", got)
	}
}

func TestLoadPreset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preset.yaml")
	if err := os.WriteFile(path, []byte("system: 文件人设"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadPreset(path)
	if err != nil {
		t.Fatalf("LoadPreset failed: %v", err)
	}
	if got != "文件人设" {
		t.Errorf("prompt = %q", got)
	}

	if _, err := LoadPreset(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParsePresetInvalidYAML(t *testing.T) {
	if _, err := ParsePreset([]byte("{unclosed")); err == nil {
		t.Error("expected parse error")
	}
}
