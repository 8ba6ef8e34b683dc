package identity

import "testing"

func TestMaskName(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"", ""},
		{"王", "王"},
		{"王思", "王*"},
		{"王小思", "王*思"},
		{"ABCDE", "A***E"},
	}
	for _, c := range cases {
		if got := MaskName(c.name); got != c.want {
			t.Errorf("MaskName(%q) = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestIsSelf_UID(t *testing.T) {
	f := NewFilter(42, "王思", 10)
	if !f.IsSelf(42, "anything") {
		t.Error("expected uid match")
	}
	if f.IsSelf(43, "anything") {
		t.Error("unexpected match for different uid")
	}
}

func TestIsSelf_FullName(t *testing.T) {
	f := NewFilter(0, "王思", 10)
	if !f.IsSelf(0, "王思") {
		t.Error("expected full name match")
	}
	if !f.IsSelf(0, "  王思  ") {
		t.Error("expected full name match after normalization")
	}
}

func TestIsSelf_MaskedName(t *testing.T) {
	f := NewFilter(0, "王小思", 10) // mask: 王*思

	// The platform may mask with a different star count than ours.
	if !f.IsSelf(0, "王**") {
		t.Error("expected fuzzy mask match for 王**")
	}
	if !f.IsSelf(0, "王＊＊＊") {
		t.Error("expected fuzzy mask match with fullwidth stars")
	}
	if !f.IsSelf(0, "王★★…") {
		t.Error("expected fuzzy mask match with decorative stars and ellipsis")
	}
	if f.IsSelf(0, "李**") {
		t.Error("unexpected match for different first character")
	}
	if f.IsSelf(0, "王小明") {
		t.Error("unexpected match for a real viewer name sharing first character")
	}
}

func TestIsSelf_ExactMask(t *testing.T) {
	f := NewFilter(0, "王思", 10) // mask: 王*
	if !f.IsSelf(0, "王*") {
		t.Error("expected exact mask match")
	}
}

func TestEchoCaches(t *testing.T) {
	f := NewFilter(0, "王思", 3)

	f.RecordOutbound("(✿◡‿◡)")
	if !f.SeenOwn("(✿◡‿◡)") {
		t.Error("expected recorded emoji to be seen")
	}
	if !f.SeenOwn("  (✿◡‿◡)  ") {
		t.Error("expected normalized lookup to match")
	}
	if f.SeenOwn("hello there") {
		t.Error("unexpected hit for never-sent text")
	}
}

func TestEchoCaches_RingOverflowStillCorrect(t *testing.T) {
	f := NewFilter(0, "王思", 2)

	f.RecordOutbound("first")
	f.RecordOutbound("second")
	f.RecordOutbound("third") // evicts "first" from the ring

	// The session set must still remember the evicted entry.
	if !f.SeenOwn("first") {
		t.Error("session set should retain entries evicted from the ring")
	}
	if !f.SeenOwn("third") {
		t.Error("ring should contain the newest entry")
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("a  b\tc"); got != "a b c" {
		t.Errorf("Normalize collapsed whitespace wrong: %q", got)
	}
	// NFKC folds fullwidth forms.
	if got := Normalize("Ａ"); got != "A" {
		t.Errorf("expected NFKC folding, got %q", got)
	}
}
