package sha256

import "testing"

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("HTML_Tag,Text\n"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	again, err := h.Hash([]byte("HTML_Tag,Text\n"))
	if err != nil {
		t.Fatalf("Hash() repeat error = %v", err)
	}
	if again != got || len(got) != 64 {
		t.Fatalf("expected deterministic 64-char digest, got %s vs %s", got, again)
	}
	empty, _ := h.Hash(nil)
	if empty != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("unexpected empty digest %s", empty)
	}
}

func TestShort(t *testing.T) {
	t.Parallel()

	if got := Short("e3b0c44298fc1c149afbf4c8"); got != "e3b0c44298fc" {
		t.Fatalf("unexpected short digest %q", got)
	}
	if got := Short("abc"); got != "abc" {
		t.Fatalf("expected short input unchanged, got %q", got)
	}
}
