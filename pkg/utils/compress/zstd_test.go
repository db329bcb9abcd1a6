package compress_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fnndsc/plinst/pkg/utils/compress"
)

func TestPackUnpack(t *testing.T) {
	t.Run("it restores the original payload", func(t *testing.T) {
		original := []byte(strings.Repeat(`{"stage":"compute-return","status":"ok"}`, 64))

		packed := compress.Pack(original)
		if len(packed) >= len(original) {
			t.Errorf("it is not compressed: %d >= %d", len(packed), len(original))
		}

		actual, err := compress.Unpack(packed)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(actual, original) {
			t.Errorf("payload is broken")
		}
	})

	t.Run("empty stays empty", func(t *testing.T) {
		if p := compress.Pack(nil); len(p) != 0 {
			t.Errorf("unexpected: %v", p)
		}
		if u, err := compress.Unpack(nil); err != nil || len(u) != 0 {
			t.Errorf("unexpected: %v, %v", u, err)
		}
	})

	t.Run("garbage cannot be unpacked", func(t *testing.T) {
		if _, err := compress.Unpack([]byte("not zstd")); err == nil {
			t.Errorf("expected error does not occur")
		}
	})
}
