package image

import (
	"bytes"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"kiln/internal/bytecode"
)

func sample() *bytecode.Function {
	body := bytecode.NewBuilder("body", 1).
		Line(2).GetLocal(1).Op(bytecode.OpFiberYield).Return().MustFinish()
	b := bytecode.NewBuilder("", 0).Line(1)
	b.Closure(body).Op(bytecode.OpFiberNew).DefineGlobal("f")
	b.GetGlobal("x")
	sw := b.Switch()
	hit := b.Offset()
	b.String("hit").Return()
	sw.CaseNumber(-0.5, hit).CaseString("k", hit).End()
	b.Number(1e300).Number(math.Copysign(0, -1)).Bool(false).Nil().OpByte(bytecode.OpArray, 4).Return()
	return b.MustFinish()
}

func TestRoundTripPreservesFunction(t *testing.T) {
	fn := sample()
	var buf bytes.Buffer
	if err := Write(&buf, New("demo", fn)); err != nil {
		t.Fatalf("write: %v", err)
	}
	img, err := Read(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if img.Module != "demo" {
		t.Fatalf("module %q, want demo", img.Module)
	}

	// Compare through the disassembler: it covers code, lines, constants,
	// nested functions and switch targets.
	var want, got bytes.Buffer
	if err := bytecode.Disassemble(&want, fn); err != nil {
		t.Fatal(err)
	}
	if err := bytecode.Disassemble(&got, img.Entry); err != nil {
		t.Fatal(err)
	}
	if want.String() != got.String() {
		t.Fatalf("disassembly differs after round trip:\nwant:\n%s\ngot:\n%s", want.String(), got.String())
	}
	for i, k := range fn.Chunk.Constants {
		if got := img.Entry.Chunk.Constants[i]; math.Float64bits(got.Num) != math.Float64bits(k.Num) {
			t.Fatalf("constant %d: %v became %v", i, k.Num, got.Num)
		}
	}
	sw := img.Entry.Chunk.Switches[0]
	if sw.LookupNumber(-0.5) != fn.Chunk.Switches[0].LookupNumber(-0.5) || sw.LookupString("k") != fn.Chunk.Switches[0].LookupString("k") {
		t.Fatalf("switch table changed: %+v", sw)
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prog"+Ext)
	if err := WriteFile(path, New("", sample())); err != nil {
		t.Fatalf("write: %v", err)
	}
	img, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if img.Module != "main" {
		t.Fatalf("default module %q, want main", img.Module)
	}
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".kiln-*"))
	if len(matches) != 0 {
		t.Fatalf("temporary files left behind: %v", matches)
	}
}

func TestReadRejectsForeignData(t *testing.T) {
	if _, err := Read(bytes.NewReader([]byte("hello"))); !errors.Is(err, ErrNotImage) {
		t.Fatalf("garbage: got %v, want ErrNotImage", err)
	}

	encode := func(img Image) *bytes.Buffer {
		var buf bytes.Buffer
		if err := msgpack.NewEncoder(&buf).Encode(&img); err != nil {
			t.Fatal(err)
		}
		return &buf
	}
	entry := bytecode.NewBuilder("", 0).Nil().Return().MustFinish()

	if _, err := Read(encode(Image{Magic: "ELF", Schema: Schema, Entry: entry})); !errors.Is(err, ErrNotImage) {
		t.Fatalf("bad magic: got %v", err)
	}
	if _, err := Read(encode(Image{Magic: Magic, Schema: Schema + 1, Entry: entry})); !errors.Is(err, ErrSchema) {
		t.Fatalf("future schema: got %v", err)
	}
	if _, err := Read(encode(Image{Magic: Magic, Schema: Schema})); err == nil {
		t.Fatalf("missing entry accepted")
	}

	broken := &bytecode.Function{Chunk: bytecode.Chunk{Code: []byte{byte(bytecode.OpConstant), 7}}}
	var verr *bytecode.VerifyError
	if _, err := Read(encode(Image{Magic: Magic, Schema: Schema, Entry: broken})); !errors.As(err, &verr) {
		t.Fatalf("unverified code accepted: %v", err)
	}
	withArgs := bytecode.NewBuilder("", 1).Nil().Return().MustFinish()
	if _, err := Read(encode(Image{Magic: Magic, Schema: Schema, Entry: withArgs})); err == nil {
		t.Fatalf("entry with parameters accepted")
	}
}
