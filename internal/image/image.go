// Package image stores compiled programs on disk. An image is a msgpack
// document holding the entry function of one module together with a
// magic string and a schema version; readers reject anything else.
package image

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"kiln/internal/bytecode"
)

// Magic identifies kiln images.
const Magic = "KILN"

// Schema is the current image layout version. Increment when the encoding
// of bytecode.Function changes.
const Schema uint16 = 1

// Ext is the conventional file extension of an image.
const Ext = ".kbc"

var (
	ErrNotImage = errors.New("image: not a kiln image")
	ErrSchema   = errors.New("image: unsupported schema version")
)

// Image is one serialized module.
type Image struct {
	Magic  string             `msgpack:"magic"`
	Schema uint16             `msgpack:"schema"`
	Module string             `msgpack:"module"`
	Source string             `msgpack:"source,omitempty"` // where the code came from, informational
	Entry  *bytecode.Function `msgpack:"entry"`
}

// New wraps the entry function of module in an image.
func New(module string, entry *bytecode.Function) *Image {
	return &Image{Magic: Magic, Schema: Schema, Module: module, Entry: entry}
}

// Write encodes img to w.
func Write(w io.Writer, img *Image) error {
	if img == nil || img.Entry == nil {
		return errors.New("image: nothing to write")
	}
	out := *img
	out.Magic, out.Schema = Magic, Schema
	if out.Module == "" {
		out.Module = "main"
	}
	return msgpack.NewEncoder(w).Encode(&out)
}

// Read decodes and verifies an image from r.
func Read(r io.Reader) (*Image, error) {
	var img Image
	if err := msgpack.NewDecoder(r).Decode(&img); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotImage, err)
	}
	if img.Magic != Magic {
		return nil, ErrNotImage
	}
	if img.Schema != Schema {
		return nil, fmt.Errorf("%w %d (want %d)", ErrSchema, img.Schema, Schema)
	}
	if img.Entry == nil {
		return nil, errors.New("image: missing entry function")
	}
	if img.Entry.Arity != 0 || img.Entry.UpvalueCount != 0 {
		return nil, errors.New("image: entry function must take no arguments and capture nothing")
	}
	if err := bytecode.Verify(img.Entry); err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	if img.Module == "" {
		img.Module = "main"
	}
	return &img, nil
}

// WriteFile writes img to path atomically: the data goes to a temporary
// file in the same directory which is then renamed over path.
func WriteFile(path string, img *Image) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".kiln-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()
	if err = Write(f, img); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// ReadFile reads and verifies the image at path.
func ReadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}
