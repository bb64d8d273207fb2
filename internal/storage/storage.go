// Package storage provides the byte addressable non-volatile memory the
// configuration page lives in.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Erased is the value of a byte that has never been written.
const Erased = 0xFF

// ErrOutOfRange is returned for an address past the end of the storage.
var ErrOutOfRange = errors.New("storage: address out of range")

// Storage is byte addressable non-volatile memory.
type Storage interface {
	Read(addr int) (byte, error)
	Write(addr int, v byte) error
	Length() int
}

// Memory is Storage held in RAM, for tests and the simulator.
type Memory struct {
	data []byte
}

// NewMemory returns size erased bytes.
func NewMemory(size int) *Memory {
	m := &Memory{data: make([]byte, size)}
	for i := range m.data {
		m.data[i] = Erased
	}
	return m
}

func (m *Memory) Read(addr int) (byte, error) {
	if addr < 0 || addr >= len(m.data) {
		return 0, fmt.Errorf("read %d: %w", addr, ErrOutOfRange)
	}
	return m.data[addr], nil
}

func (m *Memory) Write(addr int, v byte) error {
	if addr < 0 || addr >= len(m.data) {
		return fmt.Errorf("write %d: %w", addr, ErrOutOfRange)
	}
	m.data[addr] = v
	return nil
}

func (m *Memory) Length() int { return len(m.data) }

// File is Storage backed by a fixed size image file. Every write goes
// straight to the file.
type File struct {
	f    *os.File
	size int
}

// OpenFile opens or creates the image at path. A new or short image is
// padded to size with erased bytes.
func OpenFile(path string, size int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open storage %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat storage %s: %w", path, err)
	}
	if have := int(info.Size()); have < size {
		pad := make([]byte, size-have)
		for i := range pad {
			pad[i] = Erased
		}
		if _, err := f.WriteAt(pad, int64(have)); err != nil {
			f.Close()
			return nil, fmt.Errorf("pad storage %s: %w", path, err)
		}
	}
	return &File{f: f, size: size}, nil
}

func (s *File) Read(addr int) (byte, error) {
	if addr < 0 || addr >= s.size {
		return 0, fmt.Errorf("read %d: %w", addr, ErrOutOfRange)
	}
	var b [1]byte
	if _, err := s.f.ReadAt(b[:], int64(addr)); err != nil && err != io.EOF {
		return 0, fmt.Errorf("read storage: %w", err)
	}
	return b[0], nil
}

func (s *File) Write(addr int, v byte) error {
	if addr < 0 || addr >= s.size {
		return fmt.Errorf("write %d: %w", addr, ErrOutOfRange)
	}
	if _, err := s.f.WriteAt([]byte{v}, int64(addr)); err != nil {
		return fmt.Errorf("write storage: %w", err)
	}
	return nil
}

func (s *File) Length() int { return s.size }

// Close syncs and closes the image.
func (s *File) Close() error {
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return fmt.Errorf("sync storage: %w", err)
	}
	return s.f.Close()
}

// ReadBlock reads n bytes starting at addr.
func ReadBlock(s Storage, addr, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := range out {
		v, err := s.Read(addr + i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// UpdateBlock writes b at addr, skipping bytes that already hold the right
// value. It returns the number of bytes written.
func UpdateBlock(s Storage, addr int, b []byte) (int, error) {
	written := 0
	for i, v := range b {
		cur, err := s.Read(addr + i)
		if err != nil {
			return written, err
		}
		if cur == v {
			continue
		}
		if err := s.Write(addr+i, v); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}
