package transport

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const seals = unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE | unix.F_SEAL_SEAL

// requiredSeals are the seals a received memory file must carry. A
// file that can shrink or be written after it is mapped could fault
// the receiver, or change under the parser.
const requiredSeals = unix.F_SEAL_SHRINK | unix.F_SEAL_WRITE

// ErrBadMapping is returned by [MapIn] when the received file is not
// a sealed memory file that holds the claimed document.
var ErrBadMapping = errors.New("invalid shared mapping")

// PageRound rounds n up to a multiple of the system page size.
func PageRound(n int) int {
	page := unix.Getpagesize()
	return (n + page - 1) &^ (page - 1)
}

// Mapping is a document placed in shared memory, ready to be handed
// to another process.
type Mapping struct {
	// File is a sealed memory file holding the document. The
	// receiver maps it with [MapIn]. The caller must close File
	// once it has been sent.
	File *os.File
	// Len is the length of the document, including its terminator.
	Len int
	// Size is the size of File, Len rounded up to a page multiple.
	Size int
}

// MapOut copies doc into a new anonymous memory file, sized to a
// page multiple, and seals it against further modification.
func MapOut(doc []byte) (*Mapping, error) {
	if len(doc) == 0 {
		return nil, ErrEmptyRef
	}
	fd, err := unix.MemfdCreate("plist", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("creating memfd: %w", err)
	}
	f := os.NewFile(uintptr(fd), "plist")
	ret, err := mapOut(f, doc)
	if err != nil {
		f.Close()
		return nil, err
	}
	return ret, nil
}

func mapOut(f *os.File, doc []byte) (*Mapping, error) {
	size := PageRound(len(doc))
	fd := int(f.Fd())
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("sizing memfd: %w", err)
	}
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mapping memfd: %w", err)
	}
	copy(mem, doc)
	if err := unix.Munmap(mem); err != nil {
		return nil, fmt.Errorf("unmapping memfd: %w", err)
	}
	if _, err := unix.FcntlInt(f.Fd(), unix.F_ADD_SEALS, seals); err != nil {
		return nil, fmt.Errorf("sealing memfd: %w", err)
	}
	return &Mapping{
		File: f,
		Len:  len(doc),
		Size: size,
	}, nil
}

// MapIn maps a document of untrusted length n from the memory file
// f. f can be closed once MapIn returns.
//
// n is checked against ceiling before mapping anything. f must be a
// memory file sealed against shrinking and writing, and at least n
// bytes long, so that a lying sender cannot cause accesses past the
// end of the file, or alter the document once it is mapped. The
// document is mapped privately: writes to the returned Ref, such as
// [Ref.Terminate], are never visible to the sender.
func MapIn(f *os.File, n uint64, ceiling int) (*Ref, error) {
	if n == 0 {
		return nil, ErrEmptyRef
	}
	if ceiling <= 0 || n >= uint64(ceiling) {
		return nil, fmt.Errorf("%w: %d bytes, ceiling is %d", ErrTooLarge, n, ceiling)
	}
	fd := int(f.Fd())
	// F_GET_SEALS fails on anything but a memfd.
	got, err := unix.FcntlInt(uintptr(fd), unix.F_GET_SEALS, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: not a memory file: %v", ErrBadMapping, err)
	}
	if got&requiredSeals != requiredSeals {
		return nil, fmt.Errorf("%w: seals %#x, want at least %#x", ErrBadMapping, got, requiredSeals)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("stat of shared mapping: %w", err)
	}
	if st.Size < int64(n) {
		return nil, fmt.Errorf("%w: file is %d bytes, sender claimed %d", ErrBadMapping, st.Size, n)
	}
	size := PageRound(int(n))
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mapping shared document: %w", err)
	}
	return newMappedRef(mem[:n], func() error {
		return unix.Munmap(mem)
	}), nil
}
