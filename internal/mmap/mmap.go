// Package mmap provides page-granular memory-mapped file I/O.
//
// Unlike a whole-file mapping, each call here maps only the host-page
// aligned region that covers a single engine page, copies data across the
// Go/kernel boundary, and unmaps before returning. This keeps the pager's
// hot path working with plain heap-owned buffers while still routing every
// read and write through the kernel's mmap machinery instead of explicit
// read/write syscalls.
package mmap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// align returns the host-page-aligned offset at or below off, and the
// number of bytes between that aligned offset and off.
func align(off int64) (aligned int64, extra int64) {
	pageSize := int64(os.Getpagesize())
	aligned = off - (off % pageSize)
	extra = off - aligned
	return aligned, extra
}

// ReadPage copies length bytes at offset out of file into a freshly
// allocated buffer. If the read would run past the current end of file,
// the file is extended first and the returned buffer is left zeroed
// (notRead is true) rather than mapped and copied.
func ReadPage(file *os.File, offset int64, length int) (buf []byte, notRead bool, err error) {
	info, err := file.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("stat: %w", err)
	}

	if offset+int64(length) > info.Size() {
		if err := file.Truncate(offset + int64(length)); err != nil {
			return nil, false, fmt.Errorf("extend: %w", err)
		}
		return make([]byte, length), true, nil
	}

	aligned, extra := align(offset)
	mapped, err := unix.Mmap(int(file.Fd()), aligned, int(extra)+length, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, false, fmt.Errorf("mmap: %w", err)
	}
	defer unix.Munmap(mapped)

	buf = make([]byte, length)
	copy(buf, mapped[extra:extra+int64(length)])
	return buf, false, nil
}

// WritePage copies buf into file at offset via a writable mapping and
// issues a synchronous msync before unmapping. The file is extended first
// if the write would run past the current end of file.
func WritePage(file *os.File, offset int64, buf []byte) error {
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	if need := offset + int64(len(buf)); need > info.Size() {
		if err := file.Truncate(need); err != nil {
			return fmt.Errorf("extend: %w", err)
		}
	}

	aligned, extra := align(offset)
	mapped, err := unix.Mmap(int(file.Fd()), aligned, int(extra)+len(buf), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap: %w", err)
	}
	defer unix.Munmap(mapped)

	copy(mapped[extra:extra+int64(len(buf))], buf)
	if err := unix.Msync(mapped, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync: %w", err)
	}
	return nil
}
