// Package compat checks that the host can run a wallet engine before the
// heavy one-time preparation starts.
package compat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Check names.
const (
	CheckStorageWritable = "storage_writable"
	CheckFreeDisk        = "free_disk"
	CheckFreeMemory      = "free_memory"
)

// Error reports a failed capability check.
type Error struct {
	Check string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("environment check %s failed: %v", e.Check, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsIncompatible reports whether err carries a *compat.Error.
func IsIncompatible(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// Requirements are the minimums a host must meet. Zero disables a check.
type Requirements struct {
	StorageDir  string
	MinFreeDisk uint64
	MinFreeMem  uint64
}

// Probe reads host capacity. Tests swap it for a fake.
type Probe interface {
	FreeDisk(ctx context.Context, path string) (uint64, error)
	FreeMemory(ctx context.Context) (uint64, error)
}

// HostProbe reads real numbers through gopsutil.
type HostProbe struct{}

func (HostProbe) FreeDisk(ctx context.Context, path string) (uint64, error) {
	u, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return u.Free, nil
}

func (HostProbe) FreeMemory(ctx context.Context) (uint64, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return v.Available, nil
}

// Checker runs the capability checks in order and stops at the first
// failure.
type Checker struct {
	req   Requirements
	probe Probe
}

func NewChecker(req Requirements, probe Probe) *Checker {
	if probe == nil {
		probe = HostProbe{}
	}
	return &Checker{req: req, probe: probe}
}

func (c *Checker) Run(ctx context.Context) error {
	if c.req.StorageDir != "" {
		if err := checkWritable(c.req.StorageDir); err != nil {
			return &Error{Check: CheckStorageWritable, Err: err}
		}
	}

	if c.req.MinFreeDisk > 0 {
		path := c.req.StorageDir
		if path == "" {
			path = os.TempDir()
		}
		free, err := c.probe.FreeDisk(ctx, path)
		if err != nil {
			return &Error{Check: CheckFreeDisk, Err: err}
		}
		if free < c.req.MinFreeDisk {
			return &Error{Check: CheckFreeDisk, Err: fmt.Errorf("%d bytes free, need %d", free, c.req.MinFreeDisk)}
		}
	}

	if c.req.MinFreeMem > 0 {
		free, err := c.probe.FreeMemory(ctx)
		if err != nil {
			return &Error{Check: CheckFreeMemory, Err: err}
		}
		if free < c.req.MinFreeMem {
			return &Error{Check: CheckFreeMemory, Err: fmt.Errorf("%d bytes available, need %d", free, c.req.MinFreeMem)}
		}
	}
	return nil
}

// checkWritable creates dir if needed and proves a file can be written there.
func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(filepath.Clean(name))
}
