package devlink

import (
	"context"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/allbin/go-devlink/serial"
)

// Enumerator lists the serial endpoints currently attached to the host.
// Each call returns a fresh snapshot and calls may run concurrently.
// Errors are treated as retryable.
type Enumerator interface {
	ListCandidates(ctx context.Context) ([]Candidate, error)
}

// EnumeratorFunc adapts a plain function to Enumerator.
type EnumeratorFunc func(ctx context.Context) ([]Candidate, error)

func (f EnumeratorFunc) ListCandidates(ctx context.Context) ([]Candidate, error) {
	return f(ctx)
}

// SysfsEnumerator scans /dev for serial devices and reads USB string
// descriptors from sysfs. It is the default on Linux.
type SysfsEnumerator struct{}

func (SysfsEnumerator) ListCandidates(ctx context.Context) ([]Candidate, error) {
	paths, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}

	candidates := make([]Candidate, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := serial.GetPortInfo(path)
		if err != nil {
			// The node vanished between the scan and the lookup
			continue
		}
		candidates = append(candidates, Candidate{
			Path:         info.Path,
			Descriptor:   Descriptor(info.Manufacturer, info.Product),
			VendorID:     info.VendorID,
			ProductID:    info.ProductID,
			SerialNumber: info.SerialNumber,
		})
	}
	return candidates, nil
}

// DetailedEnumerator lists ports through go.bug.st/serial, which also
// works where sysfs is unavailable. Only the USB product string is
// reported, so it becomes the descriptor.
type DetailedEnumerator struct{}

func (DetailedEnumerator) ListCandidates(ctx context.Context) ([]Candidate, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(ports))
	for _, p := range ports {
		c := Candidate{Path: p.Name}
		if p.IsUSB {
			c.Descriptor = p.Product
			c.VendorID = strings.ToLower(p.VID)
			c.ProductID = strings.ToLower(p.PID)
			c.SerialNumber = p.SerialNumber
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// NewEnumerator returns the enumerator registered under name: "sysfs"
// (the default when name is empty) or "detailed".
func NewEnumerator(name string) (Enumerator, error) {
	switch name {
	case "", "sysfs":
		return SysfsEnumerator{}, nil
	case "detailed":
		return DetailedEnumerator{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown enumerator %q", ErrInvalidConfig, name)
	}
}

// Descriptor combines the USB manufacturer and product strings into the
// text a Selector matches against.
func Descriptor(manufacturer, product string) string {
	switch {
	case manufacturer == "", strings.Contains(product, manufacturer):
		return product
	case product == "":
		return manufacturer
	default:
		return manufacturer + " " + product
	}
}
