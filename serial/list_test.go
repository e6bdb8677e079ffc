package serial

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// fakeDev fills a temp dir with entries for ListPorts. Names in devices
// link to /dev/null so they stat as character devices; names in files
// are regular files.
func fakeDev(t *testing.T, devices, files []string) string {
	t.Helper()

	dir := t.TempDir()
	for _, name := range devices {
		if err := os.Symlink("/dev/null", filepath.Join(dir, name)); err != nil {
			t.Fatalf("Failed to link %s: %v", name, err)
		}
	}
	for _, name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatalf("Failed to create %s: %v", name, err)
		}
	}

	old := devDir
	devDir = dir
	t.Cleanup(func() { devDir = old })
	return dir
}

func TestListPortsFiltersAndSorts(t *testing.T) {
	dir := fakeDev(t,
		[]string{"ttyUSB1", "ttyACM0", "ttyUSB0", "tty1", "console", "ptmx", "random"},
		[]string{"ttyAMA0"},
	)

	ports, err := ListPorts()
	if err != nil {
		t.Fatalf("ListPorts failed: %v", err)
	}

	expected := []string{
		filepath.Join(dir, "ttyACM0"),
		filepath.Join(dir, "ttyUSB0"),
		filepath.Join(dir, "ttyUSB1"),
	}
	if len(ports) != len(expected) {
		t.Fatalf("ListPorts() = %v, expected %v", ports, expected)
	}
	for i := range expected {
		if ports[i] != expected[i] {
			t.Errorf("ports[%d] = %s, expected %s", i, ports[i], expected[i])
		}
	}
}

func TestListPortsMissingDevDir(t *testing.T) {
	old := devDir
	devDir = filepath.Join(t.TempDir(), "missing")
	defer func() { devDir = old }()

	if _, err := ListPorts(); err == nil {
		t.Error("Expected error for a missing device directory")
	}
}

func TestIsSerialName(t *testing.T) {
	tests := map[string]bool{
		"ttyUSB0":  true,
		"ttyUSB12": true,
		"ttyACM0":  true,
		"ttyS3":    true,
		"ttyAMA0":  true,
		"ttymxc1":  true,
		"ttyO2":    true,
		"ttySAC0":  true,
		"ttyTHS2":  true,
		"ttyUSB":   false,
		"tty1":     false,
		"console":  false,
		"ptmx":     false,
		"ptyp0":    false,
		"urandom":  false,
	}

	for name, expected := range tests {
		if got := isSerialName(name); got != expected {
			t.Errorf("isSerialName(%s) = %v, expected %v", name, got, expected)
		}
	}
}

func TestGetPortDescription(t *testing.T) {
	tests := map[string]string{
		"ttyUSB0": "USB Serial Port",
		"ttyACM0": "USB CDC/ACM Device",
		"ttyS0":   "Standard Serial Port",
		"ttySAC0": "Samsung Serial Port",
		"ttyO0":   "OMAP Serial Port",
		"null":    "Serial Port",
	}

	for name, expected := range tests {
		if got := getPortDescription(name); got != expected {
			t.Errorf("getPortDescription(%s) = %s, expected %s", name, got, expected)
		}
	}
}

func TestGetPortInfoReadsUSBMetadata(t *testing.T) {
	dir := fakeDev(t, []string{"ttyACM0"}, nil)
	root := t.TempDir()
	fakeSysfs(t, root, "ttyACM0", false, map[string]string{
		"idVendor":     "2341",
		"idProduct":    "0043",
		"manufacturer": "Arduino (www.arduino.cc)",
		"product":      "Arduino Uno",
	})
	withSysfsRoot(t, root)

	info, err := GetPortInfo(filepath.Join(dir, "ttyACM0"))
	if err != nil {
		t.Fatalf("GetPortInfo failed: %v", err)
	}
	if info.Name != "ttyACM0" {
		t.Errorf("Name = %q, expected %q", info.Name, "ttyACM0")
	}
	if info.Description != "USB CDC/ACM Device" {
		t.Errorf("Description = %q, expected %q", info.Description, "USB CDC/ACM Device")
	}
	if info.Product != "Arduino Uno" || info.VendorID != "2341" {
		t.Errorf("USB metadata not read: %+v", info)
	}
}

func TestGetPortInfoNonUSB(t *testing.T) {
	info, err := GetPortInfo("/dev/null")
	if err != nil {
		t.Fatalf("GetPortInfo failed for /dev/null: %v", err)
	}
	if info.IsUSB() {
		t.Errorf("IsUSB() = true for %+v", info)
	}

	_, err = GetPortInfo("/dev/nonexistent")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}
}

// TestListPortsIntegration lists the ports of the machine running the test
func TestListPortsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ports, err := ListPorts()
	if err != nil {
		t.Fatalf("ListPorts failed: %v", err)
	}

	t.Logf("Found %d serial ports", len(ports))
	for _, port := range ports {
		info, err := GetPortInfo(port)
		if err != nil {
			t.Errorf("GetPortInfo(%s) failed: %v", port, err)
			continue
		}
		t.Logf("  %s (%s %s)", port, info.Description, info.Product)
	}
}
