package serial

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Root of the filesystems scanned for ports; tests point these at a temp dir.
var (
	devDir    = "/dev"
	sysfsRoot = "/sys"
)

// portKinds are the /dev names treated as serial ports
var portKinds = []struct {
	pattern     *regexp.Regexp
	description string
}{
	{regexp.MustCompile(`^ttyUSB\d+$`), "USB Serial Port"},
	{regexp.MustCompile(`^ttyACM\d+$`), "USB CDC/ACM Device"},
	{regexp.MustCompile(`^ttyAMA\d+$`), "ARM Serial Port"},
	{regexp.MustCompile(`^ttymxc\d+$`), "i.MX Serial Port"},
	{regexp.MustCompile(`^ttySAC\d+$`), "Samsung Serial Port"},
	{regexp.MustCompile(`^ttyTHS\d+$`), "Tegra Serial Port"},
	{regexp.MustCompile(`^ttyO\d+$`), "OMAP Serial Port"},
	{regexp.MustCompile(`^ttyS\d+$`), "Standard Serial Port"},
}

// isSerialName reports whether a /dev entry name looks like a serial port.
// Virtual terminals (tty1), the console and ptys never match.
func isSerialName(name string) bool {
	for _, kind := range portKinds {
		if kind.pattern.MatchString(name) {
			return true
		}
	}
	return false
}

// ListPorts returns the sorted paths of the serial character devices
// under /dev.
func ListPorts() ([]string, error) {
	entries, err := os.ReadDir(devDir)
	if err != nil {
		return nil, err
	}

	var ports []string
	for _, entry := range entries {
		if !isSerialName(entry.Name()) {
			continue
		}

		fullPath := filepath.Join(devDir, entry.Name())
		if isCharacterDevice(fullPath) {
			ports = append(ports, fullPath)
		}
	}

	sort.Strings(ports)
	return ports, nil
}

// isCharacterDevice checks if the given path is a character device
func isCharacterDevice(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// PortInfo describes a serial port and, for USB adapters, the device behind it
type PortInfo struct {
	Name            string
	Path            string
	Description     string
	VendorID        string
	ProductID       string
	SerialNumber    string
	InterfaceNumber string
	BusNumber       string
	DeviceNumber    string
	Manufacturer    string
	Product         string
}

// IsUSB reports whether USB metadata was found for the port
func (p *PortInfo) IsUSB() bool {
	return p.VendorID != "" || p.ProductID != ""
}

// GetPortInfo returns detailed information about a specific port
func GetPortInfo(portPath string) (*PortInfo, error) {
	if !isCharacterDevice(portPath) {
		return nil, ErrDeviceNotFound
	}

	name := filepath.Base(portPath)

	info := &PortInfo{
		Name:        name,
		Path:        portPath,
		Description: getPortDescription(name),
	}

	if strings.HasPrefix(name, "ttyUSB") || strings.HasPrefix(name, "ttyACM") {
		enrichUSBInfo(info)
	}

	return info, nil
}

func getPortDescription(name string) string {
	for _, kind := range portKinds {
		if kind.pattern.MatchString(name) {
			return kind.description
		}
	}
	return "Serial Port"
}

// enrichUSBInfo fills the USB fields from sysfs. The tty's device link
// points at the USB interface; its parent directory is the USB device
// that carries idVendor, idProduct and the string descriptors.
// Missing files leave the corresponding field empty.
func enrichUSBInfo(info *PortInfo) {
	devicePath := filepath.Join(sysfsRoot, "class", "tty", info.Name, "device")
	interfacePath, err := filepath.EvalSymlinks(devicePath)
	if err != nil {
		return
	}

	// ttyUSB devices sit one level deeper than ttyACM ones
	if filepath.Base(interfacePath) == info.Name {
		interfacePath = filepath.Dir(interfacePath)
	}
	info.InterfaceNumber = readSysfsFile(filepath.Join(interfacePath, "bInterfaceNumber"))

	usbDevicePath := filepath.Dir(interfacePath)
	info.VendorID = readSysfsFile(filepath.Join(usbDevicePath, "idVendor"))
	info.ProductID = readSysfsFile(filepath.Join(usbDevicePath, "idProduct"))
	info.SerialNumber = readSysfsFile(filepath.Join(usbDevicePath, "serial"))
	info.Manufacturer = readSysfsFile(filepath.Join(usbDevicePath, "manufacturer"))
	info.Product = readSysfsFile(filepath.Join(usbDevicePath, "product"))
	info.BusNumber = readSysfsFile(filepath.Join(usbDevicePath, "busnum"))
	info.DeviceNumber = readSysfsFile(filepath.Join(usbDevicePath, "devnum"))
}

// readSysfsFile returns the trimmed contents of a sysfs attribute, or ""
func readSysfsFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
