package device

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/godbus/dbus/v5"
)

var macRe = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

// ObjectPath converts an adapter id and MAC address to the BlueZ device
// object path, e.g. ("hci0", "AA:BB:CC:DD:EE:FF") ->
// /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func ObjectPath(adapterID, address string) (dbus.ObjectPath, error) {
	if adapterID == "" {
		return "", fmt.Errorf("adapter id is required")
	}
	if !macRe.MatchString(address) {
		return "", fmt.Errorf("invalid device address %q", address)
	}
	node := strings.ReplaceAll(strings.ToUpper(address), ":", "_")
	return dbus.ObjectPath("/org/bluez/" + adapterID + "/dev_" + node), nil
}

// AddressFromPath extracts the MAC address from a BlueZ device object path.
// Returns an empty string when the path is not a device path.
func AddressFromPath(path dbus.ObjectPath) string {
	s := string(path)
	i := strings.LastIndex(s, "/")
	if i < 0 {
		return ""
	}
	node := s[i+1:]
	if !strings.HasPrefix(node, "dev_") {
		return ""
	}
	addr := strings.ReplaceAll(node[len("dev_"):], "_", ":")
	if !macRe.MatchString(addr) {
		return ""
	}
	return strings.ToUpper(addr)
}
