// Package addr implements the UB node-id <-> address translations from
// spec.md §6: "10.<nodeId/256>.<nodeId%256>.<port+1>" for IPv4, and the
// 16-bit compact network address (12-bit node id, 4-bit port+1) for
// CNA-16.
package addr

import (
	"fmt"
	"net"
)

// NodeToIPv4 derives the IPv4 address UB assigns a (nodeID, port) pair.
func NodeToIPv4(nodeID, port int) net.IP {
	hi := (nodeID / 256) & 0xFF
	lo := nodeID % 256
	return net.IPv4(10, byte(hi), byte(lo), byte(port+1)).To4()
}

// IPv4ToNode recovers (nodeID, port) from a UB-scheme IPv4 address.
func IPv4ToNode(ip net.IP) (nodeID, port int, err error) {
	v4 := ip.To4()
	if v4 == nil || v4[0] != 10 {
		return 0, 0, fmt.Errorf("addr: %v is not a UB address", ip)
	}
	nodeID = int(v4[1])*256 + int(v4[2])
	port = int(v4[3]) - 1
	if port < 0 {
		return 0, 0, fmt.Errorf("addr: %v has invalid port octet", ip)
	}
	return nodeID, port, nil
}

// NodeToCNA16 packs (nodeID, port) into the 16-bit compact network
// address: upper 12 bits node id, lower 4 bits port id + 1. A zero-port
// form (addressing the node itself, not a specific port) uses a low
// nibble of 0.
func NodeToCNA16(nodeID int, port int) uint16 {
	if port < 0 {
		return uint16(nodeID&0xFFF) << 4
	}
	return uint16(nodeID&0xFFF)<<4 | uint16((port+1)&0xF)
}

// CNA16ToNode recovers (nodeID, port) from a CNA-16 value. port is -1 for
// the zero-port (node-only) form.
func CNA16ToNode(cna uint16) (nodeID, port int) {
	nodeID = int(cna >> 4)
	lowNibble := int(cna & 0xF)
	if lowNibble == 0 {
		return nodeID, -1
	}
	return nodeID, lowNibble - 1
}
