package addr

import "testing"

func TestIPv4RoundTrip(t *testing.T) {
	cases := []struct{ node, port int }{
		{0, 0}, {1, 3}, {255, 0}, {256, 5}, {65535, 254},
	}
	for _, c := range cases {
		ip := NodeToIPv4(c.node, c.port)
		gotNode, gotPort, err := IPv4ToNode(ip)
		if err != nil {
			t.Fatalf("IPv4ToNode(%v): %v", ip, err)
		}
		if gotNode != c.node || gotPort != c.port {
			t.Errorf("round trip node=%d port=%d -> ip=%v -> node=%d port=%d", c.node, c.port, ip, gotNode, gotPort)
		}
	}
}

func TestCNA16RoundTrip(t *testing.T) {
	cases := []struct{ node, port int }{
		{0, 0}, {1, 3}, {4095, 14}, {10, -1},
	}
	for _, c := range cases {
		cna := NodeToCNA16(c.node, c.port)
		gotNode, gotPort := CNA16ToNode(cna)
		if gotNode != c.node || gotPort != c.port {
			t.Errorf("round trip node=%d port=%d -> cna=%#04x -> node=%d port=%d", c.node, c.port, cna, gotNode, gotPort)
		}
	}
}
